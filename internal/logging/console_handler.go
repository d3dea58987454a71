package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logTimestampLayout = "2006-01-02 15:04:05"

// prettyHandler renders one header line per record:
//
//	2026-01-02 15:04:05 INFO [assembler] run 1a2b3c4d · assemble #3 – batch written
//
// followed by indented fields. Info and above show a curated subset; debug
// shows everything.
type prettyHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	attrs     []slog.Attr
	groups    []string
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: new(sync.Mutex), w: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}
	var fs fields
	fs.addAll(h.groups, h.attrs)
	record.Attrs(func(a slog.Attr) bool {
		fs.add(h.groups, a)
		return true
	})

	component := fs.take(FieldComponent)
	subject := composeSubject(fs.peek(FieldRunID), fs.peek(FieldStage), fs.peek(FieldBatch))

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s", ts.In(time.Local).Format(logTimestampLayout), levelLabel(record.Level))
	if component != "" {
		fmt.Fprintf(&buf, " [%s]", component)
	}
	if subject != "" {
		buf.WriteString(" " + subject)
	}
	buf.WriteString(" – " + msg)
	if src := record.Source(); h.addSource && src != nil {
		fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
	}
	buf.WriteByte('\n')

	if record.Level < slog.LevelInfo {
		for _, f := range fs.list {
			fmt.Fprintf(&buf, "    %s: %s\n", f.key, formatValue(f.value))
		}
	} else {
		shown, hidden := selectInfoFields(fs.list, infoAttrLimit)
		for _, f := range shown {
			fmt.Fprintf(&buf, "    - %s: %s\n", f.label, f.value)
		}
		switch {
		case hidden == 1:
			buf.WriteString("    + 1 more field hidden\n")
		case hidden > 1:
			fmt.Fprintf(&buf, "    + %d more fields hidden\n", hidden)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// composeSubject renders "run 1a2b3c4d · assemble #3" from the context fields.
func composeSubject(runID, stage, batch string) string {
	var parts []string
	if runID != "" {
		parts = append(parts, "run "+runID[:min(len(runID), 8)])
	}
	switch {
	case stage != "" && batch != "":
		parts = append(parts, stage+" #"+batch)
	case stage != "":
		parts = append(parts, stage)
	case batch != "":
		parts = append(parts, "batch #"+batch)
	}
	return strings.Join(parts, " · ")
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

type kv struct {
	key   string
	value slog.Value
}

// fields is an insertion-ordered attribute list. Group members are flattened
// to dotted keys, and a repeated key keeps its first position with the
// latest value.
type fields struct {
	list []kv
	pos  map[string]int
}

func (fs *fields) addAll(prefix []string, attrs []slog.Attr) {
	for _, a := range attrs {
		fs.add(prefix, a)
	}
}

func (fs *fields) add(prefix []string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix = append(append([]string(nil), prefix...), a.Key)
		}
		fs.addAll(prefix, a.Value.Group())
		return
	}
	key := a.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), key), ".")
		key = strings.TrimSuffix(key, ".")
	}
	if key == "" {
		return
	}
	if fs.pos == nil {
		fs.pos = make(map[string]int)
	}
	if i, ok := fs.pos[key]; ok {
		fs.list[i].value = a.Value
		return
	}
	fs.pos[key] = len(fs.list)
	fs.list = append(fs.list, kv{key: key, value: a.Value})
}

func (fs *fields) peek(key string) string {
	if i, ok := fs.pos[key]; ok {
		return strings.TrimSpace(plainValue(fs.list[i].value))
	}
	return ""
}

// take returns the value of key and removes it from the list.
func (fs *fields) take(key string) string {
	i, ok := fs.pos[key]
	if !ok {
		return ""
	}
	v := strings.TrimSpace(plainValue(fs.list[i].value))
	fs.list = append(fs.list[:i], fs.list[i+1:]...)
	delete(fs.pos, key)
	for k, p := range fs.pos {
		if p > i {
			fs.pos[k] = p - 1
		}
	}
	return v
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
