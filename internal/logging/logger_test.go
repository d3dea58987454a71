package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

func TestNewFromConfigCreatesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")

	matches, err := filepath.Glob(filepath.Join(cfg.Paths.LogDir, "datadealer-*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one log file, got %v", matches)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerRendersSubjectAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRunID(context.Background(), "0123456789abcdef")
	ctx = services.WithStage(ctx, "assemble")
	ctx = services.WithBatch(ctx, 2)
	log := logging.WithContext(ctx, logging.NewComponentLogger(logger, "assembler"))
	log.Info("batch written", logging.Int("segments", 50), logging.Bool("placeholders", true))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	for _, want := range []string{"INFO [assembler]", "run 01234567 · assemble #2", "batch written", "- Segments: 50", "- Placeholders: yes"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
	if strings.Contains(text, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", text)
	}
}

func TestConsoleLoggerHidesFieldsBeyondLimit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	attrs := make([]logging.Attr, 0, 10)
	for i := 0; i < 10; i++ {
		attrs = append(attrs, logging.Int("field_"+string(rune('a'+i)), i))
	}
	logger.Info("many", logging.Args(attrs...)...)
	content, _ := os.ReadFile(logPath)
	if !strings.Contains(string(content), "+ 2 more fields hidden") {
		t.Fatalf("expected hidden field summary, got %q", content)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("read failed", logging.Int(logging.FieldFrameIndex, 17), logging.Error(errors.New("bad frame")))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json log: %v (%s)", err, content)
	}
	if record["level"] != "warn" || record["msg"] != "read failed" {
		t.Fatalf("unexpected record %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key in %v", record)
	}
	if record[logging.FieldFrameIndex] != float64(17) {
		t.Fatalf("unexpected frame index in %v", record)
	}
}

func TestTeeLoggerMirrorsToFileHandler(t *testing.T) {
	var console bytes.Buffer
	base := slog.New(slog.NewTextHandler(&console, nil))
	runLog := filepath.Join(t.TempDir(), "meta", "run.log")
	handler, closer, err := logging.NewFileHandler(runLog, "info")
	if err != nil {
		t.Fatalf("NewFileHandler returned error: %v", err)
	}
	logger := logging.TeeLogger(base, handler)
	logger.Info("segment emitted", logging.Int(logging.FieldSegment, 4))
	logger.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "segment emitted") {
		t.Fatalf("expected console output, got %q", console.String())
	}
	content, err := os.ReadFile(runLog)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(content), `"segment":4`) || strings.Contains(string(content), "hidden") {
		t.Fatalf("unexpected run log %q", content)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	oldLog := filepath.Join(dir, "datadealer-old.log")
	newLog := filepath.Join(dir, "datadealer-new.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{oldLog, newLog, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{oldLog, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 5, logging.RetentionTarget{Dir: dir, Pattern: "datadealer-*.log"})
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	if _, err := os.Stat(oldLog); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{newLog, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
	if logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir}) != 0 {
		t.Fatal("retention 0 must not prune")
	}
}
