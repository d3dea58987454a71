package logging

import (
	"log/slog"
	"slices"
	"strings"
)

type infoField struct {
	label string
	value string
}

const infoAttrLimit = 8

// Keys listed here are shown first at info level, in this order.
var infoHighlightKeys = []string{
	FieldAlert,
	FieldEventType,
	FieldEpisode,
	FieldSegment,
	FieldFrameIndex,
	"events",
	"windows",
	"segments",
	"frames",
	"placeholders",
	"read_failures",
	FieldProgressPercent,
	"stage_duration",
	"error",
	FieldErrorHint,
	FieldImpact,
}

var highlightRank = func() map[string]int {
	m := make(map[string]int, len(infoHighlightKeys))
	for i, k := range infoHighlightKeys {
		m[k] = i
	}
	return m
}()

// selectInfoFields orders attrs with highlighted keys first, formats up to
// limit of them (0 means no limit) and counts the rest as hidden. Context
// keys already shown in the header are dropped silently.
func selectInfoFields(attrs []kv, limit int) ([]infoField, int) {
	ordered := make([]kv, 0, len(attrs))
	for _, a := range attrs {
		if !skipInfoKey(a.key) {
			ordered = append(ordered, a)
		}
	}
	rank := func(key string) int {
		if r, ok := highlightRank[key]; ok {
			return r
		}
		return len(infoHighlightKeys)
	}
	slices.SortStableFunc(ordered, func(a, b kv) int { return rank(a.key) - rank(b.key) })

	var shown []infoField
	hidden := 0
	for _, a := range ordered {
		if isDebugOnlyKey(a.key) || (limit > 0 && len(shown) >= limit) {
			hidden++
			continue
		}
		shown = append(shown, infoField{label: displayLabel(a.key), value: formatValueForKey(a.key, a.value)})
	}
	return shown, hidden
}

func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}
	if key == FieldProgressPercent && v.Kind() == slog.KindFloat64 {
		return formatValue(v) + "%"
	}
	value := formatValue(v)
	if key == "error" && len(value) > 200 {
		value = value[:200] + "…"
	}
	return value
}

func skipInfoKey(key string) bool {
	switch key {
	case "", FieldRunID, FieldStage, FieldBatch, FieldComponent:
		return true
	default:
		return false
	}
}

func isDebugOnlyKey(key string) bool {
	if key == FieldCorrelationID {
		return true
	}
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_dir")
}

func displayLabel(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldErrorHint:
		return "Hint"
	case FieldFrameIndex:
		return "Frame"
	case FieldProgressPercent:
		return "Progress"
	case "stage_duration":
		return "Duration"
	default:
		return titleizeKey(key)
	}
}

func titleizeKey(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, part := range parts {
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}
