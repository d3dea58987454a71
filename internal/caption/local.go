package caption

import (
	"context"
	"slices"
	"strings"

	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

var (
	prepositions = []string{"the", "on", "in", "at", "to", "from", "under", "above", "next", "between"}
	stopVerbs    = []string{"and", "or", "put", "pick", "up", "open", "close"}
)

// Local rewrites the original task without any remote call.
type Local struct{}

// Describe implements Describer.
func (Local) Describe(_ context.Context, req Request) (string, error) {
	return LocalLabel(req.Kind, req.TaskLabel), nil
}

// LocalLabel keeps the object phrases of task and rebuilds a pick or place
// sentence around them. An object phrase is a maximal run of words that are
// neither prepositions nor verbs; the first is the object, the second the
// location.
func LocalLabel(kind segment.Kind, task string) string {
	objects := objectPhrases(task)
	if kind == segment.KindGrasp {
		if len(objects) > 0 {
			return "pick up the " + objects[0]
		}
		return "pick up the object"
	}
	switch {
	case len(objects) >= 2:
		return "put the " + objects[0] + " on the " + objects[1]
	case len(objects) == 1:
		return "put the " + objects[0]
	default:
		return "put the object"
	}
}

func objectPhrases(task string) []string {
	var out, run []string
	flush := func() {
		if len(run) > 0 {
			out = append(out, strings.Join(run, " "))
			run = run[:0]
		}
	}
	for _, word := range strings.Fields(strings.ToLower(task)) {
		word = strings.Trim(word, ".,;:!?")
		if word == "" || slices.Contains(prepositions, word) || slices.Contains(stopVerbs, word) {
			flush()
			continue
		}
		run = append(run, word)
	}
	flush()
	return out
}
