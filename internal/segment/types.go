package segment

import (
	"fmt"
	"strings"
)

// Kind classifies a gripper transition.
type Kind string

const (
	KindGrasp   Kind = "grasp"
	KindRelease Kind = "release"
	KindUnknown Kind = "unknown"
)

// ActionVerb is the pick/place vocabulary used in task labels and in the
// output metadata's action_type column.
func (k Kind) ActionVerb() string {
	switch k {
	case KindGrasp:
		return "pick"
	case KindRelease:
		return "place"
	default:
		return "unknown"
	}
}

// ParseKind accepts both the transition names and the pick/place verbs.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "grasp", "pick":
		return KindGrasp, nil
	case "release", "place":
		return KindRelease, nil
	case "unknown":
		return KindUnknown, nil
	default:
		return "", fmt.Errorf("unknown transition kind %q", value)
	}
}

// Classify returns the transition kind for a gripper change from prev to curr.
func Classify(prev, curr float32) Kind {
	switch {
	case prev < 0 && curr > 0:
		return KindGrasp
	case prev > 0 && curr < 0:
		return KindRelease
	default:
		return KindUnknown
	}
}

// UnknownPolicy decides whether unknown-kind events produce windows.
type UnknownPolicy string

const (
	// UnknownDrop counts unknown events but produces no window for them.
	UnknownDrop UnknownPolicy = "drop"
	// UnknownKeep produces windows labelled "unknown".
	UnknownKeep UnknownPolicy = "keep"
)

// ParseUnknownPolicy validates a configured policy name.
func ParseUnknownPolicy(value string) (UnknownPolicy, error) {
	switch UnknownPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case UnknownDrop, "":
		return UnknownDrop, nil
	case UnknownKeep:
		return UnknownKeep, nil
	default:
		return "", fmt.Errorf("unknown-kind policy must be drop or keep, got %q", value)
	}
}

// Event is one observed gripper transition.
type Event struct {
	At         int     `json:"at_index"`
	Prev       float32 `json:"prev_gripper"`
	Curr       float32 `json:"curr_gripper"`
	Kind       Kind    `json:"action_type"`
	EpisodeID  int     `json:"episode_index"`
	LocalIndex int     `json:"frame_index"`
	TaskLabel  string  `json:"task"`
	TaskIndex  int     `json:"task_index"`
}

// Window is a frame range [Start, End) around a transition, confined to one
// episode. NewTaskLabel is filled by the caption stage.
type Window struct {
	Keyframe     int     `json:"keyframe_index"`
	Kind         Kind    `json:"action_type"`
	Start        int     `json:"frame_start"`
	End          int     `json:"frame_end"`
	EpisodeID    int     `json:"episode_index"`
	LocalIndex   int     `json:"frame_index"`
	TaskLabel    string  `json:"task"`
	TaskIndex    int     `json:"task_index"`
	Prev         float32 `json:"prev_gripper"`
	Curr         float32 `json:"curr_gripper"`
	NewTaskLabel string  `json:"new_task,omitempty"`
}

// NumFrames returns End - Start.
func (w Window) NumFrames() int {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start
}

// Label returns the caption label, falling back to the original task.
func (w Window) Label() string {
	if strings.TrimSpace(w.NewTaskLabel) != "" {
		return w.NewTaskLabel
	}
	return w.TaskLabel
}

// FilterUnknown applies policy to windows.
func FilterUnknown(windows []Window, policy UnknownPolicy) []Window {
	if policy == UnknownKeep {
		return windows
	}
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w.Kind != KindUnknown {
			out = append(out, w)
		}
	}
	return out
}

// CountByKind tallies events per kind.
func CountByKind(events []Event) map[Kind]int {
	counts := make(map[Kind]int, 3)
	for _, e := range events {
		counts[e.Kind]++
	}
	return counts
}
