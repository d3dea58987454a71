package assembly

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Task is one row of the task table.
type Task struct {
	Index int    `json:"task_index"`
	Task  string `json:"task"`
}

// TaskTable assigns dense indices to unique labels. Labels that differ only
// in case or spacing share a row, which keeps the first spelling seen. Rows
// are sorted by their normalized form.
type TaskTable struct {
	tasks []Task
	index map[string]int
}

var lowerCaser = cases.Lower(language.Und)

// NormalizeLabel folds case and collapses whitespace. It is the dedup key of
// the task table, never the text written out.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(lowerCaser.String(label)), " ")
}

// NewTaskTable builds a table from labels. Blank labels are ignored.
func NewTaskTable(labels []string) *TaskTable {
	type entry struct{ key, text string }
	unique := make([]entry, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		key := NormalizeLabel(label)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, entry{key: key, text: strings.TrimSpace(label)})
	}
	slices.SortFunc(unique, func(a, b entry) int { return strings.Compare(a.key, b.key) })
	table := &TaskTable{
		tasks: make([]Task, len(unique)),
		index: make(map[string]int, len(unique)),
	}
	for i, e := range unique {
		table.tasks[i] = Task{Index: i, Task: e.text}
		table.index[e.key] = i
	}
	return table
}

// Index returns the task index of label, or -1.
func (t *TaskTable) Index(label string) int {
	if t == nil {
		return -1
	}
	if idx, ok := t.index[NormalizeLabel(label)]; ok {
		return idx
	}
	return -1
}

// Tasks returns the table rows in index order.
func (t *TaskTable) Tasks() []Task {
	if t == nil {
		return nil
	}
	return t.tasks
}

// Len returns the number of tasks.
func (t *TaskTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tasks)
}
