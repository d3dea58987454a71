package assembly_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dongyingyibadao/data-dealer-auto/internal/assembly"
	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

type recordingWriter struct {
	batches   []int
	segments  []*assembly.Segment
	records   []assembly.OutputFrame
	manifest  *assembly.Manifest
	failBatch int
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{failBatch: -1}
}

func (w *recordingWriter) WriteBatch(_ context.Context, batch assembly.Batch) error {
	if batch.Number == w.failBatch {
		return errors.New("disk full")
	}
	w.batches = append(w.batches, batch.Number)
	for _, seg := range batch.Segments {
		w.segments = append(w.segments, seg)
		w.records = append(w.records, seg.Records()...)
	}
	return nil
}

func (w *recordingWriter) Finish(_ context.Context, manifest assembly.Manifest) error {
	w.manifest = &manifest
	return nil
}

// episodeSource returns n frames per episode; frame i carries i as its
// first action value and state so copies can be traced.
func episodeSource(episodes, perEpisode int) *dataset.MemorySource {
	frames := make([]dataset.Frame, 0, episodes*perEpisode)
	for ep := 0; ep < episodes; ep++ {
		for local := 0; local < perEpisode; local++ {
			i := len(frames)
			frames = append(frames, dataset.Frame{
				EpisodeID:  ep,
				LocalIndex: local,
				Timestamp:  float32(local) / 10,
				Action:     []float32{float32(i), 0, 1},
				State:      []float32{float32(i), 1},
				Image1:     []byte{byte(i), 1},
				Image2:     []byte{byte(i), 2},
				ImageExt:   "png",
				TaskLabel:  "put the bowl on the plate",
			})
		}
	}
	return dataset.NewMemorySource(frames)
}

func window(ep, start, end int, label string) segment.Window {
	return segment.Window{
		Keyframe:     start + (end-start)/2,
		Kind:         segment.KindGrasp,
		Start:        start,
		End:          end,
		EpisodeID:    ep,
		TaskLabel:    "put the bowl on the plate",
		NewTaskLabel: label,
	}
}

func threeWindows() []segment.Window {
	return []segment.Window{
		window(0, 0, 20, "pick up the bowl"),
		window(0, 30, 50, "put the bowl on the plate"),
		window(0, 60, 80, "pick up the bowl"),
	}
}

func run(t *testing.T, src dataset.Source, windows []segment.Window, opts assembly.Options) (*assembly.Assembler, *recordingWriter, assembly.Summary) {
	t.Helper()
	w := newRecordingWriter()
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	a := assembly.New(w, opts)
	summary, err := a.Run(context.Background(), src, windows)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return a, w, summary
}

func TestPlaceholdersBetweenSameEpisodeSegments(t *testing.T) {
	src := episodeSource(1, 100)
	a, w, summary := run(t, src, threeWindows(), assembly.Options{Placeholders: true})

	if summary.Frames != 62 || summary.Placeholders != 2 || summary.Segments != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if a.IndexMap().Len() != 62 || len(w.records) != 62 {
		t.Fatalf("expected 62 rows, got map=%d records=%d", a.IndexMap().Len(), len(w.records))
	}
	wantRanges := [][2]int{{0, 20}, {21, 41}, {42, 61}}
	for i, meta := range a.Segments() {
		if meta.From != wantRanges[i][0] || meta.To != wantRanges[i][1] {
			t.Fatalf("segment %d range = [%d,%d], want %v", i, meta.From, meta.To, wantRanges[i])
		}
		if meta.NewIndex != i {
			t.Fatalf("segment %d has NewIndex %d", i, meta.NewIndex)
		}
	}

	for _, pos := range []int{20, 41} {
		rec := w.records[pos]
		if !rec.IsPlaceholder || rec.FrameIndex != -1 || rec.OriginalIndex != -1 {
			t.Fatalf("row %d is not a placeholder: %+v", pos, rec)
		}
		if !assembly.IsSentinelAction(rec.Action, assembly.DefaultSentinel) {
			t.Fatalf("row %d action = %v", pos, rec.Action)
		}
		prev := w.records[pos-1]
		if !reflect.DeepEqual(rec.Image1, prev.Image1) || !reflect.DeepEqual(rec.State, prev.State) || rec.Timestamp != prev.Timestamp {
			t.Fatalf("placeholder at %d does not repeat the previous observation", pos)
		}
		if len(rec.Action) != len(prev.Action) {
			t.Fatalf("placeholder action width %d, want %d", len(rec.Action), len(prev.Action))
		}
	}
	if w.records[61].IsPlaceholder {
		t.Fatal("last segment must not end with a placeholder")
	}
	for i, rec := range w.records {
		if rec.GlobalIndex != i {
			t.Fatalf("row %d has global index %d", i, rec.GlobalIndex)
		}
	}
}

func TestIndexMapRoundTrip(t *testing.T) {
	src := episodeSource(2, 60)
	windows := []segment.Window{
		window(0, 0, 30, "a"),
		window(0, 10, 40, "b"), // overlaps the first window
		window(1, 60, 90, "c"),
	}
	a, w, _ := run(t, src, windows, assembly.Options{Placeholders: true})
	m := a.IndexMap()
	for _, e := range m.Entries() {
		if e.IsPlaceholder {
			continue
		}
		got, ok := m.NewIndexOf(e.Segment, e.Original)
		if !ok || got != e.New {
			t.Fatalf("NewIndexOf(%d,%d) = %d,%v, want %d", e.Segment, e.Original, got, ok, e.New)
		}
		if w.records[e.New].OriginalIndex != e.Original {
			t.Fatalf("row %d copies original %d, map says %d", e.New, w.records[e.New].OriginalIndex, e.Original)
		}
	}
	if got := m.Lookup(15); !reflect.DeepEqual(got, []int{15, 36}) {
		t.Fatalf("Lookup(15) = %v", got)
	}
	if e, ok := m.OriginalOf(30); !ok || !e.IsPlaceholder || e.Segment != 0 {
		t.Fatalf("OriginalOf(30) = %+v, %v", e, ok)
	}
	if _, ok := m.OriginalOf(m.Len()); ok {
		t.Fatal("OriginalOf past the end should fail")
	}
	if w.records[len(w.records)-1].IsPlaceholder {
		t.Fatal("segment before an episode change must not get a placeholder")
	}
	if w.records[60].IsPlaceholder {
		t.Fatal("segment 1 is followed by another episode")
	}
}

func TestAdjustIsIdempotent(t *testing.T) {
	src := episodeSource(1, 100)
	src.Fail(35, nil)
	a, _, _ := run(t, src, threeWindows(), assembly.Options{Placeholders: true})
	metas := a.Segments()
	once, err := a.IndexMap().Adjust(metas)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !reflect.DeepEqual(once, metas) {
		t.Fatalf("Adjust changed assembler ranges:\n%+v\n%+v", once, metas)
	}
	twice, err := a.IndexMap().Adjust(once)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatal("Adjust is not idempotent")
	}

	shifted := append([]assembly.SegmentMeta(nil), metas...)
	shifted[1].From += 5
	shifted[1].To += 5
	fixed, err := a.IndexMap().Adjust(shifted)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if fixed[1].From != metas[1].From || fixed[1].To != metas[1].To {
		t.Fatalf("Adjust did not restore range: %+v", fixed[1])
	}
}

func TestBatchBoundariesDoNotChangeOutput(t *testing.T) {
	src := episodeSource(1, 100)
	_, whole, _ := run(t, src, threeWindows(), assembly.Options{Placeholders: true, BatchSize: 50})

	var commits []assembly.Commit
	opts := assembly.Options{
		Placeholders: true,
		BatchSize:    1,
		Committed: func(_ context.Context, c assembly.Commit) error {
			commits = append(commits, c)
			return nil
		},
	}
	a, split, summary := run(t, src, threeWindows(), opts)
	if summary.Batches != 3 || !reflect.DeepEqual(split.batches, []int{0, 1, 2}) {
		t.Fatalf("expected three batches, got %+v %v", summary, split.batches)
	}
	if len(whole.records) != len(split.records) {
		t.Fatalf("row count differs: %d vs %d", len(whole.records), len(split.records))
	}
	for i := range whole.records {
		if whole.records[i].GlobalIndex != split.records[i].GlobalIndex ||
			whole.records[i].IsPlaceholder != split.records[i].IsPlaceholder ||
			whole.records[i].OriginalIndex != split.records[i].OriginalIndex {
			t.Fatalf("row %d differs across batch sizes", i)
		}
	}
	if len(commits) != 3 || commits[1].FirstSegment != 1 || commits[1].Frames != 21 {
		t.Fatalf("unexpected commits %+v", commits)
	}
	for _, seg := range split.segments {
		if seg.Frames != nil || seg.Placeholder != nil {
			t.Fatalf("segment %d still holds frame data after its batch", seg.NewIndex)
		}
	}
	if a.Tasks().Len() != 2 {
		t.Fatalf("expected 2 tasks, got %d", a.Tasks().Len())
	}
}

func TestEmptyWindowConsumesIndex(t *testing.T) {
	src := episodeSource(1, 100)
	for i := 30; i < 50; i++ {
		src.Fail(i, nil)
	}
	var failures int
	a, w, summary := run(t, src, threeWindows(), assembly.Options{
		Placeholders:  true,
		OnReadFailure: func(int, error) { failures++ },
	})
	if failures != 20 || summary.ReadFailures != 20 {
		t.Fatalf("expected 20 read failures, got %d/%d", failures, summary.ReadFailures)
	}
	metas := a.Segments()
	if !metas[1].Empty || metas[1].Length != 0 || metas[1].NewIndex != 1 {
		t.Fatalf("segment 1 should be empty: %+v", metas[1])
	}
	if metas[1].From != 21 || metas[1].To != 20 {
		t.Fatalf("empty segment range = [%d,%d]", metas[1].From, metas[1].To)
	}
	if metas[1].HasPlaceholder {
		t.Fatal("empty segment must not receive a placeholder")
	}
	if metas[2].NewIndex != 2 || metas[2].From != 21 || metas[2].To != 40 {
		t.Fatalf("segment after empty one = %+v", metas[2])
	}
	if summary.EmptySegments != 1 || summary.Frames != 41 || len(w.records) != 41 {
		t.Fatalf("unexpected summary %+v (records %d)", summary, len(w.records))
	}
}

func TestNoPlaceholderBeforeEmptyEpisodeTail(t *testing.T) {
	src := episodeSource(2, 100)
	for i := 30; i < 50; i++ {
		src.Fail(i, nil)
	}
	windows := []segment.Window{
		window(0, 0, 20, "pick up the bowl"),
		window(0, 30, 50, "put the bowl on the plate"),
		window(1, 110, 130, "pick up the bowl"),
	}
	a, w, summary := run(t, src, windows, assembly.Options{Placeholders: true})
	metas := a.Segments()
	if metas[0].HasPlaceholder || metas[0].Length != 20 {
		t.Fatalf("segment before an empty episode tail = %+v", metas[0])
	}
	if !metas[1].Empty || summary.Placeholders != 0 {
		t.Fatalf("summary = %+v, second segment = %+v", summary, metas[1])
	}
	if summary.ReadFailures != 20 || len(w.records) != 40 {
		t.Fatalf("read failures = %d, records = %d", summary.ReadFailures, len(w.records))
	}
	for _, rec := range w.records {
		if rec.IsPlaceholder {
			t.Fatalf("unexpected placeholder row %+v", rec)
		}
	}
}

func TestReadFailureShortensSegment(t *testing.T) {
	src := episodeSource(1, 100)
	src.Fail(5, nil)
	a, w, _ := run(t, src, threeWindows(), assembly.Options{})
	meta := a.Segments()[0]
	if meta.Length != 19 || meta.ReadFailures != 1 || meta.To != 18 {
		t.Fatalf("unexpected first segment %+v", meta)
	}
	if got := a.IndexMap().Lookup(5); len(got) != 0 {
		t.Fatalf("failed frame must not be mapped, got %v", got)
	}
	if w.records[5].OriginalIndex != 6 {
		t.Fatalf("row 5 copies original %d, want 6", w.records[5].OriginalIndex)
	}
}

func TestMaxSegmentsTruncatesBeforePairing(t *testing.T) {
	src := episodeSource(1, 100)
	a, w, summary := run(t, src, threeWindows(), assembly.Options{Placeholders: true, MaxSegments: 2})
	if summary.Segments != 2 || summary.Truncated != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if a.Segments()[1].HasPlaceholder {
		t.Fatal("last kept segment must not receive a placeholder")
	}
	if len(w.records) != 41 {
		t.Fatalf("expected 41 rows, got %d", len(w.records))
	}
}

func TestWriterFailureIsFatal(t *testing.T) {
	src := episodeSource(1, 100)
	w := newRecordingWriter()
	w.failBatch = 1
	a := assembly.New(w, assembly.Options{BatchSize: 1, Logger: logging.NewNop()})
	_, err := a.Run(context.Background(), src, threeWindows())
	if !errors.Is(err, services.ErrOutput) {
		t.Fatalf("expected output error, got %v", err)
	}
	if w.manifest != nil {
		t.Fatal("Finish must not run after a failed batch")
	}
	if !reflect.DeepEqual(w.batches, []int{0}) {
		t.Fatalf("unexpected written batches %v", w.batches)
	}
}

func TestSkipCommittedBatchesKeepsNumbering(t *testing.T) {
	src := episodeSource(1, 100)
	_, w, _ := run(t, src, threeWindows(), assembly.Options{
		Placeholders: true,
		BatchSize:    1,
		Skip:         func(batch int) bool { return batch == 0 },
	})
	if !reflect.DeepEqual(w.batches, []int{1, 2}) {
		t.Fatalf("unexpected written batches %v", w.batches)
	}
	if w.records[0].GlobalIndex != 21 || w.records[0].EpisodeIndex != 1 {
		t.Fatalf("first written row = %+v", w.records[0])
	}
	if w.manifest == nil || len(w.manifest.Segments) != 3 {
		t.Fatal("manifest must still describe every segment")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := assembly.New(newRecordingWriter(), assembly.Options{Logger: logging.NewNop()})
	if _, err := a.Run(ctx, episodeSource(1, 100), threeWindows()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTaskTableKeepsFirstSpelling(t *testing.T) {
	table := assembly.NewTaskTable([]string{" Put the Cup", "pick up  the bowl", "", "put the cup"})
	want := []assembly.Task{{Index: 0, Task: "pick up  the bowl"}, {Index: 1, Task: "Put the Cup"}}
	if !reflect.DeepEqual(table.Tasks(), want) {
		t.Fatalf("tasks = %+v", table.Tasks())
	}
	if table.Index("PUT THE CUP ") != 1 || table.Index("unknown") != -1 {
		t.Fatal("Index lookup mismatch")
	}
}
