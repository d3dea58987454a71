package assembly

import "fmt"

// Entry records where one output row came from.
type Entry struct {
	New int `json:"index"`
	// Original is -1 for a placeholder.
	Original      int  `json:"original_index"`
	IsPlaceholder bool `json:"is_placeholder"`
	Segment       int  `json:"episode_index"`
}

type segmentKey struct {
	segment  int
	original int
}

// IndexMap is the ordered new-to-original mapping of an assembled dataset.
// One original index can occur in several segments when windows overlap, so
// the inverse is keyed by (segment, original).
type IndexMap struct {
	entries    []Entry
	inverse    map[segmentKey]int
	byOriginal map[int][]int
}

// NewIndexMap returns an empty map.
func NewIndexMap() *IndexMap {
	return &IndexMap{
		inverse:    make(map[segmentKey]int),
		byOriginal: make(map[int][]int),
	}
}

// BuildIndexMap walks segments in order. Segments must still hold their frames.
func BuildIndexMap(segments []*Segment) *IndexMap {
	m := NewIndexMap()
	for _, s := range segments {
		m.AppendSegment(s)
	}
	return m
}

// Append adds e and assigns it the next new index.
func (m *IndexMap) Append(e Entry) Entry {
	e.New = len(m.entries)
	if e.IsPlaceholder {
		e.Original = -1
	} else {
		m.inverse[segmentKey{segment: e.Segment, original: e.Original}] = e.New
		m.byOriginal[e.Original] = append(m.byOriginal[e.Original], e.New)
	}
	m.entries = append(m.entries, e)
	return e
}

// AppendSegment appends the real frames of s followed by its placeholder.
func (m *IndexMap) AppendSegment(s *Segment) {
	for _, f := range s.Frames {
		m.Append(Entry{Original: f.Index, Segment: s.NewIndex})
	}
	if s.Placeholder != nil {
		m.Append(Entry{IsPlaceholder: true, Segment: s.NewIndex})
	}
}

// Len returns the number of output rows.
func (m *IndexMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the mapping in new-index order. The slice is shared.
func (m *IndexMap) Entries() []Entry {
	if m == nil {
		return nil
	}
	return m.entries
}

// OriginalOf returns the entry at newIndex.
func (m *IndexMap) OriginalOf(newIndex int) (Entry, bool) {
	if m == nil || newIndex < 0 || newIndex >= len(m.entries) {
		return Entry{}, false
	}
	return m.entries[newIndex], true
}

// NewIndexOf returns the new index of original inside segment.
func (m *IndexMap) NewIndexOf(segment, original int) (int, bool) {
	if m == nil {
		return 0, false
	}
	idx, ok := m.inverse[segmentKey{segment: segment, original: original}]
	return idx, ok
}

// Lookup returns every new index that copies original, ascending.
func (m *IndexMap) Lookup(original int) []int {
	if m == nil {
		return nil
	}
	return m.byOriginal[original]
}

// Adjust recomputes From and To of every meta from the mapping: From is the
// new index of the first real frame and To the last real frame, plus one when
// a placeholder follows. Empty segments keep From and get To = From-1.
// Applying Adjust to its own output returns the same values.
func (m *IndexMap) Adjust(metas []SegmentMeta) ([]SegmentMeta, error) {
	out := make([]SegmentMeta, len(metas))
	copy(out, metas)
	for i := range out {
		meta := &out[i]
		if meta.RealFrames == 0 {
			meta.To = meta.From - 1
			meta.Length = 0
			continue
		}
		from, ok := m.NewIndexOf(meta.NewIndex, meta.FirstOriginal)
		if !ok {
			return nil, fmt.Errorf("segment %d: original %d not in index map", meta.NewIndex, meta.FirstOriginal)
		}
		to, ok := m.NewIndexOf(meta.NewIndex, meta.LastOriginal)
		if !ok {
			return nil, fmt.Errorf("segment %d: original %d not in index map", meta.NewIndex, meta.LastOriginal)
		}
		if meta.HasPlaceholder {
			to++
			if e, ok := m.OriginalOf(to); !ok || !e.IsPlaceholder || e.Segment != meta.NewIndex {
				return nil, fmt.Errorf("segment %d: placeholder missing at %d", meta.NewIndex, to)
			}
		}
		meta.From = from
		meta.To = to
		meta.Length = to - from + 1
	}
	return out, nil
}
