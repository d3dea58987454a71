// Package dataset models the source recording: an ordered, random-access
// sequence of frames grouped into contiguous episodes.
//
// Source is the only read capability the pipeline needs. DirSource serves an
// on-disk dataset (frames.jsonl plus image files); MemorySource backs tests
// and tooling. EpisodeIndex is built in one pass so window extraction can
// resolve episode bounds without walking frame by frame.
package dataset
