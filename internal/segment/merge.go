package segment

// DefaultMinGap is the frame gap below which same-episode windows merge.
const DefaultMinGap = 50

// Merge coalesces adjacent windows of the same episode whose gap
// (next.Start - current.End) is below minGap. It is a single greedy
// left-to-right pass; the merged window keeps the first window's keyframe and
// labels and takes the later End. The input slice is not modified.
func Merge(windows []Window, minGap int) []Window {
	if len(windows) == 0 {
		return nil
	}
	out := make([]Window, 0, len(windows))
	current := windows[0]
	for _, next := range windows[1:] {
		if next.EpisodeID == current.EpisodeID && next.Start-current.End < minGap {
			current.End = max(current.End, next.End)
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}
