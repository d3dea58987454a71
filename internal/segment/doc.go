// Package segment finds gripper transitions in the action stream and turns
// them into frame windows that never cross an episode boundary.
//
// Detector scans gripper scalars and classifies each jump larger than the
// threshold as grasp, release, or unknown. Extractor derives one Window per
// event, using a precomputed dataset.EpisodeIndex when one is supplied. Merge
// optionally coalesces close windows of the same episode in a single greedy
// pass.
package segment
