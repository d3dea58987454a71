// Package caption derives a short task label for every transition window.
//
// A Describer turns one window into a label. The local describer rewrites the
// original task with a keyword heuristic; text describers ask an
// OpenAI-compatible chat endpoint; the vision describer sends first, key and
// last frames to a multimodal model. Labeler drives a describer over a whole
// window list with caching, request pacing and resumable checkpoints.
package caption
