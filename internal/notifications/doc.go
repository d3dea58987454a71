// Package notifications publishes run lifecycle events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// the pipeline can publish unconditionally. Events without a rendered message
// (such as cancellations) are accepted and dropped.
package notifications
