// Package notifications publishes training and prediction events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never branch on whether notifications are enabled. The per-event
// switches in the notifications config section suppress individual event
// classes without disabling the whole service.
package notifications
