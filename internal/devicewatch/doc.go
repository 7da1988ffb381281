// Package devicewatch reacts to udev device events by photographing produce
// with a V4L2 camera, scoring the photo with a saved model and notifying a
// downstream sender.
//
// Two rate limiters guard the reaction: one throttles photo capture because a
// single USB connection emits several uevents, the other throttles the
// notifier command. Both are safe for concurrent use.
package devicewatch
