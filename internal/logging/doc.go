// Package logging assembles structured slog loggers for shelflife.
//
// It owns the console and JSON handlers, maps the logging section of the
// configuration onto levels and outputs, and exposes context-aware helpers so
// pipeline code tags log lines with run IDs, stages, and model names. Warnings
// that do not abort a run go through WarnWithContext so every anomaly carries
// an event type, a hint, and the consequence for the operator.
//
// Logs are written to stderr (and optionally a file in the log directory);
// stdout is reserved for the training summary and prediction output.
package logging
