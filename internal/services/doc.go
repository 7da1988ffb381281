// Package services defines shared utilities consumed by the training pipeline,
// the inference path, and the device watcher.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and model names for
//     logging.
//   - Sentinel error markers for the failure taxonomy (empty dataset, decode
//     failures, dimension mismatches, unavailable models) plus the Wrap helper
//     that tags an error with stage context while keeping it matchable.
//
// Use these helpers when wiring new pipeline stages so error handling and
// observability stay uniform.
package services
