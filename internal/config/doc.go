// Package config loads, normalizes, and validates shelflife configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SHELFLIFE_DATASET_DIR and ONNXRUNTIME_SHARED_LIBRARY_PATH. The Config type is
// constructed once at process start and passed to every component; nothing
// downstream reads ambient global state.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
