// Package ledger records training runs, per-model metrics, and inference
// results in a SQLite database under the log directory.
//
// The ledger is an audit trail, not a source of model state: artifacts live in
// the artifact directory and never depend on ledger rows. Schema changes bump
// schemaVersion in schema.go; users delete the database to adopt the new
// schema.
package ledger
