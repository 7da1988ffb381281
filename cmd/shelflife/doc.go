// Package main hosts the shelflife CLI.
//
// Commands train the regressors from a labeled image tree, score single
// images with a saved model, and inspect the run ledger and artifact
// directory. Heavy lifting lives in internal/pipeline; this package resolves
// configuration, builds the logger and renders tables.
package main
