// Package regress implements the shelf-life regressors: a gradient-boosted
// tree ensemble with early stopping, and random forest, ridge, and
// k-nearest-neighbour baselines.
//
// Every regressor satisfies Regressor and is selected by Kind through New.
// Fitted models serialize to JSON and come back through Decode with
// bit-identical predictions.
package regress
