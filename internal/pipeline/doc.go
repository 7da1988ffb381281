// Package pipeline wires the dataset, embedding, scaler, regressor,
// evaluation and artifact packages into the two entry points: a training run
// and a single-image predictor.
//
// Training is strictly sequential. The scaler is fit once on the training
// split, every model is evaluated on the test split, and each saved model is
// immediately reloaded from disk and re-scored on a few test images through
// the same chain the predictor uses, so a persistence or preprocessing drift
// shows up during training rather than in production.
package pipeline
