// Package artifact persists the fitted scaler and regressors as versioned JSON
// envelopes and reassembles them into bundles for inference.
//
// Layout under the artifact directory:
//
//	scaler.json                  shared scaler state
//	<model-name>.json            one file per fitted model
//	train.lock                   held for the duration of a training run
//
// Every file is written atomically. Model envelopes record the digest of the
// scaler they were trained behind, and Load refuses a model whose digest does
// not match the scaler on disk.
package artifact
