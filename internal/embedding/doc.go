// Package embedding converts images into fixed-length feature vectors using a
// frozen pretrained backbone.
//
// Images are decoded, preprocessed exactly as the backbone's weights expect
// (shorter side resized to 256 with antialiased bilinear filtering, centre
// crop to 224, ImageNet normalization), packed into NCHW float32 batches, and
// run through the Backbone. The only production backbone is an ONNX export of
// ViT-B/16 with its classification head removed, executed by ONNX Runtime.
//
// The extractor reports per-image decode failures alongside the vectors it
// did produce; callers decide whether a failure skips the image or aborts.
package embedding
