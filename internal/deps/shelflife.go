package deps

import (
	"shelflife/internal/config"
)

// Check reports every external dependency the configured pipeline needs:
// the ONNX runtime library and backbone weights for embedding, and ffmpeg
// for the device watcher's photo capture.
func Check(cfg *config.Config) []Status {
	runtimeLib := CheckFile("ONNX Runtime", cfg.Embedding.RuntimeLibrary, "Shared library that executes the embedding backbone", false)
	if cfg.Embedding.RuntimeLibrary == "" {
		runtimeLib.Detail = "embedding.runtime_library not set (or set ONNXRUNTIME_SHARED_LIBRARY_PATH)"
	}
	statuses := []Status{
		runtimeLib,
		CheckFile("Backbone model", cfg.Embedding.ModelPath, "ViT-B/16 feature extractor in ONNX format", false),
	}
	statuses = append(statuses, CheckBinaries([]Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Captures photos from the camera in shelflifed",
			Optional:    true,
		},
	})...)
	return statuses
}
