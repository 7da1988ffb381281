package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"shelflife/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Preprocessing is shrunk to small images and the regressors to a handful of
// rounds and trees so pipeline tests stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DatasetDir = filepath.Join(base, "dataset")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CaptureDir = filepath.Join(base, "captures")
	cfgVal.Watch.LastCaptureFile = filepath.Join(base, "last_capture.json")
	cfgVal.Embedding.ModelPath = filepath.Join(base, "backbone.onnx")
	cfgVal.Embedding.Progress = false
	cfgVal.Embedding.BatchSize = 4
	cfgVal.Embedding.ResizeSize = 16
	cfgVal.Embedding.CropSize = 12
	cfgVal.Training.DecodeFailure = config.DecodeFailureSkip
	cfgVal.Boosting.Rounds = 40
	cfgVal.Boosting.EarlyStoppingRounds = 10
	cfgVal.Boosting.LogEvery = 10
	cfgVal.Forest.Trees = 12
	cfgVal.Forest.MaxDepth = 4
	cfgVal.KNN.Neighbors = 3

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDecodeFailure sets the image decode failure policy.
func WithDecodeFailure(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Training.DecodeFailure = policy
	}
}

// WithModels restricts the trained regressors.
func WithModels(models ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Training.Models = models
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. Each stub runs script (a /bin/sh body); an empty
// script exits 0.
func WithStubbedBinaries(script string, names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		StubBinaries(b.t, filepath.Join(b.baseDir, "bin"), script, names...)
	}
}

// StubBinaries writes shell stubs into dir and prepends dir to PATH for the
// duration of the test.
func StubBinaries(t testing.TB, dir, script string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	if script == "" {
		script = "exit 0"
	}
	body := []byte("#!/bin/sh\n" + script + "\n")
	for _, name := range names {
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, body, 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ArtifactDir)
}
