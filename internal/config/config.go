package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DatasetDir  string `toml:"dataset_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
	CaptureDir  string `toml:"capture_dir"`
}

// Embedding configures the frozen pretrained backbone and its preprocessing.
type Embedding struct {
	ModelPath      string `toml:"model_path"`
	RuntimeLibrary string `toml:"runtime_library"`
	// Device selects the execution provider: "cpu" or "cuda".
	Device     string    `toml:"device"`
	DeviceID   int       `toml:"device_id"`
	BatchSize  int       `toml:"batch_size"`
	InputName  string    `toml:"input_name"`
	OutputName string    `toml:"output_name"`
	ResizeSize int       `toml:"resize_size"`
	CropSize   int       `toml:"crop_size"`
	Mean       []float64 `toml:"mean"`
	Std        []float64 `toml:"std"`
	Progress   bool      `toml:"progress"`
}

// Training contains dataset split and run-level settings.
type Training struct {
	Seed      uint64  `toml:"seed"`
	TestRatio float64 `toml:"test_ratio"`
	// ValidationRatio carves an early-stopping split out of the training
	// split. Zero reuses the test split for early stopping.
	ValidationRatio float64 `toml:"validation_ratio"`
	// DecodeFailure decides what happens when an image cannot be decoded:
	// "skip" drops the sample with a warning, "abort" fails the run.
	// There is no default; training refuses to start until it is set.
	DecodeFailure string   `toml:"decode_failure"`
	Models        []string `toml:"models"`
}

// Boosting contains gradient-boosted tree hyperparameters.
type Boosting struct {
	Rounds              int     `toml:"rounds"`
	LearningRate        float64 `toml:"learning_rate"`
	MaxDepth            int     `toml:"max_depth"`
	Subsample           float64 `toml:"subsample"`
	ColsampleByTree     float64 `toml:"colsample_bytree"`
	Lambda              float64 `toml:"lambda"`
	MinChildWeight      float64 `toml:"min_child_weight"`
	EarlyStoppingRounds int     `toml:"early_stopping_rounds"`
	MaxBins             int     `toml:"max_bins"`
	LogEvery            int     `toml:"log_every"`
}

// Forest contains random forest hyperparameters.
type Forest struct {
	Trees    int `toml:"trees"`
	MaxDepth int `toml:"max_depth"`
	MaxBins  int `toml:"max_bins"`
}

// Ridge contains ridge regression hyperparameters.
type Ridge struct {
	Alpha float64 `toml:"alpha"`
}

// KNN contains k-nearest-neighbour hyperparameters.
type KNN struct {
	Neighbors int `toml:"neighbors"`
}

// Evaluation configures the qualitative sample report.
type Evaluation struct {
	SamplePredictions int     `toml:"sample_predictions"`
	Tolerance         float64 `toml:"tolerance"`
}

// Watch configures the device-watch daemon.
type Watch struct {
	Subsystem        string   `toml:"subsystem"`
	Action           string   `toml:"action"`
	CameraDevice     string   `toml:"camera_device"`
	VideoSize        string   `toml:"video_size"`
	PhotoInterval    int      `toml:"photo_interval"`
	NotifierInterval int      `toml:"notifier_interval"`
	NotifierCommand  []string `toml:"notifier_command"`
	LastCaptureFile  string   `toml:"last_capture_file"`
	CaptureTimeout   int      `toml:"capture_timeout"`
	// Model names the artifact used to score captured photos. Empty disables scoring.
	Model string `toml:"model"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Training       bool   `toml:"training"`
	Predictions    bool   `toml:"predictions"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   bool   `toml:"file"`
}

// Config encapsulates all configuration values for shelflife.
//
// Configuration sections by subsystem:
//   - Paths: dataset, artifact, log and capture directories
//   - Embedding: ONNX backbone location, execution device, preprocessing
//   - Training: split seed and ratio, decode failure policy, model selection
//   - Boosting, Forest, Ridge, KNN: regressor hyperparameters
//   - Evaluation: qualitative sample report
//   - Watch: device-watch daemon
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Embedding     Embedding     `toml:"embedding"`
	Training      Training      `toml:"training"`
	Boosting      Boosting      `toml:"boosting"`
	Forest        Forest        `toml:"forest"`
	Ridge         Ridge         `toml:"ridge"`
	KNN           KNN           `toml:"knn"`
	Evaluation    Evaluation    `toml:"evaluation"`
	Watch         Watch         `toml:"watch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shelflife/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shelflife.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories training and inference write into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArtifactDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EnsureCaptureDirectory creates the photo capture directory used by the watcher.
func (c *Config) EnsureCaptureDirectory() error {
	if err := os.MkdirAll(c.Paths.CaptureDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.CaptureDir, err)
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for photo capture.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// LedgerPath returns the SQLite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.LogDir, "shelflife.db")
}

// LogFilePath returns the log file used when logging.file is enabled.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "shelflife.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleValues overrides template entries when writing a sample. Empty
// fields keep the template value.
type SampleValues struct {
	DatasetDir    string
	DecodeFailure string
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	return CreateSampleWith(path, SampleValues{})
}

// CreateSampleWith writes the sample configuration with values filled in.
func CreateSampleWith(path string, values SampleValues) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	contents := sampleConfig
	if values.DatasetDir != "" {
		contents = setSampleKey(contents, "dataset_dir", values.DatasetDir)
	}
	if values.DecodeFailure != "" {
		contents = setSampleKey(contents, "decode_failure", values.DecodeFailure)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// setSampleKey rewrites the first `key = ...` line of the template, keeping
// any trailing comment off the replaced value.
func setSampleKey(contents, key, value string) string {
	lines := strings.Split(contents, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), key+" =") {
			quoted, err := toml.Marshal(map[string]string{key: value})
			if err != nil {
				return contents
			}
			lines[i] = strings.TrimSpace(string(quoted))
			break
		}
	}
	return strings.Join(lines, "\n")
}
