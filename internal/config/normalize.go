package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEmbedding(); err != nil {
		return err
	}
	c.normalizeTraining()
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.DatasetDir) == "" || c.Paths.DatasetDir == defaultDatasetDir {
		if value, ok := os.LookupEnv("SHELFLIFE_DATASET_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.DatasetDir = strings.TrimSpace(value)
		}
	}
	var err error
	if c.Paths.DatasetDir, err = expandPath(c.Paths.DatasetDir); err != nil {
		return fmt.Errorf("paths.dataset_dir: %w", err)
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CaptureDir) == "" {
		c.Paths.CaptureDir = defaultCaptureDir
	}
	if c.Paths.CaptureDir, err = expandPath(c.Paths.CaptureDir); err != nil {
		return fmt.Errorf("paths.capture_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEmbedding() error {
	var err error
	if c.Embedding.ModelPath, err = expandPath(strings.TrimSpace(c.Embedding.ModelPath)); err != nil {
		return fmt.Errorf("embedding.model_path: %w", err)
	}
	c.Embedding.RuntimeLibrary = strings.TrimSpace(c.Embedding.RuntimeLibrary)
	if c.Embedding.RuntimeLibrary == "" {
		if value, ok := os.LookupEnv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); ok {
			c.Embedding.RuntimeLibrary = strings.TrimSpace(value)
		}
	}
	if c.Embedding.RuntimeLibrary != "" {
		if c.Embedding.RuntimeLibrary, err = expandPath(c.Embedding.RuntimeLibrary); err != nil {
			return fmt.Errorf("embedding.runtime_library: %w", err)
		}
	}
	c.Embedding.Device = strings.ToLower(strings.TrimSpace(c.Embedding.Device))
	if c.Embedding.Device == "" {
		c.Embedding.Device = defaultDevice
	}
	c.Embedding.InputName = strings.TrimSpace(c.Embedding.InputName)
	if c.Embedding.InputName == "" {
		c.Embedding.InputName = defaultInputName
	}
	c.Embedding.OutputName = strings.TrimSpace(c.Embedding.OutputName)
	if c.Embedding.OutputName == "" {
		c.Embedding.OutputName = defaultOutputName
	}
	if len(c.Embedding.Mean) == 0 {
		c.Embedding.Mean = append([]float64(nil), imageNetMean...)
	}
	if len(c.Embedding.Std) == 0 {
		c.Embedding.Std = append([]float64(nil), imageNetStd...)
	}
	return nil
}

func (c *Config) normalizeTraining() {
	c.Training.DecodeFailure = strings.ToLower(strings.TrimSpace(c.Training.DecodeFailure))
	if len(c.Training.Models) == 0 {
		c.Training.Models = DefaultModels()
		return
	}
	models := make([]string, 0, len(c.Training.Models))
	seen := make(map[string]struct{}, len(c.Training.Models))
	for _, name := range c.Training.Models {
		normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		models = append(models, normalized)
	}
	c.Training.Models = models
}

func (c *Config) normalizeWatch() error {
	c.Watch.Subsystem = strings.TrimSpace(c.Watch.Subsystem)
	if c.Watch.Subsystem == "" {
		c.Watch.Subsystem = defaultWatchSubsystem
	}
	c.Watch.Action = strings.ToLower(strings.TrimSpace(c.Watch.Action))
	if c.Watch.Action == "" {
		c.Watch.Action = defaultWatchAction
	}
	c.Watch.CameraDevice = strings.TrimSpace(c.Watch.CameraDevice)
	if c.Watch.CameraDevice == "" {
		c.Watch.CameraDevice = defaultCameraDevice
	}
	c.Watch.VideoSize = strings.ToLower(strings.TrimSpace(c.Watch.VideoSize))
	if c.Watch.VideoSize == "" {
		c.Watch.VideoSize = defaultVideoSize
	}
	if strings.TrimSpace(c.Watch.LastCaptureFile) == "" {
		c.Watch.LastCaptureFile = defaultLastCaptureFile
	}
	var err error
	if c.Watch.LastCaptureFile, err = expandPath(c.Watch.LastCaptureFile); err != nil {
		return fmt.Errorf("watch.last_capture_file: %w", err)
	}
	c.Watch.Model = strings.TrimSpace(c.Watch.Model)
	cmd := make([]string, 0, len(c.Watch.NotifierCommand))
	for _, arg := range c.Watch.NotifierCommand {
		if arg = strings.TrimSpace(arg); arg != "" {
			cmd = append(cmd, arg)
		}
	}
	c.Watch.NotifierCommand = cmd
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
