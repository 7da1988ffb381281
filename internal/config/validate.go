package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var videoSizePattern = regexp.MustCompile(`^\d+x\d+$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateTraining(); err != nil {
		return err
	}
	if err := c.validateRegressors(); err != nil {
		return err
	}
	if err := c.validateEvaluation(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

// ValidateForTraining adds the checks only a training run needs: a dataset
// location and an explicit image decode failure policy.
func (c *Config) ValidateForTraining() error {
	if strings.TrimSpace(c.Paths.DatasetDir) == "" {
		return errors.New("paths.dataset_dir must be set (or set SHELFLIFE_DATASET_DIR)")
	}
	if c.Training.DecodeFailure == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/shelflife/config.toml"
		}
		return fmt.Errorf("training.decode_failure is required (%q or %q). Edit %s (create with 'shelflife config init')", DecodeFailureSkip, DecodeFailureAbort, defaultPath)
	}
	if len(c.Training.Models) == 0 {
		return errors.New("training.models must include at least one model")
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	switch c.Embedding.Device {
	case "cpu", "cuda":
	default:
		return fmt.Errorf("embedding.device must be \"cpu\" or \"cuda\", got %q", c.Embedding.Device)
	}
	if c.Embedding.DeviceID < 0 {
		return errors.New("embedding.device_id must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"embedding.batch_size":  c.Embedding.BatchSize,
		"embedding.resize_size": c.Embedding.ResizeSize,
		"embedding.crop_size":   c.Embedding.CropSize,
	}); err != nil {
		return err
	}
	if c.Embedding.CropSize > c.Embedding.ResizeSize {
		return errors.New("embedding.crop_size must not exceed embedding.resize_size")
	}
	if len(c.Embedding.Mean) != 3 || len(c.Embedding.Std) != 3 {
		return errors.New("embedding.mean and embedding.std must each have three channel values")
	}
	for _, v := range c.Embedding.Std {
		if v <= 0 {
			return errors.New("embedding.std values must be positive")
		}
	}
	return nil
}

func (c *Config) validateTraining() error {
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return errors.New("training.test_ratio must be between 0 and 1 (exclusive)")
	}
	if c.Training.ValidationRatio < 0 || c.Training.ValidationRatio >= 1 {
		return errors.New("training.validation_ratio must be in [0, 1)")
	}
	switch c.Training.DecodeFailure {
	case "", DecodeFailureSkip, DecodeFailureAbort:
	default:
		return fmt.Errorf("training.decode_failure must be %q or %q, got %q", DecodeFailureSkip, DecodeFailureAbort, c.Training.DecodeFailure)
	}
	for _, name := range c.Training.Models {
		switch name {
		case ModelGradientBoosted, ModelRandomForest, ModelRidge, ModelKNN:
		default:
			return fmt.Errorf("training.models: unknown model %q", name)
		}
	}
	return nil
}

func (c *Config) validateRegressors() error {
	if err := ensurePositiveMap(map[string]int{
		"boosting.rounds":    c.Boosting.Rounds,
		"boosting.max_depth": c.Boosting.MaxDepth,
		"boosting.log_every": c.Boosting.LogEvery,
		"forest.trees":       c.Forest.Trees,
		"forest.max_depth":   c.Forest.MaxDepth,
		"knn.neighbors":      c.KNN.Neighbors,
	}); err != nil {
		return err
	}
	if c.Boosting.LearningRate <= 0 || c.Boosting.LearningRate > 1 {
		return errors.New("boosting.learning_rate must be in (0, 1]")
	}
	if c.Boosting.Subsample <= 0 || c.Boosting.Subsample > 1 {
		return errors.New("boosting.subsample must be in (0, 1]")
	}
	if c.Boosting.ColsampleByTree <= 0 || c.Boosting.ColsampleByTree > 1 {
		return errors.New("boosting.colsample_bytree must be in (0, 1]")
	}
	if c.Boosting.Lambda < 0 {
		return errors.New("boosting.lambda must be >= 0")
	}
	if c.Boosting.MinChildWeight < 0 {
		return errors.New("boosting.min_child_weight must be >= 0")
	}
	if c.Boosting.EarlyStoppingRounds < 0 {
		return errors.New("boosting.early_stopping_rounds must be >= 0")
	}
	if c.Boosting.MaxBins < 2 || c.Boosting.MaxBins > 256 {
		return errors.New("boosting.max_bins must be between 2 and 256")
	}
	if c.Forest.MaxBins < 2 || c.Forest.MaxBins > 256 {
		return errors.New("forest.max_bins must be between 2 and 256")
	}
	if c.Ridge.Alpha < 0 {
		return errors.New("ridge.alpha must be >= 0")
	}
	return nil
}

func (c *Config) validateEvaluation() error {
	if c.Evaluation.SamplePredictions < 0 {
		return errors.New("evaluation.sample_predictions must be >= 0")
	}
	if c.Evaluation.Tolerance < 0 {
		return errors.New("evaluation.tolerance must be >= 0")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if err := ensurePositiveMap(map[string]int{
		"watch.photo_interval":    c.Watch.PhotoInterval,
		"watch.notifier_interval": c.Watch.NotifierInterval,
		"watch.capture_timeout":   c.Watch.CaptureTimeout,
	}); err != nil {
		return err
	}
	if !videoSizePattern.MatchString(c.Watch.VideoSize) {
		return fmt.Errorf("watch.video_size must look like 1280x720, got %q", c.Watch.VideoSize)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
