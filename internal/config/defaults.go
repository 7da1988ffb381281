package config

const (
	defaultDatasetDir          = "~/.local/share/shelflife/dataset"
	defaultArtifactDir         = "~/.local/share/shelflife/artifacts"
	defaultLogDir              = "~/.local/share/shelflife/logs"
	defaultCaptureDir          = "~/.local/share/shelflife/captures"
	defaultLastCaptureFile     = "~/.local/share/shelflife/last_capture.json"
	defaultModelPath           = "~/.local/share/shelflife/backbone/vit_b_16_features.onnx"
	defaultDevice              = "cpu"
	defaultBatchSize           = 32
	defaultInputName           = "pixel_values"
	defaultOutputName          = "features"
	defaultResizeSize          = 256
	defaultCropSize            = 224
	defaultSeed                = 42
	defaultTestRatio           = 0.2
	defaultBoostRounds         = 1000
	defaultLearningRate        = 0.05
	defaultBoostMaxDepth       = 6
	defaultSubsample           = 0.8
	defaultColsampleByTree     = 0.8
	defaultLambda              = 1.0
	defaultMinChildWeight      = 1.0
	defaultEarlyStoppingRounds = 50
	defaultMaxBins             = 256
	defaultBoostLogEvery       = 20
	defaultForestTrees         = 200
	defaultForestMaxDepth      = 10
	defaultRidgeAlpha          = 1.0
	defaultNeighbors           = 5
	defaultSamplePredictions   = 5
	defaultTolerance           = 1e-6
	defaultWatchSubsystem      = "usb"
	defaultWatchAction         = "add"
	defaultCameraDevice        = "/dev/video0"
	defaultVideoSize           = "1280x720"
	defaultPhotoInterval       = 30
	defaultNotifierInterval    = 30
	defaultCaptureTimeout      = 30
	defaultWatchModel          = "gradient-boosted-model"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Model identifiers accepted in training.models.
const (
	ModelGradientBoosted = "gradient_boosted_tree"
	ModelRandomForest    = "random_forest"
	ModelRidge           = "ridge"
	ModelKNN             = "knn"
)

// Decode failure policies accepted in training.decode_failure.
const (
	DecodeFailureSkip  = "skip"
	DecodeFailureAbort = "abort"
)

// ImageNet normalization statistics the backbone was trained with.
var (
	imageNetMean = []float64{0.485, 0.456, 0.406}
	imageNetStd  = []float64{0.229, 0.224, 0.225}
)

// DefaultModels returns every regressor in training order.
func DefaultModels() []string {
	return []string{ModelGradientBoosted, ModelRandomForest, ModelRidge, ModelKNN}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DatasetDir:  defaultDatasetDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			CaptureDir:  defaultCaptureDir,
		},
		Embedding: Embedding{
			ModelPath:  defaultModelPath,
			Device:     defaultDevice,
			BatchSize:  defaultBatchSize,
			InputName:  defaultInputName,
			OutputName: defaultOutputName,
			ResizeSize: defaultResizeSize,
			CropSize:   defaultCropSize,
			Mean:       append([]float64(nil), imageNetMean...),
			Std:        append([]float64(nil), imageNetStd...),
			Progress:   true,
		},
		Training: Training{
			Seed:      defaultSeed,
			TestRatio: defaultTestRatio,
			Models:    DefaultModels(),
		},
		Boosting: Boosting{
			Rounds:              defaultBoostRounds,
			LearningRate:        defaultLearningRate,
			MaxDepth:            defaultBoostMaxDepth,
			Subsample:           defaultSubsample,
			ColsampleByTree:     defaultColsampleByTree,
			Lambda:              defaultLambda,
			MinChildWeight:      defaultMinChildWeight,
			EarlyStoppingRounds: defaultEarlyStoppingRounds,
			MaxBins:             defaultMaxBins,
			LogEvery:            defaultBoostLogEvery,
		},
		Forest: Forest{
			Trees:    defaultForestTrees,
			MaxDepth: defaultForestMaxDepth,
			MaxBins:  defaultMaxBins,
		},
		Ridge: Ridge{Alpha: defaultRidgeAlpha},
		KNN:   KNN{Neighbors: defaultNeighbors},
		Evaluation: Evaluation{
			SamplePredictions: defaultSamplePredictions,
			Tolerance:         defaultTolerance,
		},
		Watch: Watch{
			Subsystem:        defaultWatchSubsystem,
			Action:           defaultWatchAction,
			CameraDevice:     defaultCameraDevice,
			VideoSize:        defaultVideoSize,
			PhotoInterval:    defaultPhotoInterval,
			NotifierInterval: defaultNotifierInterval,
			LastCaptureFile:  defaultLastCaptureFile,
			CaptureTimeout:   defaultCaptureTimeout,
			Model:            defaultWatchModel,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Training:       true,
			Predictions:    true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
