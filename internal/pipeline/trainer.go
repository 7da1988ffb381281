package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shelflife/internal/artifact"
	"shelflife/internal/config"
	"shelflife/internal/dataset"
	"shelflife/internal/embedding"
	"shelflife/internal/evaluate"
	"shelflife/internal/ledger"
	"shelflife/internal/logging"
	"shelflife/internal/notifications"
	"shelflife/internal/regress"
	"shelflife/internal/scaler"
	"shelflife/internal/services"
)

// ModelReport is the outcome of training and evaluating one regressor.
type ModelReport struct {
	Name   string
	Kind   regress.Kind
	Report evaluate.Report
	// BestIteration is the kept boosting round, or -1 for other kinds.
	BestIteration int
	Duration      time.Duration
	ArtifactPath  string
	Samples       []evaluate.SamplePrediction
}

// Summary describes a completed training run.
type Summary struct {
	RunID      string
	Dataset    *dataset.Dataset
	Train      int
	Validation int
	Test       int
	Dimensions int
	// DecodeSkipped lists images dropped under the skip decode policy.
	DecodeSkipped []embedding.Failure
	Models        []ModelReport
	Duration      time.Duration
}

// Diverged reports whether any qualitative sample disagreed with its batch
// prediction.
func (s *Summary) Diverged() bool {
	for _, m := range s.Models {
		if evaluate.Diverged(m.Samples) {
			return true
		}
	}
	return false
}

// Trainer runs the full training pipeline.
type Trainer struct {
	cfg    *config.Config
	opts   options
	logger *slog.Logger
}

// NewTrainer validates cfg for training.
func NewTrainer(cfg *config.Config, opts ...Option) (*Trainer, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if err := cfg.ValidateForTraining(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "train", "validate config", "", err)
	}
	o := buildOptions(opts)
	return &Trainer{cfg: cfg, opts: o, logger: logging.NewComponentLogger(o.logger, "pipeline")}, nil
}

// Run assembles the dataset, extracts embeddings, fits the scaler and every
// configured model, evaluates them on the test split and saves the artifacts.
// The artifact directory is locked for the duration.
func (t *Trainer) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	store := artifact.NewStore(t.cfg.Paths.ArtifactDir)
	lock, err := store.LockTraining()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			t.logger.Warn("failed to release training lock", logging.Error(err))
		}
	}()

	runID := uuid.NewString()
	if t.opts.ledger != nil {
		run, err := t.opts.ledger.BeginRun(ctx, t.cfg.Paths.DatasetDir, t.cfg.Training.Seed)
		if err != nil {
			return nil, fmt.Errorf("begin ledger run: %w", err)
		}
		runID = run.ID
	}
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, t.logger)
	logger.Info("training started",
		logging.String("dataset", t.cfg.Paths.DatasetDir),
		logging.Any("models", t.cfg.Training.Models),
	)

	summary, runErr := t.run(ctx, store, runID)
	detached := context.WithoutCancel(ctx)
	if t.opts.ledger != nil {
		if err := t.opts.ledger.FinishRun(detached, runID, runErr); err != nil {
			logging.WarnWithContext(logger, "failed to finish ledger run", "ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run status in the ledger may be stale"),
			)
		}
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "training failed", "training_failed", logging.Error(runErr))
		if err := t.opts.notifier.NotifyError(detached, runErr, "training"); err != nil {
			logger.Warn("failed to send error notification", logging.Error(err))
		}
		return nil, runErr
	}

	summary.Duration = time.Since(started)
	logger.Info("training completed", logging.Duration("duration", summary.Duration), logging.Int("models", len(summary.Models)))
	if err := t.opts.notifier.NotifyTrainingComplete(detached, trainingNotification(summary)); err != nil {
		logger.Warn("failed to send training notification", logging.Error(err))
	}
	return summary, nil
}

// embeddedSplit pairs the samples that produced an embedding with their vectors.
type embeddedSplit struct {
	samples []dataset.Sample
	vectors [][]float64
}

func (s embeddedSplit) labels() []float64 {
	out := make([]float64, len(s.samples))
	for i, sample := range s.samples {
		out[i] = sample.Label
	}
	return out
}

func (t *Trainer) run(ctx context.Context, store *artifact.Store, runID string) (*Summary, error) {
	cfg := t.cfg
	out := t.opts.out
	logger := logging.WithContext(ctx, t.logger)

	fmt.Fprintln(out, "Collecting image paths and labels...")
	ds, err := dataset.Assemble(services.WithStage(ctx, "assemble"), cfg.Paths.DatasetDir, logger)
	if err != nil {
		return nil, err
	}
	for _, skip := range ds.Skips {
		fmt.Fprintf(out, "Skipping folder (%s): %s\n", skipText(skip.Reason), skip.Folder)
	}
	fmt.Fprintf(out, "Found %d images across %d folders.\n", len(ds.Samples), len(ds.Folders))

	trainSamples, testSamples, err := dataset.Split(ds.Samples, cfg.Training.TestRatio, cfg.Training.Seed)
	if err != nil {
		return nil, services.Wrap(services.ErrDatasetEmpty, "split", "test split", "", err)
	}
	var validSamples []dataset.Sample
	if cfg.Training.ValidationRatio > 0 {
		trainSamples, validSamples, err = dataset.Split(trainSamples, cfg.Training.ValidationRatio, cfg.Training.Seed+1)
		if err != nil {
			return nil, services.Wrap(services.ErrDatasetEmpty, "split", "validation split", "", err)
		}
		fmt.Fprintf(out, "Train: %d  Validation: %d  Test: %d\n", len(trainSamples), len(validSamples), len(testSamples))
	} else {
		fmt.Fprintf(out, "Train: %d  Test: %d\n", len(trainSamples), len(testSamples))
	}

	fmt.Fprintln(out, "Building feature extractor...")
	extractor, err := newExtractor(cfg, t.opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := extractor.Close(); err != nil {
			logger.Warn("failed to close backbone", logging.Error(err))
		}
	}()

	summary := &Summary{RunID: runID, Dataset: ds}
	embedCtx := services.WithStage(ctx, "extract")
	fmt.Fprintln(out, "Extracting train features...")
	train, err := t.embed(embedCtx, extractor, "train", trainSamples, summary)
	if err != nil {
		return nil, err
	}
	var valid embeddedSplit
	if len(validSamples) > 0 {
		fmt.Fprintln(out, "Extracting validation features...")
		if valid, err = t.embed(embedCtx, extractor, "validation", validSamples, summary); err != nil {
			return nil, err
		}
	}
	fmt.Fprintln(out, "Extracting test features...")
	test, err := t.embed(embedCtx, extractor, "test", testSamples, summary)
	if err != nil {
		return nil, err
	}
	summary.Train, summary.Validation, summary.Test = len(train.samples), len(valid.samples), len(test.samples)
	summary.Dimensions = extractor.Dimensions()

	if t.opts.ledger != nil {
		if err := t.opts.ledger.UpdateCounts(ctx, runID, ledger.Counts{
			Samples:    len(ds.Samples),
			Train:      summary.Train,
			Validation: summary.Validation,
			Test:       summary.Test,
			Skipped:    len(ds.Skips) + len(summary.DecodeSkipped),
			Dimensions: summary.Dimensions,
		}); err != nil {
			logging.WarnWithContext(logger, "failed to record run counts", "ledger_write_failed", logging.Error(err))
		}
	}

	st, err := scaler.Fit(train.vectors)
	if err != nil {
		return nil, services.Wrap(nil, "scale", "fit", "", err)
	}
	trainSet, err := scaledSet(st, train)
	if err != nil {
		return nil, err
	}
	testSet, err := scaledSet(st, test)
	if err != nil {
		return nil, err
	}
	validSet := testSet
	if len(valid.samples) > 0 {
		if validSet, err = scaledSet(st, valid); err != nil {
			return nil, err
		}
	}
	staged, err := store.Stage()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := staged.Discard(); err != nil {
			logger.Warn("failed to remove staging directory", logging.Error(err))
		}
	}()
	if err := staged.SaveScaler(st, runID); err != nil {
		return nil, err
	}

	params := regress.ParamsFromConfig(cfg, logger)
	for _, name := range cfg.Training.Models {
		report, err := t.trainModel(ctx, modelJob{
			kind:      regress.Kind(name),
			params:    params,
			train:     trainSet,
			valid:     validSet,
			test:      testSet,
			testSplit: test,
			scaler:    st,
			staged:    staged.Store,
			live:      store,
			extractor: extractor,
			runID:     runID,
		})
		if err != nil {
			return nil, err
		}
		summary.Models = append(summary.Models, report)
	}
	// The previous artifact set stays in place until every model succeeded.
	if err := staged.Publish(); err != nil {
		return nil, services.Wrap(nil, "publish", "artifacts", "", err)
	}
	fmt.Fprintln(out, "All models trained and saved.")
	return summary, nil
}

func (t *Trainer) embed(ctx context.Context, extractor *embedding.Extractor, split string, samples []dataset.Sample, summary *Summary) (embeddedSplit, error) {
	paths := make([]string, len(samples))
	for i, s := range samples {
		paths[i] = s.Path
	}
	res, err := extractor.Extract(ctx, paths)
	if err != nil {
		return embeddedSplit{}, err
	}
	if len(res.Failures) > 0 {
		if t.cfg.Training.DecodeFailure == config.DecodeFailureAbort {
			return embeddedSplit{}, fmt.Errorf("%s split: %w (training.decode_failure = %q)", split, res.Failures[0].Err, config.DecodeFailureAbort)
		}
		logger := logging.WithContext(ctx, t.logger)
		for _, f := range res.Failures {
			logging.WarnWithContext(logger, "skipping undecodable image", "image_decode_skip",
				logging.String("path", f.Path),
				logging.String("split", split),
				logging.Error(f.Err),
				logging.String(logging.FieldErrorHint, "replace or remove the file"),
				logging.String(logging.FieldImpact, "sample excluded from training"),
			)
		}
		summary.DecodeSkipped = append(summary.DecodeSkipped, res.Failures...)
	}

	kept := res.Succeeded()
	if len(kept) == 0 {
		return embeddedSplit{}, services.Wrap(services.ErrDatasetEmpty, "extract", split, "no image in the split could be decoded", nil)
	}
	out := embeddedSplit{
		samples: make([]dataset.Sample, len(kept)),
		vectors: make([][]float64, len(kept)),
	}
	for i, idx := range kept {
		out.samples[i] = samples[idx]
		out.vectors[i] = res.Vectors[idx]
	}
	return out, nil
}

func scaledSet(st *scaler.State, split embeddedSplit) (regress.Set, error) {
	x, err := st.TransformAll(split.vectors)
	if err != nil {
		return regress.Set{}, services.Wrap(nil, "scale", "transform", "", err)
	}
	return regress.Set{X: x, Y: split.labels()}, nil
}

type modelJob struct {
	kind      regress.Kind
	params    regress.Params
	train     regress.Set
	valid     regress.Set
	test      regress.Set
	testSplit embeddedSplit
	scaler    *scaler.State
	staged    *artifact.Store
	live      *artifact.Store
	extractor *embedding.Extractor
	runID     string
}

func (t *Trainer) trainModel(ctx context.Context, job modelJob) (ModelReport, error) {
	name := artifact.NameFor(job.kind)
	ctx = services.WithModel(services.WithStage(ctx, "train"), name)
	logger := logging.WithContext(ctx, t.logger)
	out := t.opts.out

	fmt.Fprintf(out, "Training %s...\n", name)
	params := job.params
	params.Logger = logger
	model, err := regress.New(job.kind, params)
	if err != nil {
		return ModelReport{}, services.Wrap(services.ErrConfiguration, "train", name, "", err)
	}
	started := time.Now()
	if err := model.Fit(ctx, job.train, job.valid); err != nil {
		return ModelReport{}, services.Wrap(nil, "train", name, "fit", err)
	}
	report := ModelReport{Name: name, Kind: job.kind, BestIteration: -1, Duration: time.Since(started)}

	eval, err := evaluate.Evaluate(model, job.test.X, job.test.Y)
	if err != nil {
		return ModelReport{}, services.Wrap(nil, "evaluate", name, "", err)
	}
	report.Report = eval
	fmt.Fprintf(out, "%s -> MAE: %.3f, RMSE: %.3f, R2: %.3f\n", name, eval.MAE, eval.RMSE, eval.R2)
	logger.Info("model evaluated",
		logging.Metrics(eval.MAE, eval.RMSE, eval.R2),
		logging.Int("test_samples", len(job.test.Y)),
		logging.Duration("fit_duration", report.Duration),
	)
	if gb, ok := model.(*regress.GradientBoosted); ok {
		report.BestIteration = gb.BestIteration()
		fmt.Fprintf(out, "%s best iteration: %d (%d trees kept)\n", name, gb.BestIteration(), gb.Trees())
	}

	if err := job.staged.SaveModel(model, name, job.runID, job.scaler); err != nil {
		return ModelReport{}, err
	}
	report.ArtifactPath = job.live.Path(name)

	// Score a few test images through the saved artifacts, exactly as the
	// predictor would.
	bundle, err := job.staged.Load(name)
	if err != nil {
		return ModelReport{}, err
	}
	samples, err := evaluate.Qualitative(ctx, newBundlePredictor(name, bundle, job.extractor),
		job.testSplit.samples, eval.Predictions,
		t.cfg.Evaluation.SamplePredictions, t.cfg.Training.Seed,
		evaluate.WithTolerance(t.cfg.Evaluation.Tolerance),
		evaluate.WithLogger(logger),
	)
	if err != nil {
		return ModelReport{}, services.Wrap(nil, "evaluate", name, "sample predictions", err)
	}
	report.Samples = samples
	printSamples(out, samples)

	if t.opts.ledger != nil {
		if err := t.opts.ledger.RecordModel(ctx, ledger.ModelResult{
			RunID:         job.runID,
			Name:          name,
			Kind:          string(job.kind),
			MAE:           eval.MAE,
			RMSE:          eval.RMSE,
			R2:            eval.R2,
			BestIteration: report.BestIteration,
			Duration:      report.Duration,
			ArtifactPath:  report.ArtifactPath,
		}); err != nil {
			logging.WarnWithContext(logger, "failed to record model metrics", "ledger_write_failed", logging.Error(err))
		}
	}
	return report, nil
}

func printSamples(out io.Writer, samples []evaluate.SamplePrediction) {
	if len(samples) == 0 {
		return
	}
	fmt.Fprintln(out, "Sample predictions on test images:")
	for _, s := range samples {
		line := fmt.Sprintf("%s -> predicted: %.3f, true midpoint: %g", s.Path, s.Predicted, s.Truth)
		if s.Diverged {
			line += fmt.Sprintf(" (batch %.3f, diverged)", s.Batch)
		}
		fmt.Fprintln(out, line)
	}
}

func skipText(reason dataset.SkipReason) string {
	switch reason {
	case dataset.SkipLabelParse:
		return "cannot parse label"
	case dataset.SkipEmptyFolder:
		return "no images found"
	default:
		return string(reason)
	}
}

func trainingNotification(s *Summary) notifications.TrainingSummary {
	n := notifications.TrainingSummary{
		RunID:    s.RunID,
		Samples:  len(s.Dataset.Samples),
		Folders:  len(s.Dataset.Folders),
		Duration: s.Duration,
	}
	for _, m := range s.Models {
		n.Models = append(n.Models, notifications.ModelScore{Name: m.Name, MAE: m.Report.MAE, RMSE: m.Report.RMSE, R2: m.Report.R2})
	}
	return n
}
