package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"shelflife/internal/artifact"
	"shelflife/internal/config"
	"shelflife/internal/embedding"
	"shelflife/internal/ledger"
	"shelflife/internal/pipeline"
	"shelflife/internal/services"
	"shelflife/internal/testsupport"
)

const fakeDims = 8

func fakeFactory(opened *atomic.Int32) pipeline.BackboneFactory {
	return func(config.Embedding) (embedding.Backbone, error) {
		if opened != nil {
			opened.Add(1)
		}
		return testsupport.NewFakeBackbone(fakeDims), nil
	}
}

func writeProduce(t *testing.T, cfg *config.Config) {
	t.Helper()
	testsupport.WriteDataset(t, cfg.Paths.DatasetDir,
		testsupport.Folder{Name: "Apple (1-3)", Label: 2, Images: 6},
		testsupport.Folder{Name: "Banana (3-5)", Label: 4, Images: 6},
		testsupport.Folder{Name: "Pear (5-7)", Label: 6, Images: 6},
		testsupport.Folder{Name: "Plum (7-9)", Label: 8, Images: 6},
		testsupport.Folder{Name: "Unlabeled", Label: 0, Images: 2},
	)
}

func TestTrainerEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeProduce(t, cfg)
	store := testsupport.MustOpenLedger(t, cfg)

	var out bytes.Buffer
	trainer, err := pipeline.NewTrainer(cfg,
		pipeline.WithOutput(&out),
		pipeline.WithBackboneFactory(fakeFactory(nil)),
		pipeline.WithLedger(store),
	)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	summary, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v\noutput:\n%s", err, out.String())
	}

	if got := len(summary.Dataset.Samples); got != 24 {
		t.Fatalf("expected 24 samples, got %d", got)
	}
	if len(summary.Dataset.Skips) != 1 {
		t.Fatalf("expected the unlabeled folder to be skipped, got %+v", summary.Dataset.Skips)
	}
	if summary.Train+summary.Test != 24 || summary.Test == 0 {
		t.Fatalf("unexpected split sizes train=%d test=%d", summary.Train, summary.Test)
	}
	if summary.Dimensions != fakeDims {
		t.Fatalf("expected %d dimensions, got %d", fakeDims, summary.Dimensions)
	}
	if len(summary.Models) != len(cfg.Training.Models) {
		t.Fatalf("expected %d models, got %d", len(cfg.Training.Models), len(summary.Models))
	}
	if summary.Diverged() {
		t.Fatalf("sample predictions diverged from batch predictions: %+v", summary.Models)
	}

	text := out.String()
	for _, want := range []string{
		"Collecting image paths and labels...",
		"Found 24 images across 4 folders.",
		"Skipping folder (cannot parse label): Unlabeled",
		"Sample predictions on test images:",
		"All models trained and saved.",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	for _, m := range summary.Models {
		if !strings.Contains(text, m.Name+" -> MAE: ") {
			t.Fatalf("output missing metrics for %s", m.Name)
		}
		if math.IsNaN(m.Report.RMSE) || m.Report.RMSE < 0 {
			t.Fatalf("%s: invalid rmse %v", m.Name, m.Report.RMSE)
		}
		if len(m.Samples) != min(cfg.Evaluation.SamplePredictions, summary.Test) {
			t.Fatalf("%s: expected %d samples, got %d", m.Name, min(cfg.Evaluation.SamplePredictions, summary.Test), len(m.Samples))
		}
		if m.Name == artifact.GradientBoostedName && m.BestIteration < 0 {
			t.Fatalf("boosting best iteration not recorded")
		}
		if m.Name != artifact.GradientBoostedName && m.BestIteration != -1 {
			t.Fatalf("%s: unexpected best iteration %d", m.Name, m.BestIteration)
		}
	}

	run, err := store.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.Counts.Samples != 24 || run.Counts.Dimensions != fakeDims {
		t.Fatalf("unexpected counts %+v", run.Counts)
	}
	models, err := store.ModelsForRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("ModelsForRun: %v", err)
	}
	if len(models) != len(summary.Models) {
		t.Fatalf("expected %d model rows, got %d", len(summary.Models), len(models))
	}
}

func TestPredictorMatchesTrainingSamples(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeProduce(t, cfg)
	trainer, err := pipeline.NewTrainer(cfg, pipeline.WithOutput(nil), pipeline.WithBackboneFactory(fakeFactory(nil)))
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	summary, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	store := testsupport.MustOpenLedger(t, cfg)

	for _, m := range summary.Models {
		predictor, err := pipeline.OpenPredictor(context.Background(), cfg, m.Name,
			pipeline.WithBackboneFactory(fakeFactory(nil)),
			pipeline.WithLedger(store),
		)
		if err != nil {
			t.Fatalf("OpenPredictor(%s): %v", m.Name, err)
		}
		if predictor.RunID() != summary.RunID {
			t.Fatalf("%s: run id %q, want %q", m.Name, predictor.RunID(), summary.RunID)
		}
		for _, s := range m.Samples {
			got, err := predictor.PredictPath(context.Background(), s.Path)
			if err != nil {
				t.Fatalf("PredictPath(%s): %v", s.Path, err)
			}
			if math.Abs(got-s.Batch) > 1e-6 {
				t.Fatalf("%s: %s predicted %v, batch gave %v", m.Name, s.Path, got, s.Batch)
			}
		}
		if err := predictor.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	preds, err := store.RecentPredictions(context.Background(), 100)
	if err != nil {
		t.Fatalf("RecentPredictions: %v", err)
	}
	if len(preds) == 0 || preds[0].Source != ledger.SourceCLI {
		t.Fatalf("expected CLI predictions in the ledger, got %+v", preds)
	}
}

func TestTrainerSkipsUndecodableImages(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithModels(config.ModelRidge))
	writeProduce(t, cfg)
	testsupport.WriteCorruptImage(t, filepath.Join(cfg.Paths.DatasetDir, "Pear (5-7)", "broken.jpg"))

	trainer, err := pipeline.NewTrainer(cfg, pipeline.WithOutput(nil), pipeline.WithBackboneFactory(fakeFactory(nil)))
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	summary, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.DecodeSkipped) != 1 {
		t.Fatalf("expected one skipped image, got %+v", summary.DecodeSkipped)
	}
	if summary.Train+summary.Test != 24 {
		t.Fatalf("expected 24 usable samples, got %d", summary.Train+summary.Test)
	}
}

func TestTrainerAbortsOnUndecodableImage(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithModels(config.ModelRidge),
		testsupport.WithDecodeFailure(config.DecodeFailureAbort),
	)
	writeProduce(t, cfg)
	testsupport.WriteCorruptImage(t, filepath.Join(cfg.Paths.DatasetDir, "Pear (5-7)", "broken.jpg"))
	store := testsupport.MustOpenLedger(t, cfg)

	trainer, err := pipeline.NewTrainer(cfg,
		pipeline.WithOutput(nil),
		pipeline.WithBackboneFactory(fakeFactory(nil)),
		pipeline.WithLedger(store),
	)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	_, err = trainer.Run(context.Background())
	if !errors.Is(err, services.ErrImageDecode) {
		t.Fatalf("expected image decode error, got %v", err)
	}
	runs, err := store.ListRuns(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != ledger.StatusFailed {
		t.Fatalf("expected one failed run, got %+v", runs)
	}
}

func TestTrainerRefusesConcurrentRun(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithModels(config.ModelRidge))
	writeProduce(t, cfg)
	lock, err := artifact.NewStore(cfg.Paths.ArtifactDir).LockTraining()
	if err != nil {
		t.Fatalf("LockTraining: %v", err)
	}
	defer lock.Release()

	trainer, err := pipeline.NewTrainer(cfg, pipeline.WithOutput(nil), pipeline.WithBackboneFactory(fakeFactory(nil)))
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	if _, err := trainer.Run(context.Background()); !errors.Is(err, artifact.ErrTrainingLocked) {
		t.Fatalf("expected ErrTrainingLocked, got %v", err)
	}
}

func TestOpenPredictorMissingArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var opened atomic.Int32
	_, err := pipeline.OpenPredictor(context.Background(), cfg, artifact.RidgeName,
		pipeline.WithBackboneFactory(fakeFactory(&opened)),
	)
	if !errors.Is(err, services.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if opened.Load() != 0 {
		t.Fatalf("backbone opened before artifacts were checked")
	}
}

func TestNewTrainerRejectsMissingDataset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.DatasetDir = ""
	if _, err := pipeline.NewTrainer(cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// failAfterTraining switches the backbone to failing once model training
// starts, after every split has been embedded.
type failAfterTraining struct {
	backbone *testsupport.FakeBackbone
	buf      bytes.Buffer
}

func (w *failAfterTraining) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "Training ") {
		w.backbone.SetFail(errors.New("backbone went away"))
	}
	return w.buf.Write(p)
}

func TestFailedRunKeepsPreviousArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeProduce(t, cfg)

	first, err := pipeline.NewTrainer(cfg, pipeline.WithOutput(nil), pipeline.WithBackboneFactory(fakeFactory(nil)))
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	summary, err := first.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	store := artifact.NewStore(cfg.Paths.ArtifactDir)
	before, err := store.Load(artifact.RidgeName)
	if err != nil {
		t.Fatalf("Load after first run: %v", err)
	}

	testsupport.WriteDataset(t, cfg.Paths.DatasetDir, testsupport.Folder{Name: "Kiwi (9-11)", Label: 10, Images: 6})
	backbone := testsupport.NewFakeBackbone(fakeDims)
	out := &failAfterTraining{backbone: backbone}
	second, err := pipeline.NewTrainer(cfg,
		pipeline.WithOutput(out),
		pipeline.WithBackboneFactory(func(config.Embedding) (embedding.Backbone, error) { return backbone, nil }),
	)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	if _, err := second.Run(context.Background()); err == nil {
		t.Fatalf("expected the second run to fail\noutput:\n%s", out.buf.String())
	}

	for _, name := range []string{artifact.GradientBoostedName, artifact.RandomForestName, artifact.RidgeName, artifact.KNNName} {
		bundle, err := store.Load(name)
		if err != nil {
			t.Fatalf("Load %s after failed run: %v", name, err)
		}
		if bundle.RunID != summary.RunID {
			t.Fatalf("%s: expected run %s, got %s", name, summary.RunID, bundle.RunID)
		}
	}
	after, err := store.Load(artifact.RidgeName)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if after.Scaler.Digest() != before.Scaler.Digest() {
		t.Fatalf("scaler changed after failed run")
	}

	entries, err := os.ReadDir(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".staging-") {
			t.Fatalf("staging directory %s left behind", entry.Name())
		}
	}
}
