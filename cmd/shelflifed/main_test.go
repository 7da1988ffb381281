package main

import (
	"context"
	"testing"

	"shelflife/internal/config"
	"shelflife/internal/embedding"
	"shelflife/internal/logging"
	"shelflife/internal/pipeline"
	"shelflife/internal/testsupport"
)

func fakeBackbone(config.Embedding) (embedding.Backbone, error) {
	return testsupport.NewFakeBackbone(6), nil
}

func TestBootstrapWithoutArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := bootstrap(context.Background(), cfg, logging.NewNop(), fakeBackbone)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer d.Close()
	if d.watcher == nil {
		t.Fatal("expected a watcher")
	}
	if d.predictor != nil {
		t.Fatal("predictor should stay unset without artifacts")
	}
}

func TestBootstrapWithTrainedModel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithModels(config.ModelRidge))
	cfg.Watch.Model = "ridge-model"
	testsupport.WriteDataset(t, cfg.Paths.DatasetDir,
		testsupport.Folder{Name: "Apple (1-3)", Label: 2, Images: 5},
		testsupport.Folder{Name: "Pear (5-7)", Label: 6, Images: 5},
	)
	trainer, err := pipeline.NewTrainer(cfg, pipeline.WithOutput(nil), pipeline.WithBackboneFactory(fakeBackbone))
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	if _, err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	d, err := bootstrap(context.Background(), cfg, logging.NewNop(), fakeBackbone)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer d.Close()
	if d.predictor == nil || d.predictor.Name() != "ridge-model" {
		t.Fatalf("expected ridge predictor, got %+v", d.predictor)
	}
}
