package artifact_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shelflife/internal/artifact"
	"shelflife/internal/regress"
	"shelflife/internal/scaler"
	"shelflife/internal/services"
)

func trainingSet() regress.Set {
	set := regress.Set{}
	for i := range 30 {
		a := float64(i%6) - 2.5
		b := float64(i%4) * 0.75
		set.X = append(set.X, []float64{a, b, a * b})
		set.Y = append(set.Y, 3*a-b+0.5)
	}
	return set
}

func fitModel(t *testing.T, kind regress.Kind, set regress.Set) regress.Model {
	t.Helper()
	m, err := regress.New(kind, regress.Params{
		Seed:      3,
		Boosting:  regress.BoostingParams{Rounds: 15, LearningRate: 0.3, MaxDepth: 3, Subsample: 0.8, ColsampleByTree: 0.8, Lambda: 1, MinChildWeight: 1, MaxBins: 32},
		Forest:    regress.ForestParams{Trees: 5, MaxDepth: 3, MaxBins: 32},
		Alpha:     1,
		Neighbors: 3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Fit(context.Background(), set, regress.Set{}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return m
}

func fitScaler(t *testing.T, set regress.Set) *scaler.State {
	t.Helper()
	st, err := scaler.Fit(set.X)
	if err != nil {
		t.Fatalf("scaler.Fit: %v", err)
	}
	return st
}

func TestSaveLoadRoundTripIsBitIdentical(t *testing.T) {
	set := trainingSet()
	st := fitScaler(t, set)
	scaled, err := st.TransformAll(set.X)
	if err != nil {
		t.Fatalf("TransformAll: %v", err)
	}
	set.X = scaled
	store := artifact.NewStore(t.TempDir())

	for _, kind := range regress.Kinds() {
		model := fitModel(t, kind, set)
		name := artifact.NameFor(kind)
		if err := store.Save(artifact.Bundle{Scaler: st, Model: model, RunID: "run-1"}, name); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
		bundle, err := store.Load(name)
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if bundle.RunID != "run-1" || bundle.Model.Kind() != kind {
			t.Fatalf("unexpected bundle metadata: %+v", bundle)
		}
		for _, raw := range [][]float64{{0.3, 1.1, -2}, {-2, 0, 0}, {2.5, 2.25, 5.6}} {
			want, _ := st.Transform(raw)
			got, _ := bundle.Scaler.Transform(raw)
			for i := range want {
				if want[i] != got[i] {
					t.Fatalf("scaler output changed: %v vs %v", want, got)
				}
			}
			p1, _ := model.Predict(want)
			p2, _ := bundle.Model.Predict(got)
			if p1 != p2 {
				t.Fatalf("%s prediction changed after reload: %v vs %v", kind, p1, p2)
			}
		}
	}
}

func TestLoadRejectsScalerDigestMismatch(t *testing.T) {
	set := trainingSet()
	st := fitScaler(t, set)
	store := artifact.NewStore(t.TempDir())
	if err := store.Save(artifact.Bundle{Scaler: st, Model: fitModel(t, regress.KindRidge, set)}, artifact.RidgeName); err != nil {
		t.Fatalf("Save: %v", err)
	}

	other := trainingSet()
	other.X[0][0] += 10
	if err := store.SaveScaler(fitScaler(t, other), "run-2"); err != nil {
		t.Fatalf("SaveScaler: %v", err)
	}
	_, err := store.Load(artifact.RidgeName)
	if !errors.Is(err, services.ErrModelUnavailable) {
		t.Fatalf("expected model unavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "digest") {
		t.Fatalf("expected digest detail, got %v", err)
	}
}

func TestLoadMissingArtifactNamesPath(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewStore(dir)
	_, err := store.Load(artifact.GradientBoostedName)
	var unavailable *services.ModelUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
	if unavailable.Path != filepath.Join(dir, "scaler.json") {
		t.Fatalf("unexpected path %q", unavailable.Path)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	set := trainingSet()
	dir := t.TempDir()
	store := artifact.NewStore(dir)
	if err := store.Save(artifact.Bundle{Scaler: fitScaler(t, set), Model: fitModel(t, regress.KindKNN, set)}, artifact.KNNName); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := store.Path(artifact.KNNName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data = []byte(strings.Replace(string(data), artifact.FormatVersion, "shelflife.artifact/v0", 1))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Load(artifact.KNNName); !errors.Is(err, services.ErrModelUnavailable) || !strings.Contains(err.Error(), "format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestSaveRejectsMismatchedDimensions(t *testing.T) {
	set := trainingSet()
	st := fitScaler(t, set)
	narrow := regress.Set{Y: set.Y}
	for _, row := range set.X {
		narrow.X = append(narrow.X, row[:2])
	}
	err := artifact.NewStore(t.TempDir()).Save(artifact.Bundle{Scaler: st, Model: fitModel(t, regress.KindRidge, narrow)}, artifact.RidgeName)
	if !errors.Is(err, services.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestSaveRejectsInvalidNames(t *testing.T) {
	set := trainingSet()
	store := artifact.NewStore(t.TempDir())
	bundle := artifact.Bundle{Scaler: fitScaler(t, set), Model: fitModel(t, regress.KindRidge, set)}
	for _, name := range []string{"", "scaler", "../escape", "Upper"} {
		if err := store.Save(bundle, name); err == nil {
			t.Fatalf("expected error for name %q", name)
		}
	}
}

func TestListSkipsScalerAndReportsCorruptFiles(t *testing.T) {
	set := trainingSet()
	dir := t.TempDir()
	store := artifact.NewStore(dir)
	st := fitScaler(t, set)
	for _, kind := range []regress.Kind{regress.KindRidge, regress.KindKNN} {
		if err := store.Save(artifact.Bundle{Scaler: st, Model: fitModel(t, kind, set), RunID: "r"}, artifact.NameFor(kind)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	if strings.Join(names, ",") != "broken,knn-model,ridge-model" {
		t.Fatalf("unexpected listing %v", names)
	}
	if infos[0].Err == nil {
		t.Fatal("expected parse error for broken artifact")
	}
	if infos[1].ModelKind != regress.KindKNN || infos[1].Dimensions != 3 || infos[1].RunID != "r" {
		t.Fatalf("unexpected info %+v", infos[1])
	}

	empty, err := artifact.NewStore(filepath.Join(dir, "missing")).List()
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty listing for missing dir, got %v, %v", empty, err)
	}
}

func TestTrainingLockIsExclusive(t *testing.T) {
	store := artifact.NewStore(filepath.Join(t.TempDir(), "artifacts"))
	first, err := store.LockTraining()
	if err != nil {
		t.Fatalf("LockTraining: %v", err)
	}
	if _, err := store.LockTraining(); !errors.Is(err, artifact.ErrTrainingLocked) {
		t.Fatalf("expected lock contention, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := store.LockTraining()
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = second.Release()
}

func TestNameFor(t *testing.T) {
	tests := map[regress.Kind]string{
		regress.KindGradientBoosted: "gradient-boosted-model",
		regress.KindRandomForest:    "random-forest-model",
		regress.KindRidge:           "ridge-model",
		regress.KindKNN:             "knn-model",
	}
	for kind, want := range tests {
		if got := artifact.NameFor(kind); got != want {
			t.Fatalf("NameFor(%s) = %q, want %q", kind, got, want)
		}
	}
}
