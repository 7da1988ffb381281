package pipeline

import (
	"context"
	"log/slog"

	"shelflife/internal/artifact"
	"shelflife/internal/config"
	"shelflife/internal/embedding"
	"shelflife/internal/ledger"
	"shelflife/internal/logging"
	"shelflife/internal/services"
)

// Predictor scores image files with a saved bundle.
type Predictor struct {
	name      string
	bundle    *artifact.Bundle
	extractor *embedding.Extractor
	owned     bool
	ledger    *ledger.Store
	source    string
	logger    *slog.Logger
}

// OpenPredictor loads the scaler and the model saved under name and opens a
// fresh backbone. Artifacts are checked before the backbone is opened.
func OpenPredictor(ctx context.Context, cfg *config.Config, name string, opts ...Option) (*Predictor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	bundle, err := artifact.NewStore(cfg.Paths.ArtifactDir).Load(name)
	if err != nil {
		return nil, err
	}
	extractor, err := newExtractor(cfg, o)
	if err != nil {
		return nil, err
	}
	logger := logging.NewComponentLogger(o.logger, "predict")
	logger.Debug("predictor ready",
		logging.String(logging.FieldModel, name),
		logging.String(logging.FieldRunID, bundle.RunID),
		logging.Int("dimensions", bundle.Scaler.Dimensions()),
	)
	return &Predictor{name: name, bundle: bundle, extractor: extractor, owned: true, ledger: o.ledger, source: ledger.SourceCLI, logger: logger}, nil
}

// newBundlePredictor shares an open extractor; Close leaves it open.
func newBundlePredictor(name string, bundle *artifact.Bundle, extractor *embedding.Extractor) *Predictor {
	return &Predictor{name: name, bundle: bundle, extractor: extractor, logger: logging.NewNop()}
}

// Name returns the artifact name the predictor was opened with.
func (p *Predictor) Name() string { return p.name }

// RunID returns the training run that produced the model.
func (p *Predictor) RunID() string { return p.bundle.RunID }

// SetSource labels ledger rows written by this predictor.
func (p *Predictor) SetSource(source string) { p.source = source }

// PredictPath embeds path, scales the vector and runs the model.
func (p *Predictor) PredictPath(ctx context.Context, path string) (float64, error) {
	vec, err := p.extractor.EmbedPath(ctx, path)
	if err != nil {
		return 0, err
	}
	scaled, err := p.bundle.Scaler.Transform(vec)
	if err != nil {
		return 0, services.Wrap(nil, "predict", "scale", path, err)
	}
	value, err := p.bundle.Model.Predict(scaled)
	if err != nil {
		return 0, services.Wrap(nil, "predict", p.name, path, err)
	}
	if p.ledger != nil {
		if _, err := p.ledger.RecordPrediction(ctx, ledger.Prediction{
			Model:     p.name,
			ImagePath: path,
			Value:     value,
			Source:    p.source,
			RunID:     p.bundle.RunID,
		}); err != nil {
			logging.WarnWithContext(p.logger, "failed to record prediction", "ledger_write_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "prediction returned but missing from the ledger"),
			)
		}
	}
	return value, nil
}

// Close releases the backbone when the predictor owns it.
func (p *Predictor) Close() error {
	if p == nil || !p.owned || p.extractor == nil {
		return nil
	}
	return p.extractor.Close()
}
