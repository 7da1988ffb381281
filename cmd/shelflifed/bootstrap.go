package main

import (
	"context"
	"errors"
	"log/slog"

	"shelflife/internal/config"
	"shelflife/internal/devicewatch"
	"shelflife/internal/ledger"
	"shelflife/internal/logging"
	"shelflife/internal/notifications"
	"shelflife/internal/pipeline"
	"shelflife/internal/services"
)

type daemon struct {
	watcher   *devicewatch.Watcher
	predictor *pipeline.Predictor
	ledger    *ledger.Store
}

func (d *daemon) Close() {
	if d.predictor != nil {
		_ = d.predictor.Close()
		d.predictor = nil
	}
	if d.ledger != nil {
		_ = d.ledger.Close()
		d.ledger = nil
	}
}

// bootstrap wires the watcher. A missing model leaves the daemon capturing
// photos without scoring them.
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger, open pipeline.BackboneFactory) (*daemon, error) {
	d := &daemon{}
	store, err := ledger.Open(cfg)
	if err != nil {
		return nil, err
	}
	d.ledger = store
	notifier := notifications.NewService(cfg)

	opts := []devicewatch.Option{
		devicewatch.WithLogger(logger),
		devicewatch.WithNotifier(notifier),
	}
	if cfg.Watch.Model != "" {
		predictor, err := pipeline.OpenPredictor(ctx, cfg, cfg.Watch.Model,
			pipeline.WithLogger(logger),
			pipeline.WithBackboneFactory(open),
			pipeline.WithLedger(store),
		)
		switch {
		case errors.Is(err, services.ErrModelUnavailable):
			logging.WarnWithContext(logger, "watch model unavailable; photos will not be scored", "watch_model_unavailable",
				logging.String(logging.FieldModel, cfg.Watch.Model),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run `shelflife train` or set watch.model"),
			)
		case err != nil:
			d.Close()
			return nil, err
		default:
			predictor.SetSource(ledger.SourceWatch)
			d.predictor = predictor
			opts = append(opts, devicewatch.WithScorer(predictor, cfg.Watch.Model))
		}
	}

	watcher, err := devicewatch.New(cfg, opts...)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.watcher = watcher
	return d, nil
}
