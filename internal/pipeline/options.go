package pipeline

import (
	"io"
	"log/slog"
	"os"

	"shelflife/internal/config"
	"shelflife/internal/embedding"
	"shelflife/internal/ledger"
	"shelflife/internal/notifications"
)

// BackboneFactory opens the embedding backbone for a configuration.
type BackboneFactory func(cfg config.Embedding) (embedding.Backbone, error)

type options struct {
	logger   *slog.Logger
	out      io.Writer
	progress io.Writer
	open     BackboneFactory
	ledger   *ledger.Store
	notifier notifications.Service
}

// Option customizes a Trainer or Predictor.
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		out:  os.Stdout,
		open: embedding.OpenBackbone,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(&config.Config{})
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithOutput sets where progress and summary lines are printed.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w == nil {
			w = io.Discard
		}
		o.out = w
	}
}

// WithProgress enables extraction progress bars on w.
func WithProgress(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// WithBackboneFactory replaces the ONNX backbone loader.
func WithBackboneFactory(f BackboneFactory) Option {
	return func(o *options) {
		if f != nil {
			o.open = f
		}
	}
}

// WithLedger records runs and predictions in store.
func WithLedger(store *ledger.Store) Option {
	return func(o *options) { o.ledger = store }
}

// WithNotifier publishes run events through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(o *options) { o.notifier = svc }
}

func newExtractor(cfg *config.Config, o options) (*embedding.Extractor, error) {
	pre, err := embedding.NewPreprocessor(cfg.Embedding.ResizeSize, cfg.Embedding.CropSize, cfg.Embedding.Mean, cfg.Embedding.Std)
	if err != nil {
		return nil, err
	}
	backbone, err := o.open(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	extractor, err := embedding.NewExtractor(backbone, embedding.Options{
		BatchSize:    cfg.Embedding.BatchSize,
		Preprocessor: pre,
		Logger:       o.logger,
		Progress:     o.progress,
	})
	if err != nil {
		_ = backbone.Close()
		return nil, err
	}
	return extractor, nil
}
