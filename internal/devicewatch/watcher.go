package devicewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"shelflife/internal/config"
	"shelflife/internal/logging"
	"shelflife/internal/notifications"
)

// Scorer predicts shelf life for an image file.
type Scorer interface {
	PredictPath(ctx context.Context, path string) (float64, error)
}

// Launcher starts the notifier command without waiting for it.
type Launcher func(ctx context.Context, argv []string) error

// Event is a device event that passed the uevent matcher.
type Event struct {
	Action    string
	Subsystem string
	Device    string
}

// Outcome records what a single event caused.
type Outcome struct {
	Photo         string
	Prediction    *float64
	NotifierRun   bool
	PhotoThrottle bool
}

// Watcher owns the reaction to device events.
type Watcher struct {
	cfg      *config.Config
	logger   *slog.Logger
	capturer Capturer
	scorer   Scorer
	model    string
	notifier notifications.Service
	launch   Launcher
	now      func() time.Time

	photos   *RateLimiter
	notifies *RateLimiter

	// handling serializes events; the limiters alone would let two events
	// race into ffmpeg for the same camera.
	handling sync.Mutex
	children sync.WaitGroup
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithCapturer replaces the ffmpeg capturer.
func WithCapturer(c Capturer) Option {
	return func(w *Watcher) { w.capturer = c }
}

// WithScorer scores captured photos under the given model name.
func WithScorer(s Scorer, model string) Option {
	return func(w *Watcher) {
		w.scorer = s
		w.model = model
	}
}

// WithNotifier publishes predictions through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(w *Watcher) { w.notifier = svc }
}

// WithLauncher replaces the process launcher for the notifier command.
func WithLauncher(l Launcher) Option {
	return func(w *Watcher) { w.launch = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// New constructs a watcher from the watch configuration.
func New(cfg *config.Config, opts ...Option) (*Watcher, error) {
	if cfg == nil {
		return nil, errors.New("devicewatch: config is required")
	}
	w := &Watcher{
		cfg:      cfg,
		capturer: NewFFmpegCapturer(cfg),
		now:      time.Now,
		photos:   NewRateLimiter(time.Duration(cfg.Watch.PhotoInterval) * time.Second),
		notifies: NewRateLimiter(time.Duration(cfg.Watch.NotifierInterval) * time.Second),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "devicewatch")
	if w.notifier == nil {
		w.notifier = notifications.NewService(cfg)
	}
	if w.launch == nil {
		w.launch = w.startDetached
	}
	return w, nil
}

// HandleEvent captures, records, scores and notifies for one device event.
func (w *Watcher) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	w.handling.Lock()
	defer w.handling.Unlock()

	var out Outcome
	logger := w.logger.With(logging.String("action", ev.Action), logging.String("device", ev.Device))
	logger.Info("device event", logging.String(logging.FieldEventType, "device_event"))

	now := w.now()
	if !w.photos.TryTrigger(now) {
		logger.Info("photo interval not elapsed; photo not taken", logging.String(logging.FieldEventType, "photo_throttled"))
		out.PhotoThrottle = true
	} else {
		photo, err := w.capturer.Capture(ctx, now)
		if err != nil {
			w.photos.Revert(now)
			logging.WarnWithContext(logger, "photo capture failed", "photo_capture_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check watch.camera_device and that ffmpeg can open it"),
				logging.String(logging.FieldImpact, "no photo for this event"),
			)
		} else {
			out.Photo = photo
			logger.Info("photo captured", logging.String("photo", photo), logging.String(logging.FieldEventType, "photo_captured"))
			rec := LastCapture{Photo: photo, Timestamp: now}
			if value, ok := w.score(ctx, logger, photo); ok {
				out.Prediction = &value
				rec.Model = w.model
				rec.Prediction = &value
			}
			if err := WriteLastCapture(w.cfg.Watch.LastCaptureFile, rec); err != nil {
				return out, fmt.Errorf("write last capture: %w", err)
			}
		}
	}

	// The sender reads the last capture file, so it runs even when this event
	// produced no new photo.
	if !w.notifies.TryTrigger(now) {
		logger.Info("notifier interval not elapsed; notifier not launched", logging.String(logging.FieldEventType, "notifier_throttled"))
		return out, nil
	}
	if len(w.cfg.Watch.NotifierCommand) > 0 {
		if err := w.launch(ctx, w.cfg.Watch.NotifierCommand); err != nil {
			logging.WarnWithContext(logger, "notifier launch failed", "notifier_launch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check watch.notifier_command"),
			)
		} else {
			out.NotifierRun = true
			logger.Info("notifier launched", logging.String(logging.FieldEventType, "notifier_launched"))
		}
	}
	if out.Prediction != nil {
		if err := w.notifier.NotifyPrediction(ctx, out.Photo, w.model, *out.Prediction); err != nil {
			logger.Warn("prediction notification failed", logging.Error(err))
		}
	}
	return out, nil
}

func (w *Watcher) score(ctx context.Context, logger *slog.Logger, photo string) (float64, bool) {
	if w.scorer == nil {
		return 0, false
	}
	value, err := w.scorer.PredictPath(ctx, photo)
	if err != nil {
		logging.WarnWithContext(logger, "photo scoring failed", "photo_score_failed",
			logging.String("photo", photo),
			logging.Error(err),
			logging.String(logging.FieldImpact, "photo recorded without a prediction"),
		)
		return 0, false
	}
	logger.Info("photo scored",
		logging.String("photo", photo),
		logging.String(logging.FieldModel, w.model),
		logging.Float64("shelf_life_days", value),
	)
	return value, true
}

func (w *Watcher) startDetached(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), argv[0], argv[1:]...) //nolint:gosec
	if err := cmd.Start(); err != nil {
		return err
	}
	w.children.Add(1)
	go func() {
		defer w.children.Done()
		if err := cmd.Wait(); err != nil {
			w.logger.Warn("notifier command exited with error",
				logging.String("command", strings.Join(argv, " ")),
				logging.Error(err),
			)
		}
	}()
	return nil
}

// Wait blocks until every launched notifier command has exited.
func (w *Watcher) Wait() { w.children.Wait() }

// LockPath is the single-instance lock file for the daemon.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "shelflifed.lock")
}

// ErrAlreadyRunning reports that another watcher holds the instance lock.
var ErrAlreadyRunning = errors.New("another shelflifed instance is already running")

// Run acquires the instance lock, starts the uevent monitor and blocks until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	lockPath := LockPath(w.cfg)
	if err := w.cfg.EnsureCaptureDirectory(); err != nil {
		return err
	}
	if err := w.cfg.EnsureDirectories(); err != nil {
		return err
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() { _ = lock.Unlock() }()

	monitor := newMonitor(w.cfg.Watch.Subsystem, w.cfg.Watch.Action, w.logger, func(ctx context.Context, ev Event) {
		if _, err := w.HandleEvent(ctx, ev); err != nil {
			logging.ErrorWithContext(w.logger, "device event handling failed", "device_event_failed", logging.Error(err))
			if nerr := w.notifier.NotifyError(ctx, err, "device watch"); nerr != nil {
				w.logger.Warn("error notification failed", logging.Error(nerr))
			}
		}
	})
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	w.logger.Info("waiting for device events",
		logging.String("subsystem", w.cfg.Watch.Subsystem),
		logging.String("action", w.cfg.Watch.Action),
		logging.String(logging.FieldEventType, "watch_started"),
	)
	<-ctx.Done()
	monitor.Stop()
	w.Wait()
	w.logger.Info("device watch stopped", logging.String(logging.FieldEventType, "watch_stopped"))
	return nil
}
