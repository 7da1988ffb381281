package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"shelflife/internal/config"
)

const userAgent = "shelflife/0.1.0"

// ModelScore is one model's headline metric for a training notification.
type ModelScore struct {
	Name string
	MAE  float64
	RMSE float64
	R2   float64
}

// TrainingSummary describes a finished training run.
type TrainingSummary struct {
	RunID    string
	Samples  int
	Folders  int
	Duration time.Duration
	Models   []ModelScore
}

// Service defines the notification surface exposed to the pipeline and the
// device watcher.
type Service interface {
	NotifyTrainingComplete(ctx context.Context, summary TrainingSummary) error
	NotifyPrediction(ctx context.Context, imagePath, model string, value float64) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		training:    cfg.Notifications.Training,
		predictions: cfg.Notifications.Predictions,
		errors:      cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	training    bool
	predictions bool
	errors      bool
}

func (n *ntfyService) NotifyTrainingComplete(ctx context.Context, summary TrainingSummary) error {
	if !n.training {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Trained on %d images from %d folders in %s", summary.Samples, summary.Folders, summary.Duration.Round(time.Second))
	for _, m := range summary.Models {
		fmt.Fprintf(&b, "\n%s: MAE %.3f, RMSE %.3f, R2 %.3f", m.Name, m.MAE, m.RMSE, m.R2)
	}
	if summary.RunID != "" {
		fmt.Fprintf(&b, "\nRun: %s", summary.RunID)
	}
	return n.send(ctx, payload{
		title:   "Shelflife - Training Complete",
		message: b.String(),
		tags:    []string{"shelflife", "train", "completed"},
	})
}

func (n *ntfyService) NotifyPrediction(ctx context.Context, imagePath, model string, value float64) error {
	if !n.predictions {
		return nil
	}
	message := fmt.Sprintf("🍎 Predicted shelf life %.1f days: %s", value, filepath.Base(strings.TrimSpace(imagePath)))
	if model = strings.TrimSpace(model); model != "" {
		message += "\nModel: " + model
	}
	return n.send(ctx, payload{
		title:   "Shelflife - Prediction",
		message: message,
		tags:    []string{"shelflife", "predict"},
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	return n.send(ctx, payload{
		title:    "Shelflife - Error",
		message:  builder.String(),
		tags:     []string{"shelflife", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Shelflife - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"shelflife", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyTrainingComplete(context.Context, TrainingSummary) error   { return nil }
func (noopService) NotifyPrediction(context.Context, string, string, float64) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
