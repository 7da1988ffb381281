package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shelflife/internal/config"
	"shelflife/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
	calls    int
}

func newServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.calls++
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got.body = string(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(server.Close)
	return server, got
}

func configFor(url string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.RequestTimeout = 5
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyError(context.Background(), errors.New("boom"), "train"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop test notification to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "training complete",
			send: func(s notifications.Service) error {
				return s.NotifyTrainingComplete(context.Background(), notifications.TrainingSummary{
					RunID:    "abc",
					Samples:  5,
					Folders:  2,
					Duration: 61500 * time.Millisecond,
					Models:   []notifications.ModelScore{{Name: "ridge-model", MAE: 1.25, RMSE: 1.5, R2: 0.5}},
				})
			},
			expectTitle:   "Shelflife - Training Complete",
			expectMessage: "✅ Trained on 5 images from 2 folders in 1m2s\nridge-model: MAE 1.250, RMSE 1.500, R2 0.500\nRun: abc",
			expectTags:    "shelflife,train,completed",
		},
		{
			name: "prediction",
			send: func(s notifications.Service) error {
				return s.NotifyPrediction(context.Background(), "/captures/photo_1.jpg", "gradient-boosted-model", 4.26)
			},
			expectTitle:   "Shelflife - Prediction",
			expectMessage: "🍎 Predicted shelf life 4.3 days: photo_1.jpg\nModel: gradient-boosted-model",
			expectTags:    "shelflife,predict",
		},
		{
			name: "error",
			send: func(s notifications.Service) error {
				return s.NotifyError(context.Background(), errors.New("dataset empty"), "training")
			},
			expectTitle:    "Shelflife - Error",
			expectMessage:  "❌ Error during training: dataset empty",
			expectTags:     "shelflife,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Shelflife - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "shelflife,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, got := newServer(t, http.StatusOK)
			svc := notifications.NewService(configFor(server.URL))
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursEventSwitches(t *testing.T) {
	server, got := newServer(t, http.StatusOK)
	cfg := configFor(server.URL)
	cfg.Notifications.Training = false
	cfg.Notifications.Predictions = false
	cfg.Notifications.Errors = false
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	_ = svc.NotifyTrainingComplete(ctx, notifications.TrainingSummary{})
	_ = svc.NotifyPrediction(ctx, "a.jpg", "m", 1)
	_ = svc.NotifyError(ctx, errors.New("x"), "")
	if got.calls != 0 {
		t.Fatalf("expected suppressed events, got %d calls", got.calls)
	}
	if err := svc.TestNotification(ctx); err != nil || got.calls != 1 {
		t.Fatalf("test notification must bypass switches: calls=%d err=%v", got.calls, err)
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server, _ := newServer(t, http.StatusForbidden)
	svc := notifications.NewService(configFor(server.URL))
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
