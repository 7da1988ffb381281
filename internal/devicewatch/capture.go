package devicewatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"shelflife/internal/config"
	"shelflife/internal/fileutil"
	"shelflife/internal/services"
)

const photoTimeLayout = "2006-01-02_15-04-05"

// Capturer takes one photo and returns its path.
type Capturer interface {
	Capture(ctx context.Context, at time.Time) (string, error)
}

// FFmpegCapturer grabs a single frame from a V4L2 device.
type FFmpegCapturer struct {
	Binary    string
	Device    string
	VideoSize string
	Dir       string
	Timeout   time.Duration
}

// NewFFmpegCapturer builds a capturer from the watch configuration.
func NewFFmpegCapturer(cfg *config.Config) *FFmpegCapturer {
	return &FFmpegCapturer{
		Binary:    cfg.FFmpegBinary(),
		Device:    cfg.Watch.CameraDevice,
		VideoSize: cfg.Watch.VideoSize,
		Dir:       cfg.Paths.CaptureDir,
		Timeout:   time.Duration(cfg.Watch.CaptureTimeout) * time.Second,
	}
}

// PhotoPath returns the capture path for a photo taken at t.
func (c *FFmpegCapturer) PhotoPath(at time.Time) string {
	return filepath.Join(c.Dir, "photo_"+at.Format(photoTimeLayout)+".jpg")
}

func (c *FFmpegCapturer) args(dest string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", c.VideoSize,
		"-i", c.Device,
		"-frames:v", "1",
		"-y",
		dest,
	}
}

// Capture runs ffmpeg and verifies that the photo was written.
func (c *FFmpegCapturer) Capture(ctx context.Context, at time.Time) (string, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create capture directory: %w", err)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	dest := c.PhotoPath(at)
	cmd := exec.CommandContext(ctx, c.Binary, c.args(dest)...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "capture", "ffmpeg", strings.TrimSpace(string(output)), err)
	}
	if info, err := os.Stat(dest); err != nil || info.Size() == 0 {
		return "", services.Wrap(services.ErrExternalTool, "capture", "ffmpeg", "no photo written to "+dest, err)
	}
	return dest, nil
}

// LastCapture is the record handed to the notifier command.
type LastCapture struct {
	Photo     string    `json:"photo"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
	// Prediction is the estimated shelf life in days when the photo was scored.
	Prediction *float64 `json:"prediction,omitempty"`
}

// WriteLastCapture replaces path atomically with rec.
func WriteLastCapture(path string, rec LastCapture) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode last capture: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

// ReadLastCapture loads the record written by WriteLastCapture.
func ReadLastCapture(path string) (LastCapture, error) {
	var rec LastCapture
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}
