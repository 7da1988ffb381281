package ledger

import "time"

// Status is the lifecycle state of a training run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one training invocation.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	DatasetRoot string
	Seed        uint64
	Status      Status
	Counts      Counts
	Error       string
}

// Counts summarizes the data a run trained on.
type Counts struct {
	Samples    int
	Train      int
	Validation int
	Test       int
	Skipped    int
	Dimensions int
}

// Duration returns the wall time of a finished run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ModelResult holds one model's test metrics within a run. BestIteration is
// -1 for models without boosting rounds.
type ModelResult struct {
	RunID         string
	Name          string
	Kind          string
	MAE           float64
	RMSE          float64
	R2            float64
	BestIteration int
	Duration      time.Duration
	ArtifactPath  string
}

// Prediction is one scored image.
type Prediction struct {
	ID        int64
	CreatedAt time.Time
	Model     string
	ImagePath string
	Value     float64
	Source    string
	RunID     string
}

// Prediction sources.
const (
	SourceCLI   = "cli"
	SourceWatch = "watch"
)
