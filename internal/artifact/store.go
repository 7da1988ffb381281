package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"shelflife/internal/fileutil"
	"shelflife/internal/regress"
	"shelflife/internal/scaler"
	"shelflife/internal/services"
)

// FormatVersion tags every envelope written by this package.
const FormatVersion = "shelflife.artifact/v1"

// Fixed artifact names.
const (
	ScalerName          = "scaler"
	GradientBoostedName = "gradient-boosted-model"
	RandomForestName    = "random-forest-model"
	RidgeName           = "ridge-model"
	KNNName             = "knn-model"
)

// NameFor returns the artifact name a regressor kind is saved under.
func NameFor(kind regress.Kind) string {
	switch kind {
	case regress.KindGradientBoosted:
		return GradientBoostedName
	case regress.KindRandomForest:
		return RandomForestName
	case regress.KindRidge:
		return RidgeName
	case regress.KindKNN:
		return KNNName
	default:
		return strings.ReplaceAll(string(kind), "_", "-") + "-model"
	}
}

// EnvelopeKind distinguishes scaler and model files.
type EnvelopeKind string

const (
	KindScaler EnvelopeKind = "scaler"
	KindModel  EnvelopeKind = "model"
)

// Envelope is the on-disk wrapper around a serialized scaler or model.
type Envelope struct {
	Format       string          `json:"format"`
	Kind         EnvelopeKind    `json:"kind"`
	ModelKind    regress.Kind    `json:"model_kind,omitempty"`
	Name         string          `json:"name"`
	RunID        string          `json:"run_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Dimensions   int             `json:"dimensions"`
	ScalerDigest string          `json:"scaler_digest"`
	Payload      json.RawMessage `json:"payload"`
}

// Bundle pairs a scaler with one model trained behind it.
type Bundle struct {
	Scaler *scaler.State
	Model  regress.Model
	RunID  string
}

// Info describes a saved model artifact.
type Info struct {
	Name       string
	ModelKind  regress.Kind
	RunID      string
	CreatedAt  time.Time
	Dimensions int
	Path       string
	Size       int64
	// Err is set when the file exists but cannot be parsed.
	Err error
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Store reads and writes artifacts in one directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a store rooted at dir. The directory is created on first
// write.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file an artifact name maps to.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save writes the scaler and the model under name.
func (s *Store) Save(b Bundle, name string) error {
	if b.Scaler == nil || b.Model == nil {
		return errors.New("save artifact: bundle requires scaler and model")
	}
	if err := s.SaveScaler(b.Scaler, b.RunID); err != nil {
		return err
	}
	return s.SaveModel(b.Model, name, b.RunID, b.Scaler)
}

// SaveScaler writes scaler.json.
func (s *Store) SaveScaler(st *scaler.State, runID string) error {
	payload, err := st.MarshalJSON()
	if err != nil {
		return fmt.Errorf("save scaler: %w", err)
	}
	return s.write(Envelope{
		Kind:         KindScaler,
		Name:         ScalerName,
		RunID:        runID,
		Dimensions:   st.Dimensions(),
		ScalerDigest: st.Digest(),
		Payload:      payload,
	})
}

// SaveModel writes a model envelope that references st by digest.
func (s *Store) SaveModel(m regress.Model, name, runID string, st *scaler.State) error {
	if !namePattern.MatchString(name) || name == ScalerName {
		return fmt.Errorf("save model: invalid artifact name %q", name)
	}
	if m.Dimensions() != st.Dimensions() {
		return fmt.Errorf("save model %s: %w", name, &scaler.DimensionMismatchError{Component: "model", Expected: st.Dimensions(), Got: m.Dimensions()})
	}
	payload, err := regress.Marshal(m)
	if err != nil {
		return fmt.Errorf("save model %s: %w", name, err)
	}
	return s.write(Envelope{
		Kind:         KindModel,
		ModelKind:    m.Kind(),
		Name:         name,
		RunID:        runID,
		Dimensions:   m.Dimensions(),
		ScalerDigest: st.Digest(),
		Payload:      payload,
	})
}

func (s *Store) write(env Envelope) error {
	env.Format = FormatVersion
	env.CreatedAt = s.now()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Name, err)
	}
	if err := fileutil.WriteFileAtomic(s.Path(env.Name), data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", env.Name, err)
	}
	return nil
}

// LoadScaler reads and verifies scaler.json.
func (s *Store) LoadScaler() (*scaler.State, *Envelope, error) {
	path := s.Path(ScalerName)
	env, err := readEnvelope(path, KindScaler)
	if err != nil {
		return nil, nil, unavailable(ScalerName, path, err)
	}
	st, err := scaler.Decode(env.Payload)
	if err != nil {
		return nil, nil, unavailable(ScalerName, path, err)
	}
	if st.Dimensions() != env.Dimensions {
		return nil, nil, unavailable(ScalerName, path, &scaler.DimensionMismatchError{Component: "scaler envelope", Expected: env.Dimensions, Got: st.Dimensions()})
	}
	if env.ScalerDigest != "" && env.ScalerDigest != st.Digest() {
		return nil, nil, unavailable(ScalerName, path, errors.New("scaler payload does not match its digest"))
	}
	return st, env, nil
}

// Load reassembles the bundle saved under name.
func (s *Store) Load(name string) (*Bundle, error) {
	if !namePattern.MatchString(name) || name == ScalerName {
		return nil, unavailable(name, "", fmt.Errorf("invalid artifact name %q", name))
	}
	st, _, err := s.LoadScaler()
	if err != nil {
		return nil, err
	}

	path := s.Path(name)
	env, err := readEnvelope(path, KindModel)
	if err != nil {
		return nil, unavailable(name, path, err)
	}
	if env.ScalerDigest != st.Digest() {
		return nil, unavailable(name, path, errors.New("model was trained behind a different scaler (digest mismatch)"))
	}
	model, err := regress.Decode(env.ModelKind, env.Payload)
	if err != nil {
		return nil, unavailable(name, path, err)
	}
	if model.Dimensions() != env.Dimensions || model.Dimensions() != st.Dimensions() {
		return nil, unavailable(name, path, &scaler.DimensionMismatchError{Component: "model artifact", Expected: st.Dimensions(), Got: model.Dimensions()})
	}
	return &Bundle{Scaler: st, Model: model, RunID: env.RunID}, nil
}

// List describes every saved model artifact, sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var out []Info
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || strings.HasPrefix(fileName, ".") || filepath.Ext(fileName) != ".json" {
			continue
		}
		name := strings.TrimSuffix(fileName, ".json")
		if name == ScalerName {
			continue
		}
		info := Info{Name: name, Path: filepath.Join(s.dir, fileName)}
		if fi, err := entry.Info(); err == nil {
			info.Size = fi.Size()
		}
		env, err := readEnvelope(info.Path, KindModel)
		if err != nil {
			info.Err = err
		} else {
			info.ModelKind = env.ModelKind
			info.RunID = env.RunID
			info.CreatedAt = env.CreatedAt
			info.Dimensions = env.Dimensions
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func readEnvelope(path string, want EnvelopeKind) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Format != FormatVersion {
		return nil, fmt.Errorf("unsupported artifact format %q (want %q)", env.Format, FormatVersion)
	}
	if env.Kind != want {
		return nil, fmt.Errorf("artifact kind %q, want %q", env.Kind, want)
	}
	if len(env.Payload) == 0 {
		return nil, errors.New("artifact has no payload")
	}
	return &env, nil
}

func unavailable(name, path string, err error) error {
	return &services.ModelUnavailableError{Resource: "artifact " + name, Path: path, Err: err}
}
