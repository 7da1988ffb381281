package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const stagingPrefix = ".staging-"

// Staging collects the artifacts of one training run outside the live
// directory. Nothing becomes visible to Load until Publish succeeds.
type Staging struct {
	*Store
	target    *Store
	published bool
}

// Stage opens a fresh staging area under the artifact directory. Leftover
// staging areas from interrupted runs are removed first, so callers should
// hold the training lock.
func (s *Store) Stage() (*Staging, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure artifact directory: %w", err)
	}
	if err := s.removeStaleStaging(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(s.dir, stagingPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	staged := NewStore(dir)
	staged.now = s.now
	return &Staging{Store: staged, target: s}, nil
}

func (s *Store) removeStaleStaging() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan artifact directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), stagingPrefix) {
			if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
				return fmt.Errorf("remove stale staging directory: %w", err)
			}
		}
	}
	return nil
}

// Publish moves every staged artifact into the live directory. Models are
// renamed before the scaler, and the staging area is removed afterwards.
func (st *Staging) Publish() error {
	if st.published {
		return errors.New("publish artifacts: already published")
	}
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return fmt.Errorf("publish artifacts: %w", err)
	}
	var names []string
	hasScaler := false
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || strings.HasPrefix(fileName, ".") || filepath.Ext(fileName) != ".json" {
			continue
		}
		name := strings.TrimSuffix(fileName, ".json")
		if name == ScalerName {
			hasScaler = true
			continue
		}
		names = append(names, name)
	}
	if !hasScaler {
		return errors.New("publish artifacts: staging area has no scaler")
	}
	slices.Sort(names)
	names = append(names, ScalerName)
	for _, name := range names {
		if err := os.Rename(st.Path(name), st.target.Path(name)); err != nil {
			return fmt.Errorf("publish artifact %s: %w", name, err)
		}
	}
	st.published = true
	return st.Discard()
}

// Discard removes the staging area. Safe to call after Publish.
func (st *Staging) Discard() error {
	if err := os.RemoveAll(st.dir); err != nil {
		return fmt.Errorf("discard staging directory: %w", err)
	}
	return nil
}
