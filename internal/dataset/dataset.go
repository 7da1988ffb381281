package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"shelflife/internal/logging"
	"shelflife/internal/services"
)

// imageExtensions lists the lower-cased file extensions treated as images.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
}

// Sample is one labeled image.
type Sample struct {
	Path   string  `json:"path"`
	Label  float64 `json:"label"`
	Folder string  `json:"folder"`
}

// FolderSummary describes one accepted folder.
type FolderSummary struct {
	Name    string
	Produce string
	Label   float64
	Images  int
}

// SkipReason classifies a skipped folder.
type SkipReason string

const (
	// SkipLabelParse marks a folder whose name carries no "(min-max)" range.
	SkipLabelParse SkipReason = "label_parse_skip"
	// SkipEmptyFolder marks a labeled folder without any image files.
	SkipEmptyFolder SkipReason = "empty_folder_skip"
)

// Skip records a folder excluded from the dataset.
type Skip struct {
	Folder string
	Path   string
	Reason SkipReason
	Detail string
}

// Dataset is the ordered result of assembling a root directory.
type Dataset struct {
	Root    string
	Samples []Sample
	Folders []FolderSummary
	Skips   []Skip
}

// EmptyError reports that no samples were found anywhere under Root.
type EmptyError struct {
	Root  string
	Skips int
}

func (e *EmptyError) Error() string {
	msg := fmt.Sprintf("no images found under %s", e.Root)
	if e.Skips > 0 {
		msg += fmt.Sprintf(" (%d folders skipped)", e.Skips)
	}
	return msg
}

func (e *EmptyError) Is(target error) bool { return target == services.ErrDatasetEmpty }

// Assemble walks root and builds the dataset. Subdirectories are visited in
// sorted order and files within a folder in lexical walk order, so the sample
// order is reproducible for a given tree.
func Assemble(ctx context.Context, root string, logger *slog.Logger) (*Dataset, error) {
	logger = logging.NewComponentLogger(logger, "dataset")

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "assemble", "read dataset root", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	ds := &Dataset{Root: root}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(root, entry.Name())
		if !isDir(entry, dir) {
			continue
		}

		label, err := ParseLabel(entry.Name())
		if err != nil {
			ds.Skips = append(ds.Skips, Skip{Folder: entry.Name(), Path: dir, Reason: SkipLabelParse, Detail: err.Error()})
			logging.WarnWithContext(logger, "skipping folder: cannot parse label", string(SkipLabelParse),
				logging.String("folder", dir),
				logging.String(logging.FieldErrorHint, "rename the folder to 'name(min-max)', e.g. 'Apple(1-5)'"),
				logging.String(logging.FieldImpact, "folder excluded from training"),
			)
			continue
		}

		paths, err := collectImages(ctx, dir)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			ds.Skips = append(ds.Skips, Skip{Folder: entry.Name(), Path: dir, Reason: SkipEmptyFolder, Detail: "no image files"})
			logging.WarnWithContext(logger, "skipping folder: no images found", string(SkipEmptyFolder),
				logging.String("folder", dir),
				logging.String(logging.FieldErrorHint, "add .jpg/.jpeg/.png/.bmp/.tif/.tiff files"),
				logging.String(logging.FieldImpact, "folder excluded from training"),
			)
			continue
		}

		for _, p := range paths {
			ds.Samples = append(ds.Samples, Sample{Path: p, Label: label, Folder: entry.Name()})
		}
		ds.Folders = append(ds.Folders, FolderSummary{
			Name:    entry.Name(),
			Produce: ProduceName(entry.Name()),
			Label:   label,
			Images:  len(paths),
		})
		logger.Debug("folder collected",
			logging.String("folder", entry.Name()),
			logging.Float64("label", label),
			logging.Int("images", len(paths)),
		)
	}

	if len(ds.Samples) == 0 {
		return nil, &EmptyError{Root: root, Skips: len(ds.Skips)}
	}
	return ds, nil
}

func isDir(entry fs.DirEntry, path string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func collectImages(ctx context.Context, dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return paths, nil
}

// Labels returns the label of every sample in order.
func Labels(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Label
	}
	return out
}

// Paths returns the path of every sample in order.
func Paths(samples []Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.Path
	}
	return out
}
