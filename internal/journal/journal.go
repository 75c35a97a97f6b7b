// Package journal appends poll samples to a CSV file.
package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skobkin/creepmon/internal/sampler"
)

// Header is the fixed first row of every journal.
var Header = []string{"Date", "Elapsed Time (s)", "Change in Length (mm)", "% Strain"}

// Writer appends one row per sample. No file handle is kept between
// calls, so the file is complete and flushed whenever Append returns.
type Writer struct {
	path   string
	logger *slog.Logger
}

// New returns a Writer for the journal at path.
func New(path string, logger *slog.Logger) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{
		path:   path,
		logger: logger.With("component", "journal", "path", path),
	}, nil
}

// Path returns the journal location.
func (w *Writer) Path() string {
	return w.path
}

// EnsureInitialized creates the journal with its header unless the file
// already exists. Existing files are never truncated.
func (w *Writer) EnsureInitialized() error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			w.logger.Debug("journal exists, appending")
			return nil
		}
		return fmt.Errorf("create journal: %w", err)
	}

	if err := writeRow(f, Header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	w.logger.Info("journal created")
	return nil
}

// Append writes the sample as one row.
func (w *Writer) Append(sample sampler.Sample) error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	if err := writeRow(f, Row(sample)); err != nil {
		_ = f.Close()
		return fmt.Errorf("append row: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// Row renders a sample in journal column order.
func Row(sample sampler.Sample) []string {
	return []string{
		sample.Date,
		strconv.FormatInt(sample.ElapsedSeconds, 10),
		formatFloat(sample.ChangeInLengthMM),
		formatFloat(sample.StrainPercent),
	}
}

func writeRow(w io.Writer, record []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(record); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// formatFloat prints the shortest representation, keeping one fractional
// digit for whole numbers ("0.0", "2.0").
func formatFloat(value float64) string {
	s := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
