// Package upload stages CSV sources on disk for the importer, which removes
// them once read.
package upload

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const prefixBytes = 10

var ErrNoName = errors.New("upload: file name is empty")

// Stager copies sources into Dir under collision-free names.
type Stager struct {
	Dir string
}

func NewStager(dir string) *Stager {
	return &Stager{Dir: dir}
}

// Stage writes r to <Dir>/<random hex>-<base name of originalName> and
// returns the path. A partially written file is removed on error.
func (s *Stager) Stage(r io.Reader, originalName string) (string, error) {
	base := filepath.Base(strings.TrimSpace(originalName))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", ErrNoName
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	prefix := make([]byte, prefixBytes)
	if _, err := rand.Read(prefix); err != nil {
		return "", fmt.Errorf("generate file prefix: %w", err)
	}
	path := filepath.Join(s.Dir, hex.EncodeToString(prefix)+"-"+base)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}

	slog.Debug("Staged upload", "path", path, "bytes", n)
	return path, nil
}

// StageFile stages a copy of the file at src.
func (s *Stager) StageFile(src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	return s.Stage(f, src)
}

// Sweep removes staged files last modified more than maxAge ago. These are
// uploads whose import request was lost.
func (s *Stager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read upload directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
