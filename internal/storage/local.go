package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local stores files on disk under baseDir and serves them from the
// /uploads/ static route.
type Local struct {
	baseDir string
	urlBase string
}

// NewLocal creates the base directory if needed.
func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{baseDir: baseDir, urlBase: "/uploads/"}, nil
}

func (l *Local) Save(ctx context.Context, sandboxID, filename string, r io.Reader, contentType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	ref := fmt.Sprintf("%s/%s%s", sandboxID, uuid.NewString(), ext)

	dir := filepath.Join(l.baseDir, sandboxID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox dir: %w", err)
	}

	path := filepath.Join(l.baseDir, filepath.FromSlash(ref))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}
	return ref, nil
}

func (l *Local) URL(ctx context.Context, ref string) (string, error) {
	return l.urlBase + ref, nil
}

func (l *Local) Delete(ctx context.Context, ref string) error {
	err := os.Remove(filepath.Join(l.baseDir, filepath.FromSlash(ref)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// BaseDir returns the directory served by the static route.
func (l *Local) BaseDir() string {
	return l.baseDir
}
