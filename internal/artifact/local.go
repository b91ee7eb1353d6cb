package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// LocalStore keeps artifacts in a directory tree on the coordinator host.
type LocalStore struct {
	root string
}

// NewLocalStore creates root if needed and returns a store writing under it.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute directory artifacts are written to.
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes r to root/key via a temporary file so readers never see a partial upload.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	dest, err := s.resolve(filepath.FromSlash(key))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	return fileScheme + filepath.ToSlash(dest), nil
}

// Open opens a reference produced by Put.
func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	p, err := s.pathOf(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// URL returns ref unchanged; local references are already file URLs.
func (s *LocalStore) URL(ctx context.Context, ref string) (string, error) {
	if _, err := s.pathOf(ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *LocalStore) pathOf(ref string) (string, error) {
	if !strings.HasPrefix(ref, fileScheme) {
		return "", fmt.Errorf("not a local artifact reference: %q", ref)
	}
	return s.resolve(filepath.FromSlash(strings.TrimPrefix(ref, fileScheme)))
}

// resolve maps p into root and refuses anything that escapes it.
func (s *LocalStore) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("artifact path %q is outside %s", p, s.root)
	}
	return p, nil
}
