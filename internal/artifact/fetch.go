package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxArtifactSize caps a single download.
const MaxArtifactSize = 50 << 20

// ErrLocalFile is returned for file:// attachments the Fetcher may not read.
var ErrLocalFile = errors.New("local file not accepted")

// Fetcher downloads attachments announced by the chat transport.
type Fetcher struct {
	client   *http.Client
	maxSize  int64
	fileRoot string // empty: file:// is refused
}

// NewFetcher returns a Fetcher with a bounded timeout. It only downloads
// http(s) URLs until AllowLocalFiles is called.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxSize: MaxArtifactSize}
}

// AllowLocalFiles lets f read file:// attachments that resolve to a path
// under root, following symlinks. Meant for single-host setups where
// `marker chat` sends local paths.
func (f *Fetcher) AllowLocalFiles(root string) *Fetcher {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	f.fileRoot = abs
	return f
}

// Fetch reads the whole attachment at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body io.ReadCloser
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid attachment url: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download attachment: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to download attachment: status %d", resp.StatusCode)
		}
		body = resp.Body
	case strings.HasPrefix(url, fileScheme):
		path, err := f.localPath(strings.TrimPrefix(url, fileScheme))
		if err != nil {
			return nil, err
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open attachment: %w", err)
		}
		body = file
	default:
		return nil, fmt.Errorf("unsupported attachment url: %q", url)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("attachment exceeds %d bytes", f.maxSize)
	}
	return data, nil
}

// localPath resolves a file:// path and checks it stays under the file root.
func (f *Fetcher) localPath(raw string) (string, error) {
	if f.fileRoot == "" {
		return "", fmt.Errorf("%w: file:// attachments are disabled", ErrLocalFile)
	}
	path := filepath.FromSlash(raw)
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q is not an absolute path", ErrLocalFile, raw)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to open attachment: %w", err)
	}
	rel, err := filepath.Rel(f.fileRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside %s", ErrLocalFile, raw, f.fileRoot)
	}
	return resolved, nil
}
