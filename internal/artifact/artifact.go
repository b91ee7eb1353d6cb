// Package artifact persists submitted files and hands them back for review.
//
// A Store turns an upload into an opaque reference string. The reference is
// what the ledger records in the artifact cell; only the Store that produced it
// knows how to open it.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/dyluth/marker/internal/idgen"
)

// ErrNotFound is returned when a reference does not resolve to a stored object.
var ErrNotFound = errors.New("artifact not found")

// Store persists artifacts.
type Store interface {
	// Put stores r under key and returns the reference to record.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Open returns the content behind ref.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// URL returns a link a chat client can download ref from.
	URL(ctx context.Context, ref string) (string, error)
}

// ObjectKey builds the storage key "{period}/{handle}_{id}_{filename}" for a
// submission. id is freshly generated so resubmissions never collide.
func ObjectKey(period int, handle, filename string) (string, error) {
	id, err := idgen.Generate()
	if err != nil {
		return "", err
	}
	// Underscores separate the key parts.
	handle = strings.ReplaceAll(strings.TrimPrefix(handle, "@"), "_", "-")
	return path.Join(strconv.Itoa(period), fmt.Sprintf("%s_%s_%s", sanitize(handle), id, sanitize(filename))), nil
}

// FileName returns the display name of a stored key, without the handle and id prefix.
func FileName(ref string) string {
	base := path.Base(strings.ReplaceAll(ref, "\\", "/"))
	parts := strings.SplitN(base, "_", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return base
}

// sanitize keeps a name usable as a single path element.
func sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '\x00':
			return '-'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
