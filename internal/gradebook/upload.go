package gradebook

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dyluth/marker/internal/artifact"
)

var contentTypes = map[OutputFormat]string{
	OutputFormatTable: "text/plain; charset=utf-8",
	OutputFormatCSV:   "text/csv; charset=utf-8",
	OutputFormatJSONL: "application/x-ndjson",
}

// UploadKey names an export object: exports/{cohort}-{UTC timestamp}.{ext}.
func UploadKey(cohort string, format OutputFormat, at time.Time) string {
	return fmt.Sprintf("exports/%s-%s.%s", cohort, at.UTC().Format("20060102T150405Z"), format.Extension())
}

// Upload renders the export and stores it in the artifact store, returning
// the reference and the number of records.
func Upload(ctx context.Context, r Reader, filter Filter, format OutputFormat, store artifact.Store, at time.Time) (string, int, error) {
	var buf bytes.Buffer
	n, err := Export(ctx, r, filter, format, &buf)
	if err != nil {
		return "", 0, err
	}

	key := UploadKey(r.Cohort(), format, at)
	ref, err := store.Put(ctx, key, &buf, int64(buf.Len()), contentTypes[format])
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload export: %w", err)
	}
	return ref, n, nil
}
