// Package gradebook flattens the ledger into one record per (participant,
// period) and renders it for operators.
package gradebook

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/dyluth/marker/internal/timespec"
	"github.com/dyluth/marker/pkg/ledger"
)

// OutputFormat specifies how to format the export.
type OutputFormat string

const (
	// OutputFormatTable is a compact table with truncated comments and verdicts
	OutputFormatTable OutputFormat = "table"

	// OutputFormatCSV writes one spreadsheet row per record
	OutputFormatCSV OutputFormat = "csv"

	// OutputFormatJSONL writes complete records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseFormat validates a --format value. Empty selects the table.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatTable:
		return OutputFormatTable, nil
	case OutputFormatCSV, OutputFormatJSONL:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("invalid format %q: must be 'table', 'csv' or 'jsonl'", s)
}

// Extension returns the file extension for uploads in format f.
func (f OutputFormat) Extension() string {
	switch f {
	case OutputFormatCSV:
		return "csv"
	case OutputFormatJSONL:
		return "jsonl"
	}
	return "txt"
}

// Status summarises one submission.
type Status string

const (
	StatusMissing  Status = "missing"  // nothing uploaded
	StatusPending  Status = "pending"  // uploaded, waiting for a verdict
	StatusReviewed Status = "reviewed" // verdict recorded
)

// Record is one participant's submission for one period.
type Record struct {
	RowID       int    `json:"row_id"`
	Name        string `json:"name"`
	Handle      string `json:"handle"`
	Period      int    `json:"period"`
	Label       string `json:"label"`
	SubmittedAt string `json:"submitted_at,omitempty"`
	Artifact    string `json:"artifact,omitempty"`
	Reviewer    string `json:"reviewer,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Verdict     string `json:"verdict,omitempty"`
	Status      Status `json:"status"`
}

// Filter narrows an export. All filters are ANDed together.
type Filter struct {
	Period       int            // 0 = every period
	ReviewerGlob string         // glob on the reviewer handle, empty = no filter
	Status       Status         // empty = no filter
	Submitted    timespec.Range // window on submitted_at; unsubmitted records never match a bounded window
}

func (f *Filter) matches(r *Record) bool {
	if f.Period > 0 && r.Period != f.Period {
		return false
	}
	if f.ReviewerGlob != "" {
		matched, err := filepath.Match(f.ReviewerGlob, r.Reviewer)
		if err != nil || !matched {
			return false
		}
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Submitted.IsZero() {
		at, err := time.Parse(time.RFC3339, r.SubmittedAt)
		if err != nil || !f.Submitted.Contains(at) {
			return false
		}
	}
	return true
}

// Reader is the ledger surface an export reads.
type Reader interface {
	Cohort() string
	ReadAll(ctx context.Context) ([]*ledger.Row, error)
	Periods(ctx context.Context) ([]ledger.Period, error)
}

// Collect reads the whole ledger and returns the matching records ordered by
// period, then row id.
func Collect(ctx context.Context, r Reader, filter Filter) ([]*Record, error) {
	periods, err := r.Periods(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read periods: %w", err)
	}
	rows, err := r.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	labels := make(map[int]string, len(periods))
	for _, p := range periods {
		labels[p.Number] = p.Label
	}

	var records []*Record
	for _, row := range rows {
		for period, sub := range row.Submissions {
			rec := &Record{
				RowID:       row.ID,
				Name:        row.Name,
				Handle:      row.Handle,
				Period:      period,
				Label:       labels[period],
				SubmittedAt: sub.SubmittedAt,
				Artifact:    sub.Artifact,
				Reviewer:    sub.Reviewer,
				Comment:     sub.Comment,
				Verdict:     sub.Verdict,
				Status:      statusOf(sub),
			}
			if filter.matches(rec) {
				records = append(records, rec)
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Period != records[j].Period {
			return records[i].Period < records[j].Period
		}
		return records[i].RowID < records[j].RowID
	})
	return records, nil
}

func statusOf(sub *ledger.Submission) Status {
	switch {
	case sub.HasVerdict():
		return StatusReviewed
	case sub.HasArtifact():
		return StatusPending
	default:
		return StatusMissing
	}
}

// Export collects the records matching filter and writes them to w in format.
// Returns the number of records written.
func Export(ctx context.Context, r Reader, filter Filter, format OutputFormat, w io.Writer) (int, error) {
	records, err := Collect(ctx, r, filter)
	if err != nil {
		return 0, err
	}

	switch format {
	case OutputFormatCSV:
		return len(records), FormatCSV(w, records)
	case OutputFormatJSONL:
		return len(records), FormatJSONL(w, records)
	default:
		return FormatTable(w, records, r.Cohort()), nil
	}
}
