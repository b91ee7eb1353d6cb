package gradebook

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// FormatTable writes records as a formatted table to the provided writer.
// Returns the number of records formatted.
func FormatTable(w io.Writer, records []*Record, cohort string) int {
	if len(records) == 0 {
		fmt.Fprintf(w, "No submissions found for cohort '%s'\n", cohort)
		return 0
	}

	fmt.Fprintf(w, "Gradebook for cohort '%s':\n\n", cohort)

	fmt.Fprintf(w, "%-4s %-4s %-20s %-16s %-9s %-16s %-10s %s\n",
		"P", "ID", "NAME", "REVIEWER", "STATUS", "SUBMITTED", "COMMENT", "VERDICT")
	fmt.Fprintf(w, "%-4s %-4s %-20s %-16s %-9s %-16s %-10s %s\n",
		"----", "----", "--------------------", "----------------", "---------", "----------------", "----------", "------------------------------")

	for _, r := range records {
		fmt.Fprintf(w, "%-4d %-4d %-20s %-16s %-9s %-16s %-10s %s\n",
			r.Period,
			r.RowID,
			truncate(r.Name, 20),
			dash(r.Reviewer),
			r.Status,
			formatSubmittedAt(r.SubmittedAt),
			truncate(firstLine(r.Comment), 10),
			truncate(firstLine(r.Verdict), 30),
		)
	}

	countMsg := "record"
	if len(records) != 1 {
		countMsg = "records"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(records), countMsg)

	return len(records)
}

var csvHeader = []string{
	"period", "label", "row_id", "name", "handle", "reviewer",
	"submitted_at", "artifact", "comment", "verdict", "status",
}

// FormatCSV writes records as CSV with a header row.
func FormatCSV(w io.Writer, records []*Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range records {
		err := cw.Write([]string{
			strconv.Itoa(r.Period), r.Label, strconv.Itoa(r.RowID), r.Name, r.Handle, r.Reviewer,
			r.SubmittedAt, r.Artifact, r.Comment, r.Verdict, string(r.Status),
		})
		if err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatJSONL writes records as line-delimited JSON, one object per line.
func FormatJSONL(w io.Writer, records []*Record) error {
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// firstLine returns the first non-empty line, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// truncate shortens s to max runes, marking the cut with "...". Empty becomes "-".
func truncate(s string, max int) string {
	if s == "" {
		return "-"
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// formatSubmittedAt shortens an RFC3339 timestamp to local "2006-01-02 15:04".
func formatSubmittedAt(ts string) string {
	if ts == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return truncate(ts, 16)
	}
	return t.Local().Format("2006-01-02 15:04")
}
