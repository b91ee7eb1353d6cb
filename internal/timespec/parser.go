// Package timespec parses the --since and --until values of the CLI.
package timespec

import (
	"fmt"
	"strings"
	"time"
)

// Accepted calendar dates. The second is the default period label format.
var dateLayouts = []string{"2006-01-02", "02-01-2006"}

// Parse turns spec into an instant.
// Supported forms:
//   - RFC3339 timestamps: "2024-10-29T13:00:00Z"
//   - calendar dates, midnight local time: "2024-10-29" or "29-10-2024"
//   - Go durations, meaning that long before now: "36h", "90m"
//   - a number of days before now: "7d"
func Parse(spec string, now time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, spec, now.Location()); err == nil {
			return t, nil
		}
	}

	if days, ok := strings.CutSuffix(spec, "d"); ok {
		var n int
		if _, err := fmt.Sscanf(days, "%d", &n); err == nil && n >= 0 && fmt.Sprint(n) == days {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(spec); err == nil && d >= 0 {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use '36h', '7d', '2024-10-29' or RFC3339)", spec)
}

// Range is a half-open window [Since, Until). Zero bounds are open.
type Range struct {
	Since time.Time
	Until time.Time
}

// IsZero reports whether r has no bounds.
func (r Range) IsZero() bool {
	return r.Since.IsZero() && r.Until.IsZero()
}

// Contains reports whether t falls inside r.
func (r Range) Contains(t time.Time) bool {
	if !r.Since.IsZero() && t.Before(r.Since) {
		return false
	}
	if !r.Until.IsZero() && !t.Before(r.Until) {
		return false
	}
	return true
}

// ParseRange parses optional --since and --until values.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.Since, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.Until, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}
