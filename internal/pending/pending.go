// Package pending derives a reviewer's outstanding work for one period.
//
// A Set is a cache held by one review conversation. It is rebuilt from the
// ledger at the start of every conversation and is never trusted across
// restarts; the ledger stays the single source of truth.
package pending

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/marker/pkg/ledger"
)

// Reader is the ledger read Rebuild needs.
type Reader interface {
	ReadPeriod(ctx context.Context, period int) ([]ledger.PeriodRow, error)
}

// Entry is one outstanding submission.
type Entry struct {
	ID      int
	Name    string
	Handle  string
	Comment string
}

// Set is the outstanding work of one reviewer for one period.
type Set struct {
	Reviewer string
	Period   int

	// Assigned counts rows whose reviewer is Reviewer, reviewed or not.
	Assigned       int
	// NotSubmitted counts assigned rows with no artifact yet.
	NotSubmitted   int
	// NoReviewerPool is set when no row in the period has a reviewer, which
	// means the period was created while the reviewer pool was empty.
	NoReviewerPool bool

	entries map[int]Entry
}

// Rebuild scans period and collects the rows assigned to reviewer that have an
// artifact and no verdict. Calling it twice with no writes in between returns
// equal sets.
func Rebuild(ctx context.Context, r Reader, reviewer string, period int) (*Set, error) {
	rows, err := r.ReadPeriod(ctx, period)
	if err != nil {
		return nil, err
	}

	s := &Set{
		Reviewer: reviewer,
		Period:   period,
		entries:  make(map[int]Entry),
	}

	anyReviewer := false
	for _, row := range rows {
		if row.Reviewer != "" {
			anyReviewer = true
		}
		if row.Reviewer == "" || row.Reviewer != reviewer {
			continue
		}
		s.Assigned++
		if !row.HasArtifact() {
			s.NotSubmitted++
		}
		if row.AwaitingReview(reviewer) {
			s.entries[row.ID] = Entry{ID: row.ID, Name: row.Name, Handle: row.Handle, Comment: row.Comment}
		}
	}
	s.NoReviewerPool = len(rows) > 0 && !anyReviewer

	return s, nil
}

// Len returns the number of outstanding entries.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Contains reports whether id is outstanding.
func (s *Set) Contains(id int) bool {
	if s == nil {
		return false
	}
	_, ok := s.entries[id]
	return ok
}

// Get returns the entry for id.
func (s *Set) Get(id int) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.entries[id]
	return e, ok
}

// PopNext returns the outstanding entry with the smallest id without removing
// it, so repeated calls keep offering the same entry until it is removed.
// ok is false when nothing is outstanding.
func (s *Set) PopNext() (Entry, bool) {
	return s.NextAfter(0)
}

// NextAfter returns the outstanding entry with the smallest id greater than
// after, wrapping around to the smallest id. Like PopNext it removes nothing,
// so a reviewer skipping with it cycles through the whole set.
func (s *Set) NextAfter(after int) (Entry, bool) {
	ids := s.IDs()
	if len(ids) == 0 {
		return Entry{}, false
	}
	for _, id := range ids {
		if id > after {
			return s.entries[id], true
		}
	}
	return s.entries[ids[0]], true
}

// Remove drops id after its verdict was written. Reports whether it was present.
func (s *Set) Remove(id int) bool {
	if !s.Contains(id) {
		return false
	}
	delete(s.entries, id)
	return true
}

// IDs returns the outstanding ids in ascending order.
func (s *Set) IDs() []int {
	if s == nil {
		return nil
	}
	ids := make([]int, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Entries returns the outstanding entries ordered by id.
func (s *Set) Entries() []Entry {
	ids := s.IDs()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entries[id])
	}
	return out
}

// Summary renders the totals and the outstanding list, one "id name" per line.
func (s *Set) Summary() string {
	var b strings.Builder
	if s.NoReviewerPool {
		fmt.Fprintf(&b, "Period %d was created without a reviewer pool, nobody is assigned to review it.\n", s.Period)
	}
	fmt.Fprintf(&b, "Assigned to you for period %d: %d, not yet submitted: %d\n", s.Period, s.Assigned, s.NotSubmitted)
	fmt.Fprintf(&b, "Waiting for review: %d", s.Len())
	for _, e := range s.Entries() {
		fmt.Fprintf(&b, "\n%d %s", e.ID, e.Name)
	}
	return b.String()
}
