// Package directory answers "who is this handle" for the coordinator: a
// participant, a staff member with a role, or nobody we know.
// Every lookup reads the ledger; nothing is cached here.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/marker/pkg/ledger"
)

// ErrUnauthorized is returned when a handle is on neither roster or lacks the required role.
var ErrUnauthorized = errors.New("unauthorized")

// Store is the subset of the ledger the directory reads.
type Store interface {
	LookupParticipant(ctx context.Context, handle string) (*ledger.Participant, error)
	GetStaff(ctx context.Context, handle string) (*ledger.Staff, error)
	ListStaff(ctx context.Context) ([]ledger.Staff, error)
}

// Standing is the outcome of classifying a caller.
type Standing string

const (
	StandingParticipant  Standing = "participant"
	StandingStaff        Standing = "staff"
	StandingUnrecognized Standing = "unrecognized"
)

// Identity is a classified caller.
type Identity struct {
	Handle      string
	Standing    Standing
	Role        ledger.Role
	Participant *ledger.Participant // set for participants
	Staff       *ledger.Staff       // set for staff
}

// Directory resolves handles against the roster stored in the ledger.
type Directory struct {
	store Store
}

// New creates a Directory reading from store.
func New(store Store) *Directory {
	return &Directory{store: store}
}

// Classify determines a caller's standing. Participants are checked first, so a
// handle listed on both rosters acts as a participant.
func (d *Directory) Classify(ctx context.Context, handle string) (*Identity, error) {
	handle = ledger.NormalizeHandle(handle)
	id := &Identity{Handle: handle, Standing: StandingUnrecognized}
	if handle == "" {
		return id, nil
	}

	p, err := d.store.LookupParticipant(ctx, handle)
	switch {
	case err == nil:
		id.Standing = StandingParticipant
		id.Role = ledger.RoleParticipant
		id.Participant = p
		return id, nil
	case !ledger.IsNotFound(err):
		return nil, fmt.Errorf("failed to classify %s: %w", handle, err)
	}

	s, err := d.store.GetStaff(ctx, handle)
	switch {
	case err == nil:
		id.Standing = StandingStaff
		id.Role = s.Role
		id.Staff = s
		return id, nil
	case !ledger.IsNotFound(err):
		return nil, fmt.Errorf("failed to classify %s: %w", handle, err)
	}

	return id, nil
}

// RoleOf returns the caller's role or ErrUnauthorized.
func (d *Directory) RoleOf(ctx context.Context, handle string) (ledger.Role, error) {
	id, err := d.Classify(ctx, handle)
	if err != nil {
		return "", err
	}
	if id.Standing == StandingUnrecognized {
		return "", fmt.Errorf("%s: %w", id.Handle, ErrUnauthorized)
	}
	return id.Role, nil
}

// ReviewerPool returns the handles of every reviewer in roster order.
func (d *Directory) ReviewerPool(ctx context.Context) ([]string, error) {
	staff, err := d.store.ListStaff(ctx)
	if err != nil {
		return nil, err
	}

	var pool []string
	for _, s := range staff {
		if s.Role == ledger.RoleReviewer {
			pool = append(pool, s.Handle)
		}
	}
	return pool, nil
}

// Staff returns the staff list in roster order.
func (d *Directory) Staff(ctx context.Context) ([]ledger.Staff, error) {
	return d.store.ListStaff(ctx)
}

// Curator returns the first curator on the roster, or nil if there is none.
func (d *Directory) Curator(ctx context.Context) (*ledger.Staff, error) {
	staff, err := d.store.ListStaff(ctx)
	if err != nil {
		return nil, err
	}
	for i := range staff {
		if staff[i].Role == ledger.RoleCurator {
			return &staff[i], nil
		}
	}
	return nil, nil
}

// CanSubmit reports whether role may run the submission workflow.
func CanSubmit(role ledger.Role) bool {
	return role == ledger.RoleParticipant
}

// CanReview reports whether role may run the review workflow. Every staff role
// may review, so curators and instructors can stand in for reviewers.
func CanReview(role ledger.Role) bool {
	return role.IsStaff()
}

// CanManagePeriods reports whether role may create periods.
func CanManagePeriods(role ledger.Role) bool {
	return role.IsStaff()
}
