package ledger

import (
	"fmt"
	"strings"
)

// Participant is the identity that owns a row.
type Participant struct {
	ID     int    `json:"id"`     // Row id assigned on import, starts at 1
	Name   string `json:"name"`   // Display name from the roster
	Handle string `json:"handle"` // Chat handle, always "@"-prefixed
}

// Role is the authorization role of a caller.
type Role string

const (
	// RoleParticipant is a cohort member who submits work
	RoleParticipant Role = "participant"

	// RoleCurator organises the cohort
	RoleCurator Role = "curator"

	// RoleInstructor teaches the cohort
	RoleInstructor Role = "instructor"

	// RoleReviewer checks submitted work and forms the reviewer pool
	RoleReviewer Role = "reviewer"
)

// Staff is a member of the course staff as listed in the roster.
type Staff struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Role   Role   `json:"role"`
	Order  int    `json:"order"` // Position in the roster, preserved for listings
}

// Period is one grading cycle.
type Period struct {
	Number int    `json:"number"`
	Label  string `json:"label"`
}

// Field names one cell of a period's column group.
type Field string

const (
	// FieldSubmittedAt holds the RFC3339 time of the latest upload
	FieldSubmittedAt Field = "submitted_at"

	// FieldArtifact holds the artifact reference returned by the artifact store
	FieldArtifact Field = "artifact"

	// FieldReviewer holds the handle drawn at period creation; immutable afterwards
	FieldReviewer Field = "reviewer"

	// FieldComment holds the participant's comment for the reviewer
	FieldComment Field = "comment"

	// FieldVerdict holds the reviewer's grade or decision
	FieldVerdict Field = "verdict"
)

// Fields lists the column group created for every period, in storage order.
var Fields = []Field{FieldSubmittedAt, FieldArtifact, FieldReviewer, FieldComment, FieldVerdict}

// Submission is the per-(participant, period) column group.
// Empty strings are null.
type Submission struct {
	SubmittedAt string `json:"submitted_at"`
	Artifact    string `json:"artifact"`
	Reviewer    string `json:"reviewer"`
	Comment     string `json:"comment"`
	Verdict     string `json:"verdict"`
}

// HasArtifact reports whether the participant uploaded something for the period.
func (s *Submission) HasArtifact() bool {
	return s.Artifact != ""
}

// HasVerdict reports whether a reviewer recorded a verdict.
func (s *Submission) HasVerdict() bool {
	return s.Verdict != ""
}

// AwaitingReview reports whether reviewer still owes a verdict on this submission.
func (s *Submission) AwaitingReview(reviewer string) bool {
	return s.Reviewer != "" && s.Reviewer == reviewer && s.HasArtifact() && !s.HasVerdict()
}

// Get returns the value stored in field.
func (s *Submission) Get(field Field) string {
	switch field {
	case FieldSubmittedAt:
		return s.SubmittedAt
	case FieldArtifact:
		return s.Artifact
	case FieldReviewer:
		return s.Reviewer
	case FieldComment:
		return s.Comment
	case FieldVerdict:
		return s.Verdict
	}
	return ""
}

// set assigns value to field. Unknown fields are ignored.
func (s *Submission) set(field Field, value string) {
	switch field {
	case FieldSubmittedAt:
		s.SubmittedAt = value
	case FieldArtifact:
		s.Artifact = value
	case FieldReviewer:
		s.Reviewer = value
	case FieldComment:
		s.Comment = value
	case FieldVerdict:
		s.Verdict = value
	}
}

// Row is one participant's full record across all periods.
type Row struct {
	Participant
	Submissions map[int]*Submission `json:"submissions"` // period number -> column group
}

// Submission returns the column group for period, or nil if the period does not exist.
func (r *Row) Submission(period int) *Submission {
	return r.Submissions[period]
}

// PeriodRow is one row projected onto a single period.
type PeriodRow struct {
	Participant
	Submission
}

// ChangeKind classifies ledger change events.
type ChangeKind string

const (
	ChangeCell        ChangeKind = "cell"
	ChangePeriod      ChangeKind = "period"
	ChangeParticipant ChangeKind = "participant"
	ChangeStaff       ChangeKind = "staff"
)

// ChangeEvent describes one committed mutation. Published after the write succeeds.
type ChangeEvent struct {
	Kind   ChangeKind `json:"kind"`
	RowID  int        `json:"row_id,omitempty"`
	Period int        `json:"period,omitempty"`
	Field  Field      `json:"field,omitempty"`
	Value  string     `json:"value,omitempty"`
	AtMs   int64      `json:"at_ms"`
}

// NormalizeHandle trims whitespace and ensures the "@" prefix.
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return h
}

// ParseRole maps roster spellings to a Role. "assistant" is accepted for reviewers.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "curator":
		return RoleCurator, nil
	case "instructor", "teacher":
		return RoleInstructor, nil
	case "reviewer", "assistant":
		return RoleReviewer, nil
	case "participant", "student":
		return RoleParticipant, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// IsStaff reports whether r is one of the staff roles.
func (r Role) IsStaff() bool {
	switch r {
	case RoleCurator, RoleInstructor, RoleReviewer:
		return true
	}
	return false
}

// Validate checks that the participant can be stored.
func (p *Participant) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("participant name cannot be empty")
	}
	if !strings.HasPrefix(p.Handle, "@") || len(p.Handle) < 2 {
		return fmt.Errorf("invalid participant handle %q: must start with @", p.Handle)
	}
	return nil
}

// Validate checks that the staff entry can be stored.
func (s *Staff) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("staff name cannot be empty")
	}
	if !strings.HasPrefix(s.Handle, "@") || len(s.Handle) < 2 {
		return fmt.Errorf("invalid staff handle %q: must start with @", s.Handle)
	}
	if !s.Role.IsStaff() {
		return fmt.Errorf("staff %s: %q is not a staff role", s.Handle, s.Role)
	}
	return nil
}

// Validate checks if the Field is one of the period fields.
func (f Field) Validate() error {
	for _, known := range Fields {
		if f == known {
			return nil
		}
	}
	return fmt.Errorf("unknown field: %q", f)
}

// Validate checks the period ordinal.
func (p *Period) Validate() error {
	if p.Number < 1 {
		return fmt.Errorf("invalid period number: must be >= 1, got %d", p.Number)
	}
	return nil
}
