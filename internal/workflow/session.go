package workflow

import (
	"time"

	"github.com/dyluth/marker/internal/pending"
	"github.com/dyluth/marker/pkg/ledger"
)

// Kind is the workflow a session is running.
type Kind string

const (
	KindNone       Kind = ""
	KindSubmission Kind = "submission"
	KindReview     Kind = "review"
)

// State is the position of a session inside its workflow.
type State string

const (
	StateIdle State = "idle"

	// Shared by both workflows
	StateSelectPeriod State = "select_period"

	// Submission
	StateAwaitArtifact      State = "await_artifact"
	StateAwaitCommentOrDone State = "await_comment_or_done"

	// Review
	StateSelectParticipant State = "select_participant"
	StateAwaitVerdict      State = "await_verdict"

	// StateDone is terminal; the owner discards the session.
	StateDone State = "done"
)

// Session is the in-memory state of one conversation, keyed by the transport
// identity of whoever started it. It is owned by the dispatcher and handed to
// each workflow step by reference; sessions never share data.
type Session struct {
	Identity string // transport address replies go to
	Handle   string // roster handle, "@"-prefixed
	Name     string
	Role     ledger.Role

	ParticipantID int // row id when Role is participant

	Kind  Kind
	State State

	// Workflow scratch
	Period  int
	Current int          // participant row under review
	Pending *pending.Set // review cache, rebuilt on every period selection

	LastActive time.Time
}

// NewSession creates an idle session.
func NewSession(identity, handle, name string) *Session {
	return &Session{
		Identity:   identity,
		Handle:     ledger.NormalizeHandle(handle),
		Name:       name,
		State:      StateIdle,
		LastActive: time.Now(),
	}
}

// Active reports whether a workflow is in progress.
func (s *Session) Active() bool {
	return s.Kind != KindNone && s.State != StateDone && s.State != StateIdle
}

// Done reports whether the workflow reached its terminal state.
func (s *Session) Done() bool {
	return s.State == StateDone
}

// Touch records activity for idle expiry.
func (s *Session) Touch(now time.Time) {
	s.LastActive = now
}

// Expired reports whether the session has been idle longer than timeout.
// A non-positive timeout never expires.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.LastActive) > timeout
}

// reset drops workflow state, keeping identity and role.
func (s *Session) reset() {
	s.Kind = KindNone
	s.State = StateIdle
	s.Period = 0
	s.Current = 0
	s.Pending = nil
}

func (s *Session) enter(kind Kind, state State) {
	s.reset()
	s.Kind = kind
	s.State = state
}
