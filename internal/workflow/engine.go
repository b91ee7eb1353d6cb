// Package workflow implements the two conversations that mutate the ledger:
// participants submitting work and reviewers recording verdicts.
//
// Steps are plain functions of (session, event). Every ledger mutation a step
// makes is a single-cell write, so a step interrupted halfway, or a session
// lost on restart, never leaves a row partially written.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/marker/internal/artifact"
	"github.com/dyluth/marker/internal/directory"
	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/pkg/ledger"
)

var (
	// ErrInvalidInput marks malformed input; the step re-prompts and the state is unchanged.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransport marks a failed artifact fetch or delivery; the step can be retried.
	ErrTransport = errors.New("transport failure")
)

// DefaultDoneToken ends a submission without a comment.
const DefaultDoneToken = "😄"

// DefaultPeriodChoices is how many recent periods are offered as buttons.
const DefaultPeriodChoices = 4

// Ledger is the subset of the ledger the workflows use.
type Ledger interface {
	Cohort() string
	ReadRow(ctx context.Context, id int) (*ledger.Row, error)
	ReadPeriod(ctx context.Context, period int) ([]ledger.PeriodRow, error)
	WriteCell(ctx context.Context, id int, period int, field ledger.Field, value string) error
	HasPeriod(ctx context.Context, n int) (bool, error)
	CurrentPeriod(ctx context.Context) (int, error)
}

// Fetcher downloads inbound attachments.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config wires an Engine.
type Config struct {
	Ledger        Ledger
	Artifacts     artifact.Store
	Fetcher       Fetcher
	Publisher     events.Publisher // optional
	DoneToken     string
	PeriodChoices int
}

// Engine runs workflow steps. It holds no per-session state and is safe for
// concurrent use by many sessions.
type Engine struct {
	ledger    Ledger
	artifacts artifact.Store
	fetcher   Fetcher
	publisher events.Publisher
	doneToken string
	choices   int
	now       func() time.Time
}

// New creates an Engine from cfg, applying defaults.
func New(cfg Config) *Engine {
	e := &Engine{
		ledger:    cfg.Ledger,
		artifacts: cfg.Artifacts,
		fetcher:   cfg.Fetcher,
		publisher: cfg.Publisher,
		doneToken: cfg.DoneToken,
		choices:   cfg.PeriodChoices,
		now:       time.Now,
	}
	if e.publisher == nil {
		e.publisher = &events.NoopPublisher{}
	}
	if e.doneToken == "" {
		e.doneToken = DefaultDoneToken
	}
	if e.choices <= 0 {
		e.choices = DefaultPeriodChoices
	}
	return e
}

// Step feeds one event to the session's workflow.
// The returned replies are always meant for the user, including on error; the
// error classifies what went wrong for logging.
func (e *Engine) Step(ctx context.Context, s *Session, ev Event) ([]Reply, error) {
	if ev.Kind == EventCommand && ev.Command == "cancel" {
		return e.Cancel(s), nil
	}

	switch s.Kind {
	case KindSubmission:
		return e.stepSubmission(ctx, s, ev)
	case KindReview:
		return e.stepReview(ctx, s, ev)
	default:
		return nil, fmt.Errorf("session %s has no active workflow", s.Identity)
	}
}

// Cancel ends the session's workflow. Cells already written stay written.
func (e *Engine) Cancel(s *Session) []Reply {
	s.reset()
	s.State = StateDone
	return []Reply{say(msgCancelled)}
}

// periodChoices offers the most recent periods, oldest first.
func (e *Engine) periodChoices(ctx context.Context) ([]string, int, error) {
	current, err := e.ledger.CurrentPeriod(ctx)
	if err != nil {
		return nil, 0, err
	}
	first := current - e.choices + 1
	if first < 1 {
		first = 1
	}
	var out []string
	for n := first; n <= current; n++ {
		out = append(out, strconv.Itoa(n))
	}
	return out, current, nil
}

// parsePeriod validates numeric input without touching the store.
func parsePeriod(input string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%q: %w", input, ErrInvalidInput)
	}
	return n, nil
}

// checkPeriod reports whether period exists.
func (e *Engine) checkPeriod(ctx context.Context, period int) (bool, error) {
	return e.ledger.HasPeriod(ctx, period)
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		log.Printf("[Workflow] Failed to publish %s: %v", topic, err)
	}
}

// retryOnce runs fn again if it lost a race with a schema change.
func retryOnce(fn func() error) error {
	err := fn()
	if ledger.IsConflict(err) {
		err = fn()
	}
	return err
}

// refuse builds the reply for a caller whose role may not enter a workflow.
func refuse(s *Session, kind Kind) ([]Reply, error) {
	return []Reply{say(msgRefused)}, fmt.Errorf("%s may not start %s as %q: %w", s.Handle, kind, s.Role, directory.ErrUnauthorized)
}

// storeFailure builds the reply for a ledger error that survived retryOnce.
func storeFailure(err error) ([]Reply, error) {
	return []Reply{say(msgStoreFailure)}, err
}
