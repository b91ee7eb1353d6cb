package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/marker/internal/artifact"
	"github.com/dyluth/marker/internal/directory"
	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/internal/pending"
	"github.com/dyluth/marker/pkg/ledger"
)

// StartReview enters the review workflow. args may carry the period number.
func (e *Engine) StartReview(ctx context.Context, s *Session, args []string) ([]Reply, error) {
	if !directory.CanReview(s.Role) {
		return refuse(s, KindReview)
	}

	s.enter(KindReview, StateSelectPeriod)
	if len(args) > 0 {
		return e.selectReviewPeriod(ctx, s, args[0])
	}
	return e.promptReviewPeriod(ctx)
}

func (e *Engine) stepReview(ctx context.Context, s *Session, ev Event) ([]Reply, error) {
	if ev.Kind == EventCommand {
		return e.reviewCommand(ctx, s, ev)
	}

	switch s.State {
	case StateSelectPeriod:
		if ev.Kind != EventText {
			return []Reply{say(msgNotANumber)}, fmt.Errorf("expected period number: %w", ErrInvalidInput)
		}
		return e.selectReviewPeriod(ctx, s, ev.Text)

	case StateSelectParticipant:
		if ev.Kind != EventText {
			return []Reply{say(msgWrongParticipant)}, fmt.Errorf("expected participant number: %w", ErrInvalidInput)
		}
		id, err := strconv.Atoi(strings.TrimSpace(ev.Text))
		if err != nil {
			return []Reply{say(msgWrongParticipant)}, fmt.Errorf("%q: %w", ev.Text, ErrInvalidInput)
		}
		if !s.Pending.Contains(id) {
			return []Reply{say(msgWrongParticipant)}, fmt.Errorf("participant %d not pending: %w", id, ErrInvalidInput)
		}
		return e.present(ctx, s, id)

	case StateAwaitVerdict:
		if ev.Kind != EventText || strings.TrimSpace(ev.Text) == "" {
			return []Reply{say(msgAwaitVerdict)}, fmt.Errorf("expected verdict: %w", ErrInvalidInput)
		}
		return e.recordVerdict(ctx, s, ev.Text)
	}

	return nil, fmt.Errorf("review in unexpected state %q", s.State)
}

// reviewCommand handles next, all and task. task is accepted in every state and
// returns to period selection.
func (e *Engine) reviewCommand(ctx context.Context, s *Session, ev Event) ([]Reply, error) {
	switch ev.Command {
	case "task":
		s.enter(KindReview, StateSelectPeriod)
		return e.promptReviewPeriod(ctx)

	case "next":
		if s.State == StateSelectPeriod {
			break
		}
		return e.next(ctx, s, nil)

	case "all":
		if s.State == StateSelectPeriod {
			break
		}
		set, err := pending.Rebuild(ctx, e.ledger, s.Handle, s.Period)
		if err != nil {
			return storeFailure(err)
		}
		s.Pending = set
		s.Current = 0
		s.State = StateSelectParticipant
		return []Reply{say(set.Summary())}, nil
	}

	return []Reply{say(msgUnknownCommand)}, fmt.Errorf("command %q in %s: %w", ev.Command, s.State, ErrInvalidInput)
}

func (e *Engine) promptReviewPeriod(ctx context.Context) ([]Reply, error) {
	choices, _, err := e.periodChoices(ctx)
	if err != nil {
		return storeFailure(err)
	}
	return []Reply{askReviewPeriod(choices)}, nil
}

// selectReviewPeriod rebuilds the pending set for the chosen period.
func (e *Engine) selectReviewPeriod(ctx context.Context, s *Session, input string) ([]Reply, error) {
	period, err := parsePeriod(input)
	if err != nil {
		return []Reply{say(msgNotANumber)}, err
	}

	set, err := pending.Rebuild(ctx, e.ledger, s.Handle, period)
	if ledger.IsNotFound(err) {
		return []Reply{unknownPeriod(period)}, err
	}
	if err != nil {
		return storeFailure(err)
	}

	s.Period = period
	s.Pending = set
	s.Current = 0
	s.State = StateSelectParticipant
	return []Reply{reviewStarted(period, set.Summary())}, nil
}

// next presents the next outstanding participant, or reports that nothing is pending.
func (e *Engine) next(ctx context.Context, s *Session, prefix []Reply) ([]Reply, error) {
	after := s.Current
	s.Current = 0
	s.State = StateSelectParticipant

	entry, ok := s.Pending.NextAfter(after)
	if !ok {
		if len(prefix) > 0 {
			return append(prefix, sayf(msgAllReviewed, s.Period)), nil
		}
		return []Reply{say(msgNothingPending)}, nil
	}
	replies, err := e.present(ctx, s, entry.ID)
	return append(prefix, replies...), err
}

// present delivers a participant's comment and artifact to the reviewer.
func (e *Engine) present(ctx context.Context, s *Session, id int) ([]Reply, error) {
	row, err := e.ledger.ReadRow(ctx, id)
	if err != nil {
		if ledger.IsNotFound(err) {
			s.Pending.Remove(id)
			return []Reply{say(msgWrongParticipant)}, err
		}
		return storeFailure(err)
	}
	sub := row.Submission(s.Period)
	if sub == nil || !sub.HasArtifact() {
		s.Pending.Remove(id)
		return []Reply{say(msgWrongParticipant)}, fmt.Errorf("participant %d has no artifact for period %d: %w", id, s.Period, ledger.ErrNotFound)
	}

	url, err := e.artifacts.URL(ctx, sub.Artifact)
	if err != nil {
		return []Reply{say(msgTransport)}, fmt.Errorf("deliver artifact of %d: %v: %w", id, err, ErrTransport)
	}

	s.Current = id
	s.State = StateAwaitVerdict
	return []Reply{
		participantCard(row.Name, row.Handle, sub.Comment),
		{File: &Delivery{Name: artifact.FileName(sub.Artifact), URL: url}},
	}, nil
}

// recordVerdict writes the verdict, clears the participant from the pending
// set and moves on to the next one.
func (e *Engine) recordVerdict(ctx context.Context, s *Session, verdict string) ([]Reply, error) {
	id, period := s.Current, s.Period
	err := retryOnce(func() error {
		return e.ledger.WriteCell(ctx, id, period, ledger.FieldVerdict, verdict)
	})
	if err != nil {
		if ledger.IsNotFound(err) {
			s.Pending.Remove(id)
			s.Current = 0
			s.State = StateSelectParticipant
			return []Reply{say(msgWrongParticipant)}, err
		}
		return storeFailure(err)
	}
	s.Pending.Remove(id)

	e.publish(ctx, events.TopicVerdictRecorded, events.VerdictRecorded{
		Cohort:        e.ledger.Cohort(),
		Period:        period,
		ParticipantID: id,
		Reviewer:      s.Handle,
		Verdict:       verdict,
	})

	return e.next(ctx, s, []Reply{say(msgVerdictSaved)})
}
