package workflow

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dyluth/marker/internal/artifact"
	"github.com/dyluth/marker/internal/directory"
	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/pkg/ledger"
)

// StartSubmission enters the submission workflow. args may carry the period
// number, which skips period selection.
func (e *Engine) StartSubmission(ctx context.Context, s *Session, args []string) ([]Reply, error) {
	if !directory.CanSubmit(s.Role) || s.ParticipantID == 0 {
		return refuse(s, KindSubmission)
	}

	choices, current, err := e.periodChoices(ctx)
	if err != nil {
		return storeFailure(err)
	}
	if current == 0 {
		return []Reply{say(msgNoPeriods)}, nil
	}

	s.enter(KindSubmission, StateSelectPeriod)
	if len(args) > 0 {
		return e.selectSubmissionPeriod(ctx, s, args[0])
	}
	return []Reply{askSubmissionPeriod(choices)}, nil
}

func (e *Engine) stepSubmission(ctx context.Context, s *Session, ev Event) ([]Reply, error) {
	switch s.State {
	case StateSelectPeriod:
		if ev.Kind != EventText {
			return []Reply{say(msgNotANumber)}, fmt.Errorf("expected period number: %w", ErrInvalidInput)
		}
		return e.selectSubmissionPeriod(ctx, s, ev.Text)

	case StateAwaitArtifact:
		if ev.Kind != EventFile || ev.File == nil {
			return []Reply{say(msgSendFile)}, fmt.Errorf("expected file: %w", ErrInvalidInput)
		}
		return e.receiveArtifact(ctx, s, ev.File)

	case StateAwaitCommentOrDone:
		if ev.Kind != EventText {
			return []Reply{sayf(msgCommentOrDone, e.doneToken)}, fmt.Errorf("expected comment: %w", ErrInvalidInput)
		}
		return e.receiveComment(ctx, s, ev.Text)
	}

	return nil, fmt.Errorf("submission in unexpected state %q", s.State)
}

func (e *Engine) selectSubmissionPeriod(ctx context.Context, s *Session, input string) ([]Reply, error) {
	period, err := parsePeriod(input)
	if err != nil {
		return []Reply{say(msgNotANumber)}, err
	}

	ok, err := e.checkPeriod(ctx, period)
	if err != nil {
		return storeFailure(err)
	}
	if !ok {
		return []Reply{unknownPeriod(period)}, fmt.Errorf("period %d: %w", period, ledger.ErrNotFound)
	}

	s.Period = period
	s.State = StateAwaitArtifact
	return []Reply{readyForFile(period)}, nil
}

// receiveArtifact downloads and stores the file before touching the ledger, so
// slow transfers never hold anything the other sessions wait on.
func (e *Engine) receiveArtifact(ctx context.Context, s *Session, att *Attachment) ([]Reply, error) {
	data, err := e.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return []Reply{say(msgTransport)}, fmt.Errorf("fetch %s: %v: %w", att.Name, err, ErrTransport)
	}

	key, err := artifact.ObjectKey(s.Period, s.Handle, att.Name)
	if err != nil {
		return []Reply{say(msgTransport)}, fmt.Errorf("%v: %w", err, ErrTransport)
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	ref, err := e.artifacts.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return []Reply{say(msgTransport)}, fmt.Errorf("store %s: %v: %w", key, err, ErrTransport)
	}

	id, period := s.ParticipantID, s.Period
	err = retryOnce(func() error {
		return e.ledger.WriteCell(ctx, id, period, ledger.FieldArtifact, ref)
	})
	if err != nil {
		return storeFailure(err)
	}
	submittedAt := e.now().UTC().Format(time.RFC3339)
	err = retryOnce(func() error {
		return e.ledger.WriteCell(ctx, id, period, ledger.FieldSubmittedAt, submittedAt)
	})
	if err != nil {
		return storeFailure(err)
	}

	reviewer, staleComment := "", false
	if row, err := e.ledger.ReadRow(ctx, id); err == nil {
		if sub := row.Submission(period); sub != nil {
			reviewer = sub.Reviewer
			staleComment = sub.Comment != ""
		}
	}
	// A resubmission replaces the comment too; an earlier one must not
	// survive if the participant finishes without writing a new one.
	if staleComment {
		err = retryOnce(func() error {
			return e.ledger.WriteCell(ctx, id, period, ledger.FieldComment, "")
		})
		if err != nil {
			return storeFailure(err)
		}
	}

	e.publish(ctx, events.TopicSubmissionReceived, events.SubmissionReceived{
		Cohort:        e.ledger.Cohort(),
		Period:        period,
		ParticipantID: id,
		Handle:        s.Handle,
		Artifact:      ref,
		Reviewer:      reviewer,
	})

	s.State = StateAwaitCommentOrDone
	return []Reply{fileReceived(reviewer, e.doneToken)}, nil
}

func (e *Engine) receiveComment(ctx context.Context, s *Session, input string) ([]Reply, error) {
	period := s.Period
	if input == e.doneToken {
		s.reset()
		s.State = StateDone
		return []Reply{submissionAccepted(period)}, nil
	}

	id := s.ParticipantID
	err := retryOnce(func() error {
		return e.ledger.WriteCell(ctx, id, period, ledger.FieldComment, input)
	})
	if err != nil {
		return storeFailure(err)
	}

	e.publish(ctx, events.TopicSubmissionCommented, events.SubmissionCommented{
		Cohort:        e.ledger.Cohort(),
		Period:        period,
		ParticipantID: id,
		Comment:       input,
	})

	s.reset()
	s.State = StateDone
	return []Reply{say(msgCommentSaved), submissionAccepted(period)}, nil
}
