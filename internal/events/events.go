// Package events publishes domain events for other systems (dashboards,
// notifiers) to consume. Publishing is fire-and-forget from the caller's
// point of view: the ledger is the source of truth, events are notifications.
package events

import (
	"context"
)

// Event topic constants
const (
	TopicPeriodCreated       = "marker.period.created"
	TopicSubmissionReceived  = "marker.submission.received"
	TopicSubmissionCommented = "marker.submission.commented"
	TopicVerdictRecorded     = "marker.verdict.recorded"
)

// Event types

type PeriodCreated struct {
	Cohort    string         `json:"cohort"`
	Period    int            `json:"period"`
	Label     string         `json:"label"`
	Reviewers map[string]int `json:"reviewers"` // reviewer handle -> assigned participants; "" counts unassigned
}

type SubmissionReceived struct {
	Cohort        string `json:"cohort"`
	Period        int    `json:"period"`
	ParticipantID int    `json:"participant_id"`
	Handle        string `json:"handle"`
	Artifact      string `json:"artifact"`
	Reviewer      string `json:"reviewer,omitempty"`
}

type SubmissionCommented struct {
	Cohort        string `json:"cohort"`
	Period        int    `json:"period"`
	ParticipantID int    `json:"participant_id"`
	Comment       string `json:"comment"`
}

type VerdictRecorded struct {
	Cohort        string `json:"cohort"`
	Period        int    `json:"period"`
	ParticipantID int    `json:"participant_id"`
	Reviewer      string `json:"reviewer"`
	Verdict       string `json:"verdict"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
