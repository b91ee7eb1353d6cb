// Package watch streams cohort activity to an operator's terminal: committed
// ledger changes from Redis and, when configured, domain events from NATS.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/marker/pkg/ledger"
	"github.com/nats-io/nats.go"
)

// OutputFormat selects how activity is rendered.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per event
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON for programmatic processing
	OutputFormatJSON OutputFormat = "json"
)

// ChangeSource provides the ledger change stream.
type ChangeSource interface {
	SubscribeChanges(ctx context.Context) (*ledger.Subscription, error)
}

// DomainSource provides NATS domain events. Optional.
type DomainSource interface {
	Subscribe(topic string) (<-chan *nats.Msg, func(), error)
}

// DomainTopics matches every domain event.
const DomainTopics = "marker.>"

// line is the JSON shape of one streamed event.
type line struct {
	Source string              `json:"source"` // "ledger" or "nats"
	Topic  string              `json:"topic,omitempty"`
	AtMs   int64               `json:"at_ms"`
	Change *ledger.ChangeEvent `json:"change,omitempty"`
	Event  json.RawMessage     `json:"event,omitempty"`
}

// StreamActivity writes events until ctx is cancelled or the ledger
// subscription closes. domain may be nil.
func StreamActivity(ctx context.Context, changes ChangeSource, domain DomainSource, cohort string, format OutputFormat, w io.Writer) error {
	sub, err := changes.SubscribeChanges(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	var domainCh <-chan *nats.Msg
	if domain != nil {
		ch, cancel, err := domain.Subscribe(DomainTopics)
		if err != nil {
			return err
		}
		defer cancel()
		domainCh = ch
	}

	if format == OutputFormatDefault {
		fmt.Fprintf(w, "Watching cohort '%s' (Ctrl+C to stop)\n", cohort)
	}

	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeChange(w, ev, format); err != nil {
				return err
			}

		case msg, ok := <-domainCh:
			if !ok {
				domainCh = nil
				continue
			}
			if err := writeDomain(w, msg, format); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(w, "warning: %v\n", err)
		}
	}
}

func writeChange(w io.Writer, ev *ledger.ChangeEvent, format OutputFormat) error {
	if format == OutputFormatJSON {
		return writeJSON(w, line{Source: "ledger", AtMs: ev.AtMs, Change: ev})
	}
	_, err := fmt.Fprintf(w, "[%s] %s\n", clock(ev.AtMs), DescribeChange(ev))
	return err
}

func writeDomain(w io.Writer, msg *nats.Msg, format OutputFormat) error {
	now := time.Now().UnixMilli()
	if format == OutputFormatJSON {
		raw := json.RawMessage(msg.Data)
		if !json.Valid(msg.Data) {
			quoted, _ := json.Marshal(string(msg.Data))
			raw = quoted
		}
		return writeJSON(w, line{Source: "nats", Topic: msg.Subject, AtMs: now, Event: raw})
	}
	_, err := fmt.Fprintf(w, "[%s] %s %s\n", clock(now), msg.Subject, strings.TrimSpace(string(msg.Data)))
	return err
}

func writeJSON(w io.Writer, v line) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func clock(ms int64) string {
	if ms == 0 {
		return "--:--:--"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}

// DescribeChange renders a change event as a short sentence.
func DescribeChange(ev *ledger.ChangeEvent) string {
	switch ev.Kind {
	case ledger.ChangeCell:
		switch ev.Field {
		case ledger.FieldArtifact:
			return fmt.Sprintf("📥 row %d submitted period %d", ev.RowID, ev.Period)
		case ledger.FieldVerdict:
			return fmt.Sprintf("✅ row %d period %d verdict: %s", ev.RowID, ev.Period, firstLine(ev.Value))
		case ledger.FieldComment:
			if ev.Value == "" {
				return fmt.Sprintf("💬 row %d period %d comment cleared", ev.RowID, ev.Period)
			}
			return fmt.Sprintf("💬 row %d period %d comment: %s", ev.RowID, ev.Period, firstLine(ev.Value))
		}
		return fmt.Sprintf("✏️  row %d period %d %s = %s", ev.RowID, ev.Period, ev.Field, firstLine(ev.Value))
	case ledger.ChangePeriod:
		return fmt.Sprintf("📅 period %d created: %s", ev.Period, ev.Value)
	case ledger.ChangeParticipant:
		return fmt.Sprintf("👤 participant %s added as row %d", ev.Value, ev.RowID)
	case ledger.ChangeStaff:
		return fmt.Sprintf("👥 staff list replaced (%s entries)", ev.Value)
	}
	return fmt.Sprintf("%s event", ev.Kind)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
