// Package transport carries chat messages between chat front-ends and the
// coordinator over Redis Pub/Sub.
//
// Front-ends publish Inbound envelopes on marker:{cohort}:inbound. The
// coordinator answers each identity on marker:{cohort}:outbound:{identity}.
// Delivery is at-most-once, like any Pub/Sub channel.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/marker/internal/workflow"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Inbound is a message from a chat user.
type Inbound struct {
	ID       string               `json:"id"`
	Identity string               `json:"identity"` // chat address replies go to
	Handle   string               `json:"handle"`
	Name     string               `json:"name,omitempty"`
	Text     string               `json:"text,omitempty"`
	File     *workflow.Attachment `json:"file,omitempty"`
	AtMs     int64                `json:"at_ms"`
}

// Event converts the message into a workflow event.
func (m *Inbound) Event() workflow.Event {
	if m.File != nil {
		return workflow.Event{Kind: workflow.EventFile, File: m.File, Text: m.Text}
	}
	return workflow.ParseText(m.Text)
}

// Outbound is a message to a chat user.
type Outbound struct {
	ID        string             `json:"id"`
	InReplyTo string             `json:"in_reply_to,omitempty"`
	Identity  string             `json:"identity"`
	Text      string             `json:"text,omitempty"`
	Choices   []string           `json:"choices,omitempty"`
	File      *workflow.Delivery `json:"file,omitempty"`
	AtMs      int64              `json:"at_ms"`
}

// InboundChannel returns the channel front-ends publish user messages on.
func InboundChannel(cohort string) string {
	return fmt.Sprintf("marker:%s:inbound", cohort)
}

// OutboundChannel returns the channel replies to identity are published on.
func OutboundChannel(cohort, identity string) string {
	return fmt.Sprintf("marker:%s:outbound:%s", cohort, identity)
}

// Bridge is a cohort-scoped Redis Pub/Sub connection.
type Bridge struct {
	rdb    *redis.Client
	cohort string
}

// NewBridge creates a bridge for cohort.
func NewBridge(redisOpts *redis.Options, cohort string) (*Bridge, error) {
	if cohort == "" {
		return nil, fmt.Errorf("cohort name cannot be empty")
	}
	return &Bridge{rdb: redis.NewClient(redisOpts), cohort: cohort}, nil
}

// Close closes the Redis connection.
func (b *Bridge) Close() error {
	return b.rdb.Close()
}

// Send publishes reply to identity.
func (b *Bridge) Send(ctx context.Context, identity, inReplyTo string, reply workflow.Reply) error {
	msg := &Outbound{
		ID:        uuid.New().String(),
		InReplyTo: inReplyTo,
		Identity:  identity,
		Text:      reply.Text,
		Choices:   reply.Choices,
		File:      reply.File,
		AtMs:      time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	if err := b.rdb.Publish(ctx, OutboundChannel(b.cohort, identity), data).Err(); err != nil {
		return fmt.Errorf("failed to publish reply to %s: %w", identity, err)
	}
	return nil
}

// Post publishes a user message. Used by front-ends and the chat command.
// ID and AtMs are filled in when empty.
func (b *Bridge) Post(ctx context.Context, msg *Inbound) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.AtMs == 0 {
		msg.AtMs = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal inbound message: %w", err)
	}
	if err := b.rdb.Publish(ctx, InboundChannel(b.cohort), data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Inbox represents an active subscription.
// Caller must call Close() when done to clean up resources.
type Inbox[T any] struct {
	messages <-chan *T
	errors   <-chan error
	cancel   func()
	once     sync.Once
}

// Messages returns the channel of decoded messages.
// The channel is closed when the inbox is closed or the context is cancelled.
func (in *Inbox[T]) Messages() <-chan *T {
	return in.messages
}

// Errors returns the channel of non-fatal decoding errors.
func (in *Inbox[T]) Errors() <-chan error {
	return in.errors
}

// Close stops the subscription. Safe to call multiple times.
func (in *Inbox[T]) Close() error {
	in.once.Do(in.cancel)
	return nil
}

// Receive subscribes to user messages for the cohort.
func (b *Bridge) Receive(ctx context.Context) (*Inbox[Inbound], error) {
	return subscribe[Inbound](ctx, b.rdb, InboundChannel(b.cohort), 64)
}

// Listen subscribes to replies addressed to identity.
func (b *Bridge) Listen(ctx context.Context, identity string) (*Inbox[Outbound], error) {
	return subscribe[Outbound](ctx, b.rdb, OutboundChannel(b.cohort, identity), 16)
}

func subscribe[T any](ctx context.Context, rdb *redis.Client, channel string, buffer int) (*Inbox[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)

	// Wait for confirmation so nothing published after we return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	messages := make(chan *T, buffer)
	errs := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(messages)
		defer close(errs)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var v T
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					select {
					case errs <- fmt.Errorf("failed to unmarshal message on %s: %w", channel, err):
					default:
					}
					continue
				}

				select {
				case messages <- &v:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Inbox[T]{messages: messages, errors: errs, cancel: cancel}, nil
}
