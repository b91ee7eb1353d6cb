// Package coordinator owns the chat sessions of one cohort. It receives
// messages from the transport, answers the stateless commands itself and
// hands everything else to the workflow engine, one message at a time per
// identity.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/marker/internal/assignment"
	"github.com/dyluth/marker/internal/directory"
	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/internal/transport"
	"github.com/dyluth/marker/internal/workflow"
	"github.com/dyluth/marker/pkg/ledger"
)

// Store is the ledger surface the coordinator and everything it wires need.
type Store interface {
	workflow.Ledger
	directory.Store
	ListParticipants(ctx context.Context) ([]ledger.Participant, error)
	AppendPeriod(ctx context.Context, p ledger.Period, assignments map[int]string) error
	Ping(ctx context.Context) error
}

// Transport delivers user messages and carries replies back.
type Transport interface {
	Receive(ctx context.Context) (*transport.Inbox[transport.Inbound], error)
	Send(ctx context.Context, identity, inReplyTo string, reply workflow.Reply) error
}

// Config wires a Coordinator.
type Config struct {
	Store       Store
	Engine      *workflow.Engine
	Transport   Transport
	Publisher   events.Publisher // optional
	IdleTimeout time.Duration    // 0 keeps sessions until they finish
	HealthAddr  string           // empty disables the health endpoint
	BotHandle   string           // shown at the end of /contacts
}

// slot holds the session of one identity. mu serializes that identity's
// messages; the session pointer is only touched with mu held.
type slot struct {
	mu      sync.Mutex
	session *workflow.Session
	refs    int // Handle calls using the slot, guarded by Coordinator.mu
}

// Coordinator routes chat messages to sessions.
type Coordinator struct {
	store       Store
	directory   *directory.Directory
	engine      *workflow.Engine
	planner     *assignment.Planner
	transport   Transport
	idleTimeout time.Duration
	botHandle   string
	health      *HealthServer

	mu    sync.Mutex
	slots map[string]*slot

	now func() time.Time
}

// New creates a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	dir := directory.New(cfg.Store)
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}

	c := &Coordinator{
		store:       cfg.Store,
		directory:   dir,
		engine:      cfg.Engine,
		planner:     assignment.NewPlanner(cfg.Store, dir, publisher),
		transport:   cfg.Transport,
		idleTimeout: cfg.IdleTimeout,
		botHandle:   cfg.BotHandle,
		slots:       make(map[string]*slot),
		now:         time.Now,
	}
	if cfg.HealthAddr != "" {
		c.health = NewHealthServer(cfg.Store, cfg.HealthAddr)
	}
	return c
}

// Run receives messages until ctx is cancelled. Each identity gets its own
// mailbox goroutine, so one user's messages are handled in the order they
// arrived while other users proceed. Messages arriving at a full mailbox are
// dropped with a "try again" reply, and idle mailboxes are closed on every
// sweep.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.health != nil {
		if err := c.health.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer c.health.Shutdown(context.Background())
	}

	log.Printf("[Coordinator] Starting for cohort '%s'", c.store.Cohort())

	inbox, err := c.transport.Receive(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to inbound messages: %w", err)
	}
	defer inbox.Close()

	log.Printf("[Coordinator] Subscribed to inbound messages")

	d := newDispatcher(ctx, c)
	defer d.close()

	errs := inbox.Errors()

	ticker := time.NewTicker(sweepInterval(c.idleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Coordinator] Shutting down...")
			return nil

		case <-ticker.C:
			c.Sweep()
			d.reap()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[Coordinator] Dropped inbound message: %v", err)

		case msg, ok := <-inbox.Messages():
			if !ok {
				log.Printf("[Coordinator] Inbound subscription closed")
				return nil
			}
			if msg.Identity == "" {
				log.Printf("[Coordinator] Dropped message %s without identity", msg.ID)
				continue
			}
			d.deliver(msg)
		}
	}
}

// sweepInterval checks often enough that a session outlives its timeout by at
// most a quarter of it, but never more than once per second. Without a
// timeout it only paces mailbox reaping.
func sweepInterval(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return time.Minute
	}
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Handle processes one message and returns the replies for its sender.
// Messages from the same identity are serialized; different identities proceed
// in parallel.
func (c *Coordinator) Handle(ctx context.Context, msg *transport.Inbound) []workflow.Reply {
	sl := c.acquire(msg.Identity)
	defer c.release(sl)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	now := c.now()
	if sl.session != nil && sl.session.Expired(now, c.idleTimeout) {
		c.expire(sl)
	}

	ev := msg.Event()
	if ev.Kind == workflow.EventCommand {
		if replies, ok := c.command(ctx, sl, msg, ev); ok {
			return replies
		}
	}

	if sl.session == nil || !sl.session.Active() {
		if ev.Kind == workflow.EventCommand && ev.Command == "cancel" {
			return []workflow.Reply{{Text: msgNothingToCancel}}
		}
		return []workflow.Reply{{Text: msgIdle}}
	}

	s := sl.session
	s.Touch(now)
	state := s.State
	replies, err := c.engine.Step(ctx, s, ev)
	c.logStep(s, ev, state, err)

	if s.Done() {
		c.logEvent("session_finished", map[string]interface{}{
			"identity": s.Identity,
			"handle":   s.Handle,
			"workflow": string(s.Kind),
		})
		sl.session = nil
	}
	return replies
}

// Sweep discards sessions idle longer than the idle timeout and forgets
// identities left without a session. Sessions busy with a message are
// skipped and checked again on the next sweep.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, sl := range c.slots {
		slots = append(slots, sl)
	}
	c.mu.Unlock()

	now := c.now()
	expired := 0
	for _, sl := range slots {
		if !sl.mu.TryLock() {
			continue
		}
		if sl.session != nil && sl.session.Expired(now, c.idleTimeout) {
			c.expire(sl)
			expired++
		}
		sl.mu.Unlock()
	}

	c.mu.Lock()
	for identity, sl := range c.slots {
		if sl.refs > 0 || !sl.mu.TryLock() {
			continue
		}
		if sl.session == nil {
			delete(c.slots, identity)
		}
		sl.mu.Unlock()
	}
	c.mu.Unlock()
	return expired
}

// Sessions returns the number of live sessions.
func (c *Coordinator) Sessions() int {
	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, sl := range c.slots {
		slots = append(slots, sl)
	}
	c.mu.Unlock()

	n := 0
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.session != nil {
			n++
		}
		sl.mu.Unlock()
	}
	return n
}

// acquire returns the identity's slot, pinned against Sweep until release.
func (c *Coordinator) acquire(identity string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[identity]
	if !ok {
		sl = &slot{}
		c.slots[identity] = sl
	}
	sl.refs++
	return sl
}

func (c *Coordinator) release(sl *slot) {
	c.mu.Lock()
	sl.refs--
	c.mu.Unlock()
}

// expire drops the session; sl.mu must be held. Nothing is written: every
// cell the session wrote is already durable.
func (c *Coordinator) expire(sl *slot) {
	s := sl.session
	c.logEvent("session_expired", map[string]interface{}{
		"identity":    s.Identity,
		"handle":      s.Handle,
		"workflow":    string(s.Kind),
		"state":       string(s.State),
		"idle_for_ms": c.now().Sub(s.LastActive).Milliseconds(),
	})
	sl.session = nil
}

func (c *Coordinator) logStep(s *workflow.Session, ev workflow.Event, from workflow.State, err error) {
	data := map[string]interface{}{
		"identity":   s.Identity,
		"handle":     s.Handle,
		"workflow":   string(s.Kind),
		"from_state": string(from),
		"to_state":   string(s.State),
		"input":      string(ev.Kind),
	}
	if err == nil {
		c.logEvent("workflow_step", data)
		return
	}

	data["error"] = err.Error()
	data["error_kind"] = errorKind(err)
	c.logEvent("workflow_step_failed", data)
}

// errorKind maps a step error onto the failure taxonomy used in logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, directory.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, workflow.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, workflow.ErrTransport):
		return "transport"
	case ledger.IsConflict(err):
		return "conflict"
	case ledger.IsNotFound(err):
		return "not_found"
	default:
		return "store"
	}
}

// logEvent emits a structured JSON log line.
func (c *Coordinator) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType
	data["cohort"] = c.store.Cohort()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
