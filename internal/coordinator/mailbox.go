package coordinator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/dyluth/marker/internal/transport"
	"github.com/dyluth/marker/internal/workflow"
)

// mailboxSize bounds how many messages one identity may have waiting while
// an earlier one is still being handled.
const mailboxSize = 16

const msgBusy = "Still working on your previous message. Please send this one again in a moment."

// mailbox queues one identity's messages for its own goroutine.
type mailbox struct {
	ch      chan *transport.Inbound
	pending atomic.Int32 // queued plus in progress
}

// dispatcher fans inbound messages out to per-identity mailboxes. deliver
// and reap must be called from a single goroutine.
type dispatcher struct {
	ctx   context.Context
	c     *Coordinator
	boxes map[string]*mailbox
	wg    sync.WaitGroup
}

func newDispatcher(ctx context.Context, c *Coordinator) *dispatcher {
	return &dispatcher{ctx: ctx, c: c, boxes: make(map[string]*mailbox)}
}

// deliver queues msg for its identity without blocking. A full mailbox drops
// the message and tells the sender to try again.
func (d *dispatcher) deliver(msg *transport.Inbound) bool {
	mb, ok := d.boxes[msg.Identity]
	if !ok {
		mb = &mailbox{ch: make(chan *transport.Inbound, mailboxSize)}
		d.boxes[msg.Identity] = mb
		d.wg.Go(func() { d.serve(mb) })
	}

	mb.pending.Add(1)
	select {
	case mb.ch <- msg:
		return true
	default:
	}
	mb.pending.Add(-1)

	d.c.logEvent("message_dropped", map[string]interface{}{
		"identity":   msg.Identity,
		"handle":     msg.Handle,
		"message_id": msg.ID,
		"queued":     len(mb.ch),
	})
	if err := d.c.transport.Send(d.ctx, msg.Identity, msg.ID, workflow.Reply{Text: msgBusy}); err != nil {
		log.Printf("[Coordinator] Failed to send reply to %s: %v", msg.Identity, err)
	}
	return false
}

func (d *dispatcher) serve(mb *mailbox) {
	for msg := range mb.ch {
		for _, reply := range d.c.Handle(d.ctx, msg) {
			if err := d.c.transport.Send(d.ctx, msg.Identity, msg.ID, reply); err != nil {
				log.Printf("[Coordinator] Failed to send reply to %s: %v", msg.Identity, err)
			}
		}
		mb.pending.Add(-1)
	}
}

// reap closes the mailboxes with nothing queued or in progress. Their
// goroutines exit; the identity's next message opens a fresh mailbox.
func (d *dispatcher) reap() int {
	n := 0
	for id, mb := range d.boxes {
		if mb.pending.Load() == 0 {
			close(mb.ch)
			delete(d.boxes, id)
			n++
		}
	}
	return n
}

// close stops every mailbox and waits for messages in flight.
func (d *dispatcher) close() {
	for id, mb := range d.boxes {
		close(mb.ch)
		delete(d.boxes, id)
	}
	d.wg.Wait()
}
