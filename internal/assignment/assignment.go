// Package assignment draws reviewers for a new period and creates the period
// in the ledger.
package assignment

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/pkg/ledger"
)

// LabelLayout formats the default period label (DD-MM-YYYY).
const LabelLayout = "02-01-2006"

// Assign draws one reviewer per participant, independently and uniformly from
// pool, with replacement. Load is roughly even but not balanced; a reviewer may
// get none or many. With an empty pool every participant maps to "".
func Assign(participants []ledger.Participant, pool []string, rng *rand.Rand) map[int]string {
	out := make(map[int]string, len(participants))
	for _, p := range participants {
		if len(pool) == 0 {
			out[p.ID] = ""
			continue
		}
		out[p.ID] = pool[rng.Intn(len(pool))]
	}
	return out
}

// Store is the subset of the ledger the planner uses.
type Store interface {
	Cohort() string
	ListParticipants(ctx context.Context) ([]ledger.Participant, error)
	CurrentPeriod(ctx context.Context) (int, error)
	AppendPeriod(ctx context.Context, p ledger.Period, assignments map[int]string) error
}

// PoolSource supplies the current reviewer pool.
type PoolSource interface {
	ReviewerPool(ctx context.Context) ([]string, error)
}

// Result describes a created period.
type Result struct {
	Period      ledger.Period
	Assignments map[int]string
	EmptyPool   bool
}

// Load counts participants per reviewer handle.
func (r *Result) Load() map[string]int {
	load := make(map[string]int)
	for _, reviewer := range r.Assignments {
		load[reviewer]++
	}
	return load
}

// Planner creates periods.
type Planner struct {
	store     Store
	pool      PoolSource
	publisher events.Publisher
	now       func() time.Time

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewPlanner creates a Planner. A nil publisher disables domain events.
func NewPlanner(store Store, pool PoolSource, publisher events.Publisher) *Planner {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	return &Planner{
		store:     store,
		pool:      pool,
		publisher: publisher,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source, for deterministic tests.
func (p *Planner) WithRand(rng *rand.Rand) *Planner {
	p.mu.Lock()
	p.rng = rng
	p.mu.Unlock()
	return p
}

// CreatePeriod appends the next period with a fresh reviewer draw.
// An empty label defaults to today's date. If the roster or period count changed
// between the read and the append, the draw is redone once; a second conflict
// is returned as ledger.ErrConflict.
func (p *Planner) CreatePeriod(ctx context.Context, label string) (*Result, error) {
	if label == "" {
		label = p.now().Format(LabelLayout)
	}

	res, err := p.tryCreate(ctx, label)
	if ledger.IsConflict(err) {
		log.Printf("[Assignment] Period creation raced a roster or period change, retrying")
		res, err = p.tryCreate(ctx, label)
	}
	if err != nil {
		return nil, err
	}

	ev := events.PeriodCreated{
		Cohort:    p.store.Cohort(),
		Period:    res.Period.Number,
		Label:     res.Period.Label,
		Reviewers: res.Load(),
	}
	if err := p.publisher.Publish(ctx, events.TopicPeriodCreated, ev); err != nil {
		log.Printf("[Assignment] Failed to publish period event: %v", err)
	}
	return res, nil
}

func (p *Planner) tryCreate(ctx context.Context, label string) (*Result, error) {
	participants, err := p.store.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	pool, err := p.pool.ReviewerPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read reviewer pool: %w", err)
	}
	current, err := p.store.CurrentPeriod(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	assignments := Assign(participants, pool, p.rng)
	p.mu.Unlock()

	period := ledger.Period{Number: current + 1, Label: label}
	if err := p.store.AppendPeriod(ctx, period, assignments); err != nil {
		return nil, err
	}

	return &Result{Period: period, Assignments: assignments, EmptyPool: len(pool) == 0}, nil
}
