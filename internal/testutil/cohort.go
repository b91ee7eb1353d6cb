// Package testutil provides an in-memory cohort for tests that run several
// packages together.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/marker/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Cohort is a miniredis-backed ledger for one cohort.
type Cohort struct {
	T      *testing.T
	Name   string
	Redis  *miniredis.Miniredis
	Ledger *ledger.Client
	Ctx    context.Context
}

// NewCohort starts a Redis server and opens a ledger client for name. Both
// are closed when the test ends.
func NewCohort(t *testing.T, name string) *Cohort {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, name)
	require.NoError(t, err, "Failed to create ledger client")
	t.Cleanup(func() { client.Close() })

	return &Cohort{T: t, Name: name, Redis: mr, Ledger: client, Ctx: context.Background()}
}

// Options returns connection options for extra clients on the same server.
func (c *Cohort) Options() *redis.Options {
	return &redis.Options{Addr: c.Redis.Addr()}
}

// Seed adds participants and replaces the staff list. Returns row ids by handle.
func (c *Cohort) Seed(participants []ledger.Participant, staff []ledger.Staff) map[string]int {
	c.T.Helper()
	ids := make(map[string]int, len(participants))
	for _, p := range participants {
		id, err := c.Ledger.AddParticipant(c.Ctx, p)
		require.NoError(c.T, err, "Failed to add participant %s", p.Handle)
		ids[ledger.NormalizeHandle(p.Handle)] = id
	}
	if len(staff) > 0 {
		require.NoError(c.T, c.Ledger.ReplaceStaff(c.Ctx, staff), "Failed to import staff")
	}
	return ids
}

// WaitForSubscriber blocks until someone subscribes to channel (up to 5 seconds).
func (c *Cohort) WaitForSubscriber(channel string) {
	c.T.Helper()
	rdb := redis.NewClient(c.Options())
	defer rdb.Close()
	require.Eventually(c.T, func() bool {
		counts, err := rdb.PubSubNumSub(c.Ctx, channel).Result()
		return err == nil && counts[channel] > 0
	}, 5*time.Second, 20*time.Millisecond, "Nobody subscribed to %s", channel)
}

// WaitForCell polls until a cell is non-empty and returns its value.
func (c *Cohort) WaitForCell(id, period int, field ledger.Field, timeout time.Duration) string {
	c.T.Helper()
	var value string
	require.Eventually(c.T, func() bool {
		row, err := c.Ledger.ReadRow(c.Ctx, id)
		if err != nil {
			return false
		}
		if sub := row.Submission(period); sub != nil {
			value = sub.Get(field)
		}
		return value != ""
	}, timeout, 50*time.Millisecond, "Cell %s of row %d never filled", ledger.CellName(period, field), id)
	return value
}
