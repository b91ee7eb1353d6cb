package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-cohort")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// seedCohort adds participants and returns their ids in order.
func seedCohort(t *testing.T, client *Client, names ...string) []int {
	t.Helper()
	ids := make([]int, 0, len(names))
	for _, name := range names {
		id, err := client.AddParticipant(context.Background(), Participant{Name: name, Handle: "@" + name})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-cohort", client.Cohort())
	})

	t.Run("rejects empty cohort name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cohort name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestAddParticipant(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("assigns sequential ids", func(t *testing.T) {
		ids := seedCohort(t, client, "ana", "bo")
		assert.Equal(t, []int{1, 2}, ids)
	})

	t.Run("normalizes handle", func(t *testing.T) {
		id, err := client.AddParticipant(ctx, Participant{Name: "Cy", Handle: "cy"})
		require.NoError(t, err)

		p, err := client.LookupParticipant(ctx, "@cy")
		require.NoError(t, err)
		assert.Equal(t, id, p.ID)
		assert.Equal(t, "Cy", p.Name)
	})

	t.Run("known handle keeps its row and updates the name", func(t *testing.T) {
		id, err := client.AddParticipant(ctx, Participant{Name: "Ana Maria", Handle: "@ana"})
		require.NoError(t, err)
		assert.Equal(t, 1, id)

		row, err := client.ReadRow(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Ana Maria", row.Name)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := client.AddParticipant(ctx, Participant{Handle: "@nobody"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid participant")
	})

	t.Run("lists in row order", func(t *testing.T) {
		participants, err := client.ListParticipants(ctx)
		require.NoError(t, err)
		require.Len(t, participants, 3)
		assert.Equal(t, "@ana", participants[0].Handle)
		assert.Equal(t, "@bo", participants[1].Handle)
		assert.Equal(t, "@cy", participants[2].Handle)
	})
}

func TestLookupParticipant_NotFound(t *testing.T) {
	client, _ := setupTestClient(t)

	_, err := client.LookupParticipant(context.Background(), "@ghost")
	assert.True(t, IsNotFound(err))
}

func TestAppendPeriod(t *testing.T) {
	ctx := context.Background()

	t.Run("adds the column group to every row", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ids := seedCohort(t, client, "ana", "bo")

		err := client.AppendPeriod(ctx, Period{Number: 1, Label: "01-09-2026"}, map[int]string{ids[0]: "@rev1", ids[1]: "@rev2"})
		require.NoError(t, err)

		for i, id := range ids {
			row, err := client.ReadRow(ctx, id)
			require.NoError(t, err)
			sub := row.Submission(1)
			require.NotNil(t, sub)
			assert.Equal(t, fmt.Sprintf("@rev%d", i+1), sub.Reviewer)
			assert.False(t, sub.HasArtifact())
			assert.False(t, sub.HasVerdict())
		}

		periods, err := client.Periods(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Period{{Number: 1, Label: "01-09-2026"}}, periods)
	})

	t.Run("rejects an ordinal that is not next", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ids := seedCohort(t, client, "ana")

		err := client.AppendPeriod(ctx, Period{Number: 2}, map[int]string{ids[0]: ""})
		assert.True(t, IsConflict(err))

		require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: ""}))
		err = client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: ""})
		assert.True(t, IsConflict(err))
	})

	t.Run("rejects assignments computed from a stale roster", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ids := seedCohort(t, client, "ana")
		seedCohort(t, client, "bo")

		err := client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: "@rev1"})
		assert.True(t, IsConflict(err))

		// Nothing was written.
		current, err := client.CurrentPeriod(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, current)
		row, err := client.ReadRow(ctx, ids[0])
		require.NoError(t, err)
		assert.Empty(t, row.Submissions)
	})

	t.Run("rejects invalid ordinal", func(t *testing.T) {
		client, _ := setupTestClient(t)
		err := client.AppendPeriod(ctx, Period{Number: 0}, nil)
		assert.Error(t, err)
	})

	t.Run("empty cohort can still gain periods", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1, Label: "x"}, map[int]string{}))

		current, err := client.CurrentPeriod(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, current)
	})

	t.Run("late participants receive empty groups for existing periods", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ids := seedCohort(t, client, "ana")
		require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: "@rev1"}))
		require.NoError(t, client.AppendPeriod(ctx, Period{Number: 2}, map[int]string{ids[0]: "@rev1"}))

		late := seedCohort(t, client, "bo")
		row, err := client.ReadRow(ctx, late[0])
		require.NoError(t, err)
		require.Len(t, row.Submissions, 2)
		assert.Equal(t, "", row.Submission(1).Reviewer)
		assert.Equal(t, "", row.Submission(2).Reviewer)
	})
}

func TestWriteCell(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	ids := seedCohort(t, client, "ana", "bo")
	require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: "@rev1", ids[1]: "@rev1"}))

	t.Run("writes a single cell", func(t *testing.T) {
		require.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldArtifact, "file:///x.pdf"))
		require.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldComment, "help"))

		row, err := client.ReadRow(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "file:///x.pdf", row.Submission(1).Artifact)
		assert.Equal(t, "help", row.Submission(1).Comment)
		assert.Equal(t, "@rev1", row.Submission(1).Reviewer)
	})

	t.Run("second write overwrites", func(t *testing.T) {
		require.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldVerdict, "fail"))
		require.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldVerdict, "pass"))

		row, err := client.ReadRow(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "pass", row.Submission(1).Verdict)
	})

	t.Run("unknown participant", func(t *testing.T) {
		err := client.WriteCell(ctx, 99, 1, FieldComment, "x")
		assert.True(t, IsNotFound(err))
	})

	t.Run("unknown period", func(t *testing.T) {
		err := client.WriteCell(ctx, ids[0], 7, FieldComment, "x")
		assert.True(t, IsNotFound(err))

		row, err := client.ReadRow(ctx, ids[0])
		require.NoError(t, err)
		assert.Nil(t, row.Submission(7))
	})

	t.Run("reviewer cell is immutable", func(t *testing.T) {
		err := client.WriteCell(ctx, ids[0], 1, FieldReviewer, "@other")
		assert.ErrorIs(t, err, ErrImmutableField)
	})

	t.Run("unknown field", func(t *testing.T) {
		err := client.WriteCell(ctx, ids[0], 1, Field("grade"), "A")
		assert.Error(t, err)
	})
}

func TestWriteCell_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("p%d", i)
	}
	ids := seedCohort(t, client, names...)
	assignments := make(map[int]string)
	for _, id := range ids {
		assignments[id] = "@rev1"
	}
	require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, assignments))

	var wg sync.WaitGroup
	for _, id := range ids {
		for _, field := range []Field{FieldArtifact, FieldComment, FieldVerdict, FieldSubmittedAt} {
			wg.Add(1)
			go func(id int, field Field) {
				defer wg.Done()
				assert.NoError(t, client.WriteCell(ctx, id, 1, field, fmt.Sprintf("%s-%d", field, id)))
			}(id, field)
		}
	}
	wg.Wait()

	rows, err := client.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, len(ids))
	for _, row := range rows {
		sub := row.Submission(1)
		require.NotNil(t, sub)
		assert.Equal(t, fmt.Sprintf("artifact-%d", row.ID), sub.Artifact)
		assert.Equal(t, fmt.Sprintf("comment-%d", row.ID), sub.Comment)
		assert.Equal(t, fmt.Sprintf("verdict-%d", row.ID), sub.Verdict)
		assert.Equal(t, fmt.Sprintf("submitted_at-%d", row.ID), sub.SubmittedAt)
		assert.Equal(t, "@rev1", sub.Reviewer)
	}
}

func TestWriteCell_ConcurrentWithPeriodCreation(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	ids := seedCohort(t, client, "ana", "bo")
	all := map[int]string{ids[0]: "", ids[1]: ""}
	require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, all))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			assert.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldComment, fmt.Sprintf("c%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, client.AppendPeriod(ctx, Period{Number: 2}, all))
	}()
	wg.Wait()

	rows, err := client.ReadAll(ctx)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Len(t, row.Submissions, 2, "every row carries both periods")
	}
	assert.Equal(t, "c19", rows[0].Submission(1).Comment)
}

func TestReadColumn(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	ids := seedCohort(t, client, "ana", "bo")
	require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: "@rev1", ids[1]: ""}))
	require.NoError(t, client.WriteCell(ctx, ids[1], 1, FieldArtifact, "ref-bo"))

	column, err := client.ReadColumn(ctx, 1, FieldArtifact)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{ids[0]: "", ids[1]: "ref-bo"}, column)

	reviewers, err := client.ReadColumn(ctx, 1, FieldReviewer)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{ids[0]: "@rev1", ids[1]: ""}, reviewers)

	_, err = client.ReadColumn(ctx, 2, FieldArtifact)
	assert.True(t, IsNotFound(err))
}

func TestReadPeriod(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	ids := seedCohort(t, client, "ana", "bo")
	require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: "@rev1", ids[1]: "@rev2"}))
	require.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldArtifact, "x.pdf"))
	require.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldComment, "help"))

	rows, err := client.ReadPeriod(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "ana", rows[0].Name)
	assert.Equal(t, "@ana", rows[0].Handle)
	assert.Equal(t, "x.pdf", rows[0].Artifact)
	assert.Equal(t, "help", rows[0].Comment)
	assert.Equal(t, "@rev1", rows[0].Reviewer)
	assert.True(t, rows[0].AwaitingReview("@rev1"))

	assert.Equal(t, "@rev2", rows[1].Reviewer)
	assert.False(t, rows[1].AwaitingReview("@rev2"))

	_, err = client.ReadPeriod(ctx, 3)
	assert.True(t, IsNotFound(err))
}

func TestReadRow_NotFound(t *testing.T) {
	client, _ := setupTestClient(t)
	_, err := client.ReadRow(context.Background(), 42)
	assert.True(t, IsNotFound(err))
}

func TestReadAll_Empty(t *testing.T) {
	client, _ := setupTestClient(t)
	rows, err := client.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCurrentPeriod(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	current, err := client.CurrentPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, current)

	for n := 1; n <= 3; n++ {
		require.NoError(t, client.AppendPeriod(ctx, Period{Number: n, Label: fmt.Sprintf("day %d", n)}, map[int]string{}))
	}

	current, err = client.CurrentPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, current)

	ok, err := client.HasPeriod(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.HasPeriod(ctx, 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaff(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	staff := []Staff{
		{Name: "Kate", Handle: "kate", Role: RoleCurator},
		{Name: "Ivan", Handle: "@ivan", Role: RoleInstructor},
		{Name: "Rita", Handle: "@rev1", Role: RoleReviewer},
	}
	require.NoError(t, client.ReplaceStaff(ctx, staff))

	t.Run("get normalizes handle", func(t *testing.T) {
		s, err := client.GetStaff(ctx, "kate")
		require.NoError(t, err)
		assert.Equal(t, RoleCurator, s.Role)
		assert.Equal(t, "@kate", s.Handle)
	})

	t.Run("list keeps roster order", func(t *testing.T) {
		list, err := client.ListStaff(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "@kate", list[0].Handle)
		assert.Equal(t, "@ivan", list[1].Handle)
		assert.Equal(t, "@rev1", list[2].Handle)
	})

	t.Run("replace drops missing entries", func(t *testing.T) {
		require.NoError(t, client.ReplaceStaff(ctx, staff[:1]))
		_, err := client.GetStaff(ctx, "@rev1")
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejects participant role", func(t *testing.T) {
		err := client.ReplaceStaff(ctx, []Staff{{Name: "X", Handle: "@x", Role: RoleParticipant}})
		assert.Error(t, err)
	})
}

func TestSubscribeChanges(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeChanges(ctx)
	require.NoError(t, err)
	defer sub.Close()

	ids := seedCohort(t, client, "ana")
	require.NoError(t, client.AppendPeriod(ctx, Period{Number: 1}, map[int]string{ids[0]: ""}))
	require.NoError(t, client.WriteCell(ctx, ids[0], 1, FieldVerdict, "pass"))

	var got []*ChangeEvent
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out, received %d events", len(got))
		}
	}

	assert.Equal(t, ChangeParticipant, got[0].Kind)
	assert.Equal(t, ChangePeriod, got[1].Kind)
	assert.Equal(t, ChangeCell, got[2].Kind)
	assert.Equal(t, FieldVerdict, got[2].Field)
	assert.Equal(t, "pass", got[2].Value)
}
