package workflow

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/marker/internal/artifact"
	"github.com/dyluth/marker/internal/directory"
	"github.com/dyluth/marker/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[url]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

type fixture struct {
	ctx     context.Context
	client  *ledger.Client
	store   *artifact.LocalStore
	fetcher *fakeFetcher
	engine  *Engine
}

// setup creates one participant per name and period 1 with every participant
// assigned to reviewer ("" for an empty pool).
func setup(t *testing.T, reviewer string, names ...string) *fixture {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test-cohort")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	assignments := map[int]string{}
	for _, name := range names {
		id, err := client.AddParticipant(ctx, ledger.Participant{Name: name, Handle: "@" + name})
		require.NoError(t, err)
		assignments[id] = reviewer
	}
	staff := []ledger.Staff{{Name: "Kate", Handle: "@kate", Role: ledger.RoleCurator}}
	if reviewer != "" {
		staff = append(staff, ledger.Staff{Name: "Rita", Handle: reviewer, Role: ledger.RoleReviewer})
	}
	require.NoError(t, client.ReplaceStaff(ctx, staff))
	require.NoError(t, client.AppendPeriod(ctx, ledger.Period{Number: 1, Label: "d1"}, assignments))

	fetcher := &fakeFetcher{files: map[string][]byte{
		"https://files.example/x.pdf": []byte("%PDF ana"),
		"https://files.example/y.pdf": []byte("%PDF bo"),
	}}

	return &fixture{
		ctx:     ctx,
		client:  client,
		store:   store,
		fetcher: fetcher,
		engine: New(Config{
			Ledger:    client,
			Artifacts: store,
			Fetcher:   fetcher,
		}),
	}
}

func (f *fixture) participant(t *testing.T, handle string) *Session {
	id, err := directory.New(f.client).Classify(f.ctx, handle)
	require.NoError(t, err)
	require.Equal(t, directory.StandingParticipant, id.Standing)

	s := NewSession("chat-"+handle, handle, id.Participant.Name)
	s.Role = id.Role
	s.ParticipantID = id.Participant.ID
	return s
}

func (f *fixture) staff(handle string, role ledger.Role) *Session {
	s := NewSession("chat-"+handle, handle, handle)
	s.Role = role
	return s
}

func (f *fixture) send(t *testing.T, s *Session, ev Event) []Reply {
	replies, err := f.engine.Step(f.ctx, s, ev)
	require.NoError(t, err)
	return replies
}

func textEv(s string) Event { return Event{Kind: EventText, Text: s} }

func cmdEv(name string, args ...string) Event {
	return Event{Kind: EventCommand, Command: name, Args: args}
}

func fileEv(name, url string) Event {
	return Event{Kind: EventFile, File: &Attachment{Name: name, URL: url}}
}

func (f *fixture) row(t *testing.T, id int) *ledger.Submission {
	row, err := f.client.ReadRow(f.ctx, id)
	require.NoError(t, err)
	sub := row.Submission(1)
	require.NotNil(t, sub)
	return sub
}

func (f *fixture) content(t *testing.T, ref string) string {
	rc, err := f.store.Open(f.ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestScenario_SubmitThenReview(t *testing.T) {
	f := setup(t, "@rev1", "Ana", "Bo")

	// Period 1 assigned everyone to the only reviewer.
	assert.Equal(t, "@rev1", f.row(t, 1).Reviewer)
	assert.Equal(t, "@rev1", f.row(t, 2).Reviewer)

	ana := f.participant(t, "@Ana")
	replies, err := f.engine.StartSubmission(f.ctx, ana, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSelectPeriod, ana.State)
	assert.Equal(t, []string{"1"}, replies[0].Choices)

	f.send(t, ana, textEv("1"))
	assert.Equal(t, StateAwaitArtifact, ana.State)

	replies = f.send(t, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
	assert.Equal(t, StateAwaitCommentOrDone, ana.State)
	assert.Contains(t, replies[0].Text, "@rev1")
	assert.Equal(t, []string{DefaultDoneToken}, replies[0].Choices)

	f.send(t, ana, textEv("help"))
	assert.True(t, ana.Done())

	sub := f.row(t, 1)
	require.True(t, sub.HasArtifact())
	assert.Equal(t, "x.pdf", artifact.FileName(sub.Artifact))
	assert.Equal(t, "%PDF ana", f.content(t, sub.Artifact))
	assert.NotEmpty(t, sub.SubmittedAt)
	assert.Equal(t, "help", sub.Comment)
	assert.Empty(t, sub.Verdict)

	rev := f.staff("@rev1", ledger.RoleReviewer)
	replies, err = f.engine.StartReview(f.ctx, rev, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, StateSelectParticipant, rev.State)
	assert.Equal(t, []int{1}, rev.Pending.IDs(), "Bo has no artifact and is excluded")
	assert.Contains(t, replies[0].Text, "1 Ana")

	replies = f.send(t, rev, cmdEv("next"))
	assert.Equal(t, StateAwaitVerdict, rev.State)
	assert.Equal(t, 1, rev.Current)
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "Ana: @Ana")
	assert.Contains(t, replies[0].Text, "help")
	require.NotNil(t, replies[1].File)
	assert.Equal(t, "x.pdf", replies[1].File.Name)
	assert.Equal(t, sub.Artifact, replies[1].File.URL)

	replies = f.send(t, rev, textEv("pass"))
	assert.Zero(t, rev.Pending.Len())
	assert.Equal(t, StateSelectParticipant, rev.State)
	assert.Equal(t, msgVerdictSaved, replies[0].Text)
	assert.Contains(t, replies[len(replies)-1].Text, "Everything for period 1 is reviewed")

	assert.Equal(t, "pass", f.row(t, 1).Verdict)

	set, err := f.engine.StartReview(f.ctx, f.staff("@rev1", ledger.RoleReviewer), []string{"1"})
	require.NoError(t, err)
	assert.Contains(t, set[0].Text, "Waiting for review: 0")
}

func TestScenario_EmptyReviewerPool(t *testing.T) {
	f := setup(t, "", "Ana", "Bo")
	assert.Empty(t, f.row(t, 1).Reviewer)

	ana := f.participant(t, "@Ana")
	_, err := f.engine.StartSubmission(f.ctx, ana, []string{"1"})
	require.NoError(t, err)
	replies := f.send(t, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
	assert.NotContains(t, replies[0].Text, "reviewer is")
	f.send(t, ana, textEv(DefaultDoneToken))
	assert.True(t, f.row(t, 1).HasArtifact())

	kate := f.staff("@kate", ledger.RoleCurator)
	replies, err = f.engine.StartReview(f.ctx, kate, []string{"1"})
	require.NoError(t, err, "an empty pool is surfaced, not an error")
	assert.Zero(t, kate.Pending.Len())
	assert.True(t, kate.Pending.NoReviewerPool)
	assert.Contains(t, replies[0].Text, "without a reviewer pool")
}

func TestSubmission_DoneImmediatelyLeavesCommentNull(t *testing.T) {
	f := setup(t, "@rev1", "Ana")
	ana := f.participant(t, "@Ana")

	replies, err := f.engine.StartSubmission(f.ctx, ana, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitArtifact, ana.State)
	assert.Contains(t, replies[0].Text, "assignment 1")

	f.send(t, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
	replies = f.send(t, ana, textEv(DefaultDoneToken))
	assert.True(t, ana.Done())
	assert.Contains(t, replies[0].Text, "Assignment 1 accepted")
	assert.Empty(t, f.row(t, 1).Comment)
}

func TestSubmission_ResubmissionOverwrites(t *testing.T) {
	f := setup(t, "@rev1", "Ana")
	ana := f.participant(t, "@Ana")

	_, err := f.engine.StartSubmission(f.ctx, ana, []string{"1"})
	require.NoError(t, err)
	f.send(t, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
	f.send(t, ana, textEv("first"))
	first := f.row(t, 1).Artifact

	_, err = f.engine.StartSubmission(f.ctx, ana, []string{"1"})
	require.NoError(t, err)
	f.send(t, ana, fileEv("y.pdf", "https://files.example/y.pdf"))
	f.send(t, ana, textEv(DefaultDoneToken))

	sub := f.row(t, 1)
	assert.NotEqual(t, first, sub.Artifact)
	assert.Equal(t, "%PDF bo", f.content(t, sub.Artifact))
	assert.Empty(t, sub.Comment)
}

func TestSubmission_ResubmissionKeepsVerdict(t *testing.T) {
	f := setup(t, "@rev1", "Ana")
	ana := f.participant(t, "@Ana")
	require.NoError(t, f.client.WriteCell(f.ctx, 1, 1, ledger.FieldArtifact, "old"))
	require.NoError(t, f.client.WriteCell(f.ctx, 1, 1, ledger.FieldVerdict, "pass"))

	_, err := f.engine.StartSubmission(f.ctx, ana, []string{"1"})
	require.NoError(t, err)
	f.send(t, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
	f.send(t, ana, textEv(DefaultDoneToken))

	assert.Equal(t, "pass", f.row(t, 1).Verdict, "verdicts are never cleared")
}

func TestSubmission_InvalidInput(t *testing.T) {
	f := setup(t, "@rev1", "Ana")
	ana := f.participant(t, "@Ana")
	_, err := f.engine.StartSubmission(f.ctx, ana, nil)
	require.NoError(t, err)

	t.Run("non-numeric period", func(t *testing.T) {
		replies, err := f.engine.Step(f.ctx, ana, textEv("first"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, msgNotANumber, replies[0].Text)
		assert.Equal(t, StateSelectPeriod, ana.State)
	})

	t.Run("unknown period", func(t *testing.T) {
		_, err := f.engine.Step(f.ctx, ana, textEv("7"))
		assert.True(t, ledger.IsNotFound(err))
		assert.Equal(t, StateSelectPeriod, ana.State)
	})

	t.Run("text instead of file", func(t *testing.T) {
		f.send(t, ana, textEv("1"))
		replies, err := f.engine.Step(f.ctx, ana, textEv("here it is"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, msgSendFile, replies[0].Text)
		assert.Equal(t, StateAwaitArtifact, ana.State)
	})

	t.Run("fetch failure keeps the step", func(t *testing.T) {
		f.fetcher.err = errors.New("timeout")
		defer func() { f.fetcher.err = nil }()

		replies, err := f.engine.Step(f.ctx, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
		assert.ErrorIs(t, err, ErrTransport)
		assert.Equal(t, msgTransport, replies[0].Text)
		assert.Equal(t, StateAwaitArtifact, ana.State)
		assert.False(t, f.row(t, 1).HasArtifact())
	})
}

func TestSubmission_LocalAttachmentsStayUnderRoot(t *testing.T) {
	f := setup(t, "@rev1", "Ana")
	uploads := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "hw.pdf"), []byte("%PDF local"), 0o644))
	secret := filepath.Join(t.TempDir(), "marker.yml")
	require.NoError(t, os.WriteFile(secret, []byte("s3_secret: hunter2"), 0o600))

	start := func(e *Engine) *Session {
		ana := f.participant(t, "@Ana")
		_, err := e.StartSubmission(f.ctx, ana, nil)
		require.NoError(t, err)
		_, err = e.Step(f.ctx, ana, textEv("1"))
		require.NoError(t, err)
		return ana
	}

	t.Run("refused by default", func(t *testing.T) {
		e := New(Config{Ledger: f.client, Artifacts: f.store, Fetcher: artifact.NewFetcher(time.Second)})
		ana := start(e)

		replies, err := e.Step(f.ctx, ana, fileEv("hw.pdf", "file://"+filepath.Join(uploads, "hw.pdf")))
		assert.ErrorIs(t, err, ErrTransport)
		assert.Equal(t, msgTransport, replies[0].Text)
		assert.Equal(t, StateAwaitArtifact, ana.State)
		assert.False(t, f.row(t, 1).HasArtifact())
	})

	e := New(Config{Ledger: f.client, Artifacts: f.store, Fetcher: artifact.NewFetcher(time.Second).AllowLocalFiles(uploads)})

	t.Run("outside the root", func(t *testing.T) {
		ana := start(e)
		for _, url := range []string{
			"file://" + secret,
			"file://" + uploads + "/../" + filepath.Base(filepath.Dir(secret)) + "/marker.yml",
		} {
			replies, err := e.Step(f.ctx, ana, fileEv("hw.pdf", url))
			assert.ErrorIs(t, err, ErrTransport, url)
			assert.Equal(t, msgTransport, replies[0].Text)
			assert.Equal(t, StateAwaitArtifact, ana.State)
			assert.False(t, f.row(t, 1).HasArtifact())
		}
	})

	t.Run("inside the root", func(t *testing.T) {
		ana := start(e)
		f.send(t, ana, fileEv("hw.pdf", "file://"+filepath.Join(uploads, "hw.pdf")))
		assert.Equal(t, StateAwaitCommentOrDone, ana.State)
		assert.Equal(t, "%PDF local", f.content(t, f.row(t, 1).Artifact))
	})
}

func TestSubmission_Unauthorized(t *testing.T) {
	f := setup(t, "@rev1", "Ana")

	rev := f.staff("@rev1", ledger.RoleReviewer)
	replies, err := f.engine.StartSubmission(f.ctx, rev, []string{"1"})
	assert.ErrorIs(t, err, directory.ErrUnauthorized)
	assert.Equal(t, msgRefused, replies[0].Text)
	assert.Equal(t, KindNone, rev.Kind)
	assert.False(t, rev.Active())
}

func TestSubmission_NoPeriods(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()
	empty, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "empty")
	require.NoError(t, err)
	defer empty.Close()

	s := NewSession("chat", "@ghost", "Ghost")
	s.Role = ledger.RoleParticipant
	s.ParticipantID = 1

	e := New(Config{Ledger: empty, Fetcher: &fakeFetcher{}})
	replies, err := e.StartSubmission(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Equal(t, msgNoPeriods, replies[0].Text)
	assert.False(t, s.Active())
}

func TestCancel_EveryState(t *testing.T) {
	f := setup(t, "@rev1", "Ana")

	t.Run("submission select period", func(t *testing.T) {
		ana := f.participant(t, "@Ana")
		_, err := f.engine.StartSubmission(f.ctx, ana, nil)
		require.NoError(t, err)
		replies := f.send(t, ana, cmdEv("cancel"))
		assert.Equal(t, msgCancelled, replies[0].Text)
		assert.True(t, ana.Done())
	})

	t.Run("submission after upload keeps the artifact", func(t *testing.T) {
		ana := f.participant(t, "@Ana")
		_, err := f.engine.StartSubmission(f.ctx, ana, []string{"1"})
		require.NoError(t, err)
		f.send(t, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
		f.send(t, ana, cmdEv("cancel"))
		assert.True(t, ana.Done())
		assert.True(t, f.row(t, 1).HasArtifact())
		assert.Empty(t, f.row(t, 1).Comment)
	})

	t.Run("review awaiting verdict writes nothing", func(t *testing.T) {
		rev := f.staff("@rev1", ledger.RoleReviewer)
		_, err := f.engine.StartReview(f.ctx, rev, []string{"1"})
		require.NoError(t, err)
		f.send(t, rev, cmdEv("next"))
		require.Equal(t, StateAwaitVerdict, rev.State)

		f.send(t, rev, cmdEv("cancel"))
		assert.True(t, rev.Done())
		assert.Nil(t, rev.Pending)
		assert.Empty(t, f.row(t, 1).Verdict)
	})
}

func TestReview_Navigation(t *testing.T) {
	f := setup(t, "@rev1", "Ana", "Bo", "Cy")
	for id, name := range map[int]string{1: "a.pdf", 2: "b.pdf", 3: "c.pdf"} {
		ref, err := f.store.Put(f.ctx, "1/"+name, strings.NewReader(name), int64(len(name)), "")
		require.NoError(t, err)
		require.NoError(t, f.client.WriteCell(f.ctx, id, 1, ledger.FieldArtifact, ref))
	}

	rev := f.staff("@rev1", ledger.RoleReviewer)
	replies, err := f.engine.StartReview(f.ctx, rev, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSelectPeriod, rev.State)
	assert.Equal(t, []string{"1"}, replies[0].Choices)

	t.Run("next before a period is chosen", func(t *testing.T) {
		_, err := f.engine.Step(f.ctx, rev, cmdEv("next"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, StateSelectPeriod, rev.State)
	})

	f.send(t, rev, textEv("1"))
	require.Equal(t, []int{1, 2, 3}, rev.Pending.IDs())

	t.Run("id outside the set", func(t *testing.T) {
		replies, err := f.engine.Step(f.ctx, rev, textEv("42"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, msgWrongParticipant, replies[0].Text)
		assert.Equal(t, StateSelectParticipant, rev.State)
	})

	t.Run("explicit id", func(t *testing.T) {
		f.send(t, rev, textEv("2"))
		assert.Equal(t, StateAwaitVerdict, rev.State)
		assert.Equal(t, 2, rev.Current)
	})

	t.Run("next skips ahead and wraps", func(t *testing.T) {
		f.send(t, rev, cmdEv("next"))
		assert.Equal(t, 3, rev.Current)
		f.send(t, rev, cmdEv("next"))
		assert.Equal(t, 1, rev.Current)
	})

	t.Run("verdict advances", func(t *testing.T) {
		f.send(t, rev, textEv("pass"))
		assert.Equal(t, []int{2, 3}, rev.Pending.IDs())
		assert.Equal(t, StateAwaitVerdict, rev.State)
		assert.Equal(t, 2, rev.Current)
	})

	t.Run("all re-renders the summary", func(t *testing.T) {
		replies := f.send(t, rev, cmdEv("all"))
		assert.Equal(t, StateSelectParticipant, rev.State)
		assert.Contains(t, replies[0].Text, "2 Bo")
		assert.Contains(t, replies[0].Text, "3 Cy")
		assert.NotContains(t, replies[0].Text, "1 Ana")
	})

	t.Run("empty verdict is rejected", func(t *testing.T) {
		f.send(t, rev, textEv("3"))
		_, err := f.engine.Step(f.ctx, rev, textEv("   "))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, StateAwaitVerdict, rev.State)
	})

	t.Run("finish the queue", func(t *testing.T) {
		f.send(t, rev, textEv("ok"))
		f.send(t, rev, textEv("fail"))
		assert.Zero(t, rev.Pending.Len())
		assert.Equal(t, StateSelectParticipant, rev.State)

		replies := f.send(t, rev, cmdEv("next"))
		assert.Equal(t, msgNothingPending, replies[0].Text)
		assert.Equal(t, StateSelectParticipant, rev.State)
	})

	t.Run("task returns to period selection", func(t *testing.T) {
		f.send(t, rev, cmdEv("task"))
		assert.Equal(t, StateSelectPeriod, rev.State)
		assert.Nil(t, rev.Pending)
	})

	assert.Equal(t, "pass", f.row(t, 1).Verdict)
	assert.Equal(t, "fail", f.row(t, 2).Verdict)
	assert.Equal(t, "ok", f.row(t, 3).Verdict)
}

func TestReview_VerdictTwiceOverwrites(t *testing.T) {
	f := setup(t, "@rev1", "Ana")
	ana := f.participant(t, "@Ana")
	_, err := f.engine.StartSubmission(f.ctx, ana, []string{"1"})
	require.NoError(t, err)
	f.send(t, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
	f.send(t, ana, textEv(DefaultDoneToken))

	rev := f.staff("@rev1", ledger.RoleReviewer)
	_, err = f.engine.StartReview(f.ctx, rev, []string{"1"})
	require.NoError(t, err)
	f.send(t, rev, textEv("1"))
	f.send(t, rev, textEv("fail"))

	// A verdict takes the row out of the queue; record again directly.
	require.NoError(t, f.client.WriteCell(f.ctx, 1, 1, ledger.FieldVerdict, "pass"))
	assert.Equal(t, "pass", f.row(t, 1).Verdict)
}

func TestReview_AnyStaffMayReview(t *testing.T) {
	f := setup(t, "@rev1", "Ana")

	for _, role := range []ledger.Role{ledger.RoleCurator, ledger.RoleInstructor, ledger.RoleReviewer} {
		s := f.staff("@someone", role)
		_, err := f.engine.StartReview(f.ctx, s, nil)
		assert.NoError(t, err, role)
		assert.Equal(t, KindReview, s.Kind)
	}

	ana := f.participant(t, "@Ana")
	_, err := f.engine.StartReview(f.ctx, ana, nil)
	assert.ErrorIs(t, err, directory.ErrUnauthorized)
	assert.Equal(t, KindNone, ana.Kind)
}

func TestReview_UnknownPeriod(t *testing.T) {
	f := setup(t, "@rev1", "Ana")
	rev := f.staff("@rev1", ledger.RoleReviewer)

	replies, err := f.engine.StartReview(f.ctx, rev, []string{"5"})
	assert.True(t, ledger.IsNotFound(err))
	assert.Contains(t, replies[0].Text, "Period 5 does not exist")
	assert.Equal(t, StateSelectPeriod, rev.State)
}

func TestConcurrentSessions(t *testing.T) {
	f := setup(t, "@rev1", "Ana", "Bo")

	// Bo already submitted; the reviewer grades Bo while Ana uploads.
	bo := f.participant(t, "@Bo")
	_, err := f.engine.StartSubmission(f.ctx, bo, []string{"1"})
	require.NoError(t, err)
	f.send(t, bo, fileEv("y.pdf", "https://files.example/y.pdf"))
	f.send(t, bo, textEv(DefaultDoneToken))

	rev := f.staff("@rev1", ledger.RoleReviewer)
	_, err = f.engine.StartReview(f.ctx, rev, []string{"1"})
	require.NoError(t, err)
	f.send(t, rev, textEv("2"))

	ana := f.participant(t, "@Ana")
	_, err = f.engine.StartSubmission(f.ctx, ana, []string{"1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.engine.Step(f.ctx, ana, fileEv("x.pdf", "https://files.example/x.pdf"))
		assert.NoError(t, err)
		_, err = f.engine.Step(f.ctx, ana, textEv("question"))
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.engine.Step(f.ctx, rev, textEv("pass"))
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.True(t, f.row(t, 1).HasArtifact())
	assert.Equal(t, "question", f.row(t, 1).Comment)
	assert.Equal(t, "pass", f.row(t, 2).Verdict)
	assert.True(t, f.row(t, 2).HasArtifact())
}

func TestParseText(t *testing.T) {
	tests := []struct {
		in   string
		want Event
	}{
		{in: "hello", want: Event{Kind: EventText, Text: "hello"}},
		{in: "/hw 3", want: Event{Kind: EventCommand, Command: "hw", Args: []string{"3"}, Text: "/hw 3"}},
		{in: "/Next@marker_bot", want: Event{Kind: EventCommand, Command: "next", Args: []string{}, Text: "/Next@marker_bot"}},
		{in: "/", want: Event{Kind: EventText, Text: "/"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseText(tt.in))
		})
	}
}

func TestSessionExpiry(t *testing.T) {
	s := NewSession("chat", "ana", "Ana")
	assert.Equal(t, "@ana", s.Handle)
	now := s.LastActive
	assert.False(t, s.Expired(now.Add(time.Minute), 0))
	assert.False(t, s.Expired(now.Add(time.Minute), time.Hour))
	assert.True(t, s.Expired(now.Add(2*time.Hour), time.Hour))
}
