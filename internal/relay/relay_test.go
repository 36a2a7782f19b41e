package relay_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/relay"
	"github.com/binarybattles/coderelay/internal/store"
	"github.com/binarybattles/coderelay/internal/store/storetest"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setupEngine(t *testing.T, relayMinutes int, opts ...relay.Option) (*relay.Engine, *store.Store, *clock) {
	t.Helper()
	s := storetest.New(t)
	clk := &clock{now: t0}
	require.NoError(t, s.StartCompetition(context.Background(), t0, 120, relayMinutes))
	opts = append([]relay.Option{relay.WithClock(clk.Now)}, opts...)
	return relay.New(s, discard(), opts...), s, clk
}

func members(ids ...string) []coderelay.Member {
	out := make([]coderelay.Member, len(ids))
	for i, id := range ids {
		out[i] = coderelay.Member{ID: id, Index: i}
	}
	return out
}

func TestNextTurnNeverRepeatsEditor(t *testing.T) {
	faker := gofakeit.New(42)
	pick := func(n int) int { return faker.Number(0, n-1) }
	for range 50 {
		n := faker.Number(2, 4)
		ids := make([]string, n)
		for i := range ids {
			ids[i] = faker.UUID()
		}
		team := members(ids...)
		d := time.Duration(faker.Number(1, 15)) * time.Minute

		st, ok := relay.FirstTurn("t", team, t0, d, pick)
		require.True(t, ok)
		now := t0
		for range 20 {
			now = st.EndTime.Add(time.Duration(faker.Number(0, 90)) * time.Second)
			next, ok := relay.NextTurn(st, team, now, d, pick)
			require.True(t, ok)
			assert.NotEqual(t, st.CurrentMemberID, next.CurrentMemberID)
			assert.Equal(t, st.CurrentMemberID, next.PreviousMemberID)
			assert.Equal(t, d, next.EndTime.Sub(next.StartTime))
			assert.Equal(t, st.TurnNumber+1, next.TurnNumber)
			if diff := cmp.Diff(append(append([]string{}, st.History...), next.CurrentMemberID), next.History); diff != "" {
				t.Fatalf("history mismatch (-want +got):\n%s", diff)
			}
			st = next
		}
	}
}

func TestNextTurnSingleMember(t *testing.T) {
	team := members("solo")
	st, ok := relay.FirstTurn("t", team, t0, time.Minute, func(int) int { return 0 })
	require.True(t, ok)

	next, ok := relay.NextTurn(st, team, st.EndTime, time.Minute, func(int) int { return 0 })
	require.True(t, ok)
	assert.Equal(t, "solo", next.CurrentMemberID)
	assert.Equal(t, 2, next.TurnNumber)
}

func TestNextTurnDoesNotAliasHistory(t *testing.T) {
	team := members("a", "b")
	st := coderelay.RelayState{CurrentMemberID: "a", TurnNumber: 1, History: make([]string, 1, 8)}
	st.History[0] = "a"

	first, _ := relay.NextTurn(st, team, t0, time.Minute, func(int) int { return 0 })
	second, _ := relay.NextTurn(st, members("a", "c"), t0, time.Minute, func(int) int { return 0 })
	assert.Equal(t, []string{"a", "b"}, first.History)
	assert.Equal(t, []string{"a", "c"}, second.History)
}

func TestInitializeAllSkipsIneligibleTeams(t *testing.T) {
	e, s, _ := setupEngine(t, 5)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	storetest.AddTeam(t, s, "beta", "B1", "B2", "B3")
	storetest.AddTeam(t, s, "solo", "S1")
	storetest.AddTeam(t, s, "banned", "X1", "X2")
	require.NoError(t, s.SetBanned(ctx, "banned", true))

	n, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := e.Read(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TurnNumber)
	assert.Equal(t, t0.Add(5*time.Minute), st.EndTime)
	assert.Equal(t, []string{st.CurrentMemberID}, st.History)
	assert.Empty(t, st.PreviousMemberID)

	for _, team := range []string{"solo", "banned"} {
		_, err := e.Read(ctx, team)
		assert.ErrorIs(t, err, coderelay.ErrNotFound, team)
	}
}

func TestInitializeAllRestartDropsIneligibleTeams(t *testing.T) {
	e, s, _ := setupEngine(t, 5)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	storetest.AddTeam(t, s, "beta", "B1", "B2")

	n, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.SetBanned(ctx, "alpha", true))
	n, err = e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.Read(ctx, "alpha")
	assert.ErrorIs(t, err, coderelay.ErrNotFound)
	st, err := e.Read(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TurnNumber)
}

func TestReadAfterMembersReplaced(t *testing.T) {
	e, s, _ := setupEngine(t, 5, relay.WithPicker(func(int) int { return 0 }))
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	_, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.ReplaceMembers(ctx, "alpha", []coderelay.Member{{ID: "B1"}, {ID: "B2"}}))

	st, err := e.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "B1", st.CurrentMemberID)
	require.NoError(t, e.Write(ctx, "alpha", "b1", "print(1)", ""))
	assert.ErrorIs(t, e.Write(ctx, "alpha", "A1", "print(2)", ""), coderelay.ErrForbidden)
}

func TestReadTransitionsAfterDeadline(t *testing.T) {
	e, s, clk := setupEngine(t, 5)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "m1", "m2", "m3")

	_, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)
	first, err := e.Read(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, 1, first.TurnNumber)
	assert.Equal(t, t0.Add(5*time.Minute), first.EndTime)

	clk.Set(t0.Add(4 * time.Minute))
	same, err := e.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, same.TurnNumber)

	at := t0.Add(5*time.Minute + time.Second)
	clk.Set(at)
	second, err := e.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, second.TurnNumber)
	assert.NotEqual(t, first.CurrentMemberID, second.CurrentMemberID)
	assert.Equal(t, first.CurrentMemberID, second.PreviousMemberID)
	assert.Equal(t, at, second.StartTime)
	assert.Equal(t, at.Add(5*time.Minute), second.EndTime)

	stored, err := s.RelayState(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, second.CurrentMemberID, stored.CurrentMemberID)
	assert.Equal(t, []string{first.CurrentMemberID, second.CurrentMemberID}, stored.History)
}

func TestTransitionUsesCurrentRelayDuration(t *testing.T) {
	e, s, clk := setupEngine(t, 5)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "m1", "m2")
	_, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.SetRelayDuration(ctx, 2))
	clk.Set(t0.Add(6 * time.Minute))

	st, err := e.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, st.EndTime.Sub(st.StartTime))
}

func TestConcurrentReadersTransitionOnce(t *testing.T) {
	e, s, clk := setupEngine(t, 5)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "m1", "m2", "m3", "m4")
	_, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)

	clk.Set(t0.Add(5 * time.Minute))

	var wg sync.WaitGroup
	results := make([]coderelay.RelayState, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := e.Read(ctx, "alpha")
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			results[i] = st
		}()
	}
	wg.Wait()

	for _, st := range results {
		assert.Equal(t, 2, st.TurnNumber)
		assert.Equal(t, results[0].CurrentMemberID, st.CurrentMemberID)
	}
	turns, err := s.RelayTurns(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestWriteOnlyByActiveEditor(t *testing.T) {
	pickFirst := func(int) int { return 0 }
	e, s, clk := setupEngine(t, 5, relay.WithPicker(pickFirst))
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "m1", "m2")
	_, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, e.Write(ctx, "alpha", "M1", "print(1)", "python"))

	err = e.Write(ctx, "alpha", "m2", "print(2)", "python")
	require.ErrorIs(t, err, coderelay.ErrForbidden)
	assert.Contains(t, err.Error(), "not the active editor")

	st, err := e.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", st.SharedCode)

	// After the hand-off m2 may write and m1 may not.
	clk.Set(t0.Add(5 * time.Minute))
	require.ErrorIs(t, e.Write(ctx, "alpha", "m1", "x", ""), coderelay.ErrForbidden)
	require.NoError(t, e.Write(ctx, "alpha", "m2", "print(2)", ""))

	st, err = e.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "print(2)", st.SharedCode)
	assert.Equal(t, "python", st.SharedLanguage)
}

func TestWriteWithoutRelay(t *testing.T) {
	e, s, _ := setupEngine(t, 5)
	storetest.AddTeam(t, s, "solo", "S1")

	err := e.Write(context.Background(), "solo", "S1", "x", "python")
	assert.ErrorIs(t, err, coderelay.ErrNotFound)
}

func TestRequireEditor(t *testing.T) {
	e, s, _ := setupEngine(t, 5, relay.WithPicker(func(int) int { return 1 }))
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "m1", "m2")
	storetest.AddTeam(t, s, "solo", "S1")
	_, err := e.InitializeAll(ctx, 5*time.Minute)
	require.NoError(t, err)

	_, err = e.RequireEditor(ctx, "alpha", "m2")
	assert.NoError(t, err)
	_, err = e.RequireEditor(ctx, "alpha", "m1")
	assert.ErrorIs(t, err, coderelay.ErrForbidden)
	_, err = e.RequireEditor(ctx, "alpha", "")
	assert.ErrorIs(t, err, coderelay.ErrForbidden)

	// Teams without a relay are not gated.
	_, err = e.RequireEditor(ctx, "solo", "S1")
	assert.NoError(t, err)
}
