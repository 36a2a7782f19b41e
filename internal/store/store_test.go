package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/store"
	"github.com/binarybattles/coderelay/internal/store/storetest"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestCreateTeamConflicts(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")

	err := s.CreateTeam(ctx, store.NewTeam{Name: "alpha"})
	assert.ErrorIs(t, err, coderelay.ErrConflict)

	err = s.CreateTeam(ctx, store.NewTeam{Name: "beta", Members: []coderelay.Member{{ID: "A1"}}})
	assert.ErrorIs(t, err, coderelay.ErrConflict)

	_, err = s.GetTeam(ctx, "beta")
	assert.ErrorIs(t, err, coderelay.ErrNotFound, "failed create must roll back")
}

func TestTeamByMemberIDIsCaseInsensitive(t *testing.T) {
	s := storetest.New(t)
	storetest.AddTeam(t, s, "alpha", "A1", "A2")

	l, err := s.TeamByMemberID(context.Background(), "a2")
	require.NoError(t, err)
	assert.Equal(t, "alpha", l.TeamName)
	assert.Equal(t, "A2", l.Member.ID)
	assert.Equal(t, 1, l.Member.Index)
}

func TestReplaceMembers(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")

	err := s.ReplaceMembers(ctx, "alpha", []coderelay.Member{{ID: "X1"}, {ID: "X2"}, {ID: "X3"}})
	require.NoError(t, err)

	team, err := s.GetTeam(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 3, team.TeamSize)
	require.Len(t, team.Members, 3)
	assert.Equal(t, "X1", team.Members[0].ID)

	_, err = s.TeamByMemberID(ctx, "A1")
	assert.ErrorIs(t, err, coderelay.ErrNotFound)
}

func TestSetBanned(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1")
	_, err := s.SeedMasterAdmin(ctx, "hash")
	require.NoError(t, err)

	require.NoError(t, s.SetBanned(ctx, "alpha", true))
	assert.ErrorIs(t, s.SetBanned(ctx, "alpha", true), coderelay.ErrConflict)

	banned, err := s.IsBanned(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, s.SetBanned(ctx, "alpha", false))
	assert.ErrorIs(t, s.SetBanned(ctx, "alpha", false), coderelay.ErrConflict)

	assert.ErrorIs(t, s.SetBanned(ctx, store.MasterAdminName, true), coderelay.ErrForbidden)
	assert.ErrorIs(t, s.SetBanned(ctx, "ghost", true), coderelay.ErrNotFound)
}

func TestDeleteTeamRemovesDependents(t *testing.T) {
	s := storetest.New(t, store.WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")

	_, err := s.AddSubmission(ctx, coderelay.Submission{TeamName: "alpha", ProblemID: 1, Kind: coderelay.KindFinal, SubmittedAt: t0})
	require.NoError(t, err)
	_, err = s.AddViolation(ctx, coderelay.Violation{TeamName: "alpha", Type: "tab_switch", CreatedAt: t0})
	require.NoError(t, err)
	_, err = s.RecordSolve(ctx, "alpha", 1, 10, t0)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, coderelay.Session{ID: "s1", Subject: "alpha", ExpiresAt: t0.Add(time.Hour)}))

	require.NoError(t, s.DeleteTeam(ctx, "alpha"))

	_, err = s.GetTeam(ctx, "alpha")
	assert.ErrorIs(t, err, coderelay.ErrNotFound)
	subs, err := s.ListSubmissions(ctx, "alpha", 0)
	require.NoError(t, err)
	assert.Empty(t, subs)
	n, err := s.CountViolations(ctx, "alpha")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.Session(ctx, "s1", t0)
	assert.ErrorIs(t, err, coderelay.ErrNotFound)

	// Member ids are free again.
	storetest.AddTeam(t, s, "beta", "A1")
}

func TestDeleteTeamRejectsAdmins(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	_, err := s.SeedMasterAdmin(ctx, "hash")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteTeam(ctx, store.MasterAdminName), coderelay.ErrForbidden)
	assert.ErrorIs(t, s.DeleteTeam(ctx, "ghost"), coderelay.ErrNotFound)
}

func TestRemoveAdmin(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	_, err := s.SeedMasterAdmin(ctx, "hash")
	require.NoError(t, err)
	require.NoError(t, s.CreateTeam(ctx, store.NewTeam{Name: "judge", PasswordHash: "h", IsAdmin: true}))

	admins, err := s.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, store.MasterAdminName, admins[0].Username)

	assert.ErrorIs(t, s.RemoveAdmin(ctx, store.MasterAdminName), coderelay.ErrForbidden)
	require.NoError(t, s.RemoveAdmin(ctx, "judge"))
	assert.ErrorIs(t, s.RemoveAdmin(ctx, "judge"), coderelay.ErrNotFound)
}

func TestSeedMasterAdminOnce(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	inserted, err := s.SeedMasterAdmin(ctx, "first")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.SeedMasterAdmin(ctx, "second")
	require.NoError(t, err)
	assert.False(t, inserted)

	c, err := s.Credentials(ctx, store.MasterAdminName)
	require.NoError(t, err)
	assert.Equal(t, "first", c.PasswordHash)
}

func relayAt(team, member string, turn int, start time.Time) coderelay.RelayState {
	return coderelay.RelayState{
		TeamName:        team,
		CurrentMemberID: member,
		StartTime:       start,
		EndTime:         start.Add(10 * time.Minute),
		TurnNumber:      turn,
		SharedLanguage:  "python",
		History:         []string{member},
	}
}

func TestAdvanceRelayCompareAndSwap(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")

	first := relayAt("alpha", "A1", 1, t0)
	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{first}))

	next := relayAt("alpha", "A2", 2, first.EndTime)
	next.PreviousMemberID = "A1"
	next.History = []string{"A1", "A2"}

	// Deadline not reached yet.
	early := next
	early.StartTime = first.EndTime.Add(-time.Second)
	won, err := s.AdvanceRelay(ctx, first, early)
	require.NoError(t, err)
	assert.False(t, won)

	won, err = s.AdvanceRelay(ctx, first, next)
	require.NoError(t, err)
	assert.True(t, won)

	// A second caller that read turn 1 loses.
	won, err = s.AdvanceRelay(ctx, first, next)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.RelayState(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TurnNumber)
	assert.Equal(t, "A2", got.CurrentMemberID)
	assert.Equal(t, "A1", got.PreviousMemberID)
	assert.Equal(t, []string{"A1", "A2"}, got.History)

	turns, err := s.RelayTurns(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 2, turns[1].TurnNumber)
}

func TestInitRelaysReplacesEveryRow(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	storetest.AddTeam(t, s, "beta", "B1", "B2")
	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{
		relayAt("alpha", "A1", 1, t0),
		relayAt("beta", "B1", 1, t0),
	}))

	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{relayAt("beta", "B2", 1, t0.Add(time.Hour))}))

	_, err := s.RelayState(ctx, "alpha")
	assert.ErrorIs(t, err, coderelay.ErrNotFound)
	got, err := s.RelayState(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "B2", got.CurrentMemberID)

	turns, err := s.RelayTurns(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestReplaceMembersReassignsRelay(t *testing.T) {
	now := t0.Add(3 * time.Minute)
	s := storetest.New(t, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	require.NoError(t, s.StartCompetition(ctx, t0, 60, 7))
	first := relayAt("alpha", "A1", 1, t0)
	first.SharedCode = "x = 1"
	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{first}))

	require.NoError(t, s.ReplaceMembers(ctx, "alpha", []coderelay.Member{{ID: " B1 "}, {ID: "B2"}}))

	got, err := s.RelayState(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "B1", got.CurrentMemberID)
	assert.Equal(t, 0, got.CurrentMemberIndex)
	assert.Equal(t, "A1", got.PreviousMemberID)
	assert.Equal(t, 2, got.TurnNumber)
	assert.Equal(t, now, got.StartTime)
	assert.Equal(t, now.Add(7*time.Minute), got.EndTime)
	assert.Equal(t, []string{"A1", "B1"}, got.History)
	assert.Equal(t, "x = 1", got.SharedCode)

	turns, err := s.RelayTurns(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "B1", turns[1].MemberID)
}

func TestReplaceMembersKeepsPresentEditor(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{relayAt("alpha", "A2", 1, t0)}))

	require.NoError(t, s.ReplaceMembers(ctx, "alpha", []coderelay.Member{{ID: "C1"}, {ID: "a2"}}))

	got, err := s.RelayState(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "A2", got.CurrentMemberID)
	assert.Equal(t, 1, got.TurnNumber)
}

func TestReplaceMembersDropsRelayBelowTwoMembers(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{relayAt("alpha", "A1", 1, t0)}))

	require.NoError(t, s.ReplaceMembers(ctx, "alpha", []coderelay.Member{{ID: "A1"}}))

	_, err := s.RelayState(ctx, "alpha")
	assert.ErrorIs(t, err, coderelay.ErrNotFound)
}

func TestUpdateSharedCodeGuardsEditorAndDeadline(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{relayAt("alpha", "A1", 1, t0)}))

	ok, err := s.UpdateSharedCode(ctx, "alpha", "A2", "x = 1", "python", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "non-editor write accepted")

	ok, err = s.UpdateSharedCode(ctx, "alpha", "a1", "x = 1", "python", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateSharedCode(ctx, "alpha", "A1", "x = 2", "python", t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "write accepted at the deadline")

	got, err := s.RelayState(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", got.SharedCode)
}

func TestStopCompetitionKeepsArchive(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	require.NoError(t, s.StartCompetition(ctx, t0, 60, 5))
	require.NoError(t, s.InitRelays(ctx, []coderelay.RelayState{relayAt("alpha", "A1", 1, t0)}))

	cleared, err := s.StopCompetition(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)

	w, err := s.Competition(ctx)
	require.NoError(t, err)
	assert.Nil(t, w.StartTime)
	assert.Equal(t, 60, w.DurationMinutes)
	assert.Equal(t, 5, w.RelayDurationMinutes)

	_, err = s.RelayState(ctx, "alpha")
	assert.ErrorIs(t, err, coderelay.ErrNotFound)

	turns, err := s.RelayTurns(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestRecordSolveIsIdempotent(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1")

	require.NoError(t, s.RecordFailure(ctx, "alpha", 2, t0))

	var wg sync.WaitGroup
	firsts := make(chan bool, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := s.RecordSolve(ctx, "alpha", 2, 40, t0)
			if err != nil {
				t.Errorf("record solve: %v", err)
				return
			}
			firsts <- first
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for f := range firsts {
		if f {
			count++
		}
	}
	assert.Equal(t, 1, count)

	team, err := s.GetTeam(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 40, team.Score)
	assert.Equal(t, []int{2}, team.Solved)
	assert.Empty(t, team.Failed)

	// Failing after solving does not re-add a failure record.
	require.NoError(t, s.RecordFailure(ctx, "alpha", 2, t0))
	team, err = s.GetTeam(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, team.Failed)
}

func TestLockProblemFirstWins(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1")

	got, err := s.LockProblem(ctx, "alpha", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = s.LockProblem(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	_, err = s.LockProblem(ctx, "ghost", 1)
	assert.True(t, errors.Is(err, coderelay.ErrNotFound))
}

func TestFinalSubmissionsExcludeAutosaves(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1")

	add := func(kind coderelay.SubmissionKind, code string, at time.Time) {
		t.Helper()
		_, err := s.AddSubmission(ctx, coderelay.Submission{
			TeamName: "alpha", ProblemID: 1, Code: code, Language: "python", Kind: kind, SubmittedAt: at,
		})
		require.NoError(t, err)
	}
	add(coderelay.KindFinal, "v1", t0)
	add(coderelay.KindFinal, "v2", t0.Add(time.Minute))
	add(coderelay.KindAutosave, "draft", t0.Add(2*time.Minute))

	finals, err := s.FinalSubmissions(ctx)
	require.NoError(t, err)
	require.Len(t, finals, 1)
	assert.Equal(t, "v2", finals[0].Code)
	assert.Equal(t, coderelay.KindFinal, finals[0].Kind)

	latest, err := s.LatestSubmission(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.Equal(t, "draft", latest.Code)

	n, err := s.PurgeSubmissions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestLeaderboardOrdering(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1")
	storetest.AddTeam(t, s, "beta", "B1")
	storetest.AddTeam(t, s, "gamma", "C1")

	for _, sub := range []coderelay.Submission{
		{TeamName: "alpha", ProblemID: 1, Kind: coderelay.KindFinal, Passed: true, SubmittedAt: t0.Add(5 * time.Minute)},
		{TeamName: "beta", ProblemID: 1, Kind: coderelay.KindFinal, Passed: true, SubmittedAt: t0.Add(2 * time.Minute)},
	} {
		_, err := s.AddSubmission(ctx, sub)
		require.NoError(t, err)
		_, err = s.RecordSolve(ctx, sub.TeamName, 1, 10, sub.SubmittedAt)
		require.NoError(t, err)
	}

	board, err := s.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "beta", board[0].Name, "equal score, earlier submission ranks first")
	assert.Equal(t, "alpha", board[1].Name)
	assert.Equal(t, "gamma", board[2].Name)
	assert.Equal(t, 1, board[0].Solved)
}

func TestStats(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1")
	storetest.AddTeam(t, s, "beta", "B1")

	for _, sub := range []coderelay.Submission{
		{TeamName: "alpha", ProblemID: 1, Kind: coderelay.KindFinal, Passed: true, SubmittedAt: t0.Add(-time.Minute)},
		{TeamName: "beta", ProblemID: 1, Kind: coderelay.KindFinal, SubmittedAt: t0.Add(-time.Hour)},
		{TeamName: "beta", ProblemID: 2, Kind: coderelay.KindAutosave, SubmittedAt: t0},
	} {
		_, err := s.AddSubmission(ctx, sub)
		require.NoError(t, err)
	}
	_, err := s.RecordSolve(ctx, "alpha", 1, 10, t0)
	require.NoError(t, err)
	_, err = s.AddViolation(ctx, coderelay.Violation{TeamName: "beta", Type: "copy", CreatedAt: t0})
	require.NoError(t, err)

	st, err := s.Stats(ctx, t0, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalTeams)
	assert.Equal(t, 1, st.ActiveTeams)
	assert.Equal(t, 2, st.TotalSubmissions)
	assert.Equal(t, 1, st.PassedSubmissions)
	assert.Equal(t, 1, st.FailedSubmissions)
	assert.Equal(t, 1, st.TotalViolations)
	assert.Equal(t, []coderelay.ProblemStat{
		{ProblemID: 1, Solved: 1, Attempted: 2},
		{ProblemID: 2, Solved: 0, Attempted: 0},
	}, st.ProblemStats)
}

func TestViolations(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.AddTeam(t, s, "alpha", "A1")
	storetest.AddTeam(t, s, "beta", "B1")

	for i, team := range []string{"alpha", "alpha", "beta"} {
		_, err := s.AddViolation(ctx, coderelay.Violation{
			TeamName: team, Type: "tab_switch", CreatedAt: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	counts, err := s.ViolationCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alpha": 2, "beta": 1}, counts)

	list, err := s.ListViolations(ctx, "alpha", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, t0.Add(time.Second), list[0].CreatedAt)

	n, err := s.ClearViolations(ctx, "alpha")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	all, err := s.ListViolations(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSessions(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	sess := coderelay.Session{
		ID: "abc", Subject: "alpha", MemberID: "A1", AllowedPath: coderelay.PathTeam,
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.Session(ctx, "abc", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	_, err = s.Session(ctx, "abc", t0.Add(time.Hour))
	assert.ErrorIs(t, err, coderelay.ErrNotFound, "expired sessions are invisible")

	n, err := s.DeleteExpiredSessions(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
