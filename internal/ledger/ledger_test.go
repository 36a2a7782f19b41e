package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/ledger"
	"github.com/binarybattles/coderelay/internal/store/storetest"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	s := storetest.New(t)
	storetest.AddTeam(t, s, "alpha", "A1", "A2")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return ledger.New(s, logger, nil, func() time.Time { return now })
}

func TestViolationsNeverBan(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		n, err := l.RecordViolation(ctx, "alpha", "tab_switch", "left the page")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	banned, err := l.IsBanned(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, banned)

	counts, err := l.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, counts["alpha"])

	_, err = l.RecordViolation(ctx, "alpha", " ", "")
	assert.ErrorIs(t, err, coderelay.ErrValidation)
}

func TestBanUnban(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Ban(ctx, "alpha"))
	assert.ErrorIs(t, l.Ban(ctx, "alpha"), coderelay.ErrConflict)

	banned, err := l.IsBanned(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, l.Unban(ctx, "alpha"))
	assert.ErrorIs(t, l.Unban(ctx, "alpha"), coderelay.ErrConflict)
	assert.ErrorIs(t, l.Ban(ctx, "ghost"), coderelay.ErrNotFound)
}

func TestClearViolations(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	_, err := l.RecordViolation(ctx, "alpha", "copy_paste", "")
	require.NoError(t, err)

	n, err := l.Clear(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	list, err := l.Violations(ctx, "alpha", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
