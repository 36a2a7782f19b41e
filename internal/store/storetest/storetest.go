// Package storetest opens migrated in-memory stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/database"
	"github.com/binarybattles/coderelay/internal/migrations"
	"github.com/binarybattles/coderelay/internal/store"
)

// New returns a Store over a fresh in-memory database with the schema
// applied. The database is closed when the test ends.
func New(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.RunContext(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db, opts...)
}

// AddTeam creates a non-admin team whose members have the given ids.
func AddTeam(t testing.TB, s *store.Store, name string, memberIDs ...string) {
	t.Helper()
	members := make([]coderelay.Member, len(memberIDs))
	for i, id := range memberIDs {
		members[i] = coderelay.Member{ID: id, Name: "Member " + id}
	}
	if err := s.CreateTeam(context.Background(), store.NewTeam{Name: name, Members: members}); err != nil {
		t.Fatalf("create team %q: %v", name, err)
	}
}
