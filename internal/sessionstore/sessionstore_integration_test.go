//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/sessionstore/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package sessionstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/apexdata/pitwall/internal/metatext"
	"github.com/apexdata/pitwall/internal/sessionstore"
)

func setupStore(t *testing.T) (*sessionstore.Store, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("pitwall_test"),
		tcpostgres.WithUsername("pitwall"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	store, err := sessionstore.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("sessionstore.New: %v", err)
	}

	cleanup := func() {
		store.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return store, cleanup
}

func testTree(track string) *metatext.SessionTree {
	tree := &metatext.SessionTree{}
	tree.WeekendInfo.TrackName = track
	tree.WeekendInfo.TrackDisplayName = track + " Raceway"
	return tree
}

func TestSaveAndByTrack(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.Save(ctx, testTree("sebring"), time.Now().UTC())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == 0 {
		t.Fatal("Save returned id 0")
	}

	found, err := store.ByTrack(ctx, "sebring")
	if err != nil {
		t.Fatalf("ByTrack: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("ByTrack results = %d, want 1", len(found))
	}
	if found[0].Tree.WeekendInfo.TrackDisplayName != "sebring Raceway" {
		t.Errorf("TrackDisplayName = %q", found[0].Tree.WeekendInfo.TrackDisplayName)
	}
}

func TestRecentOrdersByRecordedAtDesc(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC()
	if _, err := store.Save(ctx, testTree("monza"), base); err != nil {
		t.Fatalf("Save (1): %v", err)
	}
	if _, err := store.Save(ctx, testTree("spa"), base.Add(time.Minute)); err != nil {
		t.Fatalf("Save (2): %v", err)
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent results = %d, want 2", len(recent))
	}
	if recent[0].TrackName != "spa" {
		t.Errorf("most recent track = %q, want spa", recent[0].TrackName)
	}
}
