package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/oklog/ulid/v2"
)

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PICTURE_LIBRARY_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set PICTURE_LIBRARY_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func TestPostgresIntegrationRecategorizeIsOwnerScoped(t *testing.T) {
	store, err := NewStore(postgresIntegrationDSN(t))
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	// Unique labels keep reruns against a shared database independent.
	from := "it-from-" + ulid.Make().String()
	to := "it-to-" + ulid.Make().String()

	mine := &core.Asset{Name: "beaker", URL: "https://x/1.png", Category: from, Owner: "it-user-u"}
	theirs := &core.Asset{Name: "flask", URL: "https://x/2.png", Category: from, Owner: "it-user-v"}
	for _, a := range []*core.Asset{mine, theirs} {
		if err := store.InsertAsset(ctx, a); err != nil {
			t.Fatalf("InsertAsset() failed: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = store.DeleteAsset(ctx, mine.Owner, mine.ID)
		_, _ = store.DeleteAsset(ctx, theirs.Owner, theirs.ID)
	})

	n, err := store.RecategorizeOwned(ctx, "it-user-u", from, to)
	if err != nil {
		t.Fatalf("RecategorizeOwned() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("affected mismatch: got %d, want 1", n)
	}

	got, err := store.GetAsset(ctx, theirs.ID)
	if err != nil {
		t.Fatalf("GetAsset() failed: %v", err)
	}
	if got.Category != from {
		t.Errorf("other user's asset moved to %q", got.Category)
	}
}

func TestPostgresIntegrationProjectsNewestFirst(t *testing.T) {
	store, err := NewStore(postgresIntegrationDSN(t))
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	owner := "it-owner-" + ulid.Make().String()

	for i := 0; i < 2; i++ {
		p := &core.ProjectSnapshot{Name: "Trial-1", Owner: owner, Data: []byte(`{"store":{}}`)}
		if err := store.InsertProject(ctx, p); err != nil {
			t.Fatalf("InsertProject() failed: %v", err)
		}
		t.Cleanup(func() { _, _ = store.DeleteProject(ctx, owner, p.ID) })
	}

	projects, err := store.ListProjects(ctx, owner)
	if err != nil {
		t.Fatalf("ListProjects() failed: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].ID == projects[1].ID {
		t.Error("saves should produce distinct records")
	}
	if projects[0].CreatedAt.Before(projects[1].CreatedAt) {
		t.Error("projects are not newest first")
	}
}
