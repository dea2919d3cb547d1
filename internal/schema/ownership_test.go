package schema_test

import (
	"context"
	"database/sql"
	"testing"

	"tandem/internal/db"
	"tandem/internal/schema"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestProbeDetectsColumnShapes(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		schema string
		want   schema.OwnershipMode
	}{
		{"both columns", `CREATE TABLE tasks (id TEXT, assigned_to TEXT, created_by TEXT)`, schema.Either},
		{"assigned only", `CREATE TABLE tasks (id TEXT, assigned_to TEXT)`, schema.AssignedToOnly},
		{"created only", `CREATE TABLE tasks (id TEXT, created_by TEXT)`, schema.CreatedByOnly},
		{"neither", `CREATE TABLE tasks (id TEXT, title TEXT)`, schema.Broadcast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := openRaw(t)
			if _, err := conn.ExecContext(ctx, tc.schema); err != nil {
				t.Fatal(err)
			}
			own := schema.Probe(ctx, conn)
			if own.Tasks != tc.want {
				t.Fatalf("tasks mode = %v, want %v", own.Tasks, tc.want)
			}
		})
	}
}

func TestProbeMissingTableBroadcasts(t *testing.T) {
	conn := openRaw(t)
	own := schema.Probe(context.Background(), conn)
	if own.Tasks != schema.Broadcast || own.Assignments != schema.Broadcast {
		t.Fatalf("expected broadcast on empty database, got %+v", own)
	}
}

func TestClauseBindCounts(t *testing.T) {
	cases := []struct {
		mode   schema.OwnershipMode
		clause string
		binds  int
	}{
		{schema.Broadcast, "1=1", 0},
		{schema.AssignedToOnly, "assigned_to = ?", 1},
		{schema.CreatedByOnly, "created_by = ?", 1},
		{schema.Either, "(assigned_to = ? OR created_by = ?)", 2},
	}
	for _, tc := range cases {
		clause, binds := tc.mode.Clause()
		if clause != tc.clause || binds != tc.binds {
			t.Errorf("%v.Clause() = %q/%d, want %q/%d", tc.mode, clause, binds, tc.clause, tc.binds)
		}
	}
}
