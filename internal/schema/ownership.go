// Package schema probes the surrounding store for the ownership columns this
// deployment actually has. Older databases carry only created_by, newer ones
// only assigned_to, current ones both. The probe runs once at startup and
// the result is threaded through explicitly; nothing re-probes per query.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// OwnershipMode is the resolved ownership strategy for a table.
type OwnershipMode int

const (
	// Broadcast means no ownership column exists: every row is visible to
	// every known user. Also the degraded mode when probing fails.
	Broadcast OwnershipMode = iota
	AssignedToOnly
	CreatedByOnly
	Either
)

func (m OwnershipMode) String() string {
	switch m {
	case AssignedToOnly:
		return "assigned_to"
	case CreatedByOnly:
		return "created_by"
	case Either:
		return "either"
	default:
		return "broadcast"
	}
}

// Ownership holds the per-table modes the probe resolved.
type Ownership struct {
	Tasks       OwnershipMode
	Assignments OwnershipMode
}

// Clause renders the ownership predicate for one table. It returns the SQL
// fragment and the number of times the user id must be bound.
func (m OwnershipMode) Clause() (string, int) {
	switch m {
	case AssignedToOnly:
		return "assigned_to = ?", 1
	case CreatedByOnly:
		return "created_by = ?", 1
	case Either:
		return "(assigned_to = ? OR created_by = ?)", 2
	default:
		return "1=1", 0
	}
}

// Probe inspects both item tables once. A failed column check degrades that
// table to Broadcast rather than failing the pass.
func Probe(ctx context.Context, db *sql.DB) Ownership {
	return Ownership{
		Tasks:       probeTable(ctx, db, "tasks"),
		Assignments: probeTable(ctx, db, "assignments"),
	}
}

func probeTable(ctx context.Context, db *sql.DB, table string) OwnershipMode {
	hasAssigned, errA := hasColumn(ctx, db, table, "assigned_to")
	hasCreated, errC := hasColumn(ctx, db, table, "created_by")
	if errA != nil || errC != nil {
		return Broadcast
	}
	switch {
	case hasAssigned && hasCreated:
		return Either
	case hasAssigned:
		return AssignedToOnly
	case hasCreated:
		return CreatedByOnly
	default:
		return Broadcast
	}
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM pragma_table_info(%q) WHERE name = ?`, table)
	if err := db.QueryRowContext(ctx, query, column).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
