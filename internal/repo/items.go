package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tandem/internal/domain"
	"tandem/internal/schema"
)

const openStatuses = `status NOT IN ('done','canceled')`

func modeFor(own schema.Ownership, table string) schema.OwnershipMode {
	if table == "assignments" {
		return own.Assignments
	}
	return own.Tasks
}

func ownerArgs(n int, userID string) []any {
	args := make([]any, 0, n)
	for i := 0; i < n; i++ {
		args = append(args, userID)
	}
	return args
}

func scanItems(rows *sql.Rows, kind string) ([]domain.WorkItem, error) {
	var res []domain.WorkItem
	for rows.Next() {
		var it domain.WorkItem
		var deadline sql.NullString
		if err := rows.Scan(&it.ID, &it.Title, &deadline, &it.Priority, &it.Status); err != nil {
			return nil, err
		}
		it.Kind = kind
		if deadline.Valid {
			if t, err := parseTS(deadline.String); err == nil {
				it.Deadline = &t
			}
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// OpenItemsDueBetween returns the user's open tasks and assignments with a
// deadline inside [from, to], ordered by deadline ascending.
func (r Repo) OpenItemsDueBetween(ctx context.Context, own schema.Ownership, userID string, from, to time.Time) ([]domain.WorkItem, error) {
	var all []domain.WorkItem
	for _, table := range []string{"tasks", "assignments"} {
		clause, n := modeFor(own, table).Clause()
		query := fmt.Sprintf(`SELECT id,title,deadline,priority,status FROM %s
			WHERE %s AND %s AND deadline IS NOT NULL AND deadline>=? AND deadline<=?
			ORDER BY deadline ASC`, table, openStatuses, clause)
		args := ownerArgs(n, userID)
		args = append(args, from.UTC().Format(tsFormat), to.UTC().Format(tsFormat))
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		items, err := scanItems(rows, kindFor(table))
		rows.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	sortByDeadline(all)
	return all, nil
}

func kindFor(table string) string {
	if table == "assignments" {
		return "assignment"
	}
	return "task"
}

func sortByDeadline(items []domain.WorkItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			a, b := items[j-1].Deadline, items[j].Deadline
			if a != nil && b != nil && b.Before(*a) {
				items[j-1], items[j] = items[j], items[j-1]
			} else {
				break
			}
		}
	}
}

// CountOpenItems counts every open item owned by the user, deadline or not.
func (r Repo) CountOpenItems(ctx context.Context, own schema.Ownership, userID string) (int, error) {
	total := 0
	for _, table := range []string{"tasks", "assignments"} {
		clause, n := modeFor(own, table).Clause()
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s AND %s`, table, openStatuses, clause)
		var c int
		if err := r.DB.QueryRowContext(ctx, query, ownerArgs(n, userID)...).Scan(&c); err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// CountOpenDueBetween counts open items with a deadline inside [from, to].
func (r Repo) CountOpenDueBetween(ctx context.Context, own schema.Ownership, userID string, from, to time.Time) (int, error) {
	total := 0
	for _, table := range []string{"tasks", "assignments"} {
		clause, n := modeFor(own, table).Clause()
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s
			WHERE %s AND %s AND deadline IS NOT NULL AND deadline>=? AND deadline<=?`,
			table, openStatuses, clause)
		args := ownerArgs(n, userID)
		args = append(args, from.UTC().Format(tsFormat), to.UTC().Format(tsFormat))
		var c int
		if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&c); err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// CountCompletedBetween counts items completed inside [from, to].
func (r Repo) CountCompletedBetween(ctx context.Context, own schema.Ownership, userID string, from, to time.Time) (int, error) {
	total := 0
	for _, table := range []string{"tasks", "assignments"} {
		clause, n := modeFor(own, table).Clause()
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s
			WHERE status='done' AND %s AND completed_at IS NOT NULL AND completed_at>=? AND completed_at<=?`,
			table, clause)
		args := ownerArgs(n, userID)
		args = append(args, from.UTC().Format(tsFormat), to.UTC().Format(tsFormat))
		var c int
		if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&c); err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// NearestDeadlineOpenItem returns the open item whose deadline is closest,
// considering deadlines at or after the floor. ErrNotFound when none.
func (r Repo) NearestDeadlineOpenItem(ctx context.Context, own schema.Ownership, userID string, floor time.Time) (domain.WorkItem, error) {
	var best *domain.WorkItem
	for _, table := range []string{"tasks", "assignments"} {
		clause, n := modeFor(own, table).Clause()
		query := fmt.Sprintf(`SELECT id,title,deadline,priority,status FROM %s
			WHERE %s AND %s AND deadline IS NOT NULL AND deadline>=?
			ORDER BY deadline ASC LIMIT 1`, table, openStatuses, clause)
		args := ownerArgs(n, userID)
		args = append(args, floor.UTC().Format(tsFormat))
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return domain.WorkItem{}, err
		}
		items, err := scanItems(rows, kindFor(table))
		rows.Close()
		if err != nil {
			return domain.WorkItem{}, err
		}
		if len(items) == 0 {
			continue
		}
		it := items[0]
		if best == nil || (it.Deadline != nil && best.Deadline != nil && it.Deadline.Before(*best.Deadline)) {
			best = &it
		}
	}
	if best == nil {
		return domain.WorkItem{}, ErrNotFound
	}
	return *best, nil
}

// GetWorkItem fetches one item by kind ("task"/"assignment") and id.
func (r Repo) GetWorkItem(ctx context.Context, kind, id string) (domain.WorkItem, error) {
	table := "tasks"
	if kind == "assignment" {
		table = "assignments"
	}
	query := fmt.Sprintf(`SELECT id,title,deadline,priority,status FROM %s WHERE id=?`, table)
	rows, err := r.DB.QueryContext(ctx, query, id)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer rows.Close()
	items, err := scanItems(rows, kindFor(table))
	if err != nil {
		return domain.WorkItem{}, err
	}
	if len(items) == 0 {
		return domain.WorkItem{}, ErrNotFound
	}
	return items[0], nil
}

// InsertWorkItem writes a task or assignment row; used by seeding and tests.
func (r Repo) InsertWorkItem(ctx context.Context, item domain.WorkItem, assignedTo, createdBy string, createdAt time.Time) error {
	table := "tasks"
	if item.Kind == "assignment" {
		table = "assignments"
	}
	query := fmt.Sprintf(`INSERT INTO %s(id,title,deadline,priority,status,assigned_to,created_by,created_at)
		VALUES (?,?,?,?,?,?,?,?)`, table)
	_, err := r.DB.ExecContext(ctx, query,
		item.ID, item.Title, nullableTime(item.Deadline), item.Priority, item.Status,
		nullable(assignedTo), nullable(createdBy), createdAt.UTC().Format(tsFormat))
	return err
}

// CompleteWorkItem marks an item done; used by seeding and tests.
func (r Repo) CompleteWorkItem(ctx context.Context, kind, id string, at time.Time) error {
	table := "tasks"
	if kind == "assignment" {
		table = "assignments"
	}
	query := fmt.Sprintf(`UPDATE %s SET status='done', completed_at=? WHERE id=?`, table)
	res, err := r.DB.ExecContext(ctx, query, at.UTC().Format(tsFormat), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
