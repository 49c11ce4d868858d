package sqlite

import (
	"database/sql"
	"time"

	"github.com/krill-network/krill/internal/domain"
)

// ─── Task Summaries ─────────────────────────────────────────────────────────
// The DB implements domain.TaskStore for the lifecycle manager.

// UpsertTask writes the current summary of a task.
func (d *DB) UpsertTask(s domain.TaskSummary) error {
	_, err := d.db.Exec(
		`INSERT INTO tasks (id, name, kind, state, aborted, subtasks_count, completed, outstanding, progress, deadline, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			aborted = excluded.aborted,
			completed = excluded.completed,
			outstanding = excluded.outstanding,
			progress = excluded.progress`,
		s.TaskID, s.Name, string(s.Kind), string(s.State), s.Aborted,
		s.SubtasksCount, s.Completed, s.Outstanding, s.Progress,
		s.Deadline.Unix(), s.CreatedAt.Unix(),
	)
	return err
}

// GetTask reads one task summary.
func (d *DB) GetTask(taskID string) (*domain.TaskSummary, error) {
	row := d.db.QueryRow(
		`SELECT id, name, kind, state, aborted, subtasks_count, completed, outstanding, progress, deadline, created_at
		 FROM tasks WHERE id = ?`, taskID)
	s, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUnknownTask
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListTasks returns every stored summary, newest first.
func (d *DB) ListTasks() ([]domain.TaskSummary, error) {
	rows, err := d.db.Query(
		`SELECT id, name, kind, state, aborted, subtasks_count, completed, outstanding, progress, deadline, created_at
		 FROM tasks ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.TaskSummary
	for rows.Next() {
		s, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *s)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*domain.TaskSummary, error) {
	var (
		s         domain.TaskSummary
		deadline  int64
		createdAt int64
	)
	err := row.Scan(&s.TaskID, &s.Name, &s.Kind, &s.State, &s.Aborted,
		&s.SubtasksCount, &s.Completed, &s.Outstanding, &s.Progress,
		&deadline, &createdAt)
	if err != nil {
		return nil, err
	}
	s.Deadline = time.Unix(deadline, 0)
	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}

var _ domain.TaskStore = (*DB)(nil)
