package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"teamtacles/internal/domain"
)

const taskColumns = `t.id, t.project_id, t.title, COALESCE(t.description,''), t.due_date, t.status, t.owner_id, ou.username, t.created_at, t.updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var due, status string
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &due, &status, &t.Owner.ID, &t.Owner.Username, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.Status(status)
	if t.DueDate, err = parseDue(due); err != nil {
		return t, fmt.Errorf("task %d due date: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	if t.CreatedAt == "" {
		t.CreatedAt = now()
	}
	if t.UpdatedAt == "" {
		t.UpdatedAt = t.CreatedAt
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(project_id,title,description,due_date,status,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.Title, t.Description, FormatDue(t.DueDate), string(t.Status), t.Owner.ID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return res.LastInsertId()
}

// GetTask loads a task with its owner and responsible users.
func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	q := r.q(tx)
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t JOIN users ou ON ou.id=t.owner_id WHERE t.id=?`, id))
	if err != nil {
		return t, err
	}
	tasks := []domain.Task{t}
	if err := r.loadResponsibles(ctx, q, tasks); err != nil {
		return t, err
	}
	return tasks[0], nil
}

// UpdateTask writes the mutable fields. Owner and project never change.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.UpdatedAt == "" {
		t.UpdatedAt = now()
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?, description=?, due_date=?, status=?, updated_at=? WHERE id=?`,
		t.Title, t.Description, FormatDue(t.DueDate), string(t.Status), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetTaskResponsibles replaces the responsible set with exactly userIDs.
func (r Repo) SetTaskResponsibles(ctx context.Context, tx *sql.Tx, taskID int64, userIDs []int64) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM task_responsibles WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, id := range userIDs {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO task_responsibles(task_id,user_id) VALUES (?,?)`, taskID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SearchTasks pages through tasks matching f ordered by id. Each task appears
// once even when several responsible rows match the member clause.
func (r Repo) SearchTasks(ctx context.Context, f TaskFilter, page domain.PageRequest) ([]domain.Task, int, error) {
	where, args := f.where()
	from := ` FROM tasks t
JOIN users ou ON ou.id=t.owner_id
LEFT JOIN task_responsibles tr ON tr.task_id=t.id` + where
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(DISTINCT t.id)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT `+taskColumns+from+` ORDER BY t.id LIMIT ? OFFSET ?`,
		append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tasks, total, r.loadResponsibles(ctx, r.DB, tasks)
}

func (r Repo) loadResponsibles(ctx context.Context, q querier, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	index := map[int64]int{}
	ids := make([]int64, 0, len(tasks))
	for i := range tasks {
		tasks[i].Responsible = []domain.UserRef{}
		index[tasks[i].ID] = i
		ids = append(ids, tasks[i].ID)
	}
	rows, err := q.QueryContext(ctx, `
SELECT tr.task_id, u.id, u.username FROM task_responsibles tr
JOIN users u ON u.id=tr.user_id
WHERE tr.task_id IN (`+placeholders(len(ids))+`)
ORDER BY u.id`, int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID int64
		var ref domain.UserRef
		if err := rows.Scan(&taskID, &ref.ID, &ref.Username); err != nil {
			return err
		}
		i := index[taskID]
		tasks[i].Responsible = append(tasks[i].Responsible, ref)
	}
	return rows.Err()
}
