package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"teamtacles/internal/domain"
)

const projectColumns = `p.id, p.title, COALESCE(p.description,''), p.creator_id, cu.username, p.created_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Creator.ID, &p.Creator.Username, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) (int64, error) {
	if p.CreatedAt == "" {
		p.CreatedAt = now()
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(title,description,creator_id,created_at) VALUES (?,?,?,?)`,
		p.Title, p.Description, p.Creator.ID, p.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return res.LastInsertId()
}

// GetProject loads a project with its creator and team.
func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	q := r.q(tx)
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p JOIN users cu ON cu.id=p.creator_id WHERE p.id=?`, id))
	if err != nil {
		return p, err
	}
	projects := []domain.Project{p}
	if err := r.loadTeams(ctx, q, projects); err != nil {
		return p, err
	}
	return projects[0], nil
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET title=?, description=? WHERE id=?`, p.Title, p.Description, p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetProjectTeam replaces the team with exactly userIDs.
func (r Repo) SetProjectTeam(ctx context.Context, tx *sql.Tx, projectID int64, userIDs []int64) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM project_team WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, id := range userIDs {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO project_team(project_id,user_id) VALUES (?,?)`, projectID, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteProject removes the project; its team rows and tasks cascade.
func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListProjects pages through all projects, or only those whose team contains
// memberID when it is set.
func (r Repo) ListProjects(ctx context.Context, memberID domain.Opt[int64], page domain.PageRequest) ([]domain.Project, int, error) {
	from := ` FROM projects p JOIN users cu ON cu.id=p.creator_id`
	var args []any
	if id, ok := memberID.Get(); ok {
		from += ` JOIN project_team pt ON pt.project_id=p.id WHERE pt.user_id=?`
		args = append(args, id)
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	projects, err := r.queryProjects(ctx, `SELECT `+projectColumns+from+` ORDER BY p.id LIMIT ? OFFSET ?`,
		append(args, page.Size, page.Offset())...)
	return projects, total, err
}

// SearchProjects pages through projects holding at least one task that
// matches f. A project is listed once however many of its tasks match.
func (r Repo) SearchProjects(ctx context.Context, f TaskFilter, page domain.PageRequest) ([]domain.Project, int, error) {
	where, args := f.where()
	from := ` FROM projects p
JOIN users cu ON cu.id=p.creator_id
JOIN tasks t ON t.project_id=p.id
LEFT JOIN task_responsibles tr ON tr.task_id=t.id` + where
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(DISTINCT p.id)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	projects, err := r.queryProjects(ctx, `SELECT DISTINCT `+projectColumns+from+` ORDER BY p.id LIMIT ? OFFSET ?`,
		append(args, page.Size, page.Offset())...)
	return projects, total, err
}

func (r Repo) queryProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		projects = append(projects, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, r.loadTeams(ctx, r.DB, projects)
}

func (r Repo) loadTeams(ctx context.Context, q querier, projects []domain.Project) error {
	if len(projects) == 0 {
		return nil
	}
	index := map[int64]int{}
	ids := make([]int64, 0, len(projects))
	for i := range projects {
		projects[i].Team = []domain.UserRef{}
		index[projects[i].ID] = i
		ids = append(ids, projects[i].ID)
	}
	rows, err := q.QueryContext(ctx, `
SELECT pt.project_id, u.id, u.username FROM project_team pt
JOIN users u ON u.id=pt.user_id
WHERE pt.project_id IN (`+placeholders(len(ids))+`)
ORDER BY u.id`, int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var projectID int64
		var ref domain.UserRef
		if err := rows.Scan(&projectID, &ref.ID, &ref.Username); err != nil {
			return err
		}
		i := index[projectID]
		projects[i].Team = append(projects[i].Team, ref)
	}
	return rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
