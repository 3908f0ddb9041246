package engine

import (
	"context"
	"database/sql"
	"time"

	"teamtacles/internal/domain"
	"teamtacles/internal/engine/auth"
	"teamtacles/internal/events"
)

// TaskCreateOptions are parameters for creating a task. An empty Status
// means TODO.
type TaskCreateOptions struct {
	Title       string
	Description string
	DueDate     time.Time
	Status      string
	Responsible []int64
}

// TaskPatch changes only the fields that are set. A set Responsible
// replaces the whole responsible set.
type TaskPatch struct {
	Title       domain.Opt[string]
	Description domain.Opt[string]
	DueDate     domain.Opt[time.Time]
	Status      domain.Opt[string]
	Responsible domain.Opt[[]int64]
}

func validateTaskFields(title, description string) error {
	if err := requireText("title", title, 50); err != nil {
		return err
	}
	return maxText("description", description, 250)
}

func (e Engine) requireFuture(due time.Time) error {
	if due.IsZero() {
		return domain.ValidationError{Field: "due_date", Message: "is required"}
	}
	// stored due dates keep whole seconds only
	if !due.Truncate(time.Second).After(e.now()) {
		return domain.ValidationError{Field: "due_date", Message: "must be in the future"}
	}
	return nil
}

func (e Engine) responsibleIDs(ids []int64, owner int64) []int64 {
	ids = dedupe(ids)
	if e.ownerIsResponsible() {
		ids = withOwner(ids, owner)
	}
	return ids
}

// CreateTask adds a task to a project the caller can view. The caller
// becomes the owner.
func (e Engine) CreateTask(ctx context.Context, p auth.Principal, projectID int64, opts TaskCreateOptions) (domain.Task, error) {
	if err := validateTaskFields(opts.Title, opts.Description); err != nil {
		return domain.Task{}, err
	}
	if err := e.requireFuture(opts.DueDate); err != nil {
		return domain.Task{}, err
	}
	status := domain.StatusTodo
	if opts.Status != "" {
		parsed, err := domain.ParseStatus(opts.Status)
		if err != nil {
			return domain.Task{}, err
		}
		status = parsed
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	project, err := e.loadProject(ctx, tx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.EnsureCanViewProject(p, project); err != nil {
		return domain.Task{}, err
	}
	responsible := e.responsibleIDs(opts.Responsible, p.UserID)
	if _, err := e.Repo.UserRefs(ctx, tx, responsible); err != nil {
		return domain.Task{}, err
	}
	ts := e.stamp()
	id, err := e.Repo.InsertTask(ctx, tx, domain.Task{
		ProjectID:   projectID,
		Title:       opts.Title,
		Description: opts.Description,
		DueDate:     opts.DueDate,
		Status:      status,
		Owner:       domain.UserRef{ID: p.UserID, Username: p.Username},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	})
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.SetTaskResponsibles(ctx, tx, id, responsible); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.create", "task", id, p.UserID, events.EventPayload{
		"project_id": projectID,
		"title":      opts.Title,
		"status":     status,
	}); err != nil {
		return domain.Task{}, err
	}
	created, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	return created, tx.Commit()
}

// loadTask fetches a task addressed through projectID and checks that the
// caller may access it. The project check comes first so a task in another
// project is reported missing rather than forbidden.
func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, p auth.Principal, projectID, taskID int64) (domain.Task, error) {
	task, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, asNotFound(err, "task", taskID)
	}
	if err := auth.EnsureTaskInProject(task, projectID); err != nil {
		return domain.Task{}, err
	}
	if err := auth.EnsureCanAccessTask(p, task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (e Engine) GetTask(ctx context.Context, p auth.Principal, projectID, taskID int64) (domain.Task, error) {
	return e.loadTask(ctx, nil, p, projectID, taskID)
}

// UpdateTask replaces title, description and due date, and the responsible
// set when given. Status is changed through PatchTask.
func (e Engine) UpdateTask(ctx context.Context, p auth.Principal, projectID, taskID int64, title, description string, due time.Time, responsible domain.Opt[[]int64]) (domain.Task, error) {
	return e.PatchTask(ctx, p, projectID, taskID, TaskPatch{
		Title:       domain.Some(title),
		Description: domain.Some(description),
		DueDate:     domain.Some(due),
		Responsible: responsible,
	})
}

func (e Engine) PatchTask(ctx context.Context, p auth.Principal, projectID, taskID int64, patch TaskPatch) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	task, err := e.loadTask(ctx, tx, p, projectID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	from := task.Status
	changed := []string{}
	if title, ok := patch.Title.Get(); ok {
		task.Title = title
		changed = append(changed, "title")
	}
	if description, ok := patch.Description.Get(); ok {
		task.Description = description
		changed = append(changed, "description")
	}
	if err := validateTaskFields(task.Title, task.Description); err != nil {
		return domain.Task{}, err
	}
	if due, ok := patch.DueDate.Get(); ok {
		if err := e.requireFuture(due); err != nil {
			return domain.Task{}, err
		}
		task.DueDate = due
		changed = append(changed, "due_date")
	}
	if raw, ok := patch.Status.Get(); ok {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return domain.Task{}, err
		}
		task.Status = status
		changed = append(changed, "status")
	}
	task.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, task); err != nil {
		return domain.Task{}, err
	}
	if ids, ok := patch.Responsible.Get(); ok {
		ids = e.responsibleIDs(ids, task.Owner.ID)
		if _, err := e.Repo.UserRefs(ctx, tx, ids); err != nil {
			return domain.Task{}, err
		}
		if err := e.Repo.SetTaskResponsibles(ctx, tx, task.ID, ids); err != nil {
			return domain.Task{}, err
		}
		changed = append(changed, "responsible")
	}
	payload := events.EventPayload{"fields": changed}
	if task.Status != from {
		payload["from"] = from
		payload["to"] = task.Status
	}
	if err := e.Events.Append(ctx, tx, "task.update", "task", task.ID, p.UserID, payload); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Repo.GetTask(ctx, tx, task.ID)
	if err != nil {
		return domain.Task{}, err
	}
	return updated, tx.Commit()
}

func (e Engine) DeleteTask(ctx context.Context, p auth.Principal, projectID, taskID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, err := e.loadTask(ctx, tx, p, projectID, taskID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, task.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.delete", "task", task.ID, p.UserID, events.EventPayload{"project_id": projectID, "title": task.Title}); err != nil {
		return err
	}
	return tx.Commit()
}
