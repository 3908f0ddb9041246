package engine

import (
	"context"
	"time"

	"teamtacles/internal/domain"
	"teamtacles/internal/engine/auth"
	"teamtacles/internal/repo"
)

// TaskQuery holds the caller-supplied listing filters. Status is the raw
// string so that an unknown value fails instead of matching nothing.
type TaskQuery struct {
	Status    domain.Opt[string]
	DueBefore domain.Opt[time.Time]
	ProjectID domain.Opt[int64]
}

// composeFilter validates q and scopes it to the caller. Non-admins only see
// tasks they own or are responsible for. A project filter must name a
// project the caller can view.
func (e Engine) composeFilter(ctx context.Context, p auth.Principal, q TaskQuery) (repo.TaskFilter, error) {
	var f repo.TaskFilter
	if raw, ok := q.Status.Get(); ok {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = domain.Some(status)
	}
	f.DueBefore = q.DueBefore
	if projectID, ok := q.ProjectID.Get(); ok {
		project, err := e.loadProject(ctx, nil, projectID)
		if err != nil {
			return f, err
		}
		if err := auth.EnsureCanViewProject(p, project); err != nil {
			return f, err
		}
		f.ProjectID = q.ProjectID
	}
	if !auth.HasAdminCapability(p) {
		f.MemberID = domain.Some(p.UserID)
	}
	return f, nil
}

func (e Engine) SearchTasks(ctx context.Context, p auth.Principal, q TaskQuery, page domain.PageRequest) (domain.Page[domain.Task], error) {
	f, err := e.composeFilter(ctx, p, q)
	if err != nil {
		return domain.Page[domain.Task]{}, err
	}
	page = NormalizePage(page.Page, page.Size)
	tasks, total, err := e.Repo.SearchTasks(ctx, f, page)
	if err != nil {
		return domain.Page[domain.Task]{}, err
	}
	return domain.NewPage(tasks, page, total), nil
}

// SearchProjects lists projects holding at least one task that the same
// filters would return.
func (e Engine) SearchProjects(ctx context.Context, p auth.Principal, q TaskQuery, page domain.PageRequest) (domain.Page[domain.Project], error) {
	f, err := e.composeFilter(ctx, p, q)
	if err != nil {
		return domain.Page[domain.Project]{}, err
	}
	page = NormalizePage(page.Page, page.Size)
	projects, total, err := e.Repo.SearchProjects(ctx, f, page)
	if err != nil {
		return domain.Page[domain.Project]{}, err
	}
	return domain.NewPage(projects, page, total), nil
}

// ListUserTasksInProject returns tasks in a project that userID owns or is
// responsible for. Non-admins may only ask about themselves.
func (e Engine) ListUserTasksInProject(ctx context.Context, p auth.Principal, projectID, userID int64, page domain.PageRequest) (domain.Page[domain.Task], error) {
	project, err := e.loadProject(ctx, nil, projectID)
	if err != nil {
		return domain.Page[domain.Task]{}, err
	}
	if !auth.HasAdminCapability(p) && p.UserID != userID {
		return domain.Page[domain.Task]{}, auth.ForbiddenError{Action: "view another user's tasks"}
	}
	if _, err := e.Repo.UserRefs(ctx, nil, []int64{userID}); err != nil {
		return domain.Page[domain.Task]{}, err
	}
	if err := auth.EnsureCanViewProject(p, project); err != nil {
		return domain.Page[domain.Task]{}, err
	}
	page = NormalizePage(page.Page, page.Size)
	tasks, total, err := e.Repo.SearchTasks(ctx, repo.TaskFilter{
		ProjectID: domain.Some(projectID),
		MemberID:  domain.Some(userID),
	}, page)
	if err != nil {
		return domain.Page[domain.Task]{}, err
	}
	return domain.NewPage(tasks, page, total), nil
}
