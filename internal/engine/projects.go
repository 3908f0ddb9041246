package engine

import (
	"context"
	"database/sql"

	"teamtacles/internal/domain"
	"teamtacles/internal/engine/auth"
	"teamtacles/internal/events"
)

type ProjectCreateOptions struct {
	Title       string
	Description string
	Team        []int64
}

// ProjectPatch changes only the fields that are set. A set Team replaces the
// whole team; the creator is always kept.
type ProjectPatch struct {
	Title       domain.Opt[string]
	Description domain.Opt[string]
	Team        domain.Opt[[]int64]
}

func validateProjectFields(title, description string) error {
	if err := requireText("title", title, 50); err != nil {
		return err
	}
	return maxText("description", description, 50)
}

// CreateProject makes the caller the creator and a team member.
func (e Engine) CreateProject(ctx context.Context, p auth.Principal, opts ProjectCreateOptions) (domain.Project, error) {
	if err := validateProjectFields(opts.Title, opts.Description); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	team := withOwner(dedupe(opts.Team), p.UserID)
	if _, err := e.Repo.UserRefs(ctx, tx, team); err != nil {
		return domain.Project{}, err
	}
	id, err := e.Repo.InsertProject(ctx, tx, domain.Project{
		Title:       opts.Title,
		Description: opts.Description,
		Creator:     domain.UserRef{ID: p.UserID, Username: p.Username},
		CreatedAt:   e.stamp(),
	})
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.SetProjectTeam(ctx, tx, id, team); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.create", "project", id, p.UserID, events.EventPayload{"title": opts.Title, "team": team}); err != nil {
		return domain.Project{}, err
	}
	created, err := e.Repo.GetProject(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	return created, tx.Commit()
}

func (e Engine) loadProject(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, tx, id)
	return project, asNotFound(err, "project", id)
}

func (e Engine) GetProject(ctx context.Context, p auth.Principal, id int64) (domain.Project, error) {
	project, err := e.loadProject(ctx, nil, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.EnsureCanViewProject(p, project); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

// ListProjects returns every project to admins and the caller's team
// projects to everyone else.
func (e Engine) ListProjects(ctx context.Context, p auth.Principal, page domain.PageRequest) (domain.Page[domain.Project], error) {
	page = NormalizePage(page.Page, page.Size)
	member := domain.Some(p.UserID)
	if auth.HasAdminCapability(p) {
		member = domain.None[int64]()
	}
	projects, total, err := e.Repo.ListProjects(ctx, member, page)
	if err != nil {
		return domain.Page[domain.Project]{}, err
	}
	return domain.NewPage(projects, page, total), nil
}

// UpdateProject replaces title and description, and the team when given.
func (e Engine) UpdateProject(ctx context.Context, p auth.Principal, id int64, title, description string, team domain.Opt[[]int64]) (domain.Project, error) {
	return e.PatchProject(ctx, p, id, ProjectPatch{
		Title:       domain.Some(title),
		Description: domain.Some(description),
		Team:        team,
	})
}

func (e Engine) PatchProject(ctx context.Context, p auth.Principal, id int64, patch ProjectPatch) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	project, err := e.loadProject(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.EnsureCanMutateProject(p, project); err != nil {
		return domain.Project{}, err
	}
	changed := []string{}
	if title, ok := patch.Title.Get(); ok {
		project.Title = title
		changed = append(changed, "title")
	}
	if description, ok := patch.Description.Get(); ok {
		project.Description = description
		changed = append(changed, "description")
	}
	if err := validateProjectFields(project.Title, project.Description); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpdateProject(ctx, tx, project); err != nil {
		return domain.Project{}, err
	}
	if team, ok := patch.Team.Get(); ok {
		team = withOwner(dedupe(team), project.Creator.ID)
		if _, err := e.Repo.UserRefs(ctx, tx, team); err != nil {
			return domain.Project{}, err
		}
		if err := e.Repo.SetProjectTeam(ctx, tx, id, team); err != nil {
			return domain.Project{}, err
		}
		changed = append(changed, "team")
	}
	if err := e.Events.Append(ctx, tx, "project.update", "project", id, p.UserID, events.EventPayload{"fields": changed}); err != nil {
		return domain.Project{}, err
	}
	updated, err := e.Repo.GetProject(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	return updated, tx.Commit()
}

// DeleteProject removes the project and, through the schema, its tasks.
func (e Engine) DeleteProject(ctx context.Context, p auth.Principal, id int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	project, err := e.loadProject(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := auth.EnsureCanMutateProject(p, project); err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.delete", "project", id, p.UserID, events.EventPayload{"title": project.Title}); err != nil {
		return err
	}
	return tx.Commit()
}
