package server

import (
	"time"

	"teamtacles/internal/domain"
	"teamtacles/internal/engine"
	"teamtacles/internal/engine/auth"
)

// Request payloads

type AuthenticateRequest struct {
	Username string `json:"username" minLength:"1" example:"john.doe"`
	Password string `json:"password" minLength:"1"`
}

type RegisterRequest struct {
	Username        string `json:"username" maxLength:"50" example:"john.doe"`
	Email           string `json:"email" maxLength:"250" example:"john.doe@example.com"`
	Password        string `json:"password" minLength:"5" maxLength:"72"`
	PasswordConfirm string `json:"password_confirm"`
}

type RoleRequest struct {
	Role string `json:"role" example:"ADMIN" doc:"USER or ADMIN, case-insensitive"`
}

type ProjectRequest struct {
	Title       string  `json:"title" maxLength:"50"`
	Description string  `json:"description,omitempty" maxLength:"50"`
	Team        []int64 `json:"team,omitempty" doc:"User ids; the creator is always a member. Omit to keep the current team on update."`
}

type ProjectPatchRequest struct {
	Title       *string `json:"title,omitempty" maxLength:"50"`
	Description *string `json:"description,omitempty" maxLength:"50"`
	Team        []int64 `json:"team,omitempty" doc:"Replaces the whole team when present"`
}

type CreateTaskRequest struct {
	Title       string    `json:"title" maxLength:"50"`
	Description string    `json:"description,omitempty" maxLength:"250"`
	DueDate     time.Time `json:"due_date" doc:"Must be in the future"`
	Status      string    `json:"status,omitempty" example:"TODO" doc:"TODO, INPROGRESS or DONE; defaults to TODO"`
	Responsible []int64   `json:"responsible,omitempty"`
}

type UpdateTaskRequest struct {
	Title       string    `json:"title" maxLength:"50"`
	Description string    `json:"description,omitempty" maxLength:"250"`
	DueDate     time.Time `json:"due_date"`
	Responsible []int64   `json:"responsible,omitempty" doc:"Omit to keep the current responsible users"`
}

type PatchTaskRequest struct {
	Title       *string    `json:"title,omitempty" maxLength:"50"`
	Description *string    `json:"description,omitempty" maxLength:"250"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      *string    `json:"status,omitempty" example:"INPROGRESS"`
	Responsible []int64    `json:"responsible,omitempty"`
}

// Query parameters

type PageParams struct {
	Page int `query:"page" minimum:"0" default:"0" doc:"0-based page number"`
	Size int `query:"size" minimum:"1" maximum:"200" default:"20"`
}

func (q PageParams) request() domain.PageRequest {
	return engine.NormalizePage(q.Page, q.Size)
}

type TaskFilterParams struct {
	Status    string `query:"status" doc:"TODO, INPROGRESS or DONE"`
	DueDate   string `query:"due_date" doc:"RFC3339 upper bound, inclusive"`
	ProjectID int64  `query:"project_id"`
}

func (q TaskFilterParams) taskQuery() (engine.TaskQuery, error) {
	var out engine.TaskQuery
	if q.Status != "" {
		out.Status = domain.Some(q.Status)
	}
	if q.DueDate != "" {
		due, err := time.Parse(time.RFC3339, q.DueDate)
		if err != nil {
			return out, domain.ValidationError{Field: "due_date", Message: "must be an RFC3339 timestamp"}
		}
		out.DueBefore = domain.Some(due)
	}
	if q.ProjectID != 0 {
		out.ProjectID = domain.Some(q.ProjectID)
	}
	return out, nil
}

// Responses

type UserRefResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type UserResponse struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at"`
}

type UserPageResponse struct {
	Items         []UserResponse `json:"items"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
	TotalElements int            `json:"total_elements"`
	TotalPages    int            `json:"total_pages"`
}

type TokenResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type" example:"Bearer"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

type MeResponse struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
}

type ProjectResponse struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Creator     UserRefResponse   `json:"creator"`
	Team        []UserRefResponse `json:"team"`
	CreatedAt   string            `json:"created_at"`
}

type ProjectPageResponse struct {
	Items         []ProjectResponse `json:"items"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int               `json:"total_elements"`
	TotalPages    int               `json:"total_pages"`
}

type TaskResponse struct {
	ID          int64             `json:"id"`
	ProjectID   int64             `json:"project_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	DueDate     time.Time         `json:"due_date"`
	Status      string            `json:"status"`
	Owner       UserRefResponse   `json:"owner"`
	Responsible []UserRefResponse `json:"responsible"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

type TaskPageResponse struct {
	Items         []TaskResponse `json:"items"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
	TotalElements int            `json:"total_elements"`
	TotalPages    int            `json:"total_pages"`
}

func userRefResponse(ref domain.UserRef) UserRefResponse {
	return UserRefResponse{ID: ref.ID, Username: ref.Username}
}

func userRefResponses(refs []domain.UserRef) []UserRefResponse {
	out := make([]UserRefResponse, 0, len(refs))
	for _, ref := range refs {
		out = append(out, userRefResponse(ref))
	}
	return out
}

func userResponse(u domain.User) UserResponse {
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, string(r.Name))
	}
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, Roles: roles, CreatedAt: u.CreatedAt}
}

func meResponse(p auth.Principal) MeResponse {
	return MeResponse{ID: p.UserID, Username: p.Username, Authorities: p.Authorities()}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Creator:     userRefResponse(p.Creator),
		Team:        userRefResponses(p.Team),
		CreatedAt:   p.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Status:      string(t.Status),
		Owner:       userRefResponse(t.Owner),
		Responsible: userRefResponses(t.Responsible),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func userPage(p domain.Page[domain.User]) UserPageResponse {
	items := make([]UserResponse, 0, len(p.Items))
	for _, u := range p.Items {
		items = append(items, userResponse(u))
	}
	return UserPageResponse{Items: items, Page: p.Page, Size: p.Size, TotalElements: p.TotalElements, TotalPages: p.TotalPages}
}

func projectPage(p domain.Page[domain.Project]) ProjectPageResponse {
	items := make([]ProjectResponse, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, projectResponse(item))
	}
	return ProjectPageResponse{Items: items, Page: p.Page, Size: p.Size, TotalElements: p.TotalElements, TotalPages: p.TotalPages}
}

func taskPage(p domain.Page[domain.Task]) TaskPageResponse {
	items := make([]TaskResponse, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, taskResponse(item))
	}
	return TaskPageResponse{Items: items, Page: p.Page, Size: p.Size, TotalElements: p.TotalElements, TotalPages: p.TotalPages}
}
