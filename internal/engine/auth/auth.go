package auth

import (
	"fmt"
	"sort"

	"teamtacles/internal/domain"
)

// ForbiddenError indicates the principal lacks the capability for an action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("you do not have permission to %s", e.Action)
}

// AuthenticationError means the credentials or token could not be trusted.
// Reason is for logs only.
type AuthenticationError struct {
	Reason string
}

func (e AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// Principal is the authenticated caller. PasswordHash is carried for
// credential comparison only and never consulted by the predicates below.
type Principal struct {
	UserID       int64
	Username     string
	PasswordHash string
	Roles        []domain.RoleName
}

// Authorities derives "ROLE_<name>" strings from the roles held, sorted.
func (p Principal) Authorities() []string {
	out := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		out = append(out, "ROLE_"+string(r))
	}
	sort.Strings(out)
	return out
}

// PrincipalFor wraps a freshly loaded user.
func PrincipalFor(u domain.User) Principal {
	return Principal{
		UserID:       u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Roles:        u.RoleNames(),
	}
}

func HasAdminCapability(p Principal) bool {
	for _, r := range p.Roles {
		if r == domain.RoleAdmin {
			return true
		}
	}
	return false
}

func CanViewProject(p Principal, project domain.Project) bool {
	if HasAdminCapability(p) {
		return true
	}
	return containsUser(project.Team, p.UserID)
}

func EnsureCanViewProject(p Principal, project domain.Project) error {
	if !CanViewProject(p, project) {
		return ForbiddenError{Action: "view this project"}
	}
	return nil
}

func CanMutateProject(p Principal, project domain.Project) bool {
	return HasAdminCapability(p) || project.Creator.ID == p.UserID
}

func EnsureCanMutateProject(p Principal, project domain.Project) error {
	if !CanMutateProject(p, project) {
		return ForbiddenError{Action: "modify this project"}
	}
	return nil
}

// CanAccessTask covers reading and every kind of change to a task.
func CanAccessTask(p Principal, task domain.Task) bool {
	if HasAdminCapability(p) || task.Owner.ID == p.UserID {
		return true
	}
	return containsUser(task.Responsible, p.UserID)
}

func EnsureCanAccessTask(p Principal, task domain.Task) error {
	if !CanAccessTask(p, task) {
		return ForbiddenError{Action: "access this task"}
	}
	return nil
}

// EnsureTaskInProject reports a task addressed through another project as
// missing, for admins too.
func EnsureTaskInProject(task domain.Task, projectID int64) error {
	if task.ProjectID != projectID {
		return domain.NotFoundError{Resource: "task", Message: "task does not belong to the specified project"}
	}
	return nil
}

// EnsureAdmin guards admin-only operations such as role exchange.
func EnsureAdmin(p Principal) error {
	if !HasAdminCapability(p) {
		return ForbiddenError{Action: "manage users"}
	}
	return nil
}

func containsUser(refs []domain.UserRef, id int64) bool {
	for _, ref := range refs {
		if ref.ID == id {
			return true
		}
	}
	return false
}
