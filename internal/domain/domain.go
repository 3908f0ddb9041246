package domain

import (
	"fmt"
	"strings"
	"time"
)

// RoleName is the closed set of capabilities a user can hold.
type RoleName string

const (
	RoleUser  RoleName = "USER"
	RoleAdmin RoleName = "ADMIN"
)

// RoleNames lists every role in seeding order.
var RoleNames = []RoleName{RoleUser, RoleAdmin}

// ParseRoleName matches a role case-insensitively.
func ParseRoleName(raw string) (RoleName, error) {
	candidate := RoleName(strings.ToUpper(strings.TrimSpace(raw)))
	for _, r := range RoleNames {
		if r == candidate {
			return r, nil
		}
	}
	return "", ValidationError{Field: "role", Message: fmt.Sprintf("%q is not a valid role (USER, ADMIN)", raw)}
}

type Role struct {
	ID   int64    `json:"id"`
	Name RoleName `json:"name" enum:"USER,ADMIN"`
}

// Status of a task. Transitions between values are unconstrained.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "INPROGRESS"
	StatusDone       Status = "DONE"
)

var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// ParseStatus validates a status string. An empty string is not "absent" here;
// callers decide absence before parsing.
func ParseStatus(raw string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range Statuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a valid status (TODO, INPROGRESS, DONE)", raw)}
}

// UserRef is the slice of a user that other entities carry around.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Roles        []Role `json:"roles"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}

// RoleNames returns the names of the roles currently held.
func (u User) RoleNames() []RoleName {
	names := make([]RoleName, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

type Project struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Creator     UserRef   `json:"creator"`
	Team        []UserRef `json:"team"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     time.Time `json:"due_date"`
	Status      Status    `json:"status"`
	Owner       UserRef   `json:"owner"`
	Responsible []UserRef `json:"responsible"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	UpdatedAt   string    `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PageRequest is a 0-based page number and a page size.
type PageRequest struct {
	Page int
	Size int
}

func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

type Page[T any] struct {
	Items         []T `json:"items"`
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"total_elements"`
	TotalPages    int `json:"total_pages"`
}

// NewPage fills in the totals for a slice of results.
func NewPage[T any](items []T, req PageRequest, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = (total + req.Size - 1) / req.Size
	}
	return Page[T]{
		Items:         items,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    pages,
	}
}

// Opt is a filter value that is either present or absent.
type Opt[T any] struct {
	Value T
	Set   bool
}

func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Set: true}
}

func None[T any]() Opt[T] {
	return Opt[T]{}
}

func (o Opt[T]) Get() (T, bool) {
	return o.Value, o.Set
}
