package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"teamtacles/internal/config"
	"teamtacles/internal/domain"
	"teamtacles/internal/engine/auth"
	"teamtacles/internal/events"
	"teamtacles/internal/repo"
)

// ErrRoleNotSeeded means a USER or ADMIN role record is missing. It is a
// deployment fault, not a client error.
var ErrRoleNotSeeded = errors.New("role record not seeded")

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Hasher auth.Hasher
	Tokens auth.TokenService
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Tokens: auth.TokenService{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
			TTL:    time.Duration(cfg.Auth.TokenTTLSeconds) * time.Second,
		},
		Now: time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) ownerIsResponsible() bool {
	return e.Config == nil || e.Config.Policy.OwnerIsResponsible
}

// Resolver returns the identity resolver backed by this engine's repo.
func (e Engine) Resolver() auth.Resolver {
	return auth.Resolver{Users: e.Repo}
}

// SeedRoles makes sure every role singleton exists.
func (e Engine) SeedRoles(ctx context.Context) error {
	for _, name := range domain.RoleNames {
		if err := e.Repo.EnsureRole(ctx, nil, name); err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	return nil
}

func (e Engine) role(ctx context.Context, tx *sql.Tx, name domain.RoleName) (domain.Role, error) {
	role, err := e.Repo.GetRoleByName(ctx, tx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return role, fmt.Errorf("%w: %s", ErrRoleNotSeeded, name)
	}
	return role, err
}

// NormalizePage applies the default size and clamps out-of-range values.
func NormalizePage(page, size int) domain.PageRequest {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return domain.PageRequest{Page: page, Size: size}
}

func notFound(resource string, id int64) error {
	return domain.NotFoundError{Resource: resource, Message: fmt.Sprintf("%s %d not found", resource, id)}
}

// asNotFound turns a bare repo miss into a NotFoundError for resource.
func asNotFound(err error, resource string, id int64) error {
	var nf domain.NotFoundError
	if errors.Is(err, repo.ErrNotFound) && !errors.As(err, &nf) {
		return notFound(resource, id)
	}
	return err
}

func requireText(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return domain.ValidationError{Field: field, Message: "must not be blank"}
	}
	return maxText(field, value, max)
}

func maxText(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return domain.ValidationError{Field: field, Message: fmt.Sprintf("must not exceed %d characters", max)}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// withOwner returns ids with owner appended when it is missing.
func withOwner(ids []int64, owner int64) []int64 {
	for _, id := range ids {
		if id == owner {
			return ids
		}
	}
	return append(append([]int64{}, ids...), owner)
}

func dedupe(ids []int64) []int64 {
	seen := map[int64]bool{}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
