package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"teamtacles/internal/config"
	"teamtacles/internal/domain"
	"teamtacles/internal/engine/auth"
	"teamtacles/internal/events"
	"teamtacles/internal/repo"
)

// RegisterOptions are the fields of a self-service sign-up.
type RegisterOptions struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
}

func (o RegisterOptions) validate() error {
	if err := requireText("username", o.Username, 50); err != nil {
		return err
	}
	if err := requireText("email", o.Email, 250); err != nil {
		return err
	}
	if addr, err := mail.ParseAddress(o.Email); err != nil || addr.Address != o.Email {
		return domain.ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if strings.TrimSpace(o.Password) == "" {
		return domain.ValidationError{Field: "password", Message: "must not be blank"}
	}
	// bcrypt only reads the first 72 bytes.
	if n := len(o.Password); n < 5 || n > 72 {
		return domain.ValidationError{Field: "password", Message: "must contain between 5 and 72 characters"}
	}
	return nil
}

// Register creates a user holding exactly the USER role. Checks run in order:
// username taken, email taken, then password confirmation.
func (e Engine) Register(ctx context.Context, opts RegisterOptions) (domain.User, error) {
	opts.Username = strings.TrimSpace(opts.Username)
	opts.Email = strings.TrimSpace(opts.Email)
	if err := opts.validate(); err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if taken, err := e.Repo.UsernameExists(ctx, tx, opts.Username); err != nil {
		return domain.User{}, err
	} else if taken {
		return domain.User{}, domain.ConflictError{Field: "username", Message: "username already exists"}
	}
	if taken, err := e.Repo.EmailExists(ctx, tx, opts.Email); err != nil {
		return domain.User{}, err
	} else if taken {
		return domain.User{}, domain.ConflictError{Field: "email", Message: "email already exists"}
	}
	if opts.Password != opts.PasswordConfirm {
		return domain.User{}, domain.ValidationError{Field: "password_confirm", Message: "password and confirmation don't match"}
	}
	userRole, err := e.role(ctx, tx, domain.RoleUser)
	if err != nil {
		return domain.User{}, err
	}
	hash, err := e.Hasher.Hash(opts.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := e.Repo.InsertUser(ctx, tx, domain.User{
		Username:     opts.Username,
		Email:        opts.Email,
		PasswordHash: hash,
		CreatedAt:    e.stamp(),
	})
	if isUniqueViolation(err) {
		return domain.User{}, domain.ConflictError{Field: "username", Message: "username or email already exists"}
	}
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Repo.SetUserRoles(ctx, tx, id, []domain.Role{userRole}); err != nil {
		return domain.User{}, fmt.Errorf("assign role: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.register", "user", id, id, events.EventPayload{"username": opts.Username}); err != nil {
		return domain.User{}, err
	}
	u, err := e.Repo.GetUser(ctx, tx, id)
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      domain.User
}

// Authenticate checks a username (case-insensitive) and password and issues
// a token. Unknown users and wrong passwords fail the same way.
func (e Engine) Authenticate(ctx context.Context, username, password string) (Session, error) {
	u, err := e.Repo.GetUserByUsername(ctx, nil, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return Session{}, auth.AuthenticationError{Reason: "unknown username"}
	}
	if err != nil {
		return Session{}, err
	}
	ok, err := e.Hasher.Matches(u.PasswordHash, password)
	if err != nil {
		return Session{}, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return Session{}, auth.AuthenticationError{Reason: "password mismatch"}
	}
	return e.IssueToken(u)
}

// IssueToken signs a token for u without checking a password.
func (e Engine) IssueToken(u domain.User) (Session, error) {
	token, expires, err := e.Tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, User: u}, nil
}

// ExchangeRole replaces the target user's role set with exactly the named
// role. Only admins may call it.
func (e Engine) ExchangeRole(ctx context.Context, p auth.Principal, userID int64, roleName string) (domain.User, error) {
	if err := auth.EnsureAdmin(p); err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUser(ctx, tx, userID)
	if err != nil {
		return domain.User{}, asNotFound(err, "user", userID)
	}
	name, err := domain.ParseRoleName(roleName)
	if err != nil {
		return domain.User{}, err
	}
	role, err := e.role(ctx, tx, name)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Repo.SetUserRoles(ctx, tx, u.ID, []domain.Role{role}); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.role", "user", u.ID, p.UserID, events.EventPayload{
		"from": u.RoleNames(),
		"to":   name,
	}); err != nil {
		return domain.User{}, err
	}
	u, err = e.Repo.GetUser(ctx, tx, u.ID)
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, p auth.Principal, page domain.PageRequest) (domain.Page[domain.User], error) {
	if err := auth.EnsureAdmin(p); err != nil {
		return domain.Page[domain.User]{}, err
	}
	page = NormalizePage(page.Page, page.Size)
	users, total, err := e.Repo.ListUsers(ctx, page)
	if err != nil {
		return domain.Page[domain.User]{}, err
	}
	return domain.NewPage(users, page, total), nil
}

// GetUser is used by the CLI, which runs with full local authority.
func (e Engine) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, nil, id)
	return u, asNotFound(err, "user", id)
}

// EnsureBootstrapAdmin registers the configured admin if the username is
// free and grants it ADMIN. An existing account is left untouched.
func (e Engine) EnsureBootstrapAdmin(ctx context.Context, admin config.BootstrapAdmin) (domain.User, bool, error) {
	if !admin.Enabled() {
		return domain.User{}, false, nil
	}
	if existing, err := e.Repo.GetUserByUsername(ctx, nil, admin.Username); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, false, err
	}
	u, err := e.Register(ctx, RegisterOptions{
		Username:        admin.Username,
		Email:           admin.Email,
		Password:        admin.Password,
		PasswordConfirm: admin.Password,
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("register bootstrap admin: %w", err)
	}
	u, err = e.ExchangeRole(ctx, auth.Principal{Roles: []domain.RoleName{domain.RoleAdmin}}, u.ID, string(domain.RoleAdmin))
	if err != nil {
		return domain.User{}, false, fmt.Errorf("promote bootstrap admin: %w", err)
	}
	return u, true, nil
}
