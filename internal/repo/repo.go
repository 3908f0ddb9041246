package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"teamtacles/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs inside tx when one is given, otherwise directly on the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

// UsernameKey is the case-folded form usernames are unique and looked up by.
func UsernameKey(username string) string {
	return cases.Fold().String(username)
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) (int64, error) {
	if u.CreatedAt == "" {
		u.CreatedAt = now()
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(username,username_key,email,password_hash,created_at) VALUES (?,?,?,?,?)`,
		u.Username, UsernameKey(u.Username), u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

const userColumns = `id,username,email,password_hash,created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// GetUser loads a user and its current roles.
func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if err != nil {
		return u, err
	}
	u.Roles, err = r.userRoles(ctx, r.q(tx), u.ID)
	return u, err
}

// GetUserByUsername matches the username case-insensitively.
func (r Repo) GetUserByUsername(ctx context.Context, tx *sql.Tx, username string) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username_key=?`, UsernameKey(username)))
	if err != nil {
		return u, err
	}
	u.Roles, err = r.userRoles(ctx, r.q(tx), u.ID)
	return u, err
}

func (r Repo) UsernameExists(ctx context.Context, tx *sql.Tx, username string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM users WHERE username_key=? LIMIT 1`, UsernameKey(username))
}

func (r Repo) EmailExists(ctx context.Context, tx *sql.Tx, email string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM users WHERE email=? LIMIT 1`, email)
}

func (r Repo) exists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, query, args...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListUsers returns one page of users ordered by id, with the total count.
func (r Repo) ListUsers(ctx context.Context, page domain.PageRequest) ([]domain.User, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range users {
		if users[i].Roles, err = r.userRoles(ctx, r.DB, users[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return users, total, nil
}

// UserRefs resolves ids in the given order. The first id with no user yields
// a NotFoundError naming it.
func (r Repo) UserRefs(ctx context.Context, tx *sql.Tx, ids []int64) ([]domain.UserRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,username FROM users WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[int64]domain.UserRef{}
	for rows.Next() {
		var ref domain.UserRef
		if err := rows.Scan(&ref.ID, &ref.Username); err != nil {
			return nil, err
		}
		found[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs := make([]domain.UserRef, 0, len(ids))
	for _, id := range ids {
		ref, ok := found[id]
		if !ok {
			return nil, domain.NotFoundError{Resource: "user", Message: fmt.Sprintf("user %d not found", id)}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
