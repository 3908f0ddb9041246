package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"teamtacles/internal/domain"
)

// UserSource loads a user and its current roles. repo.Repo satisfies it.
type UserSource interface {
	GetUser(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error)
}

// Resolver turns verified token claims into a Principal. Roles are read on
// every call, so a role exchange applies to the next request.
type Resolver struct {
	Users UserSource
}

func (r Resolver) Resolve(ctx context.Context, claims Claims) (Principal, error) {
	if claims.UserID <= 0 {
		return Principal{}, AuthenticationError{Reason: "token carries no user id"}
	}
	u, err := r.Users.GetUser(ctx, nil, claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return Principal{}, AuthenticationError{Reason: fmt.Sprintf("user %d no longer exists", claims.UserID)}
	}
	if err != nil {
		return Principal{}, fmt.Errorf("resolve user %d: %w", claims.UserID, err)
	}
	return PrincipalFor(u), nil
}
