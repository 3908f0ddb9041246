package auth

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teamtacles/internal/domain"
)

func refs(ids ...int64) []domain.UserRef {
	out := make([]domain.UserRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.UserRef{ID: id})
	}
	return out
}

func user(id int64, roles ...domain.RoleName) Principal {
	if len(roles) == 0 {
		roles = []domain.RoleName{domain.RoleUser}
	}
	return Principal{UserID: id, Roles: roles}
}

func TestProjectPredicates(t *testing.T) {
	project := domain.Project{ID: 10, Creator: domain.UserRef{ID: 2}, Team: refs(2, 3, 1)}
	cases := []struct {
		name         string
		p            Principal
		view, mutate bool
	}{
		{"creator", user(2), true, true},
		{"team member", user(3), true, false},
		{"outsider", user(4), false, false},
		{"admin outside team", user(9, domain.RoleAdmin), true, true},
		{"admin and user roles", user(9, domain.RoleUser, domain.RoleAdmin), true, true},
	}
	for _, tc := range cases {
		if got := CanViewProject(tc.p, project); got != tc.view {
			t.Fatalf("%s: view=%v want %v", tc.name, got, tc.view)
		}
		if got := CanMutateProject(tc.p, project); got != tc.mutate {
			t.Fatalf("%s: mutate=%v want %v", tc.name, got, tc.mutate)
		}
		err := EnsureCanMutateProject(tc.p, project)
		var forbidden ForbiddenError
		if tc.mutate != (err == nil) || (err != nil && !errors.As(err, &forbidden)) {
			t.Fatalf("%s: unexpected mutate error %v", tc.name, err)
		}
	}
}

func TestTaskPredicates(t *testing.T) {
	task := domain.Task{ID: 5, ProjectID: 10, Owner: domain.UserRef{ID: 2}, Responsible: refs(3)}
	cases := []struct {
		name string
		p    Principal
		want bool
	}{
		{"owner", user(2), true},
		{"responsible", user(3), true},
		{"team member only", user(1), false},
		{"admin", user(7, domain.RoleAdmin), true},
	}
	for _, tc := range cases {
		if got := CanAccessTask(tc.p, task); got != tc.want {
			t.Fatalf("%s: access=%v want %v", tc.name, got, tc.want)
		}
		if err := EnsureCanAccessTask(tc.p, task); (err == nil) != tc.want {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestEnsureTaskInProjectIsNotFoundEvenForAdmin(t *testing.T) {
	task := domain.Task{ID: 5, ProjectID: 10}
	if err := EnsureTaskInProject(task, 10); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	err := EnsureTaskInProject(task, 11)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "does not belong") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var forbidden ForbiddenError
	if errors.As(err, &forbidden) {
		t.Fatalf("mismatch must not be forbidden")
	}
}

func TestPredicatesAreRepeatable(t *testing.T) {
	project := domain.Project{Creator: domain.UserRef{ID: 1}, Team: refs(1)}
	p := user(4)
	for i := 0; i < 3; i++ {
		if CanViewProject(p, project) {
			t.Fatalf("call %d: outsider allowed", i)
		}
	}
	if len(project.Team) != 1 || len(p.Roles) != 1 {
		t.Fatalf("inputs mutated: %+v %+v", project, p)
	}
}

func TestAuthorities(t *testing.T) {
	p := Principal{Roles: []domain.RoleName{domain.RoleUser, domain.RoleAdmin}}
	want := []string{"ROLE_ADMIN", "ROLE_USER"}
	if got := p.Authorities(); !reflect.DeepEqual(got, want) {
		t.Fatalf("authorities=%v want %v", got, want)
	}
	if got := (Principal{}).Authorities(); len(got) != 0 {
		t.Fatalf("expected none, got %v", got)
	}
}

type fakeUsers map[int64]domain.User

func (f fakeUsers) GetUser(_ context.Context, _ *sql.Tx, id int64) (domain.User, error) {
	u, ok := f[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func TestResolverReflectsCurrentRoles(t *testing.T) {
	users := fakeUsers{7: {ID: 7, Username: "dana", PasswordHash: "h", Roles: []domain.Role{{ID: 1, Name: domain.RoleUser}}}}
	r := Resolver{Users: users}
	p, err := r.Resolve(context.Background(), Claims{UserID: 7})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Username != "dana" || p.PasswordHash != "h" || HasAdminCapability(p) {
		t.Fatalf("unexpected principal %+v", p)
	}
	users[7] = domain.User{ID: 7, Username: "dana", Roles: []domain.Role{{ID: 2, Name: domain.RoleAdmin}}}
	p, err = r.Resolve(context.Background(), Claims{UserID: 7})
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if !HasAdminCapability(p) || !reflect.DeepEqual(p.Authorities(), []string{"ROLE_ADMIN"}) {
		t.Fatalf("role change not reflected: %+v", p)
	}
}

func TestResolverMissingUserIsAuthenticationError(t *testing.T) {
	_, err := Resolver{Users: fakeUsers{}}.Resolve(context.Background(), Claims{UserID: 99})
	var authErr AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("must not surface as not found")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := TokenService{Secret: "s3cret", Issuer: "teamtacles", Now: func() time.Time { return now }}
	token, expires, err := svc.Issue(domain.User{ID: 42, Username: "erin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expires.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected one hour ttl, got %v", expires)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != 42 || claims.Subject != "erin" || !claims.IssuedAt.Time.Equal(now) {
		t.Fatalf("unexpected claims %+v", claims)
	}

	late := svc
	late.Now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := late.Verify(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	other := svc
	other.Secret = "different"
	var authErr AuthenticationError
	if _, err := other.Verify(token); !errors.As(err, &authErr) {
		t.Fatalf("expected authentication error for bad signature, got %v", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}, UserID: 1}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (TokenService{Secret: "s3cret"}).Verify(token); err == nil {
		t.Fatalf("expected HS384 token to be rejected")
	}
}

func TestHasher(t *testing.T) {
	h := Hasher{Cost: 4}
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ok, err := h.Matches(hash, "correct horse"); err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if ok, err := h.Matches(hash, "wrong"); err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}
