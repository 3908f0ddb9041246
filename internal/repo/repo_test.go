package repo_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"teamtacles/internal/db"
	"teamtacles/internal/domain"
	"teamtacles/internal/migrate"
	"teamtacles/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tt.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func mustUser(t *testing.T, r repo.Repo, name string) domain.UserRef {
	t.Helper()
	id, err := r.InsertUser(context.Background(), nil, domain.User{Username: name, Email: name + "@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("insert user %s: %v", name, err)
	}
	return domain.UserRef{ID: id, Username: name}
}

type fixture struct {
	alice, bob, carol domain.UserRef
	projectID         int64
	early, late       int64
	base              time.Time
}

func seed(t *testing.T, r repo.Repo) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		alice: mustUser(t, r, "alice"),
		bob:   mustUser(t, r, "bob"),
		carol: mustUser(t, r, "carol"),
		base:  time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	var err error
	f.projectID, err = r.InsertProject(ctx, nil, domain.Project{Title: "Apollo", Creator: f.alice})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := r.SetProjectTeam(ctx, nil, f.projectID, []int64{f.bob.ID, f.carol.ID, f.alice.ID}); err != nil {
		t.Fatalf("set team: %v", err)
	}
	f.early, err = r.InsertTask(ctx, nil, domain.Task{ProjectID: f.projectID, Title: "early", DueDate: f.base, Status: domain.StatusTodo, Owner: f.alice})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if err := r.SetTaskResponsibles(ctx, nil, f.early, []int64{f.alice.ID, f.bob.ID}); err != nil {
		t.Fatalf("set responsibles: %v", err)
	}
	f.late, err = r.InsertTask(ctx, nil, domain.Task{ProjectID: f.projectID, Title: "late", DueDate: f.base.Add(72 * time.Hour), Status: domain.StatusDone, Owner: f.bob})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if err := r.SetTaskResponsibles(ctx, nil, f.late, []int64{f.carol.ID}); err != nil {
		t.Fatalf("set responsibles: %v", err)
	}
	return f
}

var firstPage = domain.PageRequest{Page: 0, Size: 20}

func TestSearchTasksDeduplicatesMemberMatches(t *testing.T) {
	r := newTestRepo(t)
	f := seed(t, r)
	tasks, total, err := r.SearchTasks(context.Background(), repo.TaskFilter{MemberID: domain.Some(f.alice.ID)}, firstPage)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(tasks) != 1 || tasks[0].ID != f.early {
		t.Fatalf("expected only the early task once, got total=%d tasks=%+v", total, tasks)
	}
	if len(tasks[0].Responsible) != 2 {
		t.Fatalf("expected both responsibles loaded, got %+v", tasks[0].Responsible)
	}
}

func TestSearchTasksFilters(t *testing.T) {
	r := newTestRepo(t)
	f := seed(t, r)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter repo.TaskFilter
		want   []int64
	}{
		{"none", repo.TaskFilter{}, []int64{f.early, f.late}},
		{"status", repo.TaskFilter{Status: domain.Some(domain.StatusDone)}, []int64{f.late}},
		{"due inclusive", repo.TaskFilter{DueBefore: domain.Some(f.base)}, []int64{f.early}},
		{"project", repo.TaskFilter{ProjectID: domain.Some(f.projectID)}, []int64{f.early, f.late}},
		{"other project", repo.TaskFilter{ProjectID: domain.Some(f.projectID + 1)}, nil},
		{"responsible only", repo.TaskFilter{MemberID: domain.Some(f.carol.ID)}, []int64{f.late}},
		{"owner or responsible", repo.TaskFilter{MemberID: domain.Some(f.bob.ID)}, []int64{f.early, f.late}},
		{"combined", repo.TaskFilter{MemberID: domain.Some(f.bob.ID), Status: domain.Some(domain.StatusTodo)}, []int64{f.early}},
	}
	for _, tc := range cases {
		tasks, total, err := r.SearchTasks(ctx, tc.filter, firstPage)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if total != len(tc.want) || len(tasks) != len(tc.want) {
			t.Fatalf("%s: expected %d tasks, got total=%d len=%d", tc.name, len(tc.want), total, len(tasks))
		}
		for i, id := range tc.want {
			if tasks[i].ID != id {
				t.Fatalf("%s: expected task %d at %d, got %d", tc.name, id, i, tasks[i].ID)
			}
		}
	}
}

func TestSearchTasksPaging(t *testing.T) {
	r := newTestRepo(t)
	f := seed(t, r)
	tasks, total, err := r.SearchTasks(context.Background(), repo.TaskFilter{}, domain.PageRequest{Page: 1, Size: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || len(tasks) != 1 || tasks[0].ID != f.late {
		t.Fatalf("unexpected second page: total=%d tasks=%+v", total, tasks)
	}
}

func TestSearchProjectsListsEachProjectOnce(t *testing.T) {
	r := newTestRepo(t)
	f := seed(t, r)
	projects, total, err := r.SearchProjects(context.Background(), repo.TaskFilter{MemberID: domain.Some(f.bob.ID)}, firstPage)
	if err != nil {
		t.Fatalf("search projects: %v", err)
	}
	if total != 1 || len(projects) != 1 || projects[0].ID != f.projectID {
		t.Fatalf("expected the project once, got total=%d %+v", total, projects)
	}
	if len(projects[0].Team) != 3 {
		t.Fatalf("expected team of 3, got %+v", projects[0].Team)
	}
}

func TestListProjectsByMember(t *testing.T) {
	r := newTestRepo(t)
	f := seed(t, r)
	ctx := context.Background()
	dave := mustUser(t, r, "dave")
	if _, total, err := r.ListProjects(ctx, domain.Some(dave.ID), firstPage); err != nil || total != 0 {
		t.Fatalf("expected no projects for outsider, total=%d err=%v", total, err)
	}
	projects, total, err := r.ListProjects(ctx, domain.None[int64](), firstPage)
	if err != nil || total != 1 || projects[0].Creator != f.alice {
		t.Fatalf("unexpected list: total=%d projects=%+v err=%v", total, projects, err)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	r := newTestRepo(t)
	f := seed(t, r)
	ctx := context.Background()
	if err := r.DeleteProject(ctx, nil, f.projectID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetTask(ctx, nil, f.early); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected task gone, got %v", err)
	}
	var n int
	if err := r.DB.QueryRow(`SELECT count(*) FROM task_responsibles`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("expected responsibles gone, n=%d err=%v", n, err)
	}
	if err := r.DeleteProject(ctx, nil, f.projectID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUsersAndRoles(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	alice := mustUser(t, r, "alice")
	if ok, err := r.UsernameExists(ctx, nil, "ALICE"); err != nil || !ok {
		t.Fatalf("expected case-insensitive username match, ok=%v err=%v", ok, err)
	}
	if ok, err := r.EmailExists(ctx, nil, "nobody@example.com"); err != nil || ok {
		t.Fatalf("unexpected email match, ok=%v err=%v", ok, err)
	}
	if _, err := r.GetRoleByName(ctx, nil, domain.RoleAdmin); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unseeded role, got %v", err)
	}
	for _, name := range domain.RoleNames {
		if err := r.EnsureRole(ctx, nil, name); err != nil {
			t.Fatalf("ensure role: %v", err)
		}
		if err := r.EnsureRole(ctx, nil, name); err != nil {
			t.Fatalf("ensure role twice: %v", err)
		}
	}
	user, _ := r.GetRoleByName(ctx, nil, domain.RoleUser)
	admin, _ := r.GetRoleByName(ctx, nil, domain.RoleAdmin)
	if err := r.SetUserRoles(ctx, nil, alice.ID, []domain.Role{user}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetUserRoles(ctx, nil, alice.ID, []domain.Role{admin}); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetUserByUsername(ctx, nil, "Alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if len(got.Roles) != 1 || got.Roles[0].Name != domain.RoleAdmin {
		t.Fatalf("expected exactly ADMIN, got %+v", got.Roles)
	}
	if _, err := r.UserRefs(ctx, nil, []int64{alice.ID, 999}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestUsernamesFoldBeyondASCII(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	elodie := mustUser(t, r, "élodie")
	if ok, err := r.UsernameExists(ctx, nil, "ÉLODIE"); err != nil || !ok {
		t.Fatalf("expected folded username match, ok=%v err=%v", ok, err)
	}
	got, err := r.GetUserByUsername(ctx, nil, "Élodie")
	if err != nil || got.ID != elodie.ID {
		t.Fatalf("get by folded username: %+v %v", got, err)
	}
	if _, err := r.InsertUser(ctx, nil, domain.User{Username: "ÉLODIE", Email: "other@example.com", PasswordHash: "x"}); err == nil {
		t.Fatalf("expected unique index to reject a case variant")
	}
}
