package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"teamtacles/internal/config"
	"teamtacles/internal/db"
	"teamtacles/internal/engine"
	"teamtacles/internal/engine/auth"
	"teamtacles/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Logs   *bytes.Buffer
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tt.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Hasher = auth.Hasher{Cost: 4}
	ctx := context.Background()
	if err := e.SeedRoles(ctx); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	if _, _, err := e.EnsureBootstrapAdmin(ctx, config.BootstrapAdmin{Username: "root", Email: "root@example.com", Password: "rootpass"}); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	logs := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(logs)
	log.SetFormatter(&logrus.JSONFormatter{})
	handler, err := New(Config{Engine: e, BasePath: "/api", Logger: log})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Logs:   logs,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	decode(t, data, &env)
	return env.Error.Code
}

// signUp registers and authenticates a user, returning its id and token.
func signUp(t *testing.T, srv *testServer, name string) (int64, string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/users/register", map[string]any{
		"username":         name,
		"email":            name + "@example.com",
		"password":         "secret1",
		"password_confirm": "secret1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s status %d: %s", name, res.StatusCode, string(data))
	}
	var user UserResponse
	decode(t, data, &user)
	return user.ID, login(t, srv, name, "secret1")
}

func login(t *testing.T, srv *testServer, name, password string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/authenticate", map[string]any{
		"username": name,
		"password": password,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticate %s status %d: %s", name, res.StatusCode, string(data))
	}
	var tok TokenResponse
	decode(t, data, &tok)
	if tok.TokenType != "Bearer" || tok.Token == "" {
		t.Fatalf("unexpected token response %+v", tok)
	}
	return tok.Token
}

func TestProjectAndTaskLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	aliceID, alice := signUp(t, srv, "alice")
	bobID, bob := signUp(t, srv, "bob")
	_, mallory := signUp(t, srv, "mallory")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/projects", map[string]any{
		"title": "Launch",
		"team":  []int64{bobID},
	}, bearer(alice))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	decode(t, data, &project)
	if project.Creator.ID != aliceID || len(project.Team) != 2 {
		t.Fatalf("unexpected project %+v", project)
	}
	projectURL := fmt.Sprintf("%s/api/projects/%d", srv.URL, project.ID)

	res, data = doJSON(t, client, http.MethodGet, projectURL, nil, bearer(mallory))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("outsider get project status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, projectURL, map[string]any{"title": "Renamed"}, bearer(bob))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("member patch project status %d: %s", res.StatusCode, string(data))
	}

	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	res, data = doJSON(t, client, http.MethodPost, projectURL+"/tasks", map[string]any{
		"title":       "Write docs",
		"due_date":    due,
		"responsible": []int64{aliceID},
	}, bearer(bob))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	decode(t, data, &task)
	if task.Status != "TODO" || task.Owner.ID != bobID || !task.DueDate.Equal(due) {
		t.Fatalf("unexpected task %+v", task)
	}
	taskURL := fmt.Sprintf("%s/tasks/%d", projectURL, task.ID)

	res, data = doJSON(t, client, http.MethodPatch, taskURL, map[string]any{"status": "BOGUS"}, bearer(bob))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("bad status patch %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, taskURL, map[string]any{"status": "inprogress"}, bearer(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	decode(t, data, &task)
	if task.Status != "INPROGRESS" {
		t.Fatalf("expected INPROGRESS, got %s", task.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/search?status=INPROGRESS", nil, bearer(bob))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search status %d: %s", res.StatusCode, string(data))
	}
	var page TaskPageResponse
	decode(t, data, &page)
	if page.TotalElements != 1 || page.Items[0].ID != task.ID {
		t.Fatalf("unexpected search page %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/search", nil, bearer(mallory))
	decode(t, data, &page)
	if res.StatusCode != http.StatusOK || page.TotalElements != 0 {
		t.Fatalf("outsider search status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/projects/search?status=INPROGRESS", nil, bearer(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("project search status %d: %s", res.StatusCode, string(data))
	}
	var projects ProjectPageResponse
	decode(t, data, &projects)
	if projects.TotalElements != 1 || projects.Items[0].ID != project.ID {
		t.Fatalf("unexpected project search %+v", projects)
	}

	res, data = doJSON(t, client, http.MethodDelete, projectURL, nil, bearer(alice))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete project status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, taskURL, nil, bearer(alice))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("deleted task status %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskAddressedThroughWrongProjectIsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, alice := signUp(t, srv, "alice")

	var ids []int64
	for _, title := range []string{"One", "Two"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/projects", map[string]any{"title": title}, bearer(alice))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
		}
		var p ProjectResponse
		decode(t, data, &p)
		ids = append(ids, p.ID)
	}
	res, data := doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/api/projects/%d/tasks", srv.URL, ids[0]), map[string]any{
		"title":    "Only in one",
		"due_date": time.Now().Add(24 * time.Hour).UTC(),
	}, bearer(alice))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	decode(t, data, &task)

	res, data = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/api/projects/%d/tasks/%d", srv.URL, ids[1], task.ID), nil, bearer(alice))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("mismatch status %d: %s", res.StatusCode, string(data))
	}
}

func TestRegistrationConflictsAndValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	signUp(t, srv, "alice")

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "username taken ignoring case",
			body:   map[string]any{"username": "ALICE", "email": "other@example.com", "password": "secret1", "password_confirm": "secret1"},
			status: http.StatusConflict,
			code:   "conflict",
		},
		{
			name:   "email taken",
			body:   map[string]any{"username": "alice2", "email": "alice@example.com", "password": "secret1", "password_confirm": "secret1"},
			status: http.StatusConflict,
			code:   "conflict",
		},
		{
			name:   "confirmation mismatch",
			body:   map[string]any{"username": "dave", "email": "dave@example.com", "password": "secret1", "password_confirm": "secret2"},
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:   "missing field",
			body:   map[string]any{"username": "erin", "email": "erin@example.com"},
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/users/register", tc.body, nil)
			if res.StatusCode != tc.status || errorCode(t, data) != tc.code {
				t.Fatalf("status %d: %s", res.StatusCode, string(data))
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	bobID, bob := signUp(t, srv, "bob")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/authenticate", map[string]any{
		"username": "bob",
		"password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("wrong password status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, bearer("not-a-jwt"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, bearer(bob))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	decode(t, data, &me)
	if me.ID != bobID || len(me.Authorities) != 1 || me.Authorities[0] != "ROLE_USER" {
		t.Fatalf("unexpected principal %+v", me)
	}

	if _, err := srv.Engine.DB.Exec(`DELETE FROM users WHERE id = ?`, bobID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, bearer(bob))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deleted user token status %d: %s", res.StatusCode, string(data))
	}
}

func TestRoleExchangeAppliesToExistingTokens(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	root := login(t, srv, "root", "rootpass")
	bobID, bob := signUp(t, srv, "bob")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/users", nil, bearer(bob))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin list users status %d: %s", res.StatusCode, string(data))
	}
	roleURL := fmt.Sprintf("%s/api/users/%d/role", srv.URL, bobID)
	res, data = doJSON(t, client, http.MethodPatch, roleURL, map[string]any{"role": "superuser"}, bearer(root))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown role status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, roleURL, map[string]any{"role": "admin"}, bearer(root))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("exchange role status %d: %s", res.StatusCode, string(data))
	}
	var user UserResponse
	decode(t, data, &user)
	if len(user.Roles) != 1 || user.Roles[0] != "ADMIN" {
		t.Fatalf("unexpected roles %v", user.Roles)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/users?size=1", nil, bearer(bob))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promoted list users status %d: %s", res.StatusCode, string(data))
	}
	var page UserPageResponse
	decode(t, data, &page)
	if page.TotalElements != 2 || page.TotalPages != 2 || len(page.Items) != 1 {
		t.Fatalf("unexpected user page %+v", page)
	}
}

func TestRequestIDAndErrorLogging(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, map[string]string{requestIDHeader: "trace-123"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	if got := res.Header.Get(requestIDHeader); got != "trace-123" {
		t.Fatalf("expected request id echo, got %q", got)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
	if !strings.Contains(srv.Logs.String(), `"request_id":"trace-123"`) {
		t.Fatalf("access log missing request id: %s", srv.Logs.String())
	}
}

func TestOpenAPIMarksPublicRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	decode(t, data, &doc)
	if sec := doc.Paths["/api/auth/authenticate"]["post"].Security; len(sec) != 0 {
		t.Fatalf("authenticate should be public, got %v", sec)
	}
	if sec := doc.Paths["/api/projects"]["post"].Security; len(sec) != 1 {
		t.Fatalf("create project should require a bearer token, got %v", sec)
	}
}
