package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"taxline/internal/app"
	"taxline/internal/db"
	"taxline/internal/engine"
	"taxline/internal/migrate"
	"taxline/internal/notify"
	"taxline/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveFirmConfig(context.Background(), workspace, "tester", r)
	if err != nil {
		t.Fatalf("resolve firm config: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Notifier = notify.InboxNotifier{Repo: e.Repo}
	srvCtx, stopBackground := context.WithCancel(context.Background())
	handler, err := New(srvCtx, Config{
		Engine: e,
		Auth:   AuthConfig{AllowLegacyActorHeader: true},
	})
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
		client: &http.Client{},
		close: func() {
			stopBackground()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var asTester = map[string]string{"X-Actor-Id": "tester"}

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

func createTestProject(t *testing.T, srv *testServer, body map[string]any) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", body, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var created ProjectResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return created
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	return envelope.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestStatusWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTestProject(t, srv, map[string]any{
		"project_name": "Smith 2024 T1",
		"status":       "To Do",
	})
	if created.Status != "To Do" {
		t.Fatalf("status = %q, want To Do", created.Status)
	}
	if created.StatusBucket != "To Do" {
		t.Fatalf("status_bucket = %q, want To Do", created.StatusBucket)
	}

	url := srv.URL + "/v0/projects"
	pid := created.ProjectID

	res, data := doJSON(t, client, http.MethodPost, url+jsonID(pid)+"/status", map[string]any{
		"status": "Work in progress (WIP)",
	}, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, string(data))
	}
	var updated ProjectResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.Status != "Work in progress (WIP)" {
		t.Fatalf("status = %q", updated.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, url+jsonID(pid)+"/status", map[string]any{
		"status": "Telepathy",
	}, asTester)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown status should 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("error code = %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, url+"/999999/status", map[string]any{
		"status": "To Do",
	}, asTester)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing project should 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestLockedProjectConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTestProject(t, srv, map[string]any{"project_name": "Locked Corp NTR"})
	url := srv.URL + "/v0/projects" + jsonID(created.ProjectID)

	res, data := doJSON(t, client, http.MethodPost, url+"/lock", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lock status %d: %s", res.StatusCode, string(data))
	}
	var locked ProjectResponse
	if err := json.Unmarshal(data, &locked); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !locked.IsLocked {
		t.Fatal("expected is_locked after lock")
	}

	res, data = doJSON(t, client, http.MethodPost, url+"/status", map[string]any{
		"status": "Completed",
	}, asTester)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("locked mutation should 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "locked" {
		t.Fatalf("error code = %q, want locked", code)
	}

	// Unlock is the same endpoint and must work on a locked project.
	res, data = doJSON(t, client, http.MethodPost, url+"/lock", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unlock status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, url+"/status", map[string]any{
		"status": "Completed",
	}, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status after unlock %d: %s", res.StatusCode, string(data))
	}
}

func TestArchiveOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTestProject(t, srv, map[string]any{
		"project_name": "Jones Estate",
		"status":       "Work in progress (WIP)",
	})
	url := srv.URL + "/v0/projects" + jsonID(created.ProjectID)

	res, data := doJSON(t, client, http.MethodPost, url+"/archive", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive status %d: %s", res.StatusCode, string(data))
	}
	var archived ProjectResponse
	if err := json.Unmarshal(data, &archived); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if archived.Status != "Completed" {
		t.Fatalf("status = %q", archived.Status)
	}
	if archived.ArchivedAt == nil || *archived.ArchivedAt == "" {
		t.Fatal("archived_at not set")
	}
	if archived.DisplayStatus != "Completed" {
		t.Fatalf("display_status = %q", archived.DisplayStatus)
	}

	// Archived projects drop out of the default active listing.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects?archived=false", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var active []ProjectResponse
	if err := json.Unmarshal(data, &active); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	for _, p := range active {
		if p.ProjectID == created.ProjectID {
			t.Fatal("archived project still listed as active")
		}
	}

	// And show up when asked for explicitly.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects?archived=true", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archived list status %d: %s", res.StatusCode, string(data))
	}
	var archivedList []ProjectResponse
	if err := json.Unmarshal(data, &archivedList); err != nil {
		t.Fatalf("unmarshal archived list: %v", err)
	}
	found := false
	for _, p := range archivedList {
		if p.ProjectID == created.ProjectID {
			found = true
		}
	}
	if !found {
		t.Fatal("archived project missing from ?archived=true listing")
	}
}

func TestProjectListFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	first := createTestProject(t, srv, map[string]any{
		"project_name": "Nguyen T1",
		"status":       "To Do",
	})
	createTestProject(t, srv, map[string]any{
		"project_name": "Nguyen T2",
		"status":       "Work in progress (WIP)",
	})

	// No archived filter returns everything.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var all []ProjectResponse
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(all))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects?status=To+Do", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status filter %d: %s", res.StatusCode, string(data))
	}
	var todos []ProjectResponse
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(todos) != 1 || todos[0].ProjectID != first.ProjectID {
		t.Fatalf("status filter returned %d projects", len(todos))
	}

	// Anything besides true/false is rejected by validation.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects?archived=maybe", nil, asTester)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad archived value status %d: %s", res.StatusCode, string(data))
	}
}

func TestNotificationsInbox(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/staff", map[string]any{
		"id":         "prep-1",
		"first_name": "Pat",
		"last_name":  "Preparer",
		"email":      "pat@firm.test",
		"role":       "Staff",
	}, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert staff %d: %s", res.StatusCode, string(data))
	}

	created := createTestProject(t, srv, map[string]any{
		"project_name": "Acme 2024 HST",
		"preparer":     []string{"prep-1"},
	})
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects"+jsonID(created.ProjectID)+"/status", map[string]any{
		"status": "Ready for reviewer/partner to review",
	}, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, string(data))
	}

	asPrep := map[string]string{"X-Actor-Id": "prep-1"}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asPrep)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list notifications %d: %s", res.StatusCode, string(data))
	}
	var inbox []struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		IsRead bool   `json:"is_read"`
	}
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatalf("unmarshal inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("inbox size = %d, want 1: %s", len(inbox), string(data))
	}
	if inbox[0].Title != "Status updated" {
		t.Fatalf("title = %q", inbox[0].Title)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/"+itoa(inbox[0].ID)+"/read", nil, asPrep)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications/unread-count", nil, asPrep)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unread count status %d", res.StatusCode)
	}
	var count map[string]int
	if err := json.Unmarshal(data, &count); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if count["unread"] != 0 {
		t.Fatalf("unread = %d, want 0", count["unread"])
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "tester",
		"name":     "ci",
	}, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatal("clear key missing from creation response")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "tester" {
		t.Fatalf("actor_id = %q", me.ActorID)
	}
	if me.Source != "api_key" {
		t.Fatalf("source = %q", me.Source)
	}
	if me.Role != "Admin" {
		t.Fatalf("role = %q", me.Role)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "tlk_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key status %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTestProject(t, srv, map[string]any{"project_name": "Audit Trail Inc"})
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects"+jsonID(created.ProjectID)+"/start", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?project_id="+itoa(created.ProjectID)+"&type=project.started", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1: %s", len(events), string(data))
	}
	if events[0].Type != "project.started" || events[0].ActorID != "tester" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	d := &webhookDispatcher{
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		cursors: make(map[int]int64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * defaultWebhookInterval):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func jsonID(id int64) string { return "/" + itoa(id) }

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
