package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"labeller/api/internal/config"
	"labeller/api/internal/history"
	"labeller/api/internal/metrics"
	"labeller/api/internal/search"
	"labeller/api/internal/store"
	"labeller/api/internal/taxonomy"
)

type testEnv struct {
	service *Service
	handler http.Handler
	store   *store.SQLStore
}

type envOption func(*config.Config, *bool)

func withTokenSecret(secret string) envOption {
	return func(cfg *config.Config, _ *bool) { cfg.TokenSecret = secret }
}

func withHistory() envOption {
	return func(_ *config.Config, enabled *bool) { *enabled = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	migrations := store.MigrationsPath(filepath.Join("..", "..", "db", "migrations"), store.DriverSQLite)
	if err := store.ApplyMigrations(ctx, db, store.DriverSQLite, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	cfg := config.Config{CORSOrigin: "*"}
	historyEnabled := false
	for _, opt := range opts {
		opt(&cfg, &historyEnabled)
	}

	dataStore := store.NewSQLStore(db, store.DriverSQLite)
	editor := taxonomy.NewEditor(dataStore)
	searchService := search.NewService(nil, search.NewSQL(dataStore))

	var svc *Service
	if historyEnabled {
		svc = New(cfg, dataStore, editor, searchService, history.New(t.TempDir()), metrics.New())
	} else {
		svc = New(cfg, dataStore, editor, searchService, nil, metrics.New())
	}
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	return &testEnv{
		service: svc,
		handler: NewHTTPServer(svc, cfg.CORSOrigin).Handler(),
		store:   dataStore,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postForm(t *testing.T, path string, values url.Values, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req, token)
}

func (e *testEnv) postJSON(t *testing.T, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req, token)
}

func (e *testEnv) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, httptest.NewRequest(http.MethodGet, path, nil), token)
}

// update posts one class editor action the way the editor does: form
// fields action and params.
func (e *testEnv) update(t *testing.T, action, params string) map[string]any {
	t.Helper()
	rr := e.postForm(t, "/api/class-editor/update", url.Values{"action": {action}, "params": {params}}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("update %s: status %d body %s", action, rr.Code, rr.Body.String())
	}
	return decodeMap(t, rr)
}

func (e *testEnv) createGroup(t *testing.T, humanName string) int64 {
	t.Helper()
	rr := e.postForm(t, "/api/class-editor/forms", url.Values{
		"action":     {FormNewLabelClassGroup},
		"human_name": {humanName},
	}, "")
	return createdID(t, rr)
}

func (e *testEnv) createClass(t *testing.T, groupID int64, name string) int64 {
	t.Helper()
	rr := e.postForm(t, "/api/class-editor/forms", url.Values{
		"action":     {FormNewClassLabel},
		"group_id":   {jsonNumber(groupID)},
		"name":       {name},
		"human_name": {strings.ToUpper(name[:1]) + name[1:]},
	}, "")
	return createdID(t, rr)
}

func (e *testEnv) schema(t *testing.T) taxonomy.Schema {
	t.Helper()
	rr := e.get(t, "/api/class-editor/schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("schema: status %d body %s", rr.Code, rr.Body.String())
	}
	var schema taxonomy.Schema
	if err := json.Unmarshal(rr.Body.Bytes(), &schema); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	return schema
}

func createdID(t *testing.T, rr *httptest.ResponseRecorder) int64 {
	t.Helper()
	body := decodeMap(t, rr)
	if body["status"] != "success" {
		t.Fatalf("expected success, got %v", body)
	}
	id, ok := body["id"].(float64)
	if !ok || id <= 0 {
		t.Fatalf("expected positive id, got %v", body["id"])
	}
	return int64(id)
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func jsonNumber(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}

func groupNames(schema taxonomy.Schema) []string {
	names := make([]string, 0, len(schema.Groups))
	for _, g := range schema.Groups {
		names = append(names, g.GroupName)
	}
	return names
}
