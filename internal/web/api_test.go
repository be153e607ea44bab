package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/checker"
	"github.com/katieblackabee/fastchecks/internal/config"
	"github.com/katieblackabee/fastchecks/internal/storage"
)

func setupTestServer(t *testing.T, users map[string]string) (*Server, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage(nil)
	exec := checker.NewHTTPChecker(checker.HTTPOptions{Timeout: 5 * time.Second}, nil)
	runner := checker.NewRunner(store, store, exec, checker.RunnerConfig{}, zap.NewNop())
	t.Cleanup(func() { runner.Close() })

	cfg := &config.ServerConfig{Host: "localhost", Port: 3000, Users: users}
	return NewServer(cfg, runner, storage.DefaultLimits(), zap.NewNop()), store
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestAPIHealth(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIUpsertAndListChecks(t *testing.T) {
	server, store := setupTestServer(t, nil)

	rec, _ := do(t, server, http.MethodPut, "/api/checks", `{"url":"https://example.com","pattern":"Example","interval_seconds":30}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, server, http.MethodPut, "/api/checks", `{"url":"https://example.org"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	all, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 30*time.Second, all[0].IntervalOr(0))

	rec, resp := do(t, server, http.MethodGet, "/api/checks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "https://example.com", first["url"])
	assert.Equal(t, "Example", first["pattern"])
	assert.Equal(t, float64(30), first["interval_seconds"])

	_, resp = do(t, server, http.MethodGet, "/api/checks?limit=1", "")
	assert.Len(t, resp.Data.([]any), 1)
}

func TestAPIUpsertRejectsInvalidInput(t *testing.T) {
	server, store := setupTestServer(t, nil)

	bodies := []string{
		`{"url":"ftp://example.com"}`,
		`{"url":""}`,
		`{"url":"https://example.com","pattern":"("}`,
		`{"url":"https://example.com","interval_seconds":1}`,
		`{"url":"https://example.com","interval_seconds":3600}`,
		`not json`,
	}
	for _, body := range bodies {
		rec, resp := do(t, server, http.MethodPut, "/api/checks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.NotEmpty(t, resp.Error, body)
	}

	all, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAPIDeleteCheck(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	do(t, server, http.MethodPut, "/api/checks", `{"url":"https://example.com"}`)

	rec, _ := do(t, server, http.MethodDelete, "/api/checks?url=https://example.com", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, server, http.MethodDelete, "/api/checks?url=https://example.com", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, server, http.MethodDelete, "/api/checks", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIDeleteAllWithoutConfirmIsNoop(t *testing.T) {
	server, store := setupTestServer(t, nil)
	do(t, server, http.MethodPut, "/api/checks", `{"url":"https://example.com"}`)

	rec, resp := do(t, server, http.MethodDelete, "/api/checks/all", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"deleted": float64(0)}, resp.Data)

	all, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	rec, resp = do(t, server, http.MethodDelete, "/api/checks/all?confirm=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"deleted": float64(1)}, resp.Data)

	all, err = store.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAPIRunCheck(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<h1>Example Domain</h1>")
	}))
	defer target.Close()

	server, store := setupTestServer(t, nil)
	body := fmt.Sprintf(`{"url":%q,"pattern":"Example\\s+Domain"}`, target.URL)

	rec, resp := do(t, server, http.MethodPost, "/api/checks/run", body)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "Example Domain", data["matched_text"])
	assert.Empty(t, store.Results())

	rec, _ = do(t, server, http.MethodPost, "/api/checks/run?write=true", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.Results(), 1)
}

func TestAPIListResults(t *testing.T) {
	server, store := setupTestServer(t, nil)
	c := storage.TrustedCheck("https://example.com", "")
	base := time.Now().Add(-time.Hour)
	for i := range 3 {
		_, err := store.Write(context.Background(), storage.NewResponseResult(c, base.Add(time.Duration(i)*time.Minute), time.Millisecond, 200, storage.NotTested()))
		require.NoError(t, err)
	}

	rec, resp := do(t, server, http.MethodGet, "/api/results?n=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]any), 2)

	rec, _ = do(t, server, http.MethodGet, "/api/results?n=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, server, http.MethodGet, "/api/results?n=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIStoreFailureIs500(t *testing.T) {
	server, store := setupTestServer(t, nil)
	require.NoError(t, store.Close())

	rec, resp := do(t, server, http.MethodGet, "/api/checks", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, resp.Error, "closed")
}
