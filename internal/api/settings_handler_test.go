package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/aprpure/grok-gateway/internal/batch"
	"github.com/aprpure/grok-gateway/internal/config"
	"github.com/aprpure/grok-gateway/internal/settings"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{Port: 0, WorkerConcurrency: 2}
	return New(cfg, store, batch.NewRegistry(), nil, nil)
}

func TestHandleGetSettingsReturnsDefaults(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/settings/global", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["show_thinking"] != true {
		t.Fatalf("expected default show_thinking=true, got %v", got["show_thinking"])
	}
}

func TestHandleGetSettingsUnknownSection(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/settings/bogus", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandlePutSettingsOverridesField(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body := strings.NewReader(`{"show_thinking": false}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/admin/settings/global", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["show_thinking"] != false {
		t.Fatalf("expected show_thinking=false after override, got %v", got["show_thinking"])
	}
}

func TestHandleListBatchTasksEmpty(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/batch", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Tasks []interface{} `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(got.Tasks))
	}
}

func TestHandleSubmitTokenRefreshRejectsEmptyList(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/batch/token-refresh", strings.NewReader(`{"credential_ids": []}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleSubmitTokenRefreshAccepted(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/batch/token-refresh", strings.NewReader(`{"credential_ids": ["a","b"]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var got struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.TaskID == "" {
		t.Fatal("expected a non-empty task id")
	}
}

func TestHandleStatsWithoutDatabaseReturnsUnavailable(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
