package app_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/rivanna/internal/rivanna/app"
)

type fixedSessions struct{ n int }

func (f fixedSessions) ActiveSessions() int { return f.n }

func get(t *testing.T, hs *app.HealthServer, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)

	var resp map[string]any
	if w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return w.Code, resp
}

func TestHealthServer_Health(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", fixedSessions{}, app.BackendMemory)

	code, resp := get(t, hs, "/health")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestHealthServer_Status(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", fixedSessions{n: 2}, app.BackendRedis)

	code, resp := get(t, hs, "/status")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if int(resp["active_sessions"].(float64)) != 2 {
		t.Errorf("expected active_sessions 2, got %v", resp["active_sessions"])
	}
	if resp["memory_backend"] != "redis" {
		t.Errorf("expected memory_backend redis, got %v", resp["memory_backend"])
	}
}

func TestHealthServer_MethodNotAllowed(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", fixedSessions{}, app.BackendSQLite)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
