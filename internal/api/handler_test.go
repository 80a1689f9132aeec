package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/execroute/execroute/internal/auth"
	"github.com/execroute/execroute/internal/cache"
	"github.com/execroute/execroute/internal/circuitbreaker"
	"github.com/execroute/execroute/internal/cost"
	"github.com/execroute/execroute/internal/domain"
	"github.com/execroute/execroute/internal/executor"
	"github.com/execroute/execroute/internal/queue"
	"github.com/execroute/execroute/internal/quota"
	"github.com/execroute/execroute/internal/registry"
	"github.com/execroute/execroute/internal/router"
)

func newTestHandler(t *testing.T, cfg HandlerConfig) (*Handler, *registry.Registry, *executor.Static) {
	t.Helper()

	reg := registry.New()
	exec := executor.NewStatic("local", "static response")
	reg.Register(
		domain.ProviderSpec{Name: "local", Priority: 1, Timeout: time.Second},
		exec,
		circuitbreaker.New("local", circuitbreaker.DefaultConfig()),
	)

	rt := router.New(router.Config{
		Registry: reg,
		Quota:    quota.NewTracker(quota.NewMemoryStore(), nil),
		Ledger:   cost.NewLedger(cost.NewMemoryStore(), nil),
	})

	cfg.Router = rt
	cfg.Registry = reg
	return NewHandler(cfg), reg, exec
}

func postDispatch(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleDispatch(t *testing.T) {
	h, _, _ := newTestHandler(t, HandlerConfig{})

	rec := postDispatch(h, `{"prompt":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.DispatchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Provider != "local" || resp.Text != "static response" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("expected generated request id")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestHandleDispatchMalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t, HandlerConfig{})

	rec := postDispatch(h, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDispatchInvalidRequest(t *testing.T) {
	h, _, _ := newTestHandler(t, HandlerConfig{})

	rec := postDispatch(h, `{"prompt":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty prompt, got %d", rec.Code)
	}
}

func TestHandleDispatchExhausted(t *testing.T) {
	h, _, exec := newTestHandler(t, HandlerConfig{})
	exec.Fail(errors.New("backend down"))

	rec := postDispatch(h, `{"prompt":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	var body struct {
		Attempts []domain.Attempt `json:"attempts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Attempts) != 1 || body.Attempts[0].Provider != "local" {
		t.Errorf("expected attempt trail in body, got %+v", body.Attempts)
	}
}

func TestHandleDispatchExplicitUnknownProvider(t *testing.T) {
	h, _, _ := newTestHandler(t, HandlerConfig{})

	rec := postDispatch(h, `{"prompt":"hello","provider":"ghost"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandleDispatchCache(t *testing.T) {
	h, _, exec := newTestHandler(t, HandlerConfig{Cache: cache.NewInMemoryCache()})

	first := postDispatch(h, `{"prompt":"hello"}`)
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected miss, got %d %s", first.Code, first.Header().Get("X-Cache"))
	}

	// The backend now fails; a cache hit must still serve.
	exec.Fail(errors.New("backend down"))

	second := postDispatch(h, `{"prompt":"hello"}`)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 from cache, got %d", second.Code)
	}
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected cache hit, got %s", second.Header().Get("X-Cache"))
	}

	// Skip-cache header bypasses the cache and surfaces the failure.
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(`{"prompt":"hello"}`))
	req.Header.Set("X-Skip-Cache", "true")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 with cache skipped, got %d", rec.Code)
	}
}

func TestHandleDispatchAsync(t *testing.T) {
	q := queue.NewMemoryQueue()
	h, _, _ := newTestHandler(t, HandlerConfig{Queue: q})

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch/async", strings.NewReader(`{"prompt":"hello"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["request_id"] == "" {
		t.Error("expected request_id in response")
	}

	batch, _ := q.Receive(httptest.NewRequest(http.MethodGet, "/", nil).Context(), 10)
	if len(batch) != 1 || batch[0].Request.Prompt != "hello" {
		t.Errorf("expected enqueued dispatch, got %+v", batch)
	}
}

func TestHandleDispatchAsyncNotConfigured(t *testing.T) {
	h, _, _ := newTestHandler(t, HandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch/async", strings.NewReader(`{"prompt":"hello"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rec.Code)
	}
}

func TestHandleListProviders(t *testing.T) {
	h, _, _ := newTestHandler(t, HandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Providers []domain.ProviderHealth `json:"providers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Providers) != 1 || body.Providers[0].Name != "local" {
		t.Errorf("unexpected providers %+v", body.Providers)
	}
}

func TestHandleHealthEndpoints(t *testing.T) {
	h, reg, _ := newTestHandler(t, HandlerConfig{})

	live := httptest.NewRecorder()
	h.ServeHTTP(live, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if live.Code != http.StatusOK {
		t.Errorf("live: expected 200, got %d", live.Code)
	}

	ready := httptest.NewRecorder()
	h.ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if ready.Code != http.StatusOK {
		t.Errorf("ready: expected 200, got %d", ready.Code)
	}

	// Newly registered providers have not been probed; /health reports
	// unhealthy until a probe round succeeds.
	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusServiceUnavailable {
		t.Errorf("health: expected 503 before first probe, got %d", health.Code)
	}

	entry, _ := reg.Get("local")
	entry.RecordProbe(time.Now(), 10*time.Millisecond, nil)

	health = httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Errorf("health: expected 200 after probe, got %d", health.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	hash, err := auth.HashKey("admin-key")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h, reg, _ := newTestHandler(t, HandlerConfig{Admin: auth.NewAdmin(hash)})

	disable := httptest.NewRequest(http.MethodPost, "/admin/providers/local/disable", nil)
	disable.Header.Set("Authorization", "Bearer admin-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, disable)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entry, _ := reg.Get("local")
	if entry.Enabled() {
		t.Error("expected provider disabled")
	}

	// Without the key the toggle is rejected.
	enable := httptest.NewRequest(http.MethodPost, "/admin/providers/local/enable", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, enable)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if entry.Enabled() {
		t.Error("provider must stay disabled after rejected request")
	}

	unknown := httptest.NewRequest(http.MethodPost, "/admin/providers/ghost/enable", nil)
	unknown.Header.Set("Authorization", "Bearer admin-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, unknown)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
