package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPInvoke(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completion" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var req httpCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Prompt != "hello" || req.MaxTokens != 256 {
			t.Errorf("unexpected request %+v", req)
		}

		json.NewEncoder(w).Encode(httpCompletionResponse{
			Text:         "world",
			InputTokens:  5,
			OutputTokens: 7,
		})
	}))
	defer srv.Close()

	h := NewHTTPWithClient("remote", srv.URL, "sk-test", srv.Client())
	res, err := h.Invoke(context.Background(), "hello", 256)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Text != "world" || res.InputTokens != 5 || res.OutputTokens != 7 {
		t.Errorf("unexpected result %+v", res)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer credential, got %q", gotAuth)
	}
}

func TestHTTPInvokeEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(httpCompletionResponse{Text: "twelve chars"})
	}))
	defer srv.Close()

	h := NewHTTPWithClient("remote", srv.URL, "", srv.Client())
	res, err := h.Invoke(context.Background(), strings.Repeat("x", 40), 0)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.InputTokens != 10 {
		t.Errorf("expected estimated input tokens 10, got %d", res.InputTokens)
	}
	if res.OutputTokens != 3 {
		t.Errorf("expected estimated output tokens 3, got %d", res.OutputTokens)
	}
}

func TestHTTPInvokeNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHTTPWithClient("remote", srv.URL, "", srv.Client())
	if _, err := h.Invoke(context.Background(), "hello", 0); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestHTTPInvokeContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise this handler never returns
		// and the deferred Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	h := NewHTTPWithClient("remote", srv.URL, "", srv.Client())
	_, err := h.Invoke(ctx, "hello", 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHTTPHealthCheck(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	h := NewHTTPWithClient("remote", srv.URL, "", srv.Client())
	if err := h.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	healthy = false
	if err := h.HealthCheck(context.Background()); err == nil {
		t.Error("expected error when backend reports unhealthy")
	}
}

func TestStaticCyclesResponses(t *testing.T) {
	s := NewStatic("local", "a", "b")

	for i, want := range []string{"a", "b", "a"} {
		res, err := s.Invoke(context.Background(), "p", 0)
		if err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
		if res.Text != want {
			t.Errorf("invoke %d: expected %q, got %q", i, want, res.Text)
		}
	}

	s.Fail(errors.New("down"))
	if _, err := s.Invoke(context.Background(), "p", 0); err == nil {
		t.Error("expected failure after Fail")
	}
	s.Fail(nil)
	if _, err := s.Invoke(context.Background(), "p", 0); err != nil {
		t.Errorf("expected recovery after Fail(nil), got %v", err)
	}
}

func TestSubprocessHealthCheck(t *testing.T) {
	ok := NewSubprocess("cat", "cat")
	if err := ok.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected cat resolvable, got %v", err)
	}

	missing := NewSubprocess("ghost", "no-such-command-exists")
	if err := missing.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unresolvable command")
	}
}
