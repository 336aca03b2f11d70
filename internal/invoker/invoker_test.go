package invoker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jkaninda/msaidizi/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDo_JSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("city") != "London" {
			t.Errorf("missing query param, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("X-Api-Key") != "k1" {
			t.Errorf("missing header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"summary":"Rain","code":"R1"}`))
	}))
	defer srv.Close()

	inv := New(testLogger())
	res, err := inv.Do(context.Background(), &Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "k1"},
		Params:  map[string]string{"city": "London"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("status = %d", res.Status)
	}
	body, ok := res.JSON.(map[string]any)
	if !ok || body["summary"] != "Rain" {
		t.Errorf("JSON = %v", res.JSON)
	}
}

func TestDo_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	inv := New(testLogger())
	res, err := inv.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Text != "pong" || res.JSON != nil {
		t.Errorf("got text=%q json=%v", res.Text, res.JSON)
	}
}

func TestDo_InvalidURL(t *testing.T) {
	inv := New(testLogger())
	for _, u := range []string{"", "/relative", "ftp://host/x", "host.without.scheme"} {
		_, err := inv.Do(context.Background(), &Request{Method: http.MethodGet, URL: u})
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Do(%q) err = %v, want ErrInvalidURL", u, err)
		}
		if domain.KindOf(err) != domain.KindValidation {
			t.Errorf("Do(%q) kind = %s", u, domain.KindOf(err))
		}
	}
}

func TestDo_InvalidJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{broken"))
	}))
	defer srv.Close()

	inv := New(testLogger())
	_, err := inv.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	if !errors.Is(err, ErrResponseParse) {
		t.Fatalf("err = %v, want ErrResponseParse", err)
	}
}

func TestDo_Retries5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	inv := New(testLogger())
	res, err := inv.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   map[string]any{"a": 1},
		Retry: domain.RetryPolicy{
			Max:       3,
			BackoffMS: 1,
			RetryOn:   []domain.RetryOn{domain.Retry5xx},
		},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("status = %d", res.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestDo_RetryExhaustionIsUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	inv := New(testLogger())
	_, err := inv.Do(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    srv.URL,
		Retry: domain.RetryPolicy{
			Max:       2,
			BackoffMS: 1,
			RetryOn:   []domain.RetryOn{domain.Retry5xx},
		},
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := domain.KindOf(err); got != domain.KindUpstream {
		t.Errorf("kind = %s, want upstream", got)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestDo_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := New(testLogger())
	res, err := inv.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", res.Status)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestDo_4xxNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	inv := New(testLogger())
	res, err := inv.Do(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    srv.URL,
		Retry:  domain.RetryPolicy{Max: 3, BackoffMS: 1, RetryOn: []domain.RetryOn{domain.Retry5xx}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Status != http.StatusNotFound {
		t.Errorf("status = %d", res.Status)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestDo_IdempotencyKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Idempotency-Key") != "turn-1" {
			t.Errorf("idempotency key missing")
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	inv := New(testLogger())
	if _, err := inv.Do(context.Background(), &Request{
		Method:         http.MethodPost,
		URL:            srv.URL,
		Body:           map[string]any{"a": 1},
		IdempotencyKey: "turn-1",
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestDo_FormBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("name") != "Ada" {
			t.Errorf("form = %v", r.PostForm)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	inv := New(testLogger())
	if _, err := inv.Do(context.Background(), &Request{
		Method:      http.MethodPost,
		URL:         srv.URL,
		ContentType: "application/x-www-form-urlencoded",
		Body:        map[string]any{"name": "Ada"},
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
}
