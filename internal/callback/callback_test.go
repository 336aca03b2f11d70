package callback

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/sandbox"
)

type memCallbackStore struct {
	mu        sync.Mutex
	callbacks map[string]*domain.Callback // bot+"/"+name
}

func newMemCallbackStore() *memCallbackStore {
	return &memCallbackStore{callbacks: make(map[string]*domain.Callback)}
}

func (s *memCallbackStore) GetCallback(_ context.Context, bot, name string) (*domain.Callback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.callbacks[bot+"/"+name]; ok {
		cp := *cb
		return &cp, nil
	}
	return nil, nil
}

func (s *memCallbackStore) SaveCallback(_ context.Context, cb *domain.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cb
	s.callbacks[cb.Bot+"/"+cb.Name] = &cp
	return nil
}

func (s *memCallbackStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, cb := range s.callbacks {
		if now.After(cb.CreatedAt.Add(time.Duration(cb.ExpiryS) * time.Second)) {
			delete(s.callbacks, k)
			n++
		}
	}
	return n, nil
}

// fakeSandbox returns a canned output for any script.
type fakeSandbox struct {
	out  *sandbox.Output
	err  error
	mu   sync.Mutex
	runs int
}

func (f *fakeSandbox) Run(_ context.Context, _ sandbox.Request) (*sandbox.Output, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(store Store, sb sandbox.Sandbox) *Service {
	return NewService(store, sb, []byte("test-signing-key"), testLogger())
}

func testCallback() *domain.Callback {
	return &domain.Callback{
		Bot:           "support",
		Name:          "payment_done",
		Script:        `print('{"bot_response": "recorded"}')`,
		ExecutionMode: domain.ExecSync,
		ResponseType:  "text",
		ExpiryS:       60,
	}
}

func TestRegisterAndInvoke(t *testing.T) {
	store := newMemCallbackStore()
	sb := &fakeSandbox{out: &sandbox.Output{BotResponse: "recorded"}}
	s := testService(store, sb)

	token, err := s.Register(context.Background(), testCallback())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	res, err := s.Invoke(context.Background(), "support", "payment_done", token, map[string]any{"order": "o1"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Data != "recorded" || res.Type != "text" {
		t.Errorf("result = %+v", res)
	}
}

func TestInvoke_BadToken(t *testing.T) {
	store := newMemCallbackStore()
	s := testService(store, &fakeSandbox{out: &sandbox.Output{}})

	if _, err := s.Register(context.Background(), testCallback()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := s.Invoke(context.Background(), "support", "payment_done", "not-a-jwt", nil)
	if domain.KindOf(err) != domain.KindUnauthorized {
		t.Fatalf("kind = %s, want unauthorized", domain.KindOf(err))
	}
}

func TestInvoke_TokenFromOtherCallbackRejected(t *testing.T) {
	store := newMemCallbackStore()
	s := testService(store, &fakeSandbox{out: &sandbox.Output{}})

	if _, err := s.Register(context.Background(), testCallback()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	other := testCallback()
	other.Name = "other_callback"
	otherToken, err := s.Register(context.Background(), other)
	if err != nil {
		t.Fatalf("Register other: %v", err)
	}

	_, err = s.Invoke(context.Background(), "support", "payment_done", otherToken, nil)
	if domain.KindOf(err) != domain.KindUnauthorized {
		t.Fatalf("kind = %s, want unauthorized", domain.KindOf(err))
	}
}

func TestInvoke_ExpiredToken(t *testing.T) {
	store := newMemCallbackStore()
	s := testService(store, &fakeSandbox{out: &sandbox.Output{}})

	cb := testCallback()
	cb.ExpiryS = 1
	token, err := s.Register(context.Background(), cb)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.clock = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = s.Invoke(context.Background(), "support", "payment_done", token, nil)
	if err == nil {
		t.Fatal("expired token accepted")
	}
	// A lapsed callback is an authorization failure, not a missing resource.
	if kind := domain.KindOf(err); kind != domain.KindUnauthorized {
		t.Fatalf("kind = %s, want unauthorized", kind)
	}
}

func TestInvoke_UnknownCallback(t *testing.T) {
	s := testService(newMemCallbackStore(), &fakeSandbox{out: &sandbox.Output{}})
	_, err := s.Invoke(context.Background(), "support", "nope", "token", nil)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("kind = %s, want not_found", domain.KindOf(err))
	}
}

func TestInvoke_AsyncReturnsImmediately(t *testing.T) {
	store := newMemCallbackStore()
	sb := &fakeSandbox{out: &sandbox.Output{BotResponse: "later"}}
	s := testService(store, sb)

	cb := testCallback()
	cb.ExecutionMode = domain.ExecAsync
	token, err := s.Register(context.Background(), cb)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := s.Invoke(context.Background(), "support", "payment_done", token, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Async {
		t.Error("async invocation should report async")
	}

	// Background execution happens eventually.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sb.mu.Lock()
		runs := sb.runs
		sb.mu.Unlock()
		if runs == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("async script never ran")
}

func TestInvoke_ScriptFailureIsSandboxKind(t *testing.T) {
	store := newMemCallbackStore()
	sb := &fakeSandbox{err: &sandbox.ScriptError{Class: sandbox.FailRuntime, Message: "KeyError"}}
	s := testService(store, sb)

	token, err := s.Register(context.Background(), testCallback())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = s.Invoke(context.Background(), "support", "payment_done", token, nil)
	if domain.KindOf(err) != domain.KindSandboxFailure {
		t.Fatalf("kind = %s, want sandbox_failure", domain.KindOf(err))
	}
}

func TestDeleteExpiredGC(t *testing.T) {
	store := newMemCallbackStore()
	s := testService(store, &fakeSandbox{out: &sandbox.Output{}})

	cb := testCallback()
	cb.ExpiryS = 1
	if _, err := s.Register(context.Background(), cb); err != nil {
		t.Fatalf("Register: %v", err)
	}

	n, err := store.DeleteExpired(context.Background(), time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
	got, _ := store.GetCallback(context.Background(), "support", "payment_done")
	if got != nil {
		t.Error("expired callback still present")
	}
}
