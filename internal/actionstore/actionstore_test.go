package actionstore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

type fakeBackend struct {
	mu      sync.Mutex
	actions map[string]*domain.Action // bot+"/"+name
	reads   atomic.Int64
	block   chan struct{} // when non-nil, GetAction waits on it
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{actions: make(map[string]*domain.Action)}
}

func (b *fakeBackend) put(a *domain.Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions[a.Bot+"/"+a.Name] = a
}

func (b *fakeBackend) GetAction(_ context.Context, bot, name string) (*domain.Action, error) {
	b.reads.Add(1)
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.actions[bot+"/"+name]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (b *fakeBackend) ListActions(_ context.Context, bot string, kind domain.Kind) ([]domain.Action, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Action
	for _, a := range b.actions {
		if a.Bot == bot && (kind == "" || a.Kind == kind) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httpAction(bot, name string) *domain.Action {
	return &domain.Action{
		Bot:  bot,
		Name: name,
		Kind: domain.KindHTTP,
		Config: &domain.HTTPConfig{
			URL:    "https://api.example.com/orders",
			Method: "GET",
		},
	}
}

func TestLookup_CachesWithinTTL(t *testing.T) {
	backend := newFakeBackend()
	backend.put(httpAction("support", "order_status"))
	s := New(backend, NewMemoryBus(), 30*time.Second, testLogger())

	for i := 0; i < 5; i++ {
		a, err := s.Lookup(context.Background(), "support", "order_status")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if a.Name != "order_status" {
			t.Fatalf("name = %q", a.Name)
		}
	}
	if got := backend.reads.Load(); got != 1 {
		t.Errorf("backend reads = %d, want 1", got)
	}
}

func TestLookup_ExpiresAfterTTL(t *testing.T) {
	backend := newFakeBackend()
	backend.put(httpAction("support", "order_status"))
	s := New(backend, NewMemoryBus(), 30*time.Second, testLogger())

	if _, err := s.Lookup(context.Background(), "support", "order_status"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	s.clock = func() time.Time { return time.Now().Add(time.Minute) }
	if _, err := s.Lookup(context.Background(), "support", "order_status"); err != nil {
		t.Fatalf("Lookup after expiry: %v", err)
	}
	if got := backend.reads.Load(); got != 2 {
		t.Errorf("backend reads = %d, want 2", got)
	}
}

func TestLookup_NotFound(t *testing.T) {
	s := New(newFakeBackend(), NewMemoryBus(), 0, testLogger())
	_, err := s.Lookup(context.Background(), "support", "missing")
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("kind = %s, want not_found", domain.KindOf(err))
	}
}

func TestLookup_CoalescesConcurrentMisses(t *testing.T) {
	backend := newFakeBackend()
	backend.put(httpAction("support", "order_status"))
	backend.block = make(chan struct{})
	s := New(backend, NewMemoryBus(), 30*time.Second, testLogger())

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Lookup(context.Background(), "support", "order_status")
		}(i)
	}
	// Let all goroutines pile onto the flight, then release the backend.
	time.Sleep(50 * time.Millisecond)
	close(backend.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Lookup %d: %v", i, err)
		}
	}
	if got := backend.reads.Load(); got != 1 {
		t.Errorf("backend reads = %d, want 1", got)
	}
}

func TestLookup_ReturnsCopies(t *testing.T) {
	backend := newFakeBackend()
	backend.put(httpAction("support", "order_status"))
	s := New(backend, NewMemoryBus(), 30*time.Second, testLogger())

	a, err := s.Lookup(context.Background(), "support", "order_status")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	a.Config.(*domain.HTTPConfig).URL = "https://evil.example.com"

	b, err := s.Lookup(context.Background(), "support", "order_status")
	if err != nil {
		t.Fatalf("second Lookup: %v", err)
	}
	if got := b.Config.(*domain.HTTPConfig).URL; got != "https://api.example.com/orders" {
		t.Errorf("cached config mutated through a returned copy: %q", got)
	}
}

func TestInvalidate_DropsOwnAndRemoteEntries(t *testing.T) {
	backend := newFakeBackend()
	backend.put(httpAction("support", "order_status"))
	bus := NewMemoryBus()

	a := New(backend, bus, 30*time.Second, testLogger())
	b := New(backend, bus, 30*time.Second, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopA := a.Start(ctx)
	defer stopA()
	stopB := b.Start(ctx)
	defer stopB()
	// Wait for both subscriptions to land.
	waitForSubscribers(t, bus, 2)

	if _, err := a.Lookup(ctx, "support", "order_status"); err != nil {
		t.Fatalf("Lookup a: %v", err)
	}
	if _, err := b.Lookup(ctx, "support", "order_status"); err != nil {
		t.Fatalf("Lookup b: %v", err)
	}
	if got := backend.reads.Load(); got != 2 {
		t.Fatalf("backend reads = %d, want 2", got)
	}

	if err := a.Invalidate(ctx, "support", "order_status"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	if _, err := a.Lookup(ctx, "support", "order_status"); err != nil {
		t.Fatalf("Lookup a after invalidate: %v", err)
	}
	if _, err := b.Lookup(ctx, "support", "order_status"); err != nil {
		t.Fatalf("Lookup b after invalidate: %v", err)
	}
	if got := backend.reads.Load(); got != 4 {
		t.Errorf("backend reads = %d, want 4 (both caches refilled)", got)
	}
}

func waitForSubscribers(t *testing.T, bus *MemoryBus, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bus.mu.Lock()
		got := len(bus.subs)
		bus.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscribers never registered")
}

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject   string
		bot, name string
		ok        bool
	}{
		{"action.support.order_status", "support", "order_status", true},
		{"action.support.", "", "", false},
		{"action..order_status", "", "", false},
		{"action.support", "", "", false},
		{"other.support.order_status", "", "", false},
		{"action.", "", "", false},
	}
	for _, tc := range tests {
		bot, name, ok := parseSubject(tc.subject)
		if bot != tc.bot || name != tc.name || ok != tc.ok {
			t.Errorf("parseSubject(%q) = %q, %q, %v", tc.subject, bot, name, ok)
		}
	}
}

func TestList_FiltersByKind(t *testing.T) {
	backend := newFakeBackend()
	backend.put(httpAction("support", "order_status"))
	backend.put(&domain.Action{
		Bot: "support", Name: "notify", Kind: domain.KindPyscript,
		Config: &domain.PyscriptConfig{Source: "print('{}')"},
	})
	s := New(backend, NewMemoryBus(), 0, testLogger())

	all, err := s.List(context.Background(), "support", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("List all = %d, %v", len(all), err)
	}
	scripts, err := s.List(context.Background(), "support", domain.KindPyscript)
	if err != nil || len(scripts) != 1 || scripts[0].Name != "notify" {
		t.Fatalf("List pyscript = %v, %v", scripts, err)
	}
}
