package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// memStore is an in-memory EntryStore with the same conditional-claim
// semantics as the SQL implementation.
type memStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.ScheduleEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[uuid.UUID]*domain.ScheduleEntry)}
}

func (s *memStore) Enqueue(_ context.Context, e *domain.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *memStore) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]domain.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []domain.ScheduleEntry
	for _, e := range s.entries {
		if len(claimed) >= limit {
			break
		}
		if e.State == domain.SchedulePending && !e.NextFireAt.After(now) {
			e.State = domain.ScheduleFiring
			exp := now.Add(lease)
			e.LeaseExpiresAt = &exp
			claimed = append(claimed, *e)
		}
	}
	return claimed, nil
}

func (s *memStore) Complete(_ context.Context, id uuid.UUID, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errors.New("not found")
	}
	if next == nil {
		delete(s.entries, id)
		return nil
	}
	e.State = domain.SchedulePending
	e.NextFireAt = *next
	e.LeaseExpiresAt = nil
	e.Attempts = 0
	return nil
}

func (s *memStore) Fail(_ context.Context, id uuid.UUID, errMsg string, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errors.New("not found")
	}
	e.Attempts++
	e.LastError = errMsg
	e.LeaseExpiresAt = nil
	if final {
		e.State = domain.ScheduleFailed
	} else {
		e.State = domain.SchedulePending
	}
	return nil
}

func (s *memStore) RevertExpiredLeases(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.State == domain.ScheduleFiring && e.LeaseExpiresAt != nil && e.LeaseExpiresAt.Before(now) {
			e.State = domain.SchedulePending
			e.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(id uuid.UUID) *domain.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

type recordingExecutor struct {
	mu    sync.Mutex
	fired []uuid.UUID
	err   error
}

func (e *recordingExecutor) ExecuteScheduled(_ context.Context, entry *domain.ScheduleEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired = append(e.fired, entry.ID)
	return e.err
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fired)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func epochEntry(fireAt time.Time) *domain.ScheduleEntry {
	return &domain.ScheduleEntry{
		ID:          uuid.New(),
		Bot:         "support",
		ActionName:  "send_reminder",
		Trigger:     domain.TriggerEpoch,
		NextFireAt:  fireAt,
		State:       domain.SchedulePending,
		MaxAttempts: 2,
	}
}

func TestTick_FiresDueEpochEntryAndDeletesIt(t *testing.T) {
	store := newMemStore()
	exec := &recordingExecutor{}
	s := New(store, exec, nil, testLogger(), Config{})

	entry := epochEntry(time.Now().Add(-time.Second))
	store.Enqueue(context.Background(), entry)

	s.tick(context.Background())

	if exec.count() != 1 {
		t.Fatalf("fired %d times, want 1", exec.count())
	}
	if store.get(entry.ID) != nil {
		t.Error("epoch entry should be deleted after success")
	}
}

func TestTick_NotDueNotFired(t *testing.T) {
	store := newMemStore()
	exec := &recordingExecutor{}
	s := New(store, exec, nil, testLogger(), Config{})

	store.Enqueue(context.Background(), epochEntry(time.Now().Add(time.Hour)))
	s.tick(context.Background())

	if exec.count() != 0 {
		t.Fatalf("fired %d times, want 0", exec.count())
	}
}

func TestTick_FailureRevertsToPendingThenFails(t *testing.T) {
	store := newMemStore()
	exec := &recordingExecutor{err: errors.New("downstream unavailable")}
	s := New(store, exec, nil, testLogger(), Config{})

	entry := epochEntry(time.Now().Add(-time.Second))
	store.Enqueue(context.Background(), entry)

	// First attempt: reverts to pending.
	s.tick(context.Background())
	got := store.get(entry.ID)
	if got == nil || got.State != domain.SchedulePending || got.Attempts != 1 {
		t.Fatalf("after first failure: %+v", got)
	}

	// Second attempt reaches MaxAttempts: terminal failed.
	s.tick(context.Background())
	got = store.get(entry.ID)
	if got == nil || got.State != domain.ScheduleFailed {
		t.Fatalf("after final failure: %+v", got)
	}
	if got.LastError == "" {
		t.Error("last error not recorded")
	}

	// Failed entries are not claimed again.
	s.tick(context.Background())
	if exec.count() != 2 {
		t.Errorf("fired %d times, want 2", exec.count())
	}
}

func TestTick_CronEntryRescheduled(t *testing.T) {
	store := newMemStore()
	exec := &recordingExecutor{}
	s := New(store, exec, nil, testLogger(), Config{})

	entry := &domain.ScheduleEntry{
		ID:             uuid.New(),
		Bot:            "support",
		ActionName:     "daily_digest",
		Trigger:        domain.TriggerCron,
		CronExpression: "0 9 * * *",
		NextFireAt:     time.Now().Add(-time.Second),
		State:          domain.SchedulePending,
		MaxAttempts:    3,
	}
	store.Enqueue(context.Background(), entry)

	s.tick(context.Background())

	got := store.get(entry.ID)
	if got == nil {
		t.Fatal("cron entry must survive completion")
	}
	if got.State != domain.SchedulePending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if !got.NextFireAt.After(time.Now()) {
		t.Errorf("next fire %v not in the future", got.NextFireAt)
	}
}

func TestTick_LeaseExpiryRecoversCrashedEntry(t *testing.T) {
	store := newMemStore()
	exec := &recordingExecutor{}
	s := New(store, exec, nil, testLogger(), Config{})

	// Simulate a crash mid-fire: entry stuck in firing with an expired lease.
	entry := epochEntry(time.Now().Add(-time.Minute))
	entry.State = domain.ScheduleFiring
	expired := time.Now().Add(-time.Second)
	entry.LeaseExpiresAt = &expired
	store.Enqueue(context.Background(), entry)

	s.tick(context.Background())

	// Recovery and re-claim happen in the same tick: at-least-once.
	if exec.count() != 1 {
		t.Fatalf("fired %d times, want 1", exec.count())
	}
}

func TestEnqueue_CronComputesNextFire(t *testing.T) {
	store := newMemStore()
	s := New(store, &recordingExecutor{}, nil, testLogger(), Config{})

	entry := &domain.ScheduleEntry{
		Bot:            "support",
		ActionName:     "daily_digest",
		Trigger:        domain.TriggerCron,
		CronExpression: "*/5 * * * *",
	}
	if err := s.Enqueue(context.Background(), entry); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !entry.NextFireAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Errorf("next fire %v", entry.NextFireAt)
	}
	if entry.State != domain.SchedulePending {
		t.Errorf("state = %s", entry.State)
	}
}

func TestEnqueue_InvalidCronRejected(t *testing.T) {
	s := New(newMemStore(), &recordingExecutor{}, nil, testLogger(), Config{})
	err := s.Enqueue(context.Background(), &domain.ScheduleEntry{
		Bot:            "support",
		ActionName:     "x",
		Trigger:        domain.TriggerCron,
		CronExpression: "not a cron",
	})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("kind = %s, want validation", domain.KindOf(err))
	}
}

func TestNextFireAfter(t *testing.T) {
	after := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	next, err := NextFireAfter("0 9 * * *", after)
	if err != nil {
		t.Fatalf("NextFireAfter: %v", err)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}
