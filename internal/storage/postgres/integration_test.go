//go:build integration

package postgres

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := Open(Config{DSN: dsn}, logger)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	if err := AutoMigrate(db.GormDB()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestClaimDue_NoDoubleFiring launches concurrent claimers against one due
// entry and verifies SKIP LOCKED hands it to exactly one of them.
func TestClaimDue_NoDoubleFiring(t *testing.T) {
	db := testDB(t)
	repo := NewScheduleRepository(db.GormDB())
	ctx := context.Background()
	now := time.Now().UTC()

	entry := &domain.ScheduleEntry{
		Bot:         "it-claim",
		ActionName:  "send_reminder",
		Trigger:     domain.TriggerEpoch,
		NextFireAt:  now.Add(-time.Minute),
		MaxAttempts: 3,
	}
	if err := repo.Enqueue(ctx, entry); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	t.Cleanup(func() {
		db.GormDB().Delete(&ScheduleEntryModel{}, "bot = ?", "it-claim")
	})

	const claimers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimDue(ctx, now, 10, time.Minute)
			if err != nil {
				t.Errorf("ClaimDue: %v", err)
				return
			}
			for _, e := range claimed {
				if e.Bot != "it-claim" {
					continue
				}
				mu.Lock()
				total++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if total != 1 {
		t.Fatalf("entry claimed %d times, want exactly 1", total)
	}
}
