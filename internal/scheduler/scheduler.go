// Package scheduler fires deferred action executions. It polls the store
// for due entries, claims them with a lease, and executes each claimed
// entry at least once: a crash between claim and completion reverts the
// entry to pending when the lease expires.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// EntryStore is the persistence interface for schedule entries.
type EntryStore interface {
	Enqueue(ctx context.Context, entry *domain.ScheduleEntry) error
	// ClaimDue atomically moves up to limit due pending entries to firing
	// with a lease, returning the claimed entries.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.ScheduleEntry, error)
	// Complete finishes a fired entry: epoch entries are deleted, cron
	// entries go back to pending with the given next fire time.
	Complete(ctx context.Context, id uuid.UUID, nextFireAt *time.Time) error
	// Fail records a failed attempt. final marks the entry failed instead
	// of reverting it to pending for another attempt.
	Fail(ctx context.Context, id uuid.UUID, errMsg string, final bool) error
	// RevertExpiredLeases returns firing entries whose lease has expired
	// to pending. Crash recovery.
	RevertExpiredLeases(ctx context.Context, now time.Time) (int64, error)
}

// Executor runs a due entry's action. The engine implements this.
type Executor interface {
	ExecuteScheduled(ctx context.Context, entry *domain.ScheduleEntry) error
}

// Config bounds the poll loop.
type Config struct {
	PollInterval  time.Duration // Default 1 s.
	MaxConcurrent int           // Default 8.
	Lease         time.Duration // Default 60 s.
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 8
	}
	if c.Lease == 0 {
		c.Lease = time.Minute
	}
	return c
}

// Scheduler polls for due entries and fires them.
type Scheduler struct {
	store    EntryStore
	executor Executor
	metrics  *Metrics
	logger   *slog.Logger
	config   Config
	parser   cron.Parser
}

// New creates a Scheduler.
func New(store EntryStore, executor Executor, metrics *Metrics, logger *slog.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		store:    store,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
		config:   cfg.withDefaults(),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Enqueue validates and persists a new entry in pending state.
func (s *Scheduler) Enqueue(ctx context.Context, entry *domain.ScheduleEntry) error {
	if entry.Trigger == domain.TriggerCron {
		next, err := NextFireAfter(entry.CronExpression, time.Now().UTC())
		if err != nil {
			return domain.Wrap(domain.KindValidation, err, "invalid cron expression")
		}
		entry.NextFireAt = next
	}
	if entry.NextFireAt.IsZero() {
		return domain.E(domain.KindValidation, "schedule entry has no fire time")
	}
	entry.State = domain.SchedulePending
	if entry.MaxAttempts == 0 {
		entry.MaxAttempts = 3
	}
	if err := s.store.Enqueue(ctx, entry); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "schedule entry enqueued",
		slog.String("bot", entry.Bot),
		slog.String("action", entry.ActionName),
		slog.String("trigger", string(entry.Trigger)),
		slog.Time("next_fire_at", entry.NextFireAt),
	)
	return nil
}

// Start begins the poll loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "scheduler started",
			slog.String("poll_interval", s.config.PollInterval.String()),
			slog.Int("max_concurrent", s.config.MaxConcurrent),
		)

		ticker := time.NewTicker(s.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return cancel
}

// tick runs one poll cycle: recover expired leases, claim due entries,
// fire them concurrently.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	now := start.UTC()

	if reverted, err := s.store.RevertExpiredLeases(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "lease recovery failed", slog.String("error", err.Error()))
	} else if reverted > 0 {
		s.logger.WarnContext(ctx, "reverted expired leases", slog.Int64("count", reverted))
		if s.metrics != nil {
			s.metrics.LeasesReverted.Add(float64(reverted))
		}
	}

	entries, err := s.store.ClaimDue(ctx, now, s.config.MaxConcurrent, s.config.Lease)
	if err != nil {
		s.logger.ErrorContext(ctx, "claiming due entries failed", slog.String("error", err.Error()))
		return
	}
	if len(entries) > 0 {
		s.logger.InfoContext(ctx, "schedule entries due", slog.Int("count", len(entries)))

		var wg sync.WaitGroup
		for i := range entries {
			wg.Add(1)
			go func(entry domain.ScheduleEntry) {
				defer wg.Done()
				s.fire(ctx, &entry)
			}(entries[i])
		}
		wg.Wait()
	}

	if s.metrics != nil {
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// fire executes one claimed entry and records the outcome.
func (s *Scheduler) fire(ctx context.Context, entry *domain.ScheduleEntry) {
	s.logger.InfoContext(ctx, "firing schedule entry",
		slog.String("entry_id", entry.ID.String()),
		slog.String("bot", entry.Bot),
		slog.String("action", entry.ActionName),
		slog.Int("attempt", entry.Attempts+1),
	)
	if s.metrics != nil {
		s.metrics.EntriesFired.Inc()
	}

	err := s.executor.ExecuteScheduled(ctx, entry)
	if err == nil {
		var next *time.Time
		if entry.Trigger == domain.TriggerCron {
			n, cronErr := NextFireAfter(entry.CronExpression, time.Now().UTC())
			if cronErr != nil {
				// The expression validated at enqueue; treat a parse
				// failure here as terminal.
				s.failEntry(ctx, entry, cronErr.Error(), true)
				return
			}
			next = &n
		}
		if recordErr := s.store.Complete(ctx, entry.ID, next); recordErr != nil {
			s.logger.ErrorContext(ctx, "recording completion failed",
				slog.String("entry_id", entry.ID.String()),
				slog.String("error", recordErr.Error()),
			)
		}
		if s.metrics != nil {
			s.metrics.EntriesSucceeded.Inc()
		}
		return
	}

	final := entry.Attempts+1 >= entry.MaxAttempts
	s.failEntry(ctx, entry, err.Error(), final)
}

func (s *Scheduler) failEntry(ctx context.Context, entry *domain.ScheduleEntry, errMsg string, final bool) {
	s.logger.ErrorContext(ctx, "schedule entry failed",
		slog.String("entry_id", entry.ID.String()),
		slog.String("bot", entry.Bot),
		slog.String("action", entry.ActionName),
		slog.Bool("final", final),
		slog.String("error", errMsg),
	)
	if s.metrics != nil {
		s.metrics.EntriesFailed.Inc()
	}
	if recordErr := s.store.Fail(ctx, entry.ID, errMsg, final); recordErr != nil {
		s.logger.ErrorContext(ctx, "recording failure failed",
			slog.String("entry_id", entry.ID.String()),
			slog.String("error", recordErr.Error()),
		)
	}
}

// NextFireAfter computes the next fire time of a five-field cron
// expression strictly after the given time.
func NextFireAfter(expr string, after time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}
