package actionstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgChannel is the NOTIFY channel carrying invalidation subjects as payloads.
const pgChannel = "msaidizi_action_invalidations"

// PgBus is a Bus over Postgres LISTEN/NOTIFY. One dedicated connection
// listens; publishes go through the shared pool.
type PgBus struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPgBus(pool *pgxpool.Pool, logger *slog.Logger) *PgBus {
	return &PgBus{pool: pool, logger: logger}
}

func (b *PgBus) Publish(ctx context.Context, subject string) error {
	_, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", pgChannel, subject)
	if err != nil {
		return fmt.Errorf("publishing invalidation: %w", err)
	}
	return nil
}

// Subscribe holds a dedicated connection on LISTEN and re-acquires it on
// failure. Blocks until the context is cancelled.
func (b *PgBus) Subscribe(ctx context.Context, handle func(subject string)) error {
	for {
		err := b.listenOnce(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("invalidation listener dropped, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *PgBus) listenOnce(ctx context.Context, handle func(subject string)) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("waiting for notification: %w", err)
		}
		handle(notification.Payload)
	}
}

// MemoryBus is an in-process Bus for the sqlite backend and for tests.
// Publishes are delivered synchronously to all subscribers.
type MemoryBus struct {
	mu   sync.Mutex
	subs []func(string)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(_ context.Context, subject string) error {
	b.mu.Lock()
	subs := append([]func(string){}, b.subs...)
	b.mu.Unlock()
	for _, sub := range subs {
		sub(subject)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handle func(subject string)) error {
	b.mu.Lock()
	b.subs = append(b.subs, handle)
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}
