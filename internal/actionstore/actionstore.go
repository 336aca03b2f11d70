// Package actionstore serves action definitions to the dispatcher through
// a read-through cache. Writes elsewhere in the system publish
// invalidations on a bus so every engine instance converges within the
// cache TTL.
package actionstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jkaninda/msaidizi/internal/domain"
)

const maxTTL = 60 * time.Second

// ErrActionNotFound is returned when a bot has no action with that name.
var ErrActionNotFound = errors.New("action not found")

// Backend is the persistence interface behind the cache.
type Backend interface {
	GetAction(ctx context.Context, bot, name string) (*domain.Action, error)
	ListActions(ctx context.Context, bot string, kind domain.Kind) ([]domain.Action, error)
}

// Bus distributes cache invalidations between engine instances.
// Subjects are "action.<bot>.<name>".
type Bus interface {
	Publish(ctx context.Context, subject string) error
	// Subscribe delivers subjects until the context is cancelled.
	Subscribe(ctx context.Context, handle func(subject string)) error
}

// Store is the cached, coalesced read path for action definitions.
type Store struct {
	backend Backend
	bus     Bus
	ttl     time.Duration
	logger  *slog.Logger
	clock   func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry // bot+"\x00"+name
}

type cacheEntry struct {
	action    *domain.Action
	expiresAt time.Time
}

// New creates a Store. ttl is clamped to 60 s; zero means 60 s.
func New(backend Backend, bus Bus, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	return &Store{
		backend: backend,
		bus:     bus,
		ttl:     ttl,
		logger:  logger,
		clock:   time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Start subscribes to the invalidation bus. Returns a cancel function.
func (s *Store) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		if err := s.bus.Subscribe(ctx, s.handleInvalidation); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "invalidation subscription ended", slog.String("error", err.Error()))
		}
	}()
	return cancel
}

// Lookup returns the action for (bot, name), from cache when fresh.
// Concurrent misses for the same key are coalesced into one backend read.
// The returned action is a copy; callers may not mutate shared state.
func (s *Store) Lookup(ctx context.Context, bot, name string) (*domain.Action, error) {
	key := bot + "\x00" + name

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && s.clock().Before(entry.expiresAt) {
		return copyAction(entry.action), nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		action, err := s.backend.GetAction(ctx, bot, name)
		if err != nil {
			return nil, err
		}
		if action == nil {
			return nil, domain.Wrap(domain.KindNotFound, ErrActionNotFound, "%s/%s", bot, name)
		}
		s.mu.Lock()
		s.cache[key] = cacheEntry{action: action, expiresAt: s.clock().Add(s.ttl)}
		s.mu.Unlock()
		return action, nil
	})
	if err != nil {
		return nil, err
	}
	return copyAction(v.(*domain.Action)), nil
}

// List returns the bot's actions, optionally filtered by kind. List reads
// the backend directly; only point lookups are cached.
func (s *Store) List(ctx context.Context, bot string, kind domain.Kind) ([]domain.Action, error) {
	return s.backend.ListActions(ctx, bot, kind)
}

// Invalidate drops (bot, name) locally and publishes to other instances.
func (s *Store) Invalidate(ctx context.Context, bot, name string) error {
	s.drop(bot, name)
	return s.bus.Publish(ctx, "action."+bot+"."+name)
}

func (s *Store) handleInvalidation(subject string) {
	bot, name, ok := parseSubject(subject)
	if !ok {
		s.logger.Warn("malformed invalidation subject", slog.String("subject", subject))
		return
	}
	s.drop(bot, name)
	s.logger.Debug("cache invalidated",
		slog.String("bot", bot),
		slog.String("action", name),
	)
}

func (s *Store) drop(bot, name string) {
	s.mu.Lock()
	delete(s.cache, bot+"\x00"+name)
	s.mu.Unlock()
}

// parseSubject splits "action.<bot>.<name>". Action names may contain
// dots never, bot names may not contain dots either, so two splits do.
func parseSubject(subject string) (bot, name string, ok bool) {
	const prefix = "action."
	if len(subject) <= len(prefix) || subject[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := subject[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			if i == 0 || i == len(rest)-1 {
				return "", "", false
			}
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}

// copyAction returns a shallow copy with a deep-copied config so cached
// definitions cannot be mutated by handlers.
func copyAction(a *domain.Action) *domain.Action {
	cp := *a
	if a.Config != nil {
		cp.Config = domain.CloneConfig(a.Config)
	}
	return &cp
}
