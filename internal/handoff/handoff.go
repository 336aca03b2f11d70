// Package handoff diverts conversations from the bot to a human agent
// and owns the per-sender handoff state machine:
//
//	bot → requested → live → closed
//
// While a session is requested or live the dialog manager is
// short-circuited and user turns are forwarded to the agent system.
package handoff

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

const (
	defaultIdleTimeout  = 1800 * time.Second
	defaultReapInterval = 30 * time.Second
	defaultReplayTurns  = 10
)

// SessionStore persists handoff sessions.
type SessionStore interface {
	// ActiveSession returns the non-closed session for (bot, sender), or
	// nil when the bot owns the conversation.
	ActiveSession(ctx context.Context, bot, sender string) (*domain.HandoffSession, error)
	Save(ctx context.Context, session *domain.HandoffSession) error
	// ListIdle returns non-closed sessions with no traffic since cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]domain.HandoffSession, error)
}

// ContactProfile identifies the end user to the agent system.
type ContactProfile struct {
	Name  string
	Email string
}

// AgentFrame is one inbound message from the agent system's stream.
type AgentFrame struct {
	Text      string
	FromAgent bool // False for echoes of user/bot messages.
	Private   bool // Agent-side internal notes are never forwarded.
}

// AgentClient is the integration with one agent system (e.g. chatwoot).
type AgentClient interface {
	Name() string
	// OpenConversation upserts the contact and creates a conversation,
	// filling the session's ContactID, DestinationID, WebsocketToken and
	// WebsocketURL.
	OpenConversation(ctx context.Context, session *domain.HandoffSession, profile ContactProfile) error
	// SendMessage posts one message into the agent conversation.
	SendMessage(ctx context.Context, session *domain.HandoffSession, text string, fromUser bool) error
	// Stream reads inbound frames until the context is cancelled.
	Stream(ctx context.Context, session *domain.HandoffSession, onFrame func(AgentFrame)) error
}

// UserNotifier delivers agent replies back to the end user's channel.
type UserNotifier interface {
	DeliverToUser(ctx context.Context, bot, sender, text string) error
}

// WorkingHours gates handoff requests to a daily window. Zero value means
// always open.
type WorkingHours struct {
	Enabled  bool
	Start    int // Hour of day, inclusive.
	End      int // Hour of day, exclusive.
	Location *time.Location
}

// Open reports whether agents are available at t.
func (w WorkingHours) Open(t time.Time) bool {
	if !w.Enabled {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	if w.Start <= w.End {
		return h >= w.Start && h < w.End
	}
	// Overnight window, e.g. 22–6.
	return h >= w.Start || h < w.End
}

// Config bounds the controller.
type Config struct {
	IdleTimeout  time.Duration // Default 1800 s.
	ReapInterval time.Duration // Default 30 s.
	WorkingHours WorkingHours
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = defaultReapInterval
	}
	return c
}

// Controller runs the handoff state machine.
type Controller struct {
	store    SessionStore
	clients  map[string]AgentClient // agent system name → client
	notifier UserNotifier
	config   Config
	logger   *slog.Logger
	clock    func() time.Time

	// streams tracks the cancel func of each session's inbound stream.
	mu      sync.Mutex
	streams map[string]context.CancelFunc // session id → cancel
}

// NewController creates a Controller over the given agent clients.
func NewController(store SessionStore, clients []AgentClient, notifier UserNotifier, cfg Config, logger *slog.Logger) *Controller {
	byName := make(map[string]AgentClient, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Controller{
		store:    store,
		clients:  byName,
		notifier: notifier,
		config:   cfg.withDefaults(),
		logger:   logger,
		clock:    time.Now,
		streams:  make(map[string]context.CancelFunc),
	}
}

// Active returns the open session for (bot, sender), or nil.
func (c *Controller) Active(ctx context.Context, bot, sender string) (*domain.HandoffSession, error) {
	return c.store.ActiveSession(ctx, bot, sender)
}

// Request handles a live_agent action: opens an agent conversation,
// replays recent history, and moves the sender to requested state.
func (c *Controller) Request(ctx context.Context, bot string, cfg *domain.LiveAgentConfig, snapshot *domain.TrackerSnapshot) (*domain.TurnResult, error) {
	now := c.clock().UTC()
	result := &domain.TurnResult{Success: true}

	if !c.config.WorkingHours.Open(now) {
		text := cfg.AgentUnavailable
		if text == "" {
			text = "No agents are available right now. Please try again later."
		}
		result.AddResponse(domain.Response{Text: text})
		return result, nil
	}

	client, ok := c.clients[cfg.AgentSystem]
	if !ok {
		return nil, domain.E(domain.KindValidation, "unknown agent system %q", cfg.AgentSystem)
	}

	existing, err := c.store.ActiveSession(ctx, bot, snapshot.SenderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// The conversation is already diverted; requesting again is a no-op.
		return result, nil
	}

	session := &domain.HandoffSession{
		ID:            domain.NewID(),
		Bot:           bot,
		SenderID:      snapshot.SenderID,
		AgentSystem:   cfg.AgentSystem,
		State:         domain.HandoffRequested,
		RequestedAt:   now,
		LastTrafficAt: now,
	}
	if err := client.OpenConversation(ctx, session, profileFrom(snapshot)); err != nil {
		return nil, err
	}

	c.replayHistory(ctx, client, session, snapshot, cfg.ReplayTurns)

	if err := c.store.Save(ctx, session); err != nil {
		return nil, err
	}
	c.startStream(session, client)

	c.logger.InfoContext(ctx, "handoff requested",
		slog.String("bot", bot),
		slog.String("sender", snapshot.SenderID),
		slog.String("agent_system", cfg.AgentSystem),
		slog.String("destination", session.DestinationID),
	)

	if cfg.BotResponse != "" {
		result.AddResponse(domain.Response{Text: cfg.BotResponse})
	}
	return result, nil
}

// ForwardUserTurn relays a user message into the agent conversation while
// the session is open.
func (c *Controller) ForwardUserTurn(ctx context.Context, session *domain.HandoffSession, text string) error {
	client, ok := c.clients[session.AgentSystem]
	if !ok {
		return domain.E(domain.KindInternal, "no client for agent system %q", session.AgentSystem)
	}
	if err := client.SendMessage(ctx, session, text, true); err != nil {
		return err
	}
	session.LastTrafficAt = c.clock().UTC()
	return c.store.Save(ctx, session)
}

// Close ends a session and stops its stream.
func (c *Controller) Close(ctx context.Context, session *domain.HandoffSession, reason string) error {
	now := c.clock().UTC()
	session.State = domain.HandoffClosed
	session.ClosedAt = &now
	if err := c.store.Save(ctx, session); err != nil {
		return err
	}
	c.stopStream(session.ID.String())
	c.logger.InfoContext(ctx, "handoff closed",
		slog.String("bot", session.Bot),
		slog.String("sender", session.SenderID),
		slog.String("reason", reason),
	)
	return nil
}

// Start launches the idle-session reaper. Returns a cancel function.
func (c *Controller) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(c.config.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.reapIdle(ctx)
			}
		}
	}()

	return func() {
		cancel()
		c.mu.Lock()
		for _, stop := range c.streams {
			stop()
		}
		c.streams = make(map[string]context.CancelFunc)
		c.mu.Unlock()
	}
}

// reapIdle closes sessions without traffic for the idle timeout.
func (c *Controller) reapIdle(ctx context.Context) {
	cutoff := c.clock().UTC().Add(-c.config.IdleTimeout)
	idle, err := c.store.ListIdle(ctx, cutoff)
	if err != nil {
		c.logger.ErrorContext(ctx, "listing idle handoff sessions failed", slog.String("error", err.Error()))
		return
	}
	for i := range idle {
		if err := c.Close(ctx, &idle[i], "idle timeout"); err != nil {
			c.logger.ErrorContext(ctx, "closing idle session failed",
				slog.String("session_id", idle[i].ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// HandleAgentFrame processes one inbound frame: the first agent message
// moves requested → live, and agent replies are delivered to the user.
func (c *Controller) HandleAgentFrame(ctx context.Context, session *domain.HandoffSession, frame AgentFrame) {
	if !frame.FromAgent || frame.Private || frame.Text == "" {
		return
	}
	now := c.clock().UTC()
	session.LastTrafficAt = now
	if session.State == domain.HandoffRequested {
		session.State = domain.HandoffLive
		session.LiveAt = &now
		c.logger.InfoContext(ctx, "handoff live",
			slog.String("bot", session.Bot),
			slog.String("sender", session.SenderID),
		)
	}
	if err := c.store.Save(ctx, session); err != nil {
		c.logger.ErrorContext(ctx, "saving session failed", slog.String("error", err.Error()))
	}
	if err := c.notifier.DeliverToUser(ctx, session.Bot, session.SenderID, frame.Text); err != nil {
		c.logger.ErrorContext(ctx, "delivering agent reply failed",
			slog.String("sender", session.SenderID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) startStream(session *domain.HandoffSession, client AgentClient) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.streams[session.ID.String()] = cancel
	c.mu.Unlock()

	go func() {
		err := client.Stream(ctx, session, func(frame AgentFrame) {
			c.HandleAgentFrame(ctx, session, frame)
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Error("agent stream ended",
				slog.String("session_id", session.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (c *Controller) stopStream(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.streams[sessionID]; ok {
		cancel()
		delete(c.streams, sessionID)
	}
}

// replayHistory posts the last n turns into the agent conversation so the
// agent has context before joining.
func (c *Controller) replayHistory(ctx context.Context, client AgentClient, session *domain.HandoffSession, snapshot *domain.TrackerSnapshot, n int) {
	if n == 0 {
		n = defaultReplayTurns
	}
	for _, b := range snapshot.HistoryWindow(n) {
		if b.Text == "" {
			continue
		}
		if err := client.SendMessage(ctx, session, b.Text, false); err != nil {
			c.logger.WarnContext(ctx, "history replay failed", slog.String("error", err.Error()))
			return
		}
	}
	if snapshot.LatestMessage.Text != "" {
		if err := client.SendMessage(ctx, session, snapshot.LatestMessage.Text, true); err != nil {
			c.logger.WarnContext(ctx, "history replay failed", slog.String("error", err.Error()))
		}
	}
}

func profileFrom(snapshot *domain.TrackerSnapshot) ContactProfile {
	p := ContactProfile{Name: snapshot.SenderID}
	if v, ok := snapshot.Slot("name"); ok {
		if s, ok := v.(string); ok && s != "" {
			p.Name = s
		}
	}
	if v, ok := snapshot.Slot("email"); ok {
		if s, ok := v.(string); ok {
			p.Email = s
		}
	}
	return p
}
