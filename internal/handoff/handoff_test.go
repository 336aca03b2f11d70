package handoff

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.HandoffSession // id → session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*domain.HandoffSession)}
}

func (s *memSessionStore) ActiveSession(_ context.Context, bot, sender string) (*domain.HandoffSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Bot == bot && sess.SenderID == sender && sess.Open() {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memSessionStore) Save(_ context.Context, session *domain.HandoffSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID.String()] = &cp
	return nil
}

func (s *memSessionStore) ListIdle(_ context.Context, cutoff time.Time) ([]domain.HandoffSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HandoffSession
	for _, sess := range s.sessions {
		if sess.Open() && sess.LastTrafficAt.Before(cutoff) {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *memSessionStore) get(id string) *domain.HandoffSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp
	}
	return nil
}

type fakeAgentClient struct {
	mu       sync.Mutex
	opened   int
	messages []string // "user:" or "bot:" prefixed
}

func (f *fakeAgentClient) Name() string { return "chatwoot" }

func (f *fakeAgentClient) OpenConversation(_ context.Context, session *domain.HandoffSession, _ ContactProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	session.ContactID = "c1"
	session.DestinationID = "conv1"
	session.WebsocketToken = "tok"
	return nil
}

func (f *fakeAgentClient) SendMessage(_ context.Context, _ *domain.HandoffSession, text string, fromUser bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := "bot:"
	if fromUser {
		prefix = "user:"
	}
	f.messages = append(f.messages, prefix+text)
	return nil
}

func (f *fakeAgentClient) Stream(ctx context.Context, _ *domain.HandoffSession, _ func(AgentFrame)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeAgentClient) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []string
}

func (n *recordingNotifier) DeliverToUser(_ context.Context, _, _, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, text)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testController(store SessionStore, client AgentClient, notifier UserNotifier, cfg Config) *Controller {
	return NewController(store, []AgentClient{client}, notifier, cfg, testLogger())
}

func snapshot() *domain.TrackerSnapshot {
	return &domain.TrackerSnapshot{
		SenderID:      "u1",
		LatestMessage: domain.UserMessage{Text: "I need a human"},
		Slots:         map[string]any{"name": "Ada", "email": "ada@example.com"},
		LastNBotResponses: []domain.BotResponse{
			{Text: "Hello!"},
			{Text: "How can I help?"},
		},
	}
}

func liveAgentCfg() *domain.LiveAgentConfig {
	return &domain.LiveAgentConfig{
		AgentSystem:      "chatwoot",
		BotResponse:      "Connecting you to an agent.",
		AgentUnavailable: "Agents are offline.",
		ReplayTurns:      2,
	}
}

func TestRequest_OpensSessionAndReplaysHistory(t *testing.T) {
	store := newMemSessionStore()
	client := &fakeAgentClient{}
	c := testController(store, client, &recordingNotifier{}, Config{})

	res, err := c.Request(context.Background(), "support", liveAgentCfg(), snapshot())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(res.Responses) != 1 || res.Responses[0].Text != "Connecting you to an agent." {
		t.Errorf("responses = %v", res.Responses)
	}

	sess, _ := store.ActiveSession(context.Background(), "support", "u1")
	if sess == nil || sess.State != domain.HandoffRequested {
		t.Fatalf("session = %+v", sess)
	}
	if sess.DestinationID != "conv1" {
		t.Errorf("destination = %q", sess.DestinationID)
	}

	// Two replayed bot turns plus the latest user message.
	msgs := client.sent()
	if len(msgs) != 3 || msgs[0] != "bot:Hello!" || msgs[2] != "user:I need a human" {
		t.Errorf("replayed = %v", msgs)
	}
}

func TestRequest_SecondRequestIsNoOp(t *testing.T) {
	store := newMemSessionStore()
	client := &fakeAgentClient{}
	c := testController(store, client, &recordingNotifier{}, Config{})

	if _, err := c.Request(context.Background(), "support", liveAgentCfg(), snapshot()); err != nil {
		t.Fatalf("first Request: %v", err)
	}
	if _, err := c.Request(context.Background(), "support", liveAgentCfg(), snapshot()); err != nil {
		t.Fatalf("second Request: %v", err)
	}
	if client.opened != 1 {
		t.Errorf("opened %d conversations, want 1", client.opened)
	}
}

func TestRequest_WorkingHoursVeto(t *testing.T) {
	store := newMemSessionStore()
	client := &fakeAgentClient{}
	c := testController(store, client, &recordingNotifier{}, Config{
		WorkingHours: WorkingHours{Enabled: true, Start: 9, End: 17},
	})
	c.clock = func() time.Time {
		return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	}

	res, err := c.Request(context.Background(), "support", liveAgentCfg(), snapshot())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(res.Responses) != 1 || res.Responses[0].Text != "Agents are offline." {
		t.Errorf("responses = %v", res.Responses)
	}
	if client.opened != 0 {
		t.Error("conversation opened outside working hours")
	}
	if sess, _ := store.ActiveSession(context.Background(), "support", "u1"); sess != nil {
		t.Error("session created outside working hours")
	}
}

func TestHandleAgentFrame_FirstAgentMessageGoesLive(t *testing.T) {
	store := newMemSessionStore()
	client := &fakeAgentClient{}
	notifier := &recordingNotifier{}
	c := testController(store, client, notifier, Config{})

	if _, err := c.Request(context.Background(), "support", liveAgentCfg(), snapshot()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	sess, _ := store.ActiveSession(context.Background(), "support", "u1")

	// Echo of the user's own message: no transition.
	c.HandleAgentFrame(context.Background(), sess, AgentFrame{Text: "I need a human", FromAgent: false})
	if got := store.get(sess.ID.String()); got.State != domain.HandoffRequested {
		t.Fatalf("state after echo = %s", got.State)
	}

	// Private agent note: no delivery, no transition.
	c.HandleAgentFrame(context.Background(), sess, AgentFrame{Text: "internal note", FromAgent: true, Private: true})
	if got := store.get(sess.ID.String()); got.State != domain.HandoffRequested {
		t.Fatalf("state after private note = %s", got.State)
	}

	c.HandleAgentFrame(context.Background(), sess, AgentFrame{Text: "Hi, agent here", FromAgent: true})
	got := store.get(sess.ID.String())
	if got.State != domain.HandoffLive || got.LiveAt == nil {
		t.Fatalf("state = %s", got.State)
	}
	if len(notifier.delivered) != 1 || notifier.delivered[0] != "Hi, agent here" {
		t.Errorf("delivered = %v", notifier.delivered)
	}
}

func TestForwardUserTurn(t *testing.T) {
	store := newMemSessionStore()
	client := &fakeAgentClient{}
	c := testController(store, client, &recordingNotifier{}, Config{})

	if _, err := c.Request(context.Background(), "support", liveAgentCfg(), snapshot()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	sess, _ := store.ActiveSession(context.Background(), "support", "u1")

	before := len(client.sent())
	if err := c.ForwardUserTurn(context.Background(), sess, "still waiting"); err != nil {
		t.Fatalf("ForwardUserTurn: %v", err)
	}
	msgs := client.sent()
	if len(msgs) != before+1 || msgs[len(msgs)-1] != "user:still waiting" {
		t.Errorf("messages = %v", msgs)
	}
}

func TestReapIdle_ClosesStaleSessions(t *testing.T) {
	store := newMemSessionStore()
	client := &fakeAgentClient{}
	c := testController(store, client, &recordingNotifier{}, Config{IdleTimeout: time.Second})

	if _, err := c.Request(context.Background(), "support", liveAgentCfg(), snapshot()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	sess, _ := store.ActiveSession(context.Background(), "support", "u1")

	// Advance the clock past the idle timeout.
	c.clock = func() time.Time { return time.Now().Add(time.Hour) }
	c.reapIdle(context.Background())

	got := store.get(sess.ID.String())
	if got.State != domain.HandoffClosed || got.ClosedAt == nil {
		t.Fatalf("state = %s", got.State)
	}
	// The bot owns the conversation again.
	if active, _ := store.ActiveSession(context.Background(), "support", "u1"); active != nil {
		t.Error("closed session still active")
	}
}

func TestWorkingHours(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 3, 1, h, 0, 0, 0, time.UTC) }
	tests := []struct {
		w    WorkingHours
		hour int
		want bool
	}{
		{WorkingHours{}, 3, true},
		{WorkingHours{Enabled: true, Start: 9, End: 17}, 9, true},
		{WorkingHours{Enabled: true, Start: 9, End: 17}, 16, true},
		{WorkingHours{Enabled: true, Start: 9, End: 17}, 17, false},
		{WorkingHours{Enabled: true, Start: 9, End: 17}, 3, false},
		{WorkingHours{Enabled: true, Start: 22, End: 6}, 23, true},
		{WorkingHours{Enabled: true, Start: 22, End: 6}, 5, true},
		{WorkingHours{Enabled: true, Start: 22, End: 6}, 12, false},
	}
	for _, tc := range tests {
		if got := tc.w.Open(at(tc.hour)); got != tc.want {
			t.Errorf("Open(hour=%d, window=%d-%d) = %v, want %v", tc.hour, tc.w.Start, tc.w.End, got, tc.want)
		}
	}
}
