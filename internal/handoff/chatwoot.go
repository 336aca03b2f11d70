package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
)

const reconnectBackoff = 5 * time.Second

// ChatwootConfig connects the client to one Chatwoot installation.
type ChatwootConfig struct {
	BaseURL      string // e.g. https://chatwoot.example.com
	AccountID    string
	InboxID      string
	APIToken     string
	WebsocketURL string // e.g. wss://chatwoot.example.com/cable
}

// ChatwootClient implements AgentClient against the Chatwoot REST and
// ActionCable APIs.
type ChatwootClient struct {
	cfg    ChatwootConfig
	inv    *invoker.Invoker
	logger *slog.Logger
}

func NewChatwootClient(cfg ChatwootConfig, inv *invoker.Invoker, logger *slog.Logger) *ChatwootClient {
	return &ChatwootClient{cfg: cfg, inv: inv, logger: logger}
}

func (c *ChatwootClient) Name() string { return "chatwoot" }

// OpenConversation upserts the contact and creates the conversation. The
// contact's pubsub token feeds the inbound stream.
func (c *ChatwootClient) OpenConversation(ctx context.Context, session *domain.HandoffSession, profile ContactProfile) error {
	contact, err := c.call(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/accounts/%s/contacts", c.cfg.AccountID),
		map[string]any{
			"inbox_id":   c.cfg.InboxID,
			"name":       profile.Name,
			"email":      profile.Email,
			"identifier": session.Bot + ":" + session.SenderID,
		})
	if err != nil {
		return err
	}
	contactID, _ := project(contact, "payload", "contact", "id")
	pubsub, _ := project(contact, "payload", "contact", "pubsub_token")
	sourceID, _ := project(contact, "payload", "contact_inbox", "source_id")
	if contactID == nil {
		return domain.E(domain.KindUpstream, "chatwoot contact response missing id")
	}
	session.ContactID = fmt.Sprintf("%v", contactID)
	if s, ok := pubsub.(string); ok {
		session.WebsocketToken = s
	}
	session.WebsocketURL = c.cfg.WebsocketURL

	conv, err := c.call(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/accounts/%s/conversations", c.cfg.AccountID),
		map[string]any{
			"inbox_id":   c.cfg.InboxID,
			"contact_id": session.ContactID,
			"source_id":  sourceID,
		})
	if err != nil {
		return err
	}
	convID, _ := project(conv, "id")
	if convID == nil {
		return domain.E(domain.KindUpstream, "chatwoot conversation response missing id")
	}
	session.DestinationID = fmt.Sprintf("%v", convID)
	return nil
}

// SendMessage posts one message into the conversation. fromUser controls
// the message direction shown to the agent.
func (c *ChatwootClient) SendMessage(ctx context.Context, session *domain.HandoffSession, text string, fromUser bool) error {
	msgType := "outgoing"
	if fromUser {
		msgType = "incoming"
	}
	_, err := c.call(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/accounts/%s/conversations/%s/messages", c.cfg.AccountID, session.DestinationID),
		map[string]any{
			"content":      text,
			"message_type": msgType,
		})
	return err
}

// Stream subscribes to the conversation over ActionCable and emits one
// frame per agent message. Reconnects until the context is cancelled.
func (c *ChatwootClient) Stream(ctx context.Context, session *domain.HandoffSession, onFrame func(AgentFrame)) error {
	for {
		err := c.streamOnce(ctx, session, onFrame)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("chatwoot stream disconnected, reconnecting",
			slog.String("conversation", session.DestinationID),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (c *ChatwootClient) streamOnce(ctx context.Context, session *domain.HandoffSession, onFrame func(AgentFrame)) error {
	conn, _, err := websocket.Dial(ctx, session.WebsocketURL, nil)
	if err != nil {
		return fmt.Errorf("dialing chatwoot cable: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	identifier, _ := json.Marshal(map[string]string{
		"channel":      "RoomChannel",
		"pubsub_token": session.WebsocketToken,
	})
	subscribe, _ := json.Marshal(map[string]any{
		"command":    "subscribe",
		"identifier": string(identifier),
	})
	if err := conn.Write(ctx, websocket.MessageText, subscribe); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var env cableEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("invalid cable frame", slog.String("error", err.Error()))
			continue
		}
		if env.Type == "ping" || env.Type == "welcome" || env.Type == "confirm_subscription" {
			continue
		}
		if env.Message.Event != "message.created" {
			continue
		}
		msg := env.Message.Data
		onFrame(AgentFrame{
			Text: msg.Content,
			// message_type 1 = outgoing (agent → user).
			FromAgent: msg.MessageType == 1,
			Private:   msg.Private,
		})
	}
}

func (c *ChatwootClient) call(ctx context.Context, method, path string, body map[string]any) (any, error) {
	res, err := c.inv.Do(ctx, &invoker.Request{
		Method:  method,
		URL:     c.cfg.BaseURL + path,
		Headers: map[string]string{"api_access_token": c.cfg.APIToken},
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status > 299 {
		return nil, domain.E(domain.KindFromStatus(res.Status), "chatwoot returned status %d", res.Status)
	}
	return res.TemplateData(), nil
}

// cableEnvelope is the ActionCable wire shape Chatwoot emits.
type cableEnvelope struct {
	Type    string `json:"type"`
	Message struct {
		Event string `json:"event"`
		Data  struct {
			Content     string `json:"content"`
			MessageType int    `json:"message_type"`
			Private     bool   `json:"private"`
		} `json:"data"`
	} `json:"message"`
}

// project walks nested JSON maps by key.
func project(root any, path ...string) (any, bool) {
	cur := root
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
