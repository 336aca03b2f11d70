package domain

import "encoding/json"

// Intent is the NLU classification of the latest user message.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// UserMessage is the latest user turn with its NLU result.
type UserMessage struct {
	Text   string `json:"text"`
	Intent Intent `json:"intent"`
}

// BotResponse is one previously dispatched bot utterance.
type BotResponse struct {
	Text   string          `json:"text,omitempty"`
	Custom json.RawMessage `json:"custom,omitempty"`
}

// TrackerSnapshot is the read-only view of conversation state at the start
// of a turn. The dialog manager exclusively owns the underlying tracker; the
// engine never mutates the snapshot.
type TrackerSnapshot struct {
	SenderID           string            `json:"sender_id"`
	LatestMessage      UserMessage       `json:"latest_message"`
	Slots              map[string]any    `json:"slots"`
	RecentEvents       []json.RawMessage `json:"events,omitempty"`
	LastNBotResponses  []BotResponse     `json:"last_n_bot_responses,omitempty"`
	FollowupAction     string            `json:"followup_action,omitempty"`
	ActiveLoop         string            `json:"active_loop,omitempty"`
}

// Slot returns the slot value and whether it is present.
func (t *TrackerSnapshot) Slot(name string) (any, bool) {
	if t.Slots == nil {
		return nil, false
	}
	v, ok := t.Slots[name]
	return v, ok
}

// HistoryWindow returns the last n bot responses, oldest first.
// The window is min(n, len(history)).
func (t *TrackerSnapshot) HistoryWindow(n int) []BotResponse {
	if n <= 0 || len(t.LastNBotResponses) == 0 {
		return nil
	}
	if n > len(t.LastNBotResponses) {
		n = len(t.LastNBotResponses)
	}
	return t.LastNBotResponses[len(t.LastNBotResponses)-n:]
}
