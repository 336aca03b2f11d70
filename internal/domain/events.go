package domain

import "encoding/json"

// EventType discriminates the events returned to the dialog manager.
type EventType string

const (
	EventSlot           EventType = "slot"
	EventBot            EventType = "bot"
	EventFollowupAction EventType = "followup_action"
	EventActiveLoop     EventType = "active_loop"
	EventFormEnd        EventType = "form_end"
	EventResetSlots     EventType = "reset_slots"
	EventError          EventType = "error"
	EventWarning        EventType = "warning"
)

// Event is one dialog event produced by action execution.
// Exactly which fields are meaningful depends on Type.
type Event struct {
	Type  EventType `json:"event"`
	Name  string    `json:"name,omitempty"`  // Slot name, followup action name, loop name.
	Value any       `json:"value,omitempty"` // Slot value.
	Text  string    `json:"text,omitempty"`  // Bot utterance, error/warning message.
	Kind  string    `json:"kind,omitempty"`  // Error kind for error events.
}

// SlotEvent builds a slot-set event.
func SlotEvent(name string, value any) Event {
	return Event{Type: EventSlot, Name: name, Value: value}
}

// BotEvent builds a bot utterance event.
func BotEvent(text string) Event {
	return Event{Type: EventBot, Text: text}
}

// FollowupEvent builds a followup-action trigger event.
func FollowupEvent(name string) Event {
	return Event{Type: EventFollowupAction, Name: name}
}

// ErrorEvent builds an error event carrying the error kind.
func ErrorEvent(kind ErrorKind, msg string) Event {
	return Event{Type: EventError, Kind: string(kind), Text: msg}
}

// WarningEvent builds a warning event (e.g. duplicate parameter keys).
func WarningEvent(msg string) Event {
	return Event{Type: EventWarning, Text: msg}
}

// Response is one bot utterance dispatched back through the dialog manager.
type Response struct {
	Text   string          `json:"text,omitempty"`
	Custom json.RawMessage `json:"custom,omitempty"`
	// Buttons carry quick replies for two-stage fallback responses.
	Buttons []QuickReply `json:"buttons,omitempty"`
}

// TurnRequest is the inbound dialog envelope consumed by the engine.
type TurnRequest struct {
	Bot        string          `json:"bot"`
	SenderID   string          `json:"sender_id,omitempty"`
	ActionName string          `json:"action_name"`
	Tracker    TrackerSnapshot `json:"tracker"`
	Version    string          `json:"version,omitempty"`
}

// TurnResult is the outbound envelope returned to the dialog manager.
// It is always well-formed: execution never raises across this boundary.
type TurnResult struct {
	Events     []Event    `json:"events"`
	Responses  []Response `json:"responses"`
	ActionName string     `json:"action_name"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
}

// AddSlot appends a slot event.
func (r *TurnResult) AddSlot(name string, value any) {
	r.Events = append(r.Events, SlotEvent(name, value))
}

// AddResponse appends a bot utterance and its matching bot event.
func (r *TurnResult) AddResponse(resp Response) {
	r.Responses = append(r.Responses, resp)
	r.Events = append(r.Events, BotEvent(resp.Text))
}
