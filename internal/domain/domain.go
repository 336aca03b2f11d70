// Package domain defines cross-cutting entity types used across the engine.
package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the action variants an author can define.
type Kind string

const (
	KindHTTP             Kind = "http"
	KindPyscript         Kind = "pyscript"
	KindDB               Kind = "db"
	KindEmail            Kind = "email"
	KindJira             Kind = "jira"
	KindZendesk          Kind = "zendesk"
	KindPipedrive        Kind = "pipedrive"
	KindHubspotForms     Kind = "hubspot_forms"
	KindGoogleSearch     Kind = "google_search"
	KindWebSearch        Kind = "web_search"
	KindSlotSet          Kind = "slot_set"
	KindTwoStageFallback Kind = "two_stage_fallback"
	KindRazorpay         Kind = "razorpay"
	KindPrompt           Kind = "prompt"
	KindLiveAgent        Kind = "live_agent"
	KindCallback         Kind = "callback"
	KindSchedule         Kind = "schedule"
	KindParallel         Kind = "parallel"
)

// Kinds lists every supported action kind.
var Kinds = []Kind{
	KindHTTP, KindPyscript, KindDB, KindEmail, KindJira, KindZendesk,
	KindPipedrive, KindHubspotForms, KindGoogleSearch, KindWebSearch,
	KindSlotSet, KindTwoStageFallback, KindRazorpay, KindPrompt,
	KindLiveAgent, KindCallback, KindSchedule, KindParallel,
}

// Valid reports whether k is a known action kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParameterType names the source a parameter value is resolved from.
type ParameterType string

const (
	ParamValue       ParameterType = "value"
	ParamSlot        ParameterType = "slot"
	ParamSenderID    ParameterType = "sender_id"
	ParamUserMessage ParameterType = "user_message"
	ParamKeyVault    ParameterType = "key_vault"
	ParamIntent      ParameterType = "intent"
)

// ParameterSpec describes one parameter of an action and how to resolve it.
type ParameterSpec struct {
	Key           string        `json:"key" yaml:"key"`
	Value         string        `json:"value,omitempty" yaml:"value,omitempty"`
	ParameterType ParameterType `json:"parameter_type,omitempty" yaml:"parameter_type,omitempty"`
	Encrypt       bool          `json:"encrypt,omitempty" yaml:"encrypt,omitempty"`
}

// Validate enforces the per-type invariants of §parameter resolution.
func (p ParameterSpec) Validate() error {
	pt := p.ParameterType
	if pt == "" {
		pt = ParamValue
	}
	switch pt {
	case ParamValue, ParamSenderID, ParamUserMessage, ParamIntent:
		if p.Encrypt {
			return fmt.Errorf("parameter %q: encrypt is only valid for key_vault", p.Key)
		}
	case ParamSlot:
		if p.Value == "" {
			return fmt.Errorf("parameter %q: slot parameters require a slot name in value", p.Key)
		}
		if p.Encrypt {
			return fmt.Errorf("parameter %q: encrypt is only valid for key_vault", p.Key)
		}
	case ParamKeyVault:
		if p.Value == "" {
			return fmt.Errorf("parameter %q: key_vault parameters require a secret name in value", p.Key)
		}
	default:
		return fmt.Errorf("parameter %q: unknown parameter_type %q", p.Key, p.ParameterType)
	}
	return nil
}

// Type returns the effective parameter type, defaulting to value.
func (p ParameterSpec) Type() ParameterType {
	if p.ParameterType == "" {
		return ParamValue
	}
	return p.ParameterType
}

// SlotType enumerates the slot value types the dialog manager understands.
type SlotType string

const (
	SlotText        SlotType = "text"
	SlotBool        SlotType = "bool"
	SlotList        SlotType = "list"
	SlotFloat       SlotType = "float"
	SlotCategorical SlotType = "categorical"
	SlotAny         SlotType = "any"
)

var slotNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// SlotSpec declares a named, typed piece of dialog state.
type SlotSpec struct {
	Name                  string   `json:"name" yaml:"name"`
	Type                  SlotType `json:"type" yaml:"type"`
	InitialValue          any      `json:"initial_value,omitempty" yaml:"initial_value,omitempty"`
	Values                []string `json:"values,omitempty" yaml:"values,omitempty"`
	Min                   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max                   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	InfluenceConversation bool     `json:"influence_conversation" yaml:"influence_conversation"`
}

// Validate checks the slot naming and type constraints.
func (s SlotSpec) Validate() error {
	if !slotNameRe.MatchString(s.Name) {
		return fmt.Errorf("slot name %q must be lowercase alphanumeric or underscore", s.Name)
	}
	switch s.Type {
	case SlotText, SlotBool, SlotList, SlotFloat, SlotCategorical, SlotAny:
	default:
		return fmt.Errorf("slot %q: unknown type %q", s.Name, s.Type)
	}
	if s.Type == SlotFloat && s.Min != nil && s.Max != nil && *s.Min > *s.Max {
		return fmt.Errorf("slot %q: min %v exceeds max %v", s.Name, *s.Min, *s.Max)
	}
	return nil
}

// EvaluationType selects how a response value or set-slot expression is computed.
type EvaluationType string

const (
	EvalExpression EvaluationType = "expression"
	EvalScript     EvaluationType = "script"
)

// DispatchType selects the shape of a dispatched response.
type DispatchType string

const (
	DispatchText DispatchType = "text"
	DispatchJSON DispatchType = "json"
)

// ResponseSpec describes how an action result becomes a bot response.
type ResponseSpec struct {
	Value          string         `json:"value,omitempty" yaml:"value,omitempty"`
	Dispatch       bool           `json:"dispatch" yaml:"dispatch"`
	EvaluationType EvaluationType `json:"evaluation_type,omitempty" yaml:"evaluation_type,omitempty"`
	DispatchType   DispatchType   `json:"dispatch_type,omitempty" yaml:"dispatch_type,omitempty"`
}

// Validate enforces dispatch ⇒ value non-empty.
func (r ResponseSpec) Validate() error {
	if r.Dispatch && r.Value == "" {
		return fmt.Errorf("response: dispatch requires a non-empty value")
	}
	switch r.EvaluationType {
	case "", EvalExpression, EvalScript:
	default:
		return fmt.Errorf("response: unknown evaluation_type %q", r.EvaluationType)
	}
	switch r.DispatchType {
	case "", DispatchText, DispatchJSON:
	default:
		return fmt.Errorf("response: unknown dispatch_type %q", r.DispatchType)
	}
	return nil
}

// SetSlotType enumerates the slot-set strategies.
type SetSlotType string

const (
	SetSlotCurrent   SetSlotType = "current"
	SetSlotCustom    SetSlotType = "custom"
	SetSlotSlot      SetSlotType = "slot"
	SetSlotFromValue SetSlotType = "from_value"
	SetSlotReset     SetSlotType = "reset"
)

// SetSlot describes one slot mutation emitted by an action.
type SetSlot struct {
	Name  string      `json:"name" yaml:"name"`
	Type  SetSlotType `json:"type,omitempty" yaml:"type,omitempty"`
	Value any         `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks the set-slot record.
func (s SetSlot) Validate() error {
	if !slotNameRe.MatchString(s.Name) {
		return fmt.Errorf("set_slot name %q must be lowercase alphanumeric or underscore", s.Name)
	}
	switch s.Type {
	case "", SetSlotCurrent, SetSlotCustom, SetSlotSlot, SetSlotFromValue, SetSlotReset:
	default:
		return fmt.Errorf("set_slot %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// SecretRecord is an encrypted key/value secret owned by a bot.
// The plaintext exists only within a turn; at rest the value is sealed
// with the process master key (see the secrets package).
type SecretRecord struct {
	ID             uuid.UUID
	Bot            string
	Key            string
	EncryptedValue []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IntegrationCredential is a per-kind credential record (e.g. Chatwoot
// account_id / api_access_token / inbox_identifier). Values are sealed at
// rest exactly like SecretRecord.
type IntegrationCredential struct {
	ID              uuid.UUID
	Bot             string
	Kind            string // Adapter kind the credential belongs to.
	EncryptedConfig []byte // Sealed JSON object of credential fields.
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExecutionMode selects synchronous or asynchronous callback execution.
type ExecutionMode string

const (
	ExecSync  ExecutionMode = "sync"
	ExecAsync ExecutionMode = "async"
)

// Callback is a script endpoint invocable by an external HTTP caller
// bearing a DYNAMIC token. Garbage-collected after ExpiryS.
type Callback struct {
	ID            uuid.UUID
	Bot           string
	Name          string
	Script        string
	ExecutionMode ExecutionMode
	ResponseType  string // "text" or "json".
	Standalone    bool
	ExpiryS       int
	TokenID       string // JWT subject the DYNAMIC token must carry.
	CreatedAt     time.Time
}

// Validate checks the callback record.
func (c Callback) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("callback name is required")
	}
	if c.Script == "" {
		return fmt.Errorf("callback %q: script is required", c.Name)
	}
	switch c.ExecutionMode {
	case "", ExecSync, ExecAsync:
	default:
		return fmt.Errorf("callback %q: unknown execution_mode %q", c.Name, c.ExecutionMode)
	}
	if c.ExpiryS < 0 {
		return fmt.Errorf("callback %q: expiry_s must be non-negative", c.Name)
	}
	return nil
}

// TriggerType distinguishes cron (recurring) from epoch (one-shot) schedules.
type TriggerType string

const (
	TriggerCron  TriggerType = "cron"
	TriggerEpoch TriggerType = "epoch"
)

// ScheduleState is the lifecycle state of a schedule entry.
type ScheduleState string

const (
	SchedulePending ScheduleState = "pending"
	ScheduleFiring  ScheduleState = "firing"
	ScheduleDone    ScheduleState = "done"
	ScheduleFailed  ScheduleState = "failed"
)

// ScheduleEntry is a deferred execution of a named action.
// At most one entry per (bot, action_name, next_fire_at) may be pending.
type ScheduleEntry struct {
	ID             uuid.UUID
	Bot            string
	ActionName     string
	Trigger        TriggerType
	CronExpression string // Set when Trigger == cron.
	Payload        map[string]any
	NextFireAt     time.Time
	State          ScheduleState
	Attempts       int
	MaxAttempts    int
	LeaseExpiresAt *time.Time // Set while firing; lease timeout reverts to pending.
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HandoffState is the per-sender handoff state machine position.
type HandoffState string

const (
	HandoffBot       HandoffState = "bot"
	HandoffRequested HandoffState = "requested"
	HandoffLive      HandoffState = "live"
	HandoffClosed    HandoffState = "closed"
)

// HandoffSession diverts a conversation from the bot to a human agent.
// At most one non-closed session exists per (bot, sender_id).
type HandoffSession struct {
	ID             uuid.UUID
	Bot            string
	SenderID       string
	AgentSystem    string // e.g. "chatwoot".
	ContactID      string // Contact identifier in the agent system.
	DestinationID  string // Conversation identifier in the agent system.
	State          HandoffState
	WebsocketToken string
	WebsocketURL   string
	RequestedAt    time.Time
	LiveAt         *time.Time
	ClosedAt       *time.Time
	LastTrafficAt  time.Time
}

// Open reports whether the session still owns the conversation.
func (s *HandoffSession) Open() bool {
	return s.State == HandoffRequested || s.State == HandoffLive
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
