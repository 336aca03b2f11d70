package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var actionNameRe = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Action is a named, typed unit of side-effecting behavior executed during
// a dialog turn. Names are unique per bot across all kinds; Config holds the
// kind-specific definition.
type Action struct {
	ID        uuid.UUID
	Bot       string
	Name      string
	Kind      Kind
	Config    ActionConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionConfig is the kind-specific portion of an action definition.
type ActionConfig interface {
	Kind() Kind
	Validate() error
}

// Validate checks the action header and its config.
func (a *Action) Validate() error {
	if !actionNameRe.MatchString(a.Name) {
		return fmt.Errorf("action name %q must be alphanumeric, underscore or dash", a.Name)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("action %q: unknown kind %q", a.Name, a.Kind)
	}
	if a.Config == nil {
		return fmt.Errorf("action %q: missing config", a.Name)
	}
	if a.Config.Kind() != a.Kind {
		return fmt.Errorf("action %q: config kind %q does not match %q", a.Name, a.Config.Kind(), a.Kind)
	}
	return a.Config.Validate()
}

// FailureMessage returns the author-configured failure utterance, if any.
func (a *Action) FailureMessage() string {
	type withFailure interface{ failureMessage() string }
	if f, ok := a.Config.(withFailure); ok {
		return f.failureMessage()
	}
	return ""
}

// RetryOn names a retryable failure class for the HTTP invoker.
type RetryOn string

const (
	Retry5xx        RetryOn = "5xx"
	RetryTimeout    RetryOn = "timeout"
	RetryConnection RetryOn = "connection"
)

// RetryPolicy configures outbound HTTP retries. Zero value means no retries.
type RetryPolicy struct {
	Max       int       `json:"max,omitempty" yaml:"max,omitempty"`
	BackoffMS int       `json:"backoff_ms,omitempty" yaml:"backoff_ms,omitempty"`
	RetryOn   []RetryOn `json:"retry_on,omitempty" yaml:"retry_on,omitempty"`
}

// HTTPConfig defines an outbound HTTP action.
type HTTPConfig struct {
	URL            string          `json:"url" yaml:"url"`
	Method         string          `json:"method" yaml:"method"`
	ContentType    string          `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Headers        []ParameterSpec `json:"headers,omitempty" yaml:"headers,omitempty"`
	Params         []ParameterSpec `json:"params,omitempty" yaml:"params,omitempty"`
	Body           []ParameterSpec `json:"body,omitempty" yaml:"body,omitempty"`
	TimeoutS       int             `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"`
	Retries        RetryPolicy     `json:"retries,omitempty" yaml:"retries,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`
	Response       ResponseSpec    `json:"response,omitempty" yaml:"response,omitempty"`
	SetSlots       []SetSlot       `json:"set_slots,omitempty" yaml:"set_slots,omitempty"`
	Failure        string          `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *HTTPConfig) Kind() Kind             { return KindHTTP }
func (c *HTTPConfig) failureMessage() string { return c.Failure }

func (c *HTTPConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("http action: url is required")
	}
	switch c.Method {
	case "GET", "POST", "PUT", "DELETE":
	default:
		return fmt.Errorf("http action: unsupported method %q", c.Method)
	}
	switch c.ContentType {
	case "", "application/json", "application/x-www-form-urlencoded":
	default:
		return fmt.Errorf("http action: unsupported content_type %q", c.ContentType)
	}
	if c.TimeoutS < 0 || c.TimeoutS > 60 {
		return fmt.Errorf("http action: timeout_s must be within [0, 60]")
	}
	for _, p := range append(append(append([]ParameterSpec{}, c.Headers...), c.Params...), c.Body...) {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, s := range c.SetSlots {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return c.Response.Validate()
}

// PyscriptConfig defines a sandboxed script action.
type PyscriptConfig struct {
	Source   string    `json:"source" yaml:"source"`
	TimeoutS int       `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"`
	SetSlots []SetSlot `json:"set_slots,omitempty" yaml:"set_slots,omitempty"`
	Dispatch bool      `json:"dispatch_response" yaml:"dispatch_response"`
	Failure  string    `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *PyscriptConfig) Kind() Kind             { return KindPyscript }
func (c *PyscriptConfig) failureMessage() string { return c.Failure }

func (c *PyscriptConfig) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("pyscript action: source is required")
	}
	if c.TimeoutS < 0 || c.TimeoutS > 60 {
		return fmt.Errorf("pyscript action: timeout_s must be within [0, 60]")
	}
	return nil
}

// DBQueryType names a database query strategy.
type DBQueryType string

const (
	QueryPayloadSearch DBQueryType = "payload_search"
	QueryFilter        DBQueryType = "filter"
	QueryEmbedding     DBQueryType = "embedding_search"
)

// DBQuery is one parameterized query of a db action.
type DBQuery struct {
	QueryType DBQueryType `json:"query_type" yaml:"query_type"`
	Value     any         `json:"value" yaml:"value"`
}

// DBConfig defines a vector/structured database action.
type DBConfig struct {
	Collection string       `json:"collection" yaml:"collection"`
	Queries    []DBQuery    `json:"queries" yaml:"queries"`
	Response   ResponseSpec `json:"response,omitempty" yaml:"response,omitempty"`
	SetSlots   []SetSlot    `json:"set_slots,omitempty" yaml:"set_slots,omitempty"`
	Failure    string       `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *DBConfig) Kind() Kind             { return KindDB }
func (c *DBConfig) failureMessage() string { return c.Failure }

func (c *DBConfig) Validate() error {
	if c.Collection == "" {
		return fmt.Errorf("db action: collection is required")
	}
	if len(c.Queries) == 0 {
		return fmt.Errorf("db action: at least one query is required")
	}
	// payload_search and embedding_search both carry the semantic query
	// text; a config may declare at most one of either.
	searches := 0
	for _, q := range c.Queries {
		switch q.QueryType {
		case QueryPayloadSearch, QueryEmbedding:
			searches++
		case QueryFilter:
		default:
			return fmt.Errorf("db action: unknown query_type %q", q.QueryType)
		}
	}
	if searches > 1 {
		return fmt.Errorf("db action: at most one search query is allowed")
	}
	return c.Response.Validate()
}

// EmailConfig defines an SMTP email action.
type EmailConfig struct {
	SMTPURL    string        `json:"smtp_url" yaml:"smtp_url"`
	SMTPPort   int           `json:"smtp_port" yaml:"smtp_port"`
	UserID     string        `json:"smtp_userid,omitempty" yaml:"smtp_userid,omitempty"`
	Password   ParameterSpec `json:"smtp_password" yaml:"smtp_password"`
	FromEmail  string        `json:"from_email" yaml:"from_email"`
	ToEmails   []string      `json:"to_emails" yaml:"to_emails"`
	Subject    string        `json:"subject" yaml:"subject"`
	Body       string        `json:"body,omitempty" yaml:"body,omitempty"`
	CustomText bool          `json:"custom_text" yaml:"custom_text"`
	TLS        bool          `json:"tls" yaml:"tls"`
	Response   ResponseSpec  `json:"response,omitempty" yaml:"response,omitempty"`
	Failure    string        `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *EmailConfig) Kind() Kind             { return KindEmail }
func (c *EmailConfig) failureMessage() string { return c.Failure }

func (c *EmailConfig) Validate() error {
	if c.SMTPURL == "" {
		return fmt.Errorf("email action: smtp_url is required")
	}
	if len(c.ToEmails) == 0 {
		return fmt.Errorf("email action: to_emails is required")
	}
	if c.FromEmail == "" {
		return fmt.Errorf("email action: from_email is required")
	}
	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("email action: %w", err)
	}
	return c.Response.Validate()
}

// JiraConfig defines a create-issue action against a Jira server.
type JiraConfig struct {
	ServerURL  string        `json:"url" yaml:"url"`
	UserName   string        `json:"user_name" yaml:"user_name"`
	APIToken   ParameterSpec `json:"api_token" yaml:"api_token"`
	ProjectKey string        `json:"project_key" yaml:"project_key"`
	IssueType  string        `json:"issue_type" yaml:"issue_type"`
	ParentKey  string        `json:"parent_key,omitempty" yaml:"parent_key,omitempty"`
	Summary    string        `json:"summary" yaml:"summary"`
	Response   ResponseSpec  `json:"response,omitempty" yaml:"response,omitempty"`
	Failure    string        `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *JiraConfig) Kind() Kind             { return KindJira }
func (c *JiraConfig) failureMessage() string { return c.Failure }

func (c *JiraConfig) Validate() error {
	if c.ServerURL == "" || c.ProjectKey == "" || c.IssueType == "" {
		return fmt.Errorf("jira action: url, project_key and issue_type are required")
	}
	if c.IssueType == "Subtask" && c.ParentKey == "" {
		return fmt.Errorf("jira action: subtasks require parent_key")
	}
	if err := c.APIToken.Validate(); err != nil {
		return fmt.Errorf("jira action: %w", err)
	}
	return c.Response.Validate()
}

// ZendeskConfig defines a create-ticket action against Zendesk.
type ZendeskConfig struct {
	Subdomain string        `json:"subdomain" yaml:"subdomain"`
	UserName  string        `json:"user_name" yaml:"user_name"`
	APIToken  ParameterSpec `json:"api_token" yaml:"api_token"`
	Subject   string        `json:"subject" yaml:"subject"`
	Response  ResponseSpec  `json:"response,omitempty" yaml:"response,omitempty"`
	Failure   string        `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *ZendeskConfig) Kind() Kind             { return KindZendesk }
func (c *ZendeskConfig) failureMessage() string { return c.Failure }

func (c *ZendeskConfig) Validate() error {
	if c.Subdomain == "" || c.UserName == "" {
		return fmt.Errorf("zendesk action: subdomain and user_name are required")
	}
	if err := c.APIToken.Validate(); err != nil {
		return fmt.Errorf("zendesk action: %w", err)
	}
	return c.Response.Validate()
}

// PipedriveConfig defines a create-lead action against Pipedrive.
type PipedriveConfig struct {
	Domain   string            `json:"domain" yaml:"domain"`
	APIToken ParameterSpec     `json:"api_token" yaml:"api_token"`
	Title    string            `json:"title" yaml:"title"`
	Metadata map[string]string `json:"metadata" yaml:"metadata"` // field → slot name (name, org_name, email, phone).
	Response ResponseSpec      `json:"response,omitempty" yaml:"response,omitempty"`
	Failure  string            `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *PipedriveConfig) Kind() Kind             { return KindPipedrive }
func (c *PipedriveConfig) failureMessage() string { return c.Failure }

func (c *PipedriveConfig) Validate() error {
	if c.Domain == "" || c.Title == "" {
		return fmt.Errorf("pipedrive action: domain and title are required")
	}
	if _, ok := c.Metadata["name"]; !ok {
		return fmt.Errorf("pipedrive action: metadata must map the \"name\" field")
	}
	if err := c.APIToken.Validate(); err != nil {
		return fmt.Errorf("pipedrive action: %w", err)
	}
	return c.Response.Validate()
}

// HubspotFormsConfig defines a form-submission action against Hubspot.
type HubspotFormsConfig struct {
	PortalID string          `json:"portal_id" yaml:"portal_id"`
	FormGUID string          `json:"form_guid" yaml:"form_guid"`
	Fields   []ParameterSpec `json:"fields" yaml:"fields"`
	Response ResponseSpec    `json:"response,omitempty" yaml:"response,omitempty"`
	Failure  string          `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *HubspotFormsConfig) Kind() Kind             { return KindHubspotForms }
func (c *HubspotFormsConfig) failureMessage() string { return c.Failure }

func (c *HubspotFormsConfig) Validate() error {
	if c.PortalID == "" || c.FormGUID == "" {
		return fmt.Errorf("hubspot_forms action: portal_id and form_guid are required")
	}
	for _, f := range c.Fields {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("hubspot_forms action: %w", err)
		}
	}
	return c.Response.Validate()
}

// GoogleSearchConfig defines a Custom Search JSON API action.
type GoogleSearchConfig struct {
	APIKey          ParameterSpec `json:"api_key" yaml:"api_key"`
	SearchEngineID  string        `json:"search_engine_id" yaml:"search_engine_id"`
	NumResults      int           `json:"num_results,omitempty" yaml:"num_results,omitempty"`
	Website         string        `json:"website,omitempty" yaml:"website,omitempty"`
	DispatchResp    bool          `json:"dispatch_response" yaml:"dispatch_response"`
	SetSlot         string        `json:"set_slot,omitempty" yaml:"set_slot,omitempty"`
	FailureResponse string        `json:"failure_response,omitempty" yaml:"failure_response,omitempty"`
}

func (c *GoogleSearchConfig) Kind() Kind             { return KindGoogleSearch }
func (c *GoogleSearchConfig) failureMessage() string { return c.FailureResponse }

func (c *GoogleSearchConfig) Validate() error {
	if c.SearchEngineID == "" {
		return fmt.Errorf("google_search action: search_engine_id is required")
	}
	if c.NumResults < 0 || c.NumResults > 10 {
		return fmt.Errorf("google_search action: num_results must be within [1, 10]")
	}
	return c.APIKey.Validate()
}

// WebSearchConfig defines a generic web search action.
type WebSearchConfig struct {
	TopN            int    `json:"topn,omitempty" yaml:"topn,omitempty"`
	Website         string `json:"website,omitempty" yaml:"website,omitempty"`
	DispatchResp    bool   `json:"dispatch_response" yaml:"dispatch_response"`
	SetSlot         string `json:"set_slot,omitempty" yaml:"set_slot,omitempty"`
	FailureResponse string `json:"failure_response,omitempty" yaml:"failure_response,omitempty"`
}

func (c *WebSearchConfig) Kind() Kind             { return KindWebSearch }
func (c *WebSearchConfig) failureMessage() string { return c.FailureResponse }

func (c *WebSearchConfig) Validate() error {
	if c.TopN < 0 || c.TopN > 10 {
		return fmt.Errorf("web_search action: topn must be within [1, 10]")
	}
	return nil
}

// SlotSetConfig defines a pure slot-mutation action.
type SlotSetConfig struct {
	SetSlots []SetSlot `json:"set_slots" yaml:"set_slots"`
}

func (c *SlotSetConfig) Kind() Kind { return KindSlotSet }

func (c *SlotSetConfig) Validate() error {
	if len(c.SetSlots) == 0 {
		return fmt.Errorf("slot_set action: set_slots is required")
	}
	for _, s := range c.SetSlots {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// QuickReply is one trigger-rule button of a two-stage fallback.
type QuickReply struct {
	Text    string `json:"text" yaml:"text"`
	Payload string `json:"payload" yaml:"payload"`
}

// TwoStageFallbackConfig composes quick-reply rules and text recommendations.
type TwoStageFallbackConfig struct {
	TriggerRules        []QuickReply `json:"trigger_rules,omitempty" yaml:"trigger_rules,omitempty"`
	TextRecommendations int          `json:"text_recommendations,omitempty" yaml:"text_recommendations,omitempty"`
	FallbackMessage     string       `json:"fallback_message,omitempty" yaml:"fallback_message,omitempty"`
}

func (c *TwoStageFallbackConfig) Kind() Kind { return KindTwoStageFallback }

func (c *TwoStageFallbackConfig) Validate() error {
	if len(c.TriggerRules) == 0 && c.TextRecommendations == 0 {
		return fmt.Errorf("two_stage_fallback action: trigger_rules or text_recommendations is required")
	}
	if c.TextRecommendations < 0 || c.TextRecommendations > 10 {
		return fmt.Errorf("two_stage_fallback action: text_recommendations must be within [0, 10]")
	}
	return nil
}

// RazorpayConfig defines an order-creation action against Razorpay.
type RazorpayConfig struct {
	APIKey    ParameterSpec   `json:"api_key" yaml:"api_key"`
	APISecret ParameterSpec   `json:"api_secret" yaml:"api_secret"`
	Amount    ParameterSpec   `json:"amount" yaml:"amount"`
	Currency  ParameterSpec   `json:"currency" yaml:"currency"`
	Notes     []ParameterSpec `json:"notes,omitempty" yaml:"notes,omitempty"`
	Response  ResponseSpec    `json:"response,omitempty" yaml:"response,omitempty"`
	Failure   string          `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *RazorpayConfig) Kind() Kind             { return KindRazorpay }
func (c *RazorpayConfig) failureMessage() string { return c.Failure }

func (c *RazorpayConfig) Validate() error {
	for _, p := range []ParameterSpec{c.APIKey, c.APISecret, c.Amount, c.Currency} {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("razorpay action: %w", err)
		}
	}
	return c.Response.Validate()
}

// LiveAgentConfig defines a handoff action to a human agent system.
type LiveAgentConfig struct {
	AgentSystem      string `json:"agent_type" yaml:"agent_type"`
	BotResponse      string `json:"bot_response,omitempty" yaml:"bot_response,omitempty"`
	AgentUnavailable string `json:"agent_not_available_response,omitempty" yaml:"agent_not_available_response,omitempty"`
	ReplayTurns      int    `json:"replay_turns,omitempty" yaml:"replay_turns,omitempty"`
}

func (c *LiveAgentConfig) Kind() Kind { return KindLiveAgent }

func (c *LiveAgentConfig) Validate() error {
	if c.AgentSystem == "" {
		return fmt.Errorf("live_agent action: agent_type is required")
	}
	if c.ReplayTurns < 0 || c.ReplayTurns > 50 {
		return fmt.Errorf("live_agent action: replay_turns must be within [0, 50]")
	}
	return nil
}

// CallbackActionConfig defines an action that materializes a callback
// endpoint and returns its invocation URL.
type CallbackActionConfig struct {
	CallbackName string       `json:"callback_name" yaml:"callback_name"`
	Response     ResponseSpec `json:"response,omitempty" yaml:"response,omitempty"`
	SetSlots     []SetSlot    `json:"set_slots,omitempty" yaml:"set_slots,omitempty"`
	Failure      string       `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *CallbackActionConfig) Kind() Kind             { return KindCallback }
func (c *CallbackActionConfig) failureMessage() string { return c.Failure }

func (c *CallbackActionConfig) Validate() error {
	if c.CallbackName == "" {
		return fmt.Errorf("callback action: callback_name is required")
	}
	return c.Response.Validate()
}

// ScheduleConfig defers a named action to a cron or epoch trigger.
type ScheduleConfig struct {
	ScheduleAction string          `json:"schedule_action" yaml:"schedule_action"`
	Trigger        TriggerType     `json:"trigger" yaml:"trigger"`
	CronExpression string          `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	EpochAt        ParameterSpec   `json:"epoch_at,omitempty" yaml:"epoch_at,omitempty"`
	Params         []ParameterSpec `json:"params,omitempty" yaml:"params,omitempty"`
	ResponseText   string          `json:"response_text,omitempty" yaml:"response_text,omitempty"`
	Failure        string          `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *ScheduleConfig) Kind() Kind             { return KindSchedule }
func (c *ScheduleConfig) failureMessage() string { return c.Failure }

func (c *ScheduleConfig) Validate() error {
	if c.ScheduleAction == "" {
		return fmt.Errorf("schedule action: schedule_action is required")
	}
	switch c.Trigger {
	case TriggerCron:
		if c.CronExpression == "" {
			return fmt.Errorf("schedule action: cron trigger requires cron_expression")
		}
	case TriggerEpoch:
	default:
		return fmt.Errorf("schedule action: unknown trigger %q", c.Trigger)
	}
	for _, p := range c.Params {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MaxParallelChildren bounds the fan-out of a parallel action.
const MaxParallelChildren = 16

// ParallelConfig fans out child actions concurrently.
type ParallelConfig struct {
	Actions      []string `json:"actions" yaml:"actions"`
	DeadlineS    int      `json:"deadline_s,omitempty" yaml:"deadline_s,omitempty"`
	ResponseText string   `json:"response_text,omitempty" yaml:"response_text,omitempty"`
	Failure      string   `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

func (c *ParallelConfig) Kind() Kind             { return KindParallel }
func (c *ParallelConfig) failureMessage() string { return c.Failure }

func (c *ParallelConfig) Validate() error {
	if len(c.Actions) == 0 {
		return fmt.Errorf("parallel action: actions is required")
	}
	if len(c.Actions) > MaxParallelChildren {
		return fmt.Errorf("parallel action: at most %d children are allowed", MaxParallelChildren)
	}
	seen := make(map[string]bool, len(c.Actions))
	for _, name := range c.Actions {
		if seen[name] {
			return fmt.Errorf("parallel action: duplicate child %q", name)
		}
		seen[name] = true
	}
	return nil
}

// ConfigFromJSON decodes a kind-specific config from its JSON wire form.
func ConfigFromJSON(k Kind, data []byte) (ActionConfig, error) {
	cfg, err := configForKind(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s config: %w", k, err)
	}
	return cfg, nil
}

// CloneConfig deep-copies a config through its JSON form. Used by caches
// that hand out definitions to concurrent readers.
func CloneConfig(cfg ActionConfig) ActionConfig {
	if cfg == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	cp, err := configForKind(cfg.Kind())
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, cp); err != nil {
		return cfg
	}
	return cp
}

// configForKind returns a zero config value for the given kind.
func configForKind(k Kind) (ActionConfig, error) {
	switch k {
	case KindHTTP:
		return &HTTPConfig{}, nil
	case KindPyscript:
		return &PyscriptConfig{}, nil
	case KindDB:
		return &DBConfig{}, nil
	case KindEmail:
		return &EmailConfig{}, nil
	case KindJira:
		return &JiraConfig{}, nil
	case KindZendesk:
		return &ZendeskConfig{}, nil
	case KindPipedrive:
		return &PipedriveConfig{}, nil
	case KindHubspotForms:
		return &HubspotFormsConfig{}, nil
	case KindGoogleSearch:
		return &GoogleSearchConfig{}, nil
	case KindWebSearch:
		return &WebSearchConfig{}, nil
	case KindSlotSet:
		return &SlotSetConfig{}, nil
	case KindTwoStageFallback:
		return &TwoStageFallbackConfig{}, nil
	case KindRazorpay:
		return &RazorpayConfig{}, nil
	case KindPrompt:
		return &PromptAction{}, nil
	case KindLiveAgent:
		return &LiveAgentConfig{}, nil
	case KindCallback:
		return &CallbackActionConfig{}, nil
	case KindSchedule:
		return &ScheduleConfig{}, nil
	case KindParallel:
		return &ParallelConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", k)
	}
}

// UnmarshalYAML decodes the flat wire format: a record with name/kind plus
// kind-specific fields inline.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var header struct {
		Name string `yaml:"name"`
		Bot  string `yaml:"bot"`
		Kind Kind   `yaml:"kind"`
	}
	if err := node.Decode(&header); err != nil {
		return err
	}
	cfg, err := configForKind(header.Kind)
	if err != nil {
		return err
	}
	if err := node.Decode(cfg); err != nil {
		return fmt.Errorf("action %q: %w", header.Name, err)
	}
	a.Name = header.Name
	a.Bot = header.Bot
	a.Kind = header.Kind
	a.Config = cfg
	return nil
}

// UnmarshalActionJSON decodes a single action record from its JSON wire form.
func UnmarshalActionJSON(data []byte) (*Action, error) {
	var header struct {
		Name string `json:"name"`
		Bot  string `json:"bot"`
		Kind Kind   `json:"kind"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}
	cfg, err := configForKind(header.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("action %q: %w", header.Name, err)
	}
	return &Action{Name: header.Name, Bot: header.Bot, Kind: header.Kind, Config: cfg}, nil
}

// ParseActionsYAML decodes a YAML list of action records and validates each.
// Duplicate names within the list are rejected.
func ParseActionsYAML(data []byte) ([]*Action, error) {
	var actions []*Action
	if err := yaml.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("parsing action definitions: %w", err)
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate action name %q", a.Name)
		}
		seen[a.Name] = true
	}
	return actions, nil
}
