package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage stored in a jsonb column.
type JSONB json.RawMessage

// ActionModel maps to the "actions" table. The kind-specific config is
// stored as its JSON wire form next to the typed header columns.
type ActionModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Bot       string    `gorm:"not null;uniqueIndex:idx_actions_bot_name,priority:1"`
	Name      string    `gorm:"not null;uniqueIndex:idx_actions_bot_name,priority:2"`
	Kind      string    `gorm:"not null;index"`
	Config    JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ActionModel) TableName() string { return "actions" }

// SecretModel maps to the "secrets" table. Values are sealed before they
// reach this layer; the column never holds plaintext.
type SecretModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Bot            string    `gorm:"not null;uniqueIndex:idx_secrets_bot_key,priority:1"`
	Key            string    `gorm:"not null;uniqueIndex:idx_secrets_bot_key,priority:2"`
	EncryptedValue []byte    `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (SecretModel) TableName() string { return "secrets" }

// CredentialModel maps to the "integration_credentials" table.
type CredentialModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Bot             string    `gorm:"not null;uniqueIndex:idx_credentials_bot_kind,priority:1"`
	Kind            string    `gorm:"not null;uniqueIndex:idx_credentials_bot_kind,priority:2"`
	EncryptedConfig []byte    `gorm:"not null"`
	Enabled         bool      `gorm:"not null;default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CredentialModel) TableName() string { return "integration_credentials" }

// ScheduleEntryModel maps to the "schedule_entries" table.
type ScheduleEntryModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Bot            string    `gorm:"not null;index"`
	ActionName     string    `gorm:"not null"`
	Trigger        string    `gorm:"not null"`
	CronExpression string
	Payload        JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	NextFireAt     time.Time `gorm:"not null;index:idx_schedule_due,priority:2"`
	State          string    `gorm:"not null;index:idx_schedule_due,priority:1"`
	Attempts       int       `gorm:"not null;default:0"`
	MaxAttempts    int       `gorm:"not null;default:3"`
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ScheduleEntryModel) TableName() string { return "schedule_entries" }

// HandoffSessionModel maps to the "handoff_sessions" table.
type HandoffSessionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Bot            string    `gorm:"not null;index:idx_handoff_bot_sender,priority:1"`
	SenderID       string    `gorm:"not null;index:idx_handoff_bot_sender,priority:2"`
	AgentSystem    string    `gorm:"not null"`
	ContactID      string
	DestinationID  string
	State          string `gorm:"not null;index"`
	WebsocketToken string
	WebsocketURL   string
	RequestedAt    time.Time `gorm:"not null"`
	LiveAt         *time.Time
	ClosedAt       *time.Time
	LastTrafficAt  time.Time `gorm:"not null;index"`
}

func (HandoffSessionModel) TableName() string { return "handoff_sessions" }

// CallbackModel maps to the "callbacks" table.
type CallbackModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Bot           string    `gorm:"not null;uniqueIndex:idx_callbacks_bot_name,priority:1"`
	Name          string    `gorm:"not null;uniqueIndex:idx_callbacks_bot_name,priority:2"`
	Script        string    `gorm:"not null"`
	ExecutionMode string    `gorm:"not null;default:'sync'"`
	ResponseType  string
	Standalone    bool `gorm:"not null;default:false"`
	ExpiryS       int  `gorm:"not null"`
	TokenID       string
	CreatedAt     time.Time
	ExpiresAt     time.Time `gorm:"index"`
}

func (CallbackModel) TableName() string { return "callbacks" }
