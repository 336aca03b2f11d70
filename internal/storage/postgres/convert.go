package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// --- Action ---

func toActionModel(a *domain.Action) (ActionModel, error) {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return ActionModel{}, fmt.Errorf("encoding action %q config: %w", a.Name, err)
	}
	return ActionModel{
		ID:        a.ID,
		Bot:       a.Bot,
		Name:      a.Name,
		Kind:      string(a.Kind),
		Config:    JSONB(cfg),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}, nil
}

func toActionDomain(m *ActionModel) (*domain.Action, error) {
	cfg, err := domain.ConfigFromJSON(domain.Kind(m.Kind), m.Config)
	if err != nil {
		return nil, fmt.Errorf("action %s/%s: %w", m.Bot, m.Name, err)
	}
	return &domain.Action{
		ID:        m.ID,
		Bot:       m.Bot,
		Name:      m.Name,
		Kind:      domain.Kind(m.Kind),
		Config:    cfg,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// --- Secret / Credential ---

func toSecretDomain(m *SecretModel) *domain.SecretRecord {
	return &domain.SecretRecord{
		ID:             m.ID,
		Bot:            m.Bot,
		Key:            m.Key,
		EncryptedValue: m.EncryptedValue,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toCredentialDomain(m *CredentialModel) *domain.IntegrationCredential {
	return &domain.IntegrationCredential{
		ID:              m.ID,
		Bot:             m.Bot,
		Kind:            m.Kind,
		EncryptedConfig: m.EncryptedConfig,
		Enabled:         m.Enabled,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// --- Schedule entry ---

func toScheduleModel(e *domain.ScheduleEntry) ScheduleEntryModel {
	payload, _ := json.Marshal(e.Payload)
	if payload == nil {
		payload = []byte("{}")
	}
	return ScheduleEntryModel{
		ID:             e.ID,
		Bot:            e.Bot,
		ActionName:     e.ActionName,
		Trigger:        string(e.Trigger),
		CronExpression: e.CronExpression,
		Payload:        JSONB(payload),
		NextFireAt:     e.NextFireAt,
		State:          string(e.State),
		Attempts:       e.Attempts,
		MaxAttempts:    e.MaxAttempts,
		LeaseExpiresAt: e.LeaseExpiresAt,
		LastError:      e.LastError,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toScheduleDomain(m *ScheduleEntryModel) domain.ScheduleEntry {
	var payload map[string]any
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}
	return domain.ScheduleEntry{
		ID:             m.ID,
		Bot:            m.Bot,
		ActionName:     m.ActionName,
		Trigger:        domain.TriggerType(m.Trigger),
		CronExpression: m.CronExpression,
		Payload:        payload,
		NextFireAt:     m.NextFireAt,
		State:          domain.ScheduleState(m.State),
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		LeaseExpiresAt: m.LeaseExpiresAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// --- Handoff session ---

func toHandoffModel(s *domain.HandoffSession) HandoffSessionModel {
	return HandoffSessionModel{
		ID:             s.ID,
		Bot:            s.Bot,
		SenderID:       s.SenderID,
		AgentSystem:    s.AgentSystem,
		ContactID:      s.ContactID,
		DestinationID:  s.DestinationID,
		State:          string(s.State),
		WebsocketToken: s.WebsocketToken,
		WebsocketURL:   s.WebsocketURL,
		RequestedAt:    s.RequestedAt,
		LiveAt:         s.LiveAt,
		ClosedAt:       s.ClosedAt,
		LastTrafficAt:  s.LastTrafficAt,
	}
}

func toHandoffDomain(m *HandoffSessionModel) *domain.HandoffSession {
	return &domain.HandoffSession{
		ID:             m.ID,
		Bot:            m.Bot,
		SenderID:       m.SenderID,
		AgentSystem:    m.AgentSystem,
		ContactID:      m.ContactID,
		DestinationID:  m.DestinationID,
		State:          domain.HandoffState(m.State),
		WebsocketToken: m.WebsocketToken,
		WebsocketURL:   m.WebsocketURL,
		RequestedAt:    m.RequestedAt,
		LiveAt:         m.LiveAt,
		ClosedAt:       m.ClosedAt,
		LastTrafficAt:  m.LastTrafficAt,
	}
}

// --- Callback ---

func toCallbackModel(cb *domain.Callback) CallbackModel {
	return CallbackModel{
		ID:            cb.ID,
		Bot:           cb.Bot,
		Name:          cb.Name,
		Script:        cb.Script,
		ExecutionMode: string(cb.ExecutionMode),
		ResponseType:  cb.ResponseType,
		Standalone:    cb.Standalone,
		ExpiryS:       cb.ExpiryS,
		TokenID:       cb.TokenID,
		CreatedAt:     cb.CreatedAt,
		ExpiresAt:     cb.CreatedAt.Add(time.Duration(cb.ExpiryS) * time.Second),
	}
}

func toCallbackDomain(m *CallbackModel) *domain.Callback {
	return &domain.Callback{
		ID:            m.ID,
		Bot:           m.Bot,
		Name:          m.Name,
		Script:        m.Script,
		ExecutionMode: domain.ExecutionMode(m.ExecutionMode),
		ResponseType:  m.ResponseType,
		Standalone:    m.Standalone,
		ExpiryS:       m.ExpiryS,
		TokenID:       m.TokenID,
		CreatedAt:     m.CreatedAt,
	}
}
