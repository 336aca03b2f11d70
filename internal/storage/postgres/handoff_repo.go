package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// HandoffRepository implements handoff session persistence with PostgreSQL.
type HandoffRepository struct {
	db *gorm.DB
}

// NewHandoffRepository creates a HandoffRepository.
func NewHandoffRepository(db *gorm.DB) *HandoffRepository {
	return &HandoffRepository{db: db}
}

// ActiveSession returns the non-closed session for (bot, sender), or nil
// when the bot owns the conversation.
func (r *HandoffRepository) ActiveSession(ctx context.Context, bot, sender string) (*domain.HandoffSession, error) {
	var model HandoffSessionModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(bot)).
		Where("sender_id = ? AND state IN ?", sender,
			[]string{string(domain.HandoffRequested), string(domain.HandoffLive)}).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active session for %s/%s: %w", bot, sender, err)
	}
	return toHandoffDomain(&model), nil
}

// Save upserts a session by ID.
func (r *HandoffRepository) Save(ctx context.Context, session *domain.HandoffSession) error {
	if session.ID == uuid.Nil {
		session.ID = domain.NewID()
	}
	model := toHandoffModel(session)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("saving handoff session %s: %w", session.ID, err)
	}
	return nil
}

// ListIdle returns non-closed sessions with no traffic since cutoff.
func (r *HandoffRepository) ListIdle(ctx context.Context, cutoff time.Time) ([]domain.HandoffSession, error) {
	var models []HandoffSessionModel
	err := r.db.WithContext(ctx).
		Where("state IN ? AND last_traffic_at < ?",
			[]string{string(domain.HandoffRequested), string(domain.HandoffLive)}, cutoff).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing idle sessions: %w", err)
	}
	sessions := make([]domain.HandoffSession, len(models))
	for i := range models {
		sessions[i] = *toHandoffDomain(&models[i])
	}
	return sessions, nil
}
