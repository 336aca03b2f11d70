package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// CallbackRepository implements callback persistence with PostgreSQL.
type CallbackRepository struct {
	db *gorm.DB
}

// NewCallbackRepository creates a CallbackRepository.
func NewCallbackRepository(db *gorm.DB) *CallbackRepository {
	return &CallbackRepository{db: db}
}

// GetCallback retrieves one callback by name within a bot. Returns nil
// when no callback with that name exists.
func (r *CallbackRepository) GetCallback(ctx context.Context, bot, name string) (*domain.Callback, error) {
	var model CallbackModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(bot)).
		First(&model, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting callback %s/%s: %w", bot, name, err)
	}
	return toCallbackDomain(&model), nil
}

// SaveCallback upserts a callback keyed by (bot, name). Re-registering
// rotates the token binding.
func (r *CallbackRepository) SaveCallback(ctx context.Context, cb *domain.Callback) error {
	if cb.ID == uuid.Nil {
		cb.ID = domain.NewID()
	}
	model := toCallbackModel(cb)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bot"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"script", "execution_mode", "response_type", "standalone",
				"expiry_s", "token_id", "created_at", "expires_at",
			}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving callback %s/%s: %w", cb.Bot, cb.Name, err)
	}
	return nil
}

// DeleteExpired removes callbacks whose expiry has passed.
func (r *CallbackRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&CallbackModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired callbacks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
