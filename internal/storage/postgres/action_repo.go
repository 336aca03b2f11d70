package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// ActionRepository implements action persistence with PostgreSQL.
type ActionRepository struct {
	db *gorm.DB
}

// NewActionRepository creates an ActionRepository.
func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// GetAction retrieves one action by name within a bot. Returns nil when
// the bot has no action with that name.
func (r *ActionRepository) GetAction(ctx context.Context, bot, name string) (*domain.Action, error) {
	var model ActionModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(bot)).
		First(&model, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting action %s/%s: %w", bot, name, err)
	}
	return toActionDomain(&model)
}

// ListActions returns a bot's actions, optionally filtered by kind.
func (r *ActionRepository) ListActions(ctx context.Context, bot string, kind domain.Kind) ([]domain.Action, error) {
	q := r.db.WithContext(ctx).Scopes(TenantScope(bot)).Order("name")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var models []ActionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing actions for %s: %w", bot, err)
	}
	actions := make([]domain.Action, 0, len(models))
	for i := range models {
		a, err := toActionDomain(&models[i])
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, nil
}

// SaveAction upserts an action definition keyed by (bot, name).
func (r *ActionRepository) SaveAction(ctx context.Context, action *domain.Action) error {
	if action.ID == uuid.Nil {
		action.ID = domain.NewID()
	}
	model, err := toActionModel(action)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "config", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving action %s/%s: %w", action.Bot, action.Name, err)
	}
	return nil
}

// DeleteAction removes an action by name within a bot.
func (r *ActionRepository) DeleteAction(ctx context.Context, bot, name string) error {
	result := r.db.WithContext(ctx).
		Scopes(TenantScope(bot)).
		Delete(&ActionModel{}, "name = ?", name)
	if result.Error != nil {
		return fmt.Errorf("deleting action %s/%s: %w", bot, name, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("action %s/%s not found", bot, name)
	}
	return nil
}
