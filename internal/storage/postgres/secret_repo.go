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

// SecretRepository implements sealed secret and credential persistence
// with PostgreSQL. Rows hold ciphertext only; encryption happens above.
type SecretRepository struct {
	db *gorm.DB
}

// NewSecretRepository creates a SecretRepository.
func NewSecretRepository(db *gorm.DB) *SecretRepository {
	return &SecretRepository{db: db}
}

// GetSecret retrieves a sealed secret by key within a bot. Returns nil
// when the bot has no secret with that key.
func (r *SecretRepository) GetSecret(ctx context.Context, bot, key string) (*domain.SecretRecord, error) {
	var model SecretModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(bot)).
		First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting secret %s/%s: %w", bot, key, err)
	}
	return toSecretDomain(&model), nil
}

// GetCredential retrieves an enabled integration credential by adapter
// kind within a bot. Returns nil when none is configured.
func (r *SecretRepository) GetCredential(ctx context.Context, bot, kind string) (*domain.IntegrationCredential, error) {
	var model CredentialModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(bot)).
		First(&model, "kind = ? AND enabled = ?", kind, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %s/%s: %w", bot, kind, err)
	}
	return toCredentialDomain(&model), nil
}

// SaveSecret upserts a sealed secret keyed by (bot, key).
func (r *SecretRepository) SaveSecret(ctx context.Context, rec *domain.SecretRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = domain.NewID()
	}
	model := SecretModel{
		ID:             rec.ID,
		Bot:            rec.Bot,
		Key:            rec.Key,
		EncryptedValue: rec.EncryptedValue,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"encrypted_value", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving secret %s/%s: %w", rec.Bot, rec.Key, err)
	}
	return nil
}

// DeleteSecret removes a secret by key within a bot.
func (r *SecretRepository) DeleteSecret(ctx context.Context, bot, key string) error {
	result := r.db.WithContext(ctx).
		Scopes(TenantScope(bot)).
		Delete(&SecretModel{}, "key = ?", key)
	if result.Error != nil {
		return fmt.Errorf("deleting secret %s/%s: %w", bot, key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("secret %s/%s not found", bot, key)
	}
	return nil
}

// SaveCredential upserts an integration credential keyed by (bot, kind).
func (r *SecretRepository) SaveCredential(ctx context.Context, cred *domain.IntegrationCredential) error {
	if cred.ID == uuid.Nil {
		cred.ID = domain.NewID()
	}
	model := CredentialModel{
		ID:              cred.ID,
		Bot:             cred.Bot,
		Kind:            cred.Kind,
		EncryptedConfig: cred.EncryptedConfig,
		Enabled:         cred.Enabled,
		CreatedAt:       cred.CreatedAt,
		UpdatedAt:       cred.UpdatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"encrypted_config", "enabled", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving credential %s/%s: %w", cred.Bot, cred.Kind, err)
	}
	return nil
}
