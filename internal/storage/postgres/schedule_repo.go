package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// ScheduleRepository implements schedule entry persistence with PostgreSQL.
// Claims use SELECT ... FOR UPDATE SKIP LOCKED so multiple engine
// instances never double-fire an entry.
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a ScheduleRepository.
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Enqueue persists a new pending entry. Enqueueing an entry whose
// (bot, action_name, next_fire_at) already has a pending twin is a no-op,
// which makes retried enqueues idempotent.
func (r *ScheduleRepository) Enqueue(ctx context.Context, entry *domain.ScheduleEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = domain.NewID()
	}
	if entry.State == "" {
		entry.State = domain.SchedulePending
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&ScheduleEntryModel{}).
			Scopes(TenantScope(entry.Bot)).
			Where("action_name = ? AND next_fire_at = ? AND state = ?",
				entry.ActionName, entry.NextFireAt, domain.SchedulePending).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("checking for pending twin: %w", err)
		}
		if count > 0 {
			return nil
		}
		model := toScheduleModel(entry)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("enqueueing schedule entry: %w", err)
		}
		return nil
	})
}

// ClaimDue atomically moves up to limit due pending entries to firing with
// a lease, returning the claimed entries. Rows locked by another instance
// are skipped.
func (r *ScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.ScheduleEntry, error) {
	var claimed []domain.ScheduleEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		// SQLite has no row locks; its single-writer transactions make
		// the claim atomic without them.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var models []ScheduleEntryModel
		err := q.
			Where("state = ? AND next_fire_at <= ?", domain.SchedulePending, now).
			Order("next_fire_at").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return fmt.Errorf("selecting due entries: %w", err)
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(models))
		for i := range models {
			ids[i] = models[i].ID
		}
		leaseUntil := now.Add(lease)
		err = tx.Model(&ScheduleEntryModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"state":            domain.ScheduleFiring,
				"lease_expires_at": leaseUntil,
				"updated_at":       now,
			}).Error
		if err != nil {
			return fmt.Errorf("claiming due entries: %w", err)
		}

		claimed = make([]domain.ScheduleEntry, len(models))
		for i := range models {
			entry := toScheduleDomain(&models[i])
			entry.State = domain.ScheduleFiring
			entry.LeaseExpiresAt = &leaseUntil
			claimed[i] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete finishes a fired entry: epoch entries are deleted, cron entries
// go back to pending with the given next fire time.
func (r *ScheduleRepository) Complete(ctx context.Context, id uuid.UUID, nextFireAt *time.Time) error {
	if nextFireAt == nil {
		result := r.db.WithContext(ctx).Delete(&ScheduleEntryModel{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("deleting completed entry %s: %w", id, result.Error)
		}
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&ScheduleEntryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":            domain.SchedulePending,
			"next_fire_at":     *nextFireAt,
			"lease_expires_at": nil,
			"attempts":         0,
			"last_error":       "",
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("rescheduling entry %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. final marks the entry failed instead of
// reverting it to pending for another attempt.
func (r *ScheduleRepository) Fail(ctx context.Context, id uuid.UUID, errMsg string, final bool) error {
	state := domain.SchedulePending
	if final {
		state = domain.ScheduleFailed
	}
	err := r.db.WithContext(ctx).
		Model(&ScheduleEntryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":            state,
			"attempts":         gorm.Expr("attempts + 1"),
			"last_error":       errMsg,
			"lease_expires_at": nil,
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failing entry %s: %w", id, err)
	}
	return nil
}

// RevertExpiredLeases returns firing entries whose lease has expired to
// pending. Crash recovery for instances that died mid-fire.
func (r *ScheduleRepository) RevertExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduleEntryModel{}).
		Where("state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?", domain.ScheduleFiring, now).
		Updates(map[string]any{
			"state":            domain.SchedulePending,
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reverting expired leases: %w", result.Error)
	}
	return result.RowsAffected, nil
}
