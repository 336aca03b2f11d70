package composite

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// Enqueuer accepts a new schedule entry. The scheduler implements this.
type Enqueuer interface {
	Enqueue(ctx context.Context, entry *domain.ScheduleEntry) error
}

// ScheduleRunner turns a schedule action into a persisted schedule entry
// plus a receipt utterance.
type ScheduleRunner struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

func NewScheduleRunner(enqueuer Enqueuer, logger *slog.Logger) *ScheduleRunner {
	return &ScheduleRunner{enqueuer: enqueuer, logger: logger}
}

// Run enqueues the deferred execution. params is the resolved parameter
// dictionary; for epoch triggers it must carry the fire time under the
// epoch_at parameter's key as unix seconds.
func (s *ScheduleRunner) Run(ctx context.Context, bot string, cfg *domain.ScheduleConfig, params map[string]any) (*domain.TurnResult, error) {
	entry := &domain.ScheduleEntry{
		Bot:        bot,
		ActionName: cfg.ScheduleAction,
		Trigger:    cfg.Trigger,
		Payload:    params,
	}

	switch cfg.Trigger {
	case domain.TriggerCron:
		entry.CronExpression = cfg.CronExpression
	case domain.TriggerEpoch:
		at, err := epochFrom(params, cfg.EpochAt.Key)
		if err != nil {
			return nil, err
		}
		entry.NextFireAt = at
	default:
		return nil, domain.E(domain.KindValidation, "schedule action: unknown trigger %q", cfg.Trigger)
	}

	if err := s.enqueuer.Enqueue(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "deferred execution scheduled",
		slog.String("bot", bot),
		slog.String("action", cfg.ScheduleAction),
		slog.String("trigger", string(cfg.Trigger)),
	)

	result := &domain.TurnResult{Success: true}
	if cfg.ResponseText != "" {
		result.AddResponse(domain.Response{Text: cfg.ResponseText})
	}
	return result, nil
}

// epochFrom reads the fire time from the resolved parameters as unix
// seconds (number or numeric string).
func epochFrom(params map[string]any, key string) (time.Time, error) {
	if key == "" {
		key = "epoch_at"
	}
	v, ok := params[key]
	if !ok {
		return time.Time{}, domain.E(domain.KindValidation, "schedule action: missing %q parameter", key)
	}
	var secs int64
	switch t := v.(type) {
	case float64:
		secs = int64(t)
	case int64:
		secs = t
	case int:
		secs = int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, domain.E(domain.KindValidation, "schedule action: %q is not a unix timestamp", t)
		}
		secs = n
	default:
		return time.Time{}, domain.E(domain.KindValidation, "schedule action: %q has unsupported type %T", key, v)
	}
	at := time.Unix(secs, 0).UTC()
	if at.Before(time.Now().UTC()) {
		return time.Time{}, domain.E(domain.KindValidation, "schedule action: fire time %s is in the past", at)
	}
	return at, nil
}
