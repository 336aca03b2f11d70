// Package composite implements actions that orchestrate other actions:
// parallel fan-out and deferred scheduling.
package composite

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/msaidizi/internal/domain"
)

const defaultParallelDeadline = 30 * time.Second

// ChildRunner runs one named action and reports its kind. The engine
// implements this; composite never dispatches through itself.
type ChildRunner interface {
	RunChild(ctx context.Context, bot, actionName string, snapshot *domain.TrackerSnapshot) (*domain.TurnResult, error)
	ChildKind(ctx context.Context, bot, actionName string) (domain.Kind, error)
}

// ParallelRunner fans a parallel action out over its children.
type ParallelRunner struct {
	runner ChildRunner
	logger *slog.Logger
}

func NewParallelRunner(runner ChildRunner, logger *slog.Logger) *ParallelRunner {
	return &ParallelRunner{runner: runner, logger: logger}
}

// Run executes the children concurrently under a shared deadline and merges
// their results deterministically: slots last-writer-wins in declaration
// order, responses concatenated in declaration order. A child failure fails
// the whole parallel action.
func (p *ParallelRunner) Run(ctx context.Context, bot string, cfg *domain.ParallelConfig, snapshot *domain.TrackerSnapshot) (*domain.TurnResult, error) {
	// Child kinds that re-enter orchestration or divert the conversation
	// are rejected before any child runs.
	for _, name := range cfg.Actions {
		kind, err := p.runner.ChildKind(ctx, bot, name)
		if err != nil {
			return nil, err
		}
		switch kind {
		case domain.KindParallel:
			return nil, domain.E(domain.KindValidation, "parallel action: child %q is itself parallel", name)
		case domain.KindLiveAgent:
			return nil, domain.E(domain.KindValidation, "parallel action: child %q hands off to a live agent", name)
		}
	}

	deadline := defaultParallelDeadline
	if cfg.DeadlineS > 0 {
		deadline = time.Duration(cfg.DeadlineS) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make([]*domain.TurnResult, len(cfg.Actions))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range cfg.Actions {
		g.Go(func() error {
			res, err := p.runner.RunChild(gctx, bot, name, snapshot)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, domain.Wrap(domain.KindTimeout, err, "parallel action exceeded %s deadline", deadline)
		}
		return nil, err
	}

	// Merge in declaration order. A slot written by multiple children
	// yields a single event carrying the last writer's value, kept at the
	// position of the first write.
	merged := &domain.TurnResult{Success: true}
	slotAt := make(map[string]int)
	for _, res := range results {
		for _, ev := range res.Events {
			if ev.Type == domain.EventSlot {
				if at, ok := slotAt[ev.Name]; ok {
					merged.Events[at] = ev
					continue
				}
				slotAt[ev.Name] = len(merged.Events)
			}
			merged.Events = append(merged.Events, ev)
		}
		merged.Responses = append(merged.Responses, res.Responses...)
	}
	if cfg.ResponseText != "" {
		merged.AddResponse(domain.Response{Text: cfg.ResponseText})
	}

	p.logger.InfoContext(ctx, "parallel action completed",
		slog.String("bot", bot),
		slog.Int("children", len(cfg.Actions)),
	)
	return merged, nil
}
