// Package engine dispatches dialog turns to typed action handlers. It is
// the only package that knows every execution sub-system; handlers wire an
// action's config into the resolver, the HTTP invoker, the vendor adapters,
// the script sandbox, the prompt runner, the composite runners and the
// handoff controller.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jkaninda/msaidizi/internal/callback"
	"github.com/jkaninda/msaidizi/internal/composite"
	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/evaluator"
	"github.com/jkaninda/msaidizi/internal/integrations"
	"github.com/jkaninda/msaidizi/internal/invoker"
	"github.com/jkaninda/msaidizi/internal/prompt"
	"github.com/jkaninda/msaidizi/internal/resolver"
	"github.com/jkaninda/msaidizi/internal/sandbox"
	"github.com/jkaninda/msaidizi/internal/scheduler"
)

const (
	defaultTurnDeadline = 30 * time.Second
	maxTurnDeadline     = 120 * time.Second
)

// ActionSource serves action definitions. The cached action store
// implements this.
type ActionSource interface {
	Lookup(ctx context.Context, bot, name string) (*domain.Action, error)
}

// PromptRunner executes prompt actions.
type PromptRunner interface {
	Run(ctx context.Context, req prompt.RunRequest) (*prompt.RunResult, error)
}

// HandoffController is the slice of the handoff controller the engine
// needs: live-session detection, handoff requests, user-turn forwarding.
type HandoffController interface {
	Active(ctx context.Context, bot, sender string) (*domain.HandoffSession, error)
	Request(ctx context.Context, bot string, cfg *domain.LiveAgentConfig, snapshot *domain.TrackerSnapshot) (*domain.TurnResult, error)
	ForwardUserTurn(ctx context.Context, session *domain.HandoffSession, text string) error
}

// CallbackRegistrar materializes callback endpoints and issues their tokens.
type CallbackRegistrar interface {
	Register(ctx context.Context, cb *domain.Callback) (string, error)
}

// Config bounds turn execution.
type Config struct {
	// TurnDeadline caps one turn end to end. Default 30 s, at most 120 s.
	TurnDeadline time.Duration
	// CallbackBaseURL is the externally reachable base for callback
	// invocation URLs, e.g. "https://engine.example.com".
	CallbackBaseURL string
}

func (c Config) deadline() time.Duration {
	d := c.TurnDeadline
	if d <= 0 {
		d = defaultTurnDeadline
	}
	if d > maxTurnDeadline {
		d = maxTurnDeadline
	}
	return d
}

// Deps collects the engine's collaborators. Nil optional fields disable
// the corresponding action kinds with a validation error at dispatch.
type Deps struct {
	Actions       ActionSource
	Resolver      *resolver.Resolver
	Evaluator     *evaluator.Evaluator
	Invoker       *invoker.Invoker
	Adapters      *integrations.Registry
	Prompts       PromptRunner
	Sandbox       sandbox.Sandbox
	Enqueuer      composite.Enqueuer
	Handoff       HandoffController
	Callbacks     CallbackRegistrar
	CallbackStore callback.Store
	Retriever     prompt.Retriever
	Metrics       *Metrics
	Logger        *slog.Logger
}

// Engine executes one action per dialog turn.
type Engine struct {
	actions       ActionSource
	resolver      *resolver.Resolver
	eval          *evaluator.Evaluator
	invoker       *invoker.Invoker
	adapters      *integrations.Registry
	prompts       PromptRunner
	sandbox       sandbox.Sandbox
	handoff       HandoffController
	callbacks     CallbackRegistrar
	callbackStore callback.Store
	retriever     prompt.Retriever
	metrics       *Metrics
	logger        *slog.Logger
	clock         func() time.Time
	config        Config

	parallel *composite.ParallelRunner
	schedule *composite.ScheduleRunner
	handlers map[domain.Kind]handler
}

// turn carries the per-dispatch state handed to a handler.
type turn struct {
	bot      string
	action   *domain.Action
	snapshot *domain.TrackerSnapshot
}

type handler func(ctx context.Context, t *turn) (*domain.TurnResult, error)

// New wires the engine and its handler table.
func New(deps Deps, cfg Config) *Engine {
	e := &Engine{
		actions:       deps.Actions,
		resolver:      deps.Resolver,
		eval:          deps.Evaluator,
		invoker:       deps.Invoker,
		adapters:      deps.Adapters,
		prompts:       deps.Prompts,
		sandbox:       deps.Sandbox,
		handoff:       deps.Handoff,
		callbacks:     deps.Callbacks,
		callbackStore: deps.CallbackStore,
		retriever:     deps.Retriever,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		clock:         time.Now,
		config:        cfg,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.parallel = composite.NewParallelRunner(e, e.logger)
	if deps.Enqueuer != nil {
		e.schedule = composite.NewScheduleRunner(deps.Enqueuer, e.logger)
	}
	e.handlers = map[domain.Kind]handler{
		domain.KindHTTP:             e.runHTTP,
		domain.KindPyscript:         e.runPyscript,
		domain.KindDB:               e.runDB,
		domain.KindEmail:            e.runEmail,
		domain.KindJira:             e.runJira,
		domain.KindZendesk:          e.runZendesk,
		domain.KindPipedrive:        e.runPipedrive,
		domain.KindHubspotForms:     e.runHubspotForms,
		domain.KindGoogleSearch:     e.runGoogleSearch,
		domain.KindWebSearch:        e.runWebSearch,
		domain.KindRazorpay:         e.runRazorpay,
		domain.KindSlotSet:          e.runSlotSet,
		domain.KindTwoStageFallback: e.runTwoStageFallback,
		domain.KindPrompt:           e.runPrompt,
		domain.KindLiveAgent:        e.runLiveAgent,
		domain.KindCallback:         e.runCallback,
		domain.KindSchedule:         e.runSchedule,
		domain.KindParallel:         e.runParallel,
	}
	return e
}

// ExecuteTurn runs one inbound dialog turn. The result is always
// well-formed: lookup misses, handler failures and panics all surface as a
// failed TurnResult with an error event and the action's failure_message,
// never as a raised error.
func (e *Engine) ExecuteTurn(ctx context.Context, req *domain.TurnRequest) (result *domain.TurnResult) {
	start := e.clock()
	ctx, cancel := context.WithTimeout(ctx, e.config.deadline())
	defer cancel()

	var action *domain.Action
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "turn panicked",
				slog.String("bot", req.Bot),
				slog.String("action", req.ActionName),
				slog.Any("panic", r),
			)
			result = e.failureResult(action, req.ActionName, domain.E(domain.KindInternal, "action %q panicked", req.ActionName))
		}
		e.observeTurn(action, result, e.clock().Sub(start))
	}()

	// A live handoff owns the conversation: forward the user's message to
	// the agent and short-circuit action execution entirely.
	if e.handoff != nil && req.SenderID != "" {
		session, err := e.handoff.Active(ctx, req.Bot, req.SenderID)
		if err != nil {
			e.logger.WarnContext(ctx, "handoff lookup failed",
				slog.String("bot", req.Bot),
				slog.String("error", err.Error()),
			)
		} else if session != nil && session.Open() {
			if err := e.handoff.ForwardUserTurn(ctx, session, req.Tracker.LatestMessage.Text); err != nil {
				e.logger.ErrorContext(ctx, "forwarding user turn failed",
					slog.String("bot", req.Bot),
					slog.String("sender", req.SenderID),
					slog.String("error", err.Error()),
				)
			}
			return &domain.TurnResult{ActionName: req.ActionName, Success: true}
		}
	}

	action, err := e.actions.Lookup(ctx, req.Bot, req.ActionName)
	if err != nil {
		return e.failureResult(nil, req.ActionName, err)
	}

	res, err := e.dispatch(ctx, &turn{bot: req.Bot, action: action, snapshot: &req.Tracker})
	if err != nil {
		return e.failureResult(action, req.ActionName, err)
	}
	res.ActionName = req.ActionName
	res.Success = true
	res.Events = orderEvents(res.Events)
	return res
}

// dispatch routes one action to its kind handler.
func (e *Engine) dispatch(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindTimeout, err, "turn deadline exceeded before %q ran", t.action.Name)
	}
	h, ok := e.handlers[t.action.Kind]
	if !ok {
		return nil, domain.E(domain.KindValidation, "no handler for action kind %q", t.action.Kind)
	}
	return h(ctx, t)
}

// failureResult builds the failed turn envelope: error + error_code fields,
// the author's failure_message utterance when configured, and a trailing
// error event.
func (e *Engine) failureResult(action *domain.Action, name string, err error) *domain.TurnResult {
	kind := domain.KindOf(err)
	result := &domain.TurnResult{
		ActionName: name,
		Success:    false,
		Error:      err.Error(),
		ErrorCode:  string(kind),
	}
	if action != nil {
		if msg := action.FailureMessage(); msg != "" {
			result.AddResponse(domain.Response{Text: msg})
		}
	}
	result.Events = append(result.Events, domain.ErrorEvent(kind, err.Error()))
	return result
}

func (e *Engine) observeTurn(action *domain.Action, result *domain.TurnResult, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	kind := "unknown"
	if action != nil {
		kind = string(action.Kind)
	}
	status := "error"
	if result != nil && result.Success {
		status = "ok"
	}
	e.metrics.TurnsTotal.WithLabelValues(status).Inc()
	e.metrics.ActionsTotal.WithLabelValues(kind, status).Inc()
	e.metrics.TurnDuration.Observe(elapsed.Seconds())
}

// orderEvents normalizes the event stream to slots, then bot utterances,
// then followups, then everything else in original relative order.
func orderEvents(events []domain.Event) []domain.Event {
	if len(events) < 2 {
		return events
	}
	out := make([]domain.Event, 0, len(events))
	for _, want := range []domain.EventType{domain.EventSlot, domain.EventBot, domain.EventFollowupAction} {
		for _, ev := range events {
			if ev.Type == want {
				out = append(out, ev)
			}
		}
	}
	for _, ev := range events {
		switch ev.Type {
		case domain.EventSlot, domain.EventBot, domain.EventFollowupAction:
		default:
			out = append(out, ev)
		}
	}
	return out
}

// RunChild executes a named action on behalf of a composite parent.
func (e *Engine) RunChild(ctx context.Context, bot, actionName string, snapshot *domain.TrackerSnapshot) (*domain.TurnResult, error) {
	action, err := e.actions.Lookup(ctx, bot, actionName)
	if err != nil {
		return nil, err
	}
	return e.dispatch(ctx, &turn{bot: bot, action: action, snapshot: snapshot})
}

// ChildKind reports a named action's kind without executing it.
func (e *Engine) ChildKind(ctx context.Context, bot, actionName string) (domain.Kind, error) {
	action, err := e.actions.Lookup(ctx, bot, actionName)
	if err != nil {
		return "", err
	}
	return action.Kind, nil
}

// ExecuteScheduled fires a deferred entry. The parameters captured at
// enqueue time are surfaced to the deferred action as slots, so its own
// slot parameters resolve against them.
func (e *Engine) ExecuteScheduled(ctx context.Context, entry *domain.ScheduleEntry) error {
	action, err := e.actions.Lookup(ctx, entry.Bot, entry.ActionName)
	if err != nil {
		return err
	}
	snapshot := &domain.TrackerSnapshot{Slots: entry.Payload}
	if sender, ok := entry.Payload["sender_id"].(string); ok {
		snapshot.SenderID = sender
	}
	result, err := e.dispatch(ctx, &turn{bot: entry.Bot, action: action, snapshot: snapshot})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "deferred action executed",
		slog.String("bot", entry.Bot),
		slog.String("action", entry.ActionName),
		slog.Int("events", len(result.Events)),
	)
	return nil
}

// callbackURL builds the externally invocable endpoint for a registered
// callback.
func (e *Engine) callbackURL(bot, name, token string) string {
	return fmt.Sprintf("%s/callback/%s/%s?token=%s",
		e.config.CallbackBaseURL, url.PathEscape(bot), url.PathEscape(name), url.QueryEscape(token))
}

var (
	_ composite.ChildRunner = (*Engine)(nil)
	_ scheduler.Executor    = (*Engine)(nil)
)
