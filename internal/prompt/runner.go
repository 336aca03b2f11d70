// Package prompt assembles structured prompts from their configured
// sources, calls the LLM, and post-processes the completion.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/evaluator"
	"github.com/jkaninda/msaidizi/internal/llm"
	"github.com/jkaninda/msaidizi/internal/sandbox"
)

const (
	defaultTopResults = 10
	maxTopResults     = 30
)

// RunRequest is one prompt action execution.
type RunRequest struct {
	Bot      string
	Action   *domain.PromptAction
	Snapshot *domain.TrackerSnapshot
	// ActionResults holds nested action outputs for source=action prompts,
	// keyed by action name. The engine runs those actions first.
	ActionResults map[string]any
}

// RunResult carries the completion and computed slot values.
type RunResult struct {
	Completion string
	Slots      map[string]any
	Usage      llm.Usage
}

// Runner executes prompt actions.
type Runner struct {
	provider  llm.Provider
	retriever Retriever
	eval      *evaluator.Evaluator
	sandbox   sandbox.Sandbox
	logger    *slog.Logger
}

func NewRunner(provider llm.Provider, retriever Retriever, eval *evaluator.Evaluator, sb sandbox.Sandbox, logger *slog.Logger) *Runner {
	return &Runner{
		provider:  provider,
		retriever: retriever,
		eval:      eval,
		sandbox:   sb,
		logger:    logger,
	}
}

// Run materializes the prompt pieces, calls the provider, and applies
// set_slots to the completion.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	action := req.Action

	var system, user, query []string
	for _, piece := range action.Prompts {
		text, err := r.materialize(ctx, req, piece)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		if piece.Instructions != "" {
			text += "\n" + piece.Instructions
		}
		switch piece.Type {
		case domain.PromptSystem:
			system = append(system, text)
		case domain.PromptUser:
			user = append(user, text)
		case domain.PromptQuery:
			query = append(query, text)
		}
	}
	if len(action.Instructions) > 0 {
		system = append(system, strings.Join(action.Instructions, "\n"))
	}

	content := strings.Join(append(user, query...), "\n\n")
	if content == "" {
		content = req.Snapshot.LatestMessage.Text
	}

	llmReq := &llm.Request{
		SystemPrompt: strings.Join(system, "\n\n"),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: content}},
		Hyperparams:  hyperparams(action.Hyperparameters),
	}

	resp, err := r.provider.Complete(ctx, llmReq)
	if err != nil {
		return nil, err
	}

	slots, err := r.applySetSlots(ctx, req, resp.Content)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "prompt action completed",
		slog.String("bot", req.Bot),
		slog.String("action", action.Name),
		slog.String("provider", r.provider.Name()),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return &RunResult{Completion: resp.Content, Slots: slots, Usage: resp.Usage}, nil
}

// materialize produces the text of one prompt piece from its source.
func (r *Runner) materialize(ctx context.Context, req RunRequest, piece domain.LlmPrompt) (string, error) {
	switch piece.Source {
	case domain.SourceStatic:
		return piece.Data, nil

	case domain.SourceSlot:
		if v, ok := req.Snapshot.Slot(piece.Data); ok && v != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return "", nil

	case domain.SourceAction:
		v, ok := req.ActionResults[piece.Data]
		if !ok {
			return "", nil
		}
		return stringifyResult(v), nil

	case domain.SourceHistory:
		n := req.Action.NumBotResponses
		if n == 0 {
			n = domain.MaxNumBotResponses
		}
		window := req.Snapshot.HistoryWindow(n)
		lines := make([]string, 0, len(window))
		for _, b := range window {
			if b.Text != "" {
				lines = append(lines, "Bot: "+b.Text)
			}
		}
		return strings.Join(lines, "\n"), nil

	case domain.SourceTag:
		return taggedEvents(req.Snapshot, piece.Data), nil

	case domain.SourceCrud:
		return r.crudContext(ctx, req, piece)

	case domain.SourceBotContent:
		return r.retrieve(ctx, req.Bot, []string{"bot_content"}, req.Snapshot.LatestMessage.Text, piece.Hyperparameters)

	default:
		return "", domain.E(domain.KindValidation, "prompt %q: unknown source %q", piece.Name, piece.Source)
	}
}

// crudContext resolves the query text and retrieves context from each
// configured collection.
func (r *Runner) crudContext(ctx context.Context, req RunRequest, piece domain.LlmPrompt) (string, error) {
	cfg := piece.CrudConfig
	var query string
	switch cfg.QuerySource {
	case domain.QueryFromSlot:
		var slotName string
		if err := json.Unmarshal(cfg.Query, &slotName); err != nil {
			return "", domain.E(domain.KindValidation, "prompt %q: crud query is not a slot name", piece.Name)
		}
		if v, ok := req.Snapshot.Slot(slotName); ok && v != nil {
			query = fmt.Sprintf("%v", v)
		}
	default:
		query = string(cfg.Query)
	}
	if query == "" {
		return "", nil
	}
	return r.retrieve(ctx, req.Bot, cfg.Collections, query, piece.Hyperparameters)
}

// retrieve searches the collections and renders the matches as a JSON array.
func (r *Runner) retrieve(ctx context.Context, bot string, collections []string, query string, hp domain.PromptHyperparams) (string, error) {
	top := hp.TopResults
	if top == 0 {
		top = defaultTopResults
	}
	if top > maxTopResults {
		top = maxTopResults
	}

	var all []Match
	for _, col := range collections {
		matches, err := r.retriever.Search(ctx, bot, col, query, top, hp.SimilarityThreshold)
		if err != nil {
			return "", err
		}
		all = append(all, matches...)
	}
	if len(all) == 0 {
		return "", nil
	}
	b, err := json.Marshal(all)
	if err != nil {
		return "", fmt.Errorf("marshaling retrieval context: %w", err)
	}
	return string(b), nil
}

// applySetSlots computes each configured slot from the completion, via the
// expression evaluator or the sandbox.
func (r *Runner) applySetSlots(ctx context.Context, req RunRequest, completion string) (map[string]any, error) {
	if len(req.Action.SetSlots) == 0 {
		return nil, nil
	}
	slots := make(map[string]any, len(req.Action.SetSlots))
	for _, s := range req.Action.SetSlots {
		switch s.EvaluationType {
		case domain.EvalScript:
			out, err := r.sandbox.Run(ctx, sandbox.Request{
				Script: s.Value,
				Input: sandbox.Input{
					Bot:     req.Bot,
					Tracker: sandbox.View(req.Snapshot),
					Payload: map[string]any{"completion": completion},
				},
			})
			if err != nil {
				return nil, err
			}
			if v, ok := out.Slots[s.Name]; ok {
				slots[s.Name] = v
			} else {
				slots[s.Name] = out.BotResponse
			}

		default: // expression
			env := evaluator.Env(req.Snapshot, nil)
			env["completion"] = completion
			v, err := r.eval.Eval(s.Value, env)
			if err != nil {
				return nil, err
			}
			slots[s.Name] = v
		}
	}
	return slots, nil
}

// taggedEvents collects the text of recent events carrying the given tag.
func taggedEvents(snapshot *domain.TrackerSnapshot, tag string) string {
	var lines []string
	for _, raw := range snapshot.RecentEvents {
		var ev struct {
			Text     string `json:"text"`
			Metadata struct {
				Tag string `json:"tag"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.Metadata.Tag == tag && ev.Text != "" {
			lines = append(lines, ev.Text)
		}
	}
	return strings.Join(lines, "\n")
}

func stringifyResult(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// hyperparams maps the action's free-form hyperparameter dictionary onto
// the provider request.
func hyperparams(m map[string]any) llm.Hyperparams {
	hp := llm.Hyperparams{}
	if v, ok := numeric(m["max_tokens"]); ok {
		hp.MaxTokens = int(v)
	}
	if v, ok := numeric(m["temperature"]); ok {
		hp.Temperature = v
	}
	if v, ok := numeric(m["top_p"]); ok {
		hp.TopP = v
	}
	return hp
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}
