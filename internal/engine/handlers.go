package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/integrations"
	"github.com/jkaninda/msaidizi/internal/invoker"
	"github.com/jkaninda/msaidizi/internal/prompt"
	"github.com/jkaninda/msaidizi/internal/sandbox"
	"github.com/jkaninda/msaidizi/internal/template"
)

// runHTTP resolves the header, query and body parameter lists, invokes the
// endpoint, and feeds the parsed response through the templating pipeline.
func (e *Engine) runHTTP(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.HTTPConfig)
	result := &domain.TurnResult{}

	resolved, merged, err := e.resolveMerged(ctx, t, result, cfg.Headers, cfg.Params, cfg.Body)
	if err != nil {
		return nil, err
	}
	headers, query, body := resolved[0], resolved[1], resolved[2]

	req := &invoker.Request{
		Method:         cfg.Method,
		URL:            template.Render(cfg.URL, templateData(nil, merged, t.snapshot)),
		Headers:        stringMap(headers.Values()),
		Params:         stringMap(query.Values()),
		Body:           body.Values(),
		ContentType:    cfg.ContentType,
		Timeout:        time.Duration(cfg.TimeoutS) * time.Second,
		Retry:          cfg.Retries,
		IdempotencyKey: cfg.IdempotencyKey,
	}
	res, err := e.invoker.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Status >= 400 {
		return nil, domain.E(domain.KindFromStatus(res.Status), "http action %q: upstream returned %d", t.action.Name, res.Status)
	}

	data := res.TemplateData()
	if err := e.applySetSlots(t, cfg.SetSlots, data, merged, result); err != nil {
		return nil, err
	}
	if err := e.applyResponse(ctx, t, cfg.Response, data, merged, result); err != nil {
		return nil, err
	}
	return result, nil
}

// runPyscript executes the action source in the sandbox. Slots yielded by
// the script apply first, then the config-level set_slots against the
// script's bot_response.
func (e *Engine) runPyscript(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.PyscriptConfig)
	if e.sandbox == nil {
		return nil, domain.E(domain.KindValidation, "pyscript action %q: sandbox not configured", t.action.Name)
	}
	result := &domain.TurnResult{}

	out, err := e.sandbox.Run(ctx, sandbox.Request{
		Script:  cfg.Source,
		Timeout: time.Duration(cfg.TimeoutS) * time.Second,
		Input: sandbox.Input{
			Bot:     t.bot,
			Tracker: sandbox.View(t.snapshot),
		},
	})
	if err != nil {
		return nil, scriptError(err)
	}

	for name, value := range out.Slots {
		result.AddSlot(name, value)
	}
	if err := e.applySetSlots(t, cfg.SetSlots, out.BotResponse, nil, result); err != nil {
		return nil, err
	}
	if cfg.Dispatch && out.BotResponse != "" {
		result.AddResponse(domain.Response{Text: out.BotResponse})
	}
	return result, nil
}

// runAdapter is the shared path for vendor-backed kinds: resolve the
// canonical parameter dictionary, execute the adapter, run the response
// pipeline.
func (e *Engine) runAdapter(ctx context.Context, t *turn, specs []domain.ParameterSpec, extra map[string]any, spec domain.ResponseSpec, setSlots []domain.SetSlot) (*domain.TurnResult, error) {
	adapter, err := e.adapters.Adapter(t.action.Kind)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, err, "action %q", t.action.Name)
	}
	result := &domain.TurnResult{}
	_, params, err := e.resolveMerged(ctx, t, result, specs)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		params[k] = v
	}

	res, err := adapter.Execute(ctx, integrations.ExecRequest{
		Bot:    t.bot,
		Config: t.action.Config,
		Params: params,
	})
	if err != nil {
		return nil, err
	}

	if err := e.applySetSlots(t, setSlots, res.Data, params, result); err != nil {
		return nil, err
	}
	if err := e.applyResponse(ctx, t, spec, res.Data, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) runDB(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.DBConfig)
	// Query values reference slots, the user message and the sender by
	// name; surface them all as the parameter dictionary.
	extra := map[string]any{
		"user_message": t.snapshot.LatestMessage.Text,
		"sender_id":    t.snapshot.SenderID,
	}
	for k, v := range t.snapshot.Slots {
		extra[k] = v
	}
	return e.runAdapter(ctx, t, nil, extra, cfg.Response, cfg.SetSlots)
}

func (e *Engine) runEmail(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.EmailConfig)
	body := cfg.Body
	if !cfg.CustomText && body == "" {
		body = t.snapshot.LatestMessage.Text
	}
	specs := []domain.ParameterSpec{
		{Key: "smtp_url", Value: cfg.SMTPURL},
		{Key: "smtp_port", Value: strconv.Itoa(cfg.SMTPPort)},
		{Key: "userid", Value: cfg.UserID},
		forceKey(cfg.Password, "password"),
		{Key: "from", Value: cfg.FromEmail},
		{Key: "subject", Value: template.Render(cfg.Subject, templateData(nil, nil, t.snapshot))},
		{Key: "body", Value: template.Render(body, templateData(nil, nil, t.snapshot))},
	}
	extra := map[string]any{"to": cfg.ToEmails}
	return e.runAdapter(ctx, t, specs, extra, cfg.Response, nil)
}

func (e *Engine) runJira(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.JiraConfig)
	specs := []domain.ParameterSpec{
		forceKey(cfg.APIToken, "api_token"),
		{Key: "summary", Value: template.Render(cfg.Summary, templateData(nil, nil, t.snapshot))},
		slotParam("description"),
	}
	return e.runAdapter(ctx, t, specs, nil, cfg.Response, nil)
}

func (e *Engine) runZendesk(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.ZendeskConfig)
	specs := []domain.ParameterSpec{
		forceKey(cfg.APIToken, "api_token"),
		{Key: "subject", Value: template.Render(cfg.Subject, templateData(nil, nil, t.snapshot))},
		{Key: "user_message", ParameterType: domain.ParamUserMessage},
		slotParam("body"),
		slotParam("name"),
		slotParam("email"),
	}
	return e.runAdapter(ctx, t, specs, nil, cfg.Response, nil)
}

func (e *Engine) runPipedrive(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.PipedriveConfig)
	specs := []domain.ParameterSpec{forceKey(cfg.APIToken, "api_token")}
	for _, slotName := range cfg.Metadata {
		specs = append(specs, slotParam(slotName))
	}
	return e.runAdapter(ctx, t, specs, nil, cfg.Response, nil)
}

func (e *Engine) runHubspotForms(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.HubspotFormsConfig)
	return e.runAdapter(ctx, t, cfg.Fields, nil, cfg.Response, nil)
}

func (e *Engine) runGoogleSearch(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.GoogleSearchConfig)
	specs := []domain.ParameterSpec{
		forceKey(cfg.APIKey, "api_key"),
		{Key: "user_message", ParameterType: domain.ParamUserMessage},
		slotParam("query"),
	}
	return e.runAdapter(ctx, t, specs, nil, searchResponse(cfg.DispatchResp), searchSetSlots(cfg.SetSlot))
}

func (e *Engine) runWebSearch(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.WebSearchConfig)
	specs := []domain.ParameterSpec{
		{Key: "user_message", ParameterType: domain.ParamUserMessage},
		slotParam("query"),
	}
	return e.runAdapter(ctx, t, specs, nil, searchResponse(cfg.DispatchResp), searchSetSlots(cfg.SetSlot))
}

// searchResponse dispatches the trimmed result list as JSON when the
// author opted in.
func searchResponse(dispatch bool) domain.ResponseSpec {
	if !dispatch {
		return domain.ResponseSpec{}
	}
	return domain.ResponseSpec{
		Value:        "${RESPONSE}",
		Dispatch:     true,
		DispatchType: domain.DispatchJSON,
	}
}

// searchSetSlots stores the whole result list in the configured slot.
func searchSetSlots(slot string) []domain.SetSlot {
	if slot == "" {
		return nil
	}
	return []domain.SetSlot{{Name: slot, Type: domain.SetSlotCurrent, Value: "RESPONSE"}}
}

func (e *Engine) runRazorpay(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.RazorpayConfig)
	specs := []domain.ParameterSpec{
		forceKey(cfg.APIKey, "api_key"),
		forceKey(cfg.APISecret, "api_secret"),
		forceKey(cfg.Amount, "amount"),
		forceKey(cfg.Currency, "currency"),
	}
	specs = append(specs, cfg.Notes...)
	return e.runAdapter(ctx, t, specs, nil, cfg.Response, nil)
}

// runSlotSet is a pure handler: no upstream call, just slot mutations.
func (e *Engine) runSlotSet(_ context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.SlotSetConfig)
	result := &domain.TurnResult{}
	if err := e.applySetSlots(t, cfg.SetSlots, nil, t.snapshot.Slots, result); err != nil {
		return nil, err
	}
	return result, nil
}

// runTwoStageFallback emits the configured quick replies, optionally
// enriched with similar previously seen utterances from retrieval.
func (e *Engine) runTwoStageFallback(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.TwoStageFallbackConfig)
	result := &domain.TurnResult{}

	buttons := append([]domain.QuickReply{}, cfg.TriggerRules...)
	if cfg.TextRecommendations > 0 && e.retriever != nil {
		matches, err := e.retriever.Search(ctx, t.bot, "bot_content", t.snapshot.LatestMessage.Text, cfg.TextRecommendations, 0)
		if err != nil {
			e.logger.WarnContext(ctx, "fallback recommendations unavailable",
				slog.String("bot", t.bot),
				slog.String("error", err.Error()),
			)
		}
		for _, m := range matches {
			buttons = append(buttons, domain.QuickReply{Text: m.Content, Payload: m.Content})
		}
	}

	result.AddResponse(domain.Response{Text: cfg.FallbackMessage, Buttons: buttons})
	return result, nil
}

// runPrompt executes nested source=action pieces first, then delegates to
// the prompt runner and applies its completion and slots.
func (e *Engine) runPrompt(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	action := t.action.Config.(*domain.PromptAction)
	if e.prompts == nil {
		return nil, domain.E(domain.KindValidation, "prompt action %q: no llm provider configured", t.action.Name)
	}
	result := &domain.TurnResult{}

	actionResults := map[string]any{}
	for _, piece := range action.Prompts {
		if piece.Source != domain.SourceAction || piece.Data == "" {
			continue
		}
		child, err := e.RunChild(ctx, t.bot, piece.Data, t.snapshot)
		if err != nil {
			return nil, domain.Wrap(domain.KindOf(err), err, "prompt action %q: nested action %q failed", t.action.Name, piece.Data)
		}
		actionResults[piece.Data] = childText(child)
	}

	run, err := e.prompts.Run(ctx, prompt.RunRequest{
		Bot:           t.bot,
		Action:        action,
		Snapshot:      t.snapshot,
		ActionResults: actionResults,
	})
	if err != nil {
		return nil, err
	}

	for name, value := range run.Slots {
		result.AddSlot(name, value)
	}
	if action.DispatchResponse && run.Completion != "" {
		result.AddResponse(domain.Response{Text: run.Completion})
	}
	return result, nil
}

// childText flattens a nested action's dispatched utterances for prompt
// assembly.
func childText(result *domain.TurnResult) string {
	var parts []string
	for _, r := range result.Responses {
		if r.Text != "" {
			parts = append(parts, r.Text)
		}
	}
	if len(parts) == 0 {
		for _, ev := range result.Events {
			if ev.Type == domain.EventSlot {
				parts = append(parts, template.Stringify(ev.Value))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func (e *Engine) runLiveAgent(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.LiveAgentConfig)
	if e.handoff == nil {
		return nil, domain.E(domain.KindValidation, "live_agent action %q: handoff not configured", t.action.Name)
	}
	return e.handoff.Request(ctx, t.bot, cfg, t.snapshot)
}

// runCallback re-registers the named callback under a fresh token and
// surfaces its invocation URL as ${RESPONSE.url}.
func (e *Engine) runCallback(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.CallbackActionConfig)
	if e.callbacks == nil || e.callbackStore == nil {
		return nil, domain.E(domain.KindValidation, "callback action %q: callback service not configured", t.action.Name)
	}

	cb, err := e.callbackStore.GetCallback(ctx, t.bot, cfg.CallbackName)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, domain.E(domain.KindNotFound, "callback %q is not registered for bot %q", cfg.CallbackName, t.bot)
	}

	// Each execution rotates the token binding: older URLs stop working.
	cb.TokenID = domain.NewID().String()
	token, err := e.callbacks.Register(ctx, cb)
	if err != nil {
		return nil, err
	}

	result := &domain.TurnResult{}
	data := map[string]any{
		"url":      e.callbackURL(t.bot, cb.Name, token),
		"name":     cb.Name,
		"expiry_s": cb.ExpiryS,
	}
	if err := e.applySetSlots(t, cfg.SetSlots, data, nil, result); err != nil {
		return nil, err
	}
	if err := e.applyResponse(ctx, t, cfg.Response, data, nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) runSchedule(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.ScheduleConfig)
	if e.schedule == nil {
		return nil, domain.E(domain.KindValidation, "schedule action %q: scheduler not configured", t.action.Name)
	}
	specs := append([]domain.ParameterSpec{}, cfg.Params...)
	if cfg.Trigger == domain.TriggerEpoch {
		at := cfg.EpochAt
		if at.Key == "" {
			at.Key = "epoch_at"
		}
		specs = append(specs, at)
	}
	result := &domain.TurnResult{}
	_, params, err := e.resolveMerged(ctx, t, result, specs)
	if err != nil {
		return nil, err
	}
	if t.snapshot.SenderID != "" {
		params["sender_id"] = t.snapshot.SenderID
	}
	res, err := e.schedule.Run(ctx, t.bot, cfg, params)
	if err != nil {
		return nil, err
	}
	res.Events = append(result.Events, res.Events...)
	return res, nil
}

func (e *Engine) runParallel(ctx context.Context, t *turn) (*domain.TurnResult, error) {
	cfg := t.action.Config.(*domain.ParallelConfig)
	return e.parallel.Run(ctx, t.bot, cfg, t.snapshot)
}
