package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/evaluator"
	"github.com/jkaninda/msaidizi/internal/resolver"
	"github.com/jkaninda/msaidizi/internal/sandbox"
	"github.com/jkaninda/msaidizi/internal/template"
)

// templateData builds the interpolation roots: ${RESPONSE...} binds the
// upstream result, ${params...} the resolved parameters, ${slots...} the
// tracker slots.
func templateData(data any, params map[string]any, snapshot *domain.TrackerSnapshot) map[string]any {
	roots := map[string]any{
		"RESPONSE": data,
		"params":   params,
	}
	if snapshot != nil {
		roots["slots"] = snapshot.Slots
	}
	return roots
}

// applyResponse runs the response pipeline of §response spec: evaluate the
// value (template or sandboxed script), then dispatch as text or raw JSON.
func (e *Engine) applyResponse(ctx context.Context, t *turn, spec domain.ResponseSpec, data any, params map[string]any, result *domain.TurnResult) error {
	if !spec.Dispatch || spec.Value == "" {
		return nil
	}

	var rendered string
	if spec.EvaluationType == domain.EvalScript {
		if e.sandbox == nil {
			return domain.E(domain.KindValidation, "action %q: script responses require the sandbox", t.action.Name)
		}
		out, err := e.sandbox.Run(ctx, sandbox.Request{
			Script: spec.Value,
			Input: sandbox.Input{
				Bot:     t.bot,
				Tracker: sandbox.View(t.snapshot),
				Params:  params,
				Payload: map[string]any{"RESPONSE": data},
			},
		})
		if err != nil {
			return scriptError(err)
		}
		rendered = out.BotResponse
		for name, value := range out.Slots {
			result.AddSlot(name, value)
		}
	} else {
		rendered = template.Render(spec.Value, templateData(data, params, t.snapshot))
	}

	if spec.DispatchType == domain.DispatchJSON {
		raw := json.RawMessage(rendered)
		if !json.Valid(raw) {
			raw, _ = json.Marshal(rendered)
		}
		result.AddResponse(domain.Response{Custom: raw})
		return nil
	}
	result.AddResponse(domain.Response{Text: rendered})
	return nil
}

// applySetSlots computes each set-slot mutation against the upstream
// result and appends the slot events in declaration order.
func (e *Engine) applySetSlots(t *turn, setSlots []domain.SetSlot, data any, params map[string]any, result *domain.TurnResult) error {
	for _, s := range setSlots {
		value, err := e.setSlotValue(t, s, data, params)
		if err != nil {
			return err
		}
		result.AddSlot(s.Name, value)
	}
	return nil
}

// setSlotValue resolves one set-slot strategy.
//
//	from_value (default)  literal, with ${...} interpolation for strings
//	current               dotted-path projection of the upstream result
//	custom                expression over snapshot, params and RESPONSE
//	slot                  copy of another tracker slot
//	reset                 nil
func (e *Engine) setSlotValue(t *turn, s domain.SetSlot, data any, params map[string]any) (any, error) {
	switch s.Type {
	case domain.SetSlotReset:
		return nil, nil

	case domain.SetSlotSlot:
		name, _ := s.Value.(string)
		if v, ok := t.snapshot.Slot(name); ok {
			return v, nil
		}
		return nil, nil

	case domain.SetSlotCurrent:
		path, _ := s.Value.(string)
		path = strings.TrimPrefix(path, "RESPONSE")
		path = strings.TrimPrefix(path, ".")
		if path == "" {
			return data, nil
		}
		if v, ok := template.Project(data, path); ok {
			return v, nil
		}
		return nil, nil

	case domain.SetSlotCustom:
		expr, _ := s.Value.(string)
		env := evaluator.Env(t.snapshot, params)
		env["RESPONSE"] = data
		v, err := e.eval.Eval(expr, env)
		if err != nil {
			return nil, domain.Wrap(domain.KindValidation, err, "set_slot %q expression failed", s.Name)
		}
		return v, nil

	default: // from_value
		if str, ok := s.Value.(string); ok {
			return template.Render(str, templateData(data, params, t.snapshot)), nil
		}
		return s.Value, nil
	}
}

// resolveMerged resolves several spec lists and merges their values into
// one dictionary for templating and expressions, recording warnings on the
// result.
func (e *Engine) resolveMerged(ctx context.Context, t *turn, result *domain.TurnResult, specLists ...[]domain.ParameterSpec) ([]*resolver.Resolved, map[string]any, error) {
	resolved := make([]*resolver.Resolved, 0, len(specLists))
	merged := map[string]any{}
	for _, specs := range specLists {
		r, err := e.resolver.Resolve(ctx, t.bot, specs, t.snapshot)
		if err != nil {
			return nil, nil, err
		}
		result.Events = append(result.Events, r.Warnings()...)
		for k, v := range r.Values() {
			merged[k] = v
		}
		resolved = append(resolved, r)
	}
	return resolved, merged, nil
}

// forceKey rebinds a config-level parameter spec to the canonical key its
// adapter reads.
func forceKey(spec domain.ParameterSpec, key string) domain.ParameterSpec {
	spec.Key = key
	return spec
}

// slotParam builds a spec that surfaces a tracker slot under its own name.
func slotParam(name string) domain.ParameterSpec {
	return domain.ParameterSpec{Key: name, Value: name, ParameterType: domain.ParamSlot}
}

// stringMap renders resolved values as strings for headers and query
// parameters, dropping empties.
func stringMap(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		s := template.Stringify(v)
		if s == "" {
			continue
		}
		out[k] = s
	}
	return out
}

// scriptError normalizes sandbox failures into the engine taxonomy.
func scriptError(err error) error {
	var se *sandbox.ScriptError
	if errors.As(err, &se) {
		return se.EngineError()
	}
	return domain.Wrap(domain.KindSandboxFailure, err, "script execution failed")
}
