// Package resolver turns parameter specs into concrete values from the
// tracker snapshot, the sender, the vault and literals.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/secrets"
)

// Resolver evaluates parameter lists against a tracker snapshot.
type Resolver struct {
	vault  secrets.Store
	logger *slog.Logger
}

// New creates a Resolver backed by the given secret store.
func New(vault secrets.Store, logger *slog.Logger) *Resolver {
	return &Resolver{vault: vault, logger: logger}
}

// Resolved is the outcome of resolving a parameter list. Values resolved
// from the vault are tracked so debug output can redact them.
type Resolved struct {
	values     map[string]any
	secretKeys map[string]bool
	warnings   []domain.Event
}

// Values returns the resolved key/value dictionary.
func (r *Resolved) Values() map[string]any { return r.values }

// String returns the value under key rendered as a string.
func (r *Resolved) String(key string) string {
	v, ok := r.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// IsSecret reports whether key was resolved from the vault.
func (r *Resolved) IsSecret(key string) bool { return r.secretKeys[key] }

// Warnings returns resolution warnings (duplicate keys) as dialog events.
func (r *Resolved) Warnings() []domain.Event { return r.warnings }

// LogValue renders the dictionary for structured logging with vault-resolved
// values redacted.
func (r *Resolved) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(r.values))
	for k, v := range r.values {
		if r.secretKeys[k] {
			attrs = append(attrs, slog.String(k, secrets.Redacted))
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Resolve evaluates each spec in order. Duplicate keys resolve last-wins and
// record a warning event. Missing slots resolve to the empty string; missing
// secrets fail with ErrSecretNotFound wrapped in a NotFound engine error.
func (r *Resolver) Resolve(ctx context.Context, bot string, specs []domain.ParameterSpec, snapshot *domain.TrackerSnapshot) (*Resolved, error) {
	out := &Resolved{
		values:     make(map[string]any, len(specs)),
		secretKeys: make(map[string]bool),
	}

	for _, spec := range specs {
		if _, dup := out.values[spec.Key]; dup {
			out.warnings = append(out.warnings,
				domain.WarningEvent(fmt.Sprintf("duplicate parameter key %q: later entry wins", spec.Key)))
		}

		switch spec.Type() {
		case domain.ParamValue:
			out.values[spec.Key] = spec.Value
			delete(out.secretKeys, spec.Key)

		case domain.ParamSlot:
			if v, ok := snapshot.Slot(spec.Value); ok && v != nil {
				out.values[spec.Key] = v
			} else {
				out.values[spec.Key] = ""
			}
			delete(out.secretKeys, spec.Key)

		case domain.ParamSenderID:
			out.values[spec.Key] = snapshot.SenderID
			delete(out.secretKeys, spec.Key)

		case domain.ParamUserMessage:
			out.values[spec.Key] = snapshot.LatestMessage.Text
			delete(out.secretKeys, spec.Key)

		case domain.ParamIntent:
			out.values[spec.Key] = snapshot.LatestMessage.Intent.Name
			delete(out.secretKeys, spec.Key)

		case domain.ParamKeyVault:
			secret, err := r.vault.Get(ctx, bot, spec.Value)
			if err != nil {
				return nil, domain.Wrap(domain.KindNotFound, err, "resolving secret %q", spec.Value)
			}
			out.values[spec.Key] = secret.Reveal()
			out.secretKeys[spec.Key] = true

		default:
			return nil, domain.E(domain.KindValidation, "parameter %q: unknown parameter_type %q", spec.Key, spec.ParameterType)
		}
	}

	if len(out.warnings) > 0 && r.logger != nil {
		r.logger.WarnContext(ctx, "parameter resolution produced warnings",
			slog.String("bot", bot),
			slog.Int("count", len(out.warnings)),
		)
	}
	return out, nil
}
