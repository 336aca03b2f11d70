// Package integrations provides the vendor adapters behind integration
// action kinds. Every adapter exposes the same three-step contract:
// credential validation, bot-level preparation, and a single logical
// operation per action execution.
package integrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
	"github.com/jkaninda/msaidizi/internal/secrets"
)

// ErrUnknownKind is returned when no adapter is registered for an action kind.
var ErrUnknownKind = errors.New("no adapter for kind")

// ExecRequest carries everything an adapter needs for one execution.
type ExecRequest struct {
	Bot    string
	Config domain.ActionConfig
	Params map[string]any // Resolved parameter dictionary.
}

// Result is what an adapter yields. Data is bound to ${RESPONSE} in the
// response pipeline.
type Result struct {
	Data any
}

// Adapter is the uniform integration contract.
type Adapter interface {
	Kind() domain.Kind
	// ValidateCredentials checks reachability and auth for the bot's stored
	// credentials without performing any side effect.
	ValidateCredentials(ctx context.Context, bot string) error
	// Prepare returns bot-level metadata needed before execution (form
	// fields, pipeline ids). Most adapters return nothing.
	Prepare(ctx context.Context, bot string) (map[string]any, error)
	// Execute performs the adapter's single logical operation.
	Execute(ctx context.Context, req ExecRequest) (*Result, error)
}

// Registry maps action kinds to their adapters.
type Registry struct {
	adapters map[domain.Kind]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// Adapter returns the adapter for a kind.
func (r *Registry) Adapter(kind domain.Kind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return a, nil
}

// vendorError maps a vendor HTTP status to the engine error taxonomy:
// 401/403 unauthorized, other 4xx validation, 5xx upstream.
func vendorError(vendor string, status int, body any) error {
	kind := domain.KindFromStatus(status)
	return domain.E(kind, "%s returned status %d: %v", vendor, status, body)
}

// restCall issues one vendor REST call through the shared invoker and maps
// non-2xx statuses to the taxonomy.
func restCall(ctx context.Context, inv *invoker.Invoker, vendor string, req *invoker.Request) (*invoker.Result, error) {
	res, err := inv.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status > 299 {
		return nil, vendorError(vendor, res.Status, res.TemplateData())
	}
	return res, nil
}

// credentials decrypts the bot's stored credential blob for a vendor kind.
func credentials(ctx context.Context, vault *secrets.Vault, bot string, kind domain.Kind, dst any) error {
	if err := vault.Credentials(ctx, bot, string(kind), dst); err != nil {
		return domain.Wrap(domain.KindUnauthorized, err, "no %s credentials for bot %s", kind, bot)
	}
	return nil
}

// param reads a string value from the resolved parameter dictionary.
func param(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
