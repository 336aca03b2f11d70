package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
)

// PipedriveAdapter creates one lead per execution: a person record built
// from the metadata slot mapping, then a lead attached to it.
type PipedriveAdapter struct {
	inv    *invoker.Invoker
	logger *slog.Logger

	baseURL string // Overrides the domain-derived API base (tests).
}

func NewPipedriveAdapter(inv *invoker.Invoker, logger *slog.Logger) *PipedriveAdapter {
	return &PipedriveAdapter{inv: inv, logger: logger}
}

func (a *PipedriveAdapter) Kind() domain.Kind { return domain.KindPipedrive }

func (a *PipedriveAdapter) ValidateCredentials(_ context.Context, _ string) error {
	return nil
}

func (a *PipedriveAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *PipedriveAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.PipedriveConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "pipedrive adapter received %T config", req.Config)
	}
	token := param(req.Params, "api_token")
	if token == "" {
		return nil, domain.E(domain.KindUnauthorized, "pipedrive action: api_token parameter not resolved")
	}

	base := a.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.pipedrive.com", cfg.Domain)
	}

	person := map[string]any{}
	for field, slotName := range cfg.Metadata {
		if v := param(req.Params, slotName); v != "" {
			person[field] = v
		}
	}
	if person["name"] == nil {
		return nil, domain.E(domain.KindValidation, "pipedrive action: name slot is empty")
	}

	personRes, err := restCall(ctx, a.inv, "pipedrive", &invoker.Request{
		Method: http.MethodPost,
		URL:    base + "/api/v1/persons",
		Params: map[string]string{"api_token": token},
		Body:   person,
	})
	if err != nil {
		return nil, err
	}
	personID, _ := templateProject(personRes.TemplateData(), "data", "id")

	res, err := restCall(ctx, a.inv, "pipedrive", &invoker.Request{
		Method: http.MethodPost,
		URL:    base + "/api/v1/leads",
		Params: map[string]string{"api_token": token},
		Body: map[string]any{
			"title":     cfg.Title,
			"person_id": personID,
		},
	})
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "pipedrive lead created", slog.String("bot", req.Bot))
	return &Result{Data: res.TemplateData()}, nil
}

// templateProject walks nested JSON maps by key.
func templateProject(root any, path ...string) (any, bool) {
	cur := root
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
