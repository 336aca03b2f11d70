package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
)

// HubspotFormsAdapter submits one form per execution through the Hubspot
// Forms Submission API. Form submissions are unauthenticated; the portal
// and form ids identify the target.
type HubspotFormsAdapter struct {
	inv    *invoker.Invoker
	logger *slog.Logger

	baseURL string // Overrides the public API base (tests).
}

func NewHubspotFormsAdapter(inv *invoker.Invoker, logger *slog.Logger) *HubspotFormsAdapter {
	return &HubspotFormsAdapter{inv: inv, logger: logger}
}

func (a *HubspotFormsAdapter) Kind() domain.Kind { return domain.KindHubspotForms }

func (a *HubspotFormsAdapter) ValidateCredentials(_ context.Context, _ string) error {
	return nil
}

func (a *HubspotFormsAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *HubspotFormsAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.HubspotFormsConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "hubspot adapter received %T config", req.Config)
	}

	base := a.baseURL
	if base == "" {
		base = "https://api.hsforms.com"
	}

	fields := make([]any, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields = append(fields, map[string]any{
			"name":  f.Key,
			"value": param(req.Params, f.Key),
		})
	}

	res, err := restCall(ctx, a.inv, "hubspot", &invoker.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/submissions/v3/integration/submit/%s/%s", base, cfg.PortalID, cfg.FormGUID),
		Body:   map[string]any{"fields": fields},
	})
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "hubspot form submitted",
		slog.String("bot", req.Bot),
		slog.String("form", cfg.FormGUID),
	)
	return &Result{Data: res.TemplateData()}, nil
}
