package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
)

// ZendeskAdapter creates one support ticket per execution.
type ZendeskAdapter struct {
	inv    *invoker.Invoker
	logger *slog.Logger

	// baseURL overrides the subdomain-derived API base (tests).
	baseURL string
}

func NewZendeskAdapter(inv *invoker.Invoker, logger *slog.Logger) *ZendeskAdapter {
	return &ZendeskAdapter{inv: inv, logger: logger}
}

func (a *ZendeskAdapter) Kind() domain.Kind { return domain.KindZendesk }

func (a *ZendeskAdapter) ValidateCredentials(_ context.Context, _ string) error {
	return nil
}

func (a *ZendeskAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *ZendeskAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.ZendeskConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "zendesk adapter received %T config", req.Config)
	}
	token := param(req.Params, "api_token")
	if token == "" {
		return nil, domain.E(domain.KindUnauthorized, "zendesk action: api_token parameter not resolved")
	}

	base := a.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.zendesk.com", cfg.Subdomain)
	}
	body := orDefault(param(req.Params, "body"), param(req.Params, "user_message"))

	res, err := restCall(ctx, a.inv, "zendesk", &invoker.Request{
		Method: http.MethodPost,
		URL:    base + "/api/v2/tickets.json",
		Headers: map[string]string{
			// Token auth scheme: {email}/token:{api_token}.
			"Authorization": basicAuth(cfg.UserName+"/token", token),
		},
		Body: map[string]any{
			"ticket": map[string]any{
				"subject": orDefault(param(req.Params, "subject"), cfg.Subject),
				"comment": map[string]any{"body": body},
				"requester": map[string]any{
					"name":  param(req.Params, "name"),
					"email": param(req.Params, "email"),
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "zendesk ticket created", slog.String("bot", req.Bot))
	return &Result{Data: res.TemplateData()}, nil
}
