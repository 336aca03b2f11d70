package integrations

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
)

// JiraAdapter creates one issue per execution against the Jira Cloud
// REST API v2.
type JiraAdapter struct {
	inv    *invoker.Invoker
	logger *slog.Logger
}

func NewJiraAdapter(inv *invoker.Invoker, logger *slog.Logger) *JiraAdapter {
	return &JiraAdapter{inv: inv, logger: logger}
}

func (a *JiraAdapter) Kind() domain.Kind { return domain.KindJira }

func (a *JiraAdapter) ValidateCredentials(_ context.Context, _ string) error {
	// Jira credentials live in the action config (api_token parameter);
	// they are checked on first execution.
	return nil
}

func (a *JiraAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *JiraAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.JiraConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "jira adapter received %T config", req.Config)
	}
	token := param(req.Params, "api_token")
	if token == "" {
		return nil, domain.E(domain.KindUnauthorized, "jira action: api_token parameter not resolved")
	}

	fields := map[string]any{
		"project":   map[string]any{"key": cfg.ProjectKey},
		"issuetype": map[string]any{"name": cfg.IssueType},
		"summary":   orDefault(param(req.Params, "summary"), cfg.Summary),
	}
	if desc := param(req.Params, "description"); desc != "" {
		fields["description"] = desc
	}
	if strings.EqualFold(cfg.IssueType, "Subtask") || strings.EqualFold(cfg.IssueType, "Sub-task") {
		fields["parent"] = map[string]any{"key": cfg.ParentKey}
	}

	res, err := restCall(ctx, a.inv, "jira", &invoker.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(cfg.ServerURL, "/") + "/rest/api/2/issue",
		Headers: map[string]string{
			"Authorization": basicAuth(cfg.UserName, token),
		},
		Body: map[string]any{"fields": fields},
	})
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "jira issue created",
		slog.String("bot", req.Bot),
		slog.String("project", cfg.ProjectKey),
	)
	return &Result{Data: res.TemplateData()}, nil
}

func basicAuth(user, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+token))
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
