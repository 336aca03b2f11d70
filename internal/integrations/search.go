package integrations

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
)

// GoogleSearchAdapter queries the Custom Search JSON API and trims the
// result list to title/link/snippet for templating.
type GoogleSearchAdapter struct {
	inv    *invoker.Invoker
	logger *slog.Logger

	baseURL string // Overrides the public API base (tests).
}

func NewGoogleSearchAdapter(inv *invoker.Invoker, logger *slog.Logger) *GoogleSearchAdapter {
	return &GoogleSearchAdapter{inv: inv, logger: logger}
}

func (a *GoogleSearchAdapter) Kind() domain.Kind { return domain.KindGoogleSearch }

func (a *GoogleSearchAdapter) ValidateCredentials(_ context.Context, _ string) error {
	return nil
}

func (a *GoogleSearchAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *GoogleSearchAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.GoogleSearchConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "google_search adapter received %T config", req.Config)
	}
	apiKey := param(req.Params, "api_key")
	if apiKey == "" {
		return nil, domain.E(domain.KindUnauthorized, "google_search action: api_key parameter not resolved")
	}
	query := param(req.Params, "query")
	if query == "" {
		query = param(req.Params, "user_message")
	}

	num := cfg.NumResults
	if num == 0 {
		num = 5
	}

	base := a.baseURL
	if base == "" {
		base = "https://www.googleapis.com"
	}
	params := map[string]string{
		"key": apiKey,
		"cx":  cfg.SearchEngineID,
		"q":   query,
		"num": strconv.Itoa(num),
	}
	if cfg.Website != "" {
		params["siteSearch"] = cfg.Website
	}

	res, err := restCall(ctx, a.inv, "google_search", &invoker.Request{
		Method: http.MethodGet,
		URL:    base + "/customsearch/v1",
		Params: params,
	})
	if err != nil {
		return nil, err
	}

	results := trimSearchItems(res.TemplateData(), num)
	a.logger.InfoContext(ctx, "google search completed",
		slog.String("bot", req.Bot),
		slog.Int("results", len(results)),
	)
	return &Result{Data: results}, nil
}

// trimSearchItems reduces a Custom Search response to the fields templates
// actually reference.
func trimSearchItems(data any, limit int) []any {
	body, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := body["items"].([]any)
	if !ok {
		return nil
	}
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"title":   m["title"],
			"link":    m["link"],
			"snippet": m["snippet"],
		})
	}
	return out
}

// WebSearchAdapter queries a SearXNG-compatible metasearch endpoint. The
// endpoint is deployment configuration, not per-bot credentials.
type WebSearchAdapter struct {
	inv      *invoker.Invoker
	endpoint string
	logger   *slog.Logger
}

func NewWebSearchAdapter(inv *invoker.Invoker, endpoint string, logger *slog.Logger) *WebSearchAdapter {
	return &WebSearchAdapter{inv: inv, endpoint: endpoint, logger: logger}
}

func (a *WebSearchAdapter) Kind() domain.Kind { return domain.KindWebSearch }

func (a *WebSearchAdapter) ValidateCredentials(ctx context.Context, _ string) error {
	if a.endpoint == "" {
		return domain.E(domain.KindValidation, "web_search: no search endpoint configured")
	}
	return nil
}

func (a *WebSearchAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *WebSearchAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.WebSearchConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "web_search adapter received %T config", req.Config)
	}
	if a.endpoint == "" {
		return nil, domain.E(domain.KindValidation, "web_search: no search endpoint configured")
	}
	query := param(req.Params, "query")
	if query == "" {
		query = param(req.Params, "user_message")
	}
	if cfg.Website != "" {
		query = "site:" + cfg.Website + " " + query
	}

	topn := cfg.TopN
	if topn == 0 {
		topn = 5
	}

	res, err := restCall(ctx, a.inv, "web_search", &invoker.Request{
		Method: http.MethodGet,
		URL:    a.endpoint + "/search",
		Params: map[string]string{"q": query, "format": "json"},
	})
	if err != nil {
		return nil, err
	}

	body, _ := res.TemplateData().(map[string]any)
	items, _ := body["results"].([]any)
	if len(items) > topn {
		items = items[:topn]
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"title":   m["title"],
			"link":    m["url"],
			"snippet": m["content"],
		})
	}

	a.logger.InfoContext(ctx, "web search completed",
		slog.String("bot", req.Bot),
		slog.Int("results", len(out)),
	)
	return &Result{Data: out}, nil
}
