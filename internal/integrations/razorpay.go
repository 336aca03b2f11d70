package integrations

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/invoker"
)

// RazorpayAdapter creates one payment order per execution. The order id is
// exposed at RESPONSE.id for templating.
type RazorpayAdapter struct {
	inv    *invoker.Invoker
	logger *slog.Logger

	baseURL string // Overrides the public API base (tests).
}

func NewRazorpayAdapter(inv *invoker.Invoker, logger *slog.Logger) *RazorpayAdapter {
	return &RazorpayAdapter{inv: inv, logger: logger}
}

func (a *RazorpayAdapter) Kind() domain.Kind { return domain.KindRazorpay }

func (a *RazorpayAdapter) ValidateCredentials(_ context.Context, _ string) error {
	return nil
}

func (a *RazorpayAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *RazorpayAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.RazorpayConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "razorpay adapter received %T config", req.Config)
	}
	key := param(req.Params, "api_key")
	secret := param(req.Params, "api_secret")
	if key == "" || secret == "" {
		return nil, domain.E(domain.KindUnauthorized, "razorpay action: api_key/api_secret not resolved")
	}

	amount, err := strconv.ParseFloat(param(req.Params, "amount"), 64)
	if err != nil || amount <= 0 {
		return nil, domain.E(domain.KindValidation, "razorpay action: invalid amount %q", param(req.Params, "amount"))
	}
	currency := param(req.Params, "currency")
	if currency == "" {
		currency = "INR"
	}

	notes := map[string]any{}
	for _, spec := range cfg.Notes {
		notes[spec.Key] = param(req.Params, spec.Key)
	}

	base := a.baseURL
	if base == "" {
		base = "https://api.razorpay.com"
	}

	res, err := restCall(ctx, a.inv, "razorpay", &invoker.Request{
		Method: http.MethodPost,
		URL:    base + "/v1/orders",
		Headers: map[string]string{
			"Authorization": basicAuth(key, secret),
		},
		Body: map[string]any{
			// Razorpay amounts are in the smallest currency unit.
			"amount":   int64(amount * 100),
			"currency": currency,
			"notes":    notes,
		},
	})
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "razorpay order created", slog.String("bot", req.Bot))
	return &Result{Data: res.TemplateData()}, nil
}
