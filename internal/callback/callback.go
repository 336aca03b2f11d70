// Package callback serves script endpoints invocable by external HTTP
// callers bearing short-lived DYNAMIC tokens.
package callback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/sandbox"
)

const (
	tokenType     = "DYNAMIC"
	defaultExpiry = 3600 // Seconds.
	asyncTimeout  = 60 * time.Second
)

// ErrCallbackNotFound is returned for unknown callbacks.
var ErrCallbackNotFound = errors.New("callback not found")

// Store persists callback records.
type Store interface {
	GetCallback(ctx context.Context, bot, name string) (*domain.Callback, error)
	SaveCallback(ctx context.Context, cb *domain.Callback) error
	// DeleteExpired removes callbacks whose expiry has passed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Result is one callback invocation outcome.
type Result struct {
	Data  any    `json:"data,omitempty"`
	Type  string `json:"type,omitempty"` // "text" or "json".
	Async bool   `json:"async,omitempty"`
}

// Service issues tokens, validates them, and executes callback scripts.
type Service struct {
	store      Store
	sandbox    sandbox.Sandbox
	signingKey []byte
	logger     *slog.Logger
	clock      func() time.Time
}

func NewService(store Store, sb sandbox.Sandbox, signingKey []byte, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		sandbox:    sb,
		signingKey: signingKey,
		logger:     logger,
		clock:      time.Now,
	}
}

// Register persists a callback and returns its invocation token.
func (s *Service) Register(ctx context.Context, cb *domain.Callback) (string, error) {
	if err := cb.Validate(); err != nil {
		return "", domain.Wrap(domain.KindValidation, err, "invalid callback")
	}
	if cb.ID == uuid.Nil {
		cb.ID = domain.NewID()
	}
	if cb.TokenID == "" {
		cb.TokenID = domain.NewID().String()
	}
	if cb.ExpiryS == 0 {
		cb.ExpiryS = defaultExpiry
	}
	cb.CreatedAt = s.clock().UTC()

	if err := s.store.SaveCallback(ctx, cb); err != nil {
		return "", err
	}

	token, err := s.issueToken(cb)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "callback registered",
		slog.String("bot", cb.Bot),
		slog.String("name", cb.Name),
		slog.String("mode", string(cb.ExecutionMode)),
		slog.Int("expiry_s", cb.ExpiryS),
	)
	return token, nil
}

// issueToken signs an HS256 DYNAMIC token bound to the callback.
func (s *Service) issueToken(cb *domain.Callback) (string, error) {
	now := s.clock().UTC()
	claims := jwt.MapClaims{
		"type": tokenType,
		"sub":  cb.TokenID,
		"bot":  cb.Bot,
		"name": cb.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Duration(cb.ExpiryS) * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, err, "signing callback token")
	}
	return signed, nil
}

// Invoke validates the token and runs the callback script with the caller's
// payload. Async callbacks return immediately and run in the background.
func (s *Service) Invoke(ctx context.Context, bot, name, token string, payload map[string]any) (*Result, error) {
	cb, err := s.store.GetCallback(ctx, bot, name)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, domain.Wrap(domain.KindNotFound, ErrCallbackNotFound, "callback %s/%s", bot, name)
	}
	if err := s.verifyToken(cb, token); err != nil {
		return nil, err
	}
	// An expired record is an authorization failure, same as an expired
	// token: the caller's grant has lapsed, not the resource.
	if s.expired(cb) {
		return nil, domain.E(domain.KindUnauthorized, "callback %s/%s expired", bot, name)
	}

	if cb.ExecutionMode == domain.ExecAsync {
		go func() {
			bg, cancel := context.WithTimeout(context.Background(), asyncTimeout)
			defer cancel()
			if _, err := s.execute(bg, cb, payload); err != nil {
				s.logger.Error("async callback failed",
					slog.String("bot", cb.Bot),
					slog.String("name", cb.Name),
					slog.String("error", err.Error()),
				)
			}
		}()
		return &Result{Async: true}, nil
	}

	return s.execute(ctx, cb, payload)
}

func (s *Service) execute(ctx context.Context, cb *domain.Callback, payload map[string]any) (*Result, error) {
	out, err := s.sandbox.Run(ctx, sandbox.Request{
		Script: cb.Script,
		Input: sandbox.Input{
			Bot:     cb.Bot,
			Payload: payload,
		},
	})
	if err != nil {
		var scriptErr *sandbox.ScriptError
		if errors.As(err, &scriptErr) {
			return nil, scriptErr.EngineError()
		}
		return nil, err
	}

	responseType := cb.ResponseType
	if out.Type != "" {
		responseType = out.Type
	}
	var data any = out.BotResponse
	if len(out.Slots) > 0 {
		data = out.Slots
	}
	s.logger.InfoContext(ctx, "callback executed",
		slog.String("bot", cb.Bot),
		slog.String("name", cb.Name),
	)
	return &Result{Data: data, Type: responseType}, nil
}

// verifyToken checks signature, type claim and subject binding.
func (s *Service) verifyToken(cb *domain.Callback, tokenStr string) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return s.clock() }))
	if err != nil {
		return domain.Wrap(domain.KindUnauthorized, err, "invalid callback token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.E(domain.KindUnauthorized, "invalid callback token claims")
	}
	if claims["type"] != tokenType {
		return domain.E(domain.KindUnauthorized, "token is not a DYNAMIC token")
	}
	if sub, _ := claims.GetSubject(); sub != cb.TokenID {
		return domain.E(domain.KindUnauthorized, "token does not match callback")
	}
	return nil
}

func (s *Service) expired(cb *domain.Callback) bool {
	return s.clock().UTC().After(cb.CreatedAt.Add(time.Duration(cb.ExpiryS) * time.Second))
}

// StartGC launches the expired-callback collector. Returns a cancel func.
func (s *Service) StartGC(ctx context.Context, interval time.Duration) func() {
	if interval == 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.store.DeleteExpired(ctx, s.clock().UTC()); err != nil {
					s.logger.ErrorContext(ctx, "callback gc failed", slog.String("error", err.Error()))
				} else if n > 0 {
					s.logger.InfoContext(ctx, "expired callbacks collected", slog.Int64("count", n))
				}
			}
		}
	}()

	return cancel
}
