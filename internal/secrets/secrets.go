// Package secrets implements the per-bot key/value vault used to resolve
// key_vault parameters and integration credentials.
// Values are sealed at rest with AES-256-GCM under a process-wide master key;
// plaintext exists only within a turn. The Secret type refuses to serialize
// in debug and log contexts — decrypted material never reaches a log line.
package secrets

import (
	"context"
	"errors"
	"log/slog"
)

// ErrSecretNotFound is returned when a bot has no secret under the given key.
var ErrSecretNotFound = errors.New("secret not found")

// Redacted replaces secret material in every serialized context.
const Redacted = "[redacted]"

// Secret holds decrypted secret material for the duration of a turn.
// String, GoString, MarshalJSON and LogValue all redact.
type Secret struct {
	value string
}

// NewSecret wraps plaintext secret material.
func NewSecret(value string) Secret { return Secret{value: value} }

// Reveal returns the plaintext. Call sites must not pass the result to a
// logger or serializer.
func (s Secret) Reveal() string { return s.value }

// Empty reports whether the secret has no material.
func (s Secret) Empty() bool { return s.value == "" }

func (s Secret) String() string   { return Redacted }
func (s Secret) GoString() string { return Redacted }

// MarshalJSON always emits the redaction marker.
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + Redacted + `"`), nil }

// LogValue implements slog.LogValuer so structured logs never leak material.
func (s Secret) LogValue() slog.Value { return slog.StringValue(Redacted) }

// Store resolves named secrets for a bot. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get decrypts and returns the secret named key for the bot.
	// Returns ErrSecretNotFound if the bot has no such secret.
	Get(ctx context.Context, bot, key string) (Secret, error)
}
