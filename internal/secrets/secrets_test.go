package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/jkaninda/msaidizi/internal/domain"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("test-master-key")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	for _, plaintext := range []string{"", "abc123", "long value with spaces and ünïcode"} {
		sealed, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := c.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q, want %q", got, plaintext)
		}
	}
}

func TestCipher_WrongKey(t *testing.T) {
	c1, _ := NewCipher("key-one")
	c2, _ := NewCipher("key-two")

	sealed, err := c1.Encrypt("secret material")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := c2.Decrypt(sealed); err == nil {
		t.Fatal("Decrypt with wrong key should fail")
	}
}

func TestSecret_NeverSerializes(t *testing.T) {
	s := NewSecret("hunter2")

	if got := s.String(); got != Redacted {
		t.Errorf("String() = %q, want %q", got, Redacted)
	}
	if got := fmt.Sprintf("%v %s %#v", s, s, s); strings.Contains(got, "hunter2") {
		t.Errorf("fmt verbs leaked secret: %q", got)
	}

	b, err := json.Marshal(struct{ Token Secret }{s})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), "hunter2") {
		t.Errorf("JSON leaked secret: %s", b)
	}

	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, nil))
	logger.Info("resolved", slog.Any("secret", s))
	if strings.Contains(sb.String(), "hunter2") {
		t.Errorf("slog leaked secret: %s", sb.String())
	}

	if s.Reveal() != "hunter2" {
		t.Errorf("Reveal() = %q, want %q", s.Reveal(), "hunter2")
	}
}

type fakeRecordStore struct {
	cipher  *Cipher
	secrets map[string]string
}

func (f *fakeRecordStore) GetSecret(_ context.Context, bot, key string) (*domain.SecretRecord, error) {
	v, ok := f.secrets[bot+"/"+key]
	if !ok {
		return nil, ErrSecretNotFound
	}
	sealed, _ := f.cipher.Encrypt(v)
	return &domain.SecretRecord{Bot: bot, Key: key, EncryptedValue: sealed}, nil
}

func (f *fakeRecordStore) GetCredential(_ context.Context, bot, kind string) (*domain.IntegrationCredential, error) {
	return nil, ErrSecretNotFound
}

func TestVault_GetAndInvalidate(t *testing.T) {
	cipher, _ := NewCipher("master")
	store := &fakeRecordStore{
		cipher:  cipher,
		secrets: map[string]string{"botA/WEATHER_KEY": "abc123"},
	}
	v := NewVault(store, cipher)

	got, err := v.Get(context.Background(), "botA", "WEATHER_KEY")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reveal() != "abc123" {
		t.Errorf("got %q, want %q", got.Reveal(), "abc123")
	}

	// Cached: mutate the store, expect the stale cached value.
	store.secrets["botA/WEATHER_KEY"] = "new-value"
	got, _ = v.Get(context.Background(), "botA", "WEATHER_KEY")
	if got.Reveal() != "abc123" {
		t.Errorf("expected cached value, got %q", got.Reveal())
	}

	// Invalidate and observe the new value.
	v.Invalidate("botA", "WEATHER_KEY")
	got, _ = v.Get(context.Background(), "botA", "WEATHER_KEY")
	if got.Reveal() != "new-value" {
		t.Errorf("expected fresh value after invalidation, got %q", got.Reveal())
	}

	if _, err := v.Get(context.Background(), "botA", "MISSING"); err == nil {
		t.Fatal("expected ErrSecretNotFound")
	}
}
