package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// RecordStore is the persistence interface for sealed secret records.
type RecordStore interface {
	GetSecret(ctx context.Context, bot, key string) (*domain.SecretRecord, error)
	GetCredential(ctx context.Context, bot, kind string) (*domain.IntegrationCredential, error)
}

const defaultCacheTTL = 60 * time.Second

// Vault resolves named secrets and integration credentials for a bot,
// decrypting records on read. Decrypted values are cached per (bot, key)
// with a short TTL; Invalidate drops entries on authoring writes.
type Vault struct {
	store  RecordStore
	cipher *Cipher
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	secret    Secret
	expiresAt time.Time
}

// NewVault creates a Vault over the given record store and cipher.
func NewVault(store RecordStore, cipher *Cipher) *Vault {
	return &Vault{
		store:  store,
		cipher: cipher,
		ttl:    defaultCacheTTL,
		cache:  make(map[string]cachedSecret),
	}
}

// Get decrypts and returns the secret named key for the bot.
func (v *Vault) Get(ctx context.Context, bot, key string) (Secret, error) {
	cacheKey := bot + "\x00" + key
	v.mu.RLock()
	if entry, ok := v.cache[cacheKey]; ok && time.Now().Before(entry.expiresAt) {
		v.mu.RUnlock()
		return entry.secret, nil
	}
	v.mu.RUnlock()

	rec, err := v.store.GetSecret(ctx, bot, key)
	if err != nil {
		return Secret{}, err
	}
	plaintext, err := v.cipher.Decrypt(rec.EncryptedValue)
	if err != nil {
		return Secret{}, fmt.Errorf("decrypting secret %q: %w", key, err)
	}

	secret := NewSecret(plaintext)
	v.mu.Lock()
	v.cache[cacheKey] = cachedSecret{secret: secret, expiresAt: time.Now().Add(v.ttl)}
	v.mu.Unlock()
	return secret, nil
}

// Credentials decrypts the integration credential config for an adapter kind
// into dst (a pointer to a credential struct).
func (v *Vault) Credentials(ctx context.Context, bot, kind string, dst any) error {
	rec, err := v.store.GetCredential(ctx, bot, kind)
	if err != nil {
		return err
	}
	plaintext, err := v.cipher.Decrypt(rec.EncryptedConfig)
	if err != nil {
		return fmt.Errorf("decrypting %s credentials: %w", kind, err)
	}
	if err := json.Unmarshal([]byte(plaintext), dst); err != nil {
		return fmt.Errorf("parsing %s credentials: %w", kind, err)
	}
	return nil
}

// Invalidate drops the cached entry for (bot, key). An empty key drops every
// entry for the bot.
func (v *Vault) Invalidate(bot, key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key != "" {
		delete(v.cache, bot+"\x00"+key)
		return
	}
	prefix := bot + "\x00"
	for k := range v.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(v.cache, k)
		}
	}
}
