package profile

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/relay"
)

// Settings is the per-actor preference blob. It travels encrypted: only
// the owning actor can read it back, even though relays store it like any
// other fact.
type Settings struct {
	DarkMode  bool   `json:"dark_mode"`
	WalletURL string `json:"nwc_url,omitempty"`
}

// PublishSettings encrypts and publishes the actor's settings, keyed by
// their secret. Publish-confirmed with one retry like profile writes.
func (s *Store) PublishSettings(ctx context.Context, actor, secret string, set Settings) error {
	plain, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	sealed, err := sealForSelf(secret, plain)
	if err != nil {
		return fmt.Errorf("encrypt settings: %w", err)
	}
	draft := fact.Fact{
		CreatedAt: s.now().Unix(),
		Kind:      fact.KindSettings,
		Tags:      []fact.Tag{{"d", actor}},
		Content:   sealed,
	}
	signed, err := s.signer.Sign(ctx, draft)
	if err != nil {
		return fmt.Errorf("sign settings: %w", err)
	}
	if err := s.relays.PublishConfirmed(ctx, signed); err != nil {
		return fmt.Errorf("publish settings for %s: %w", actor, err)
	}
	return nil
}

// LoadSettings fetches and decrypts the newest settings for actor. A
// second query attempt covers relays that are still settling; no settings
// at all returns ok=false rather than an error.
func (s *Store) LoadSettings(ctx context.Context, actor, secret string) (Settings, bool, error) {
	var newest *fact.Fact
	for attempt := range 2 {
		facts := s.relays.Query(ctx, relay.Filter{
			Kinds: []fact.Kind{fact.KindSettings},
			Tags:  map[string][]string{"d": {actor}},
			Limit: 10,
		})
		for _, f := range facts {
			if newest == nil || f.CreatedAt > newest.CreatedAt {
				cp := f
				newest = &cp
			}
		}
		if newest != nil {
			break
		}
		if attempt == 0 {
			select {
			case <-time.After(1500 * time.Millisecond):
			case <-ctx.Done():
				return Settings{}, false, ctx.Err()
			}
		}
	}
	if newest == nil {
		return Settings{}, false, nil
	}

	plain, err := openForSelf(secret, newest.Content)
	if err != nil {
		return Settings{}, false, fmt.Errorf("decrypt settings: %w", err)
	}
	var set Settings
	if err := json.Unmarshal(plain, &set); err != nil {
		return Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return set, true, nil
}

// sealForSelf encrypts with AES-GCM keyed by SHA-256 of the secret. The
// output is base64(nonce || ciphertext), the format peers already publish.
func sealForSelf(secret string, plain []byte) (string, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func openForSelf(secret, sealed string) ([]byte, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	return gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
}

func newGCM(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
