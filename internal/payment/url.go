package payment

import (
	"fmt"
	"net/url"
	"strings"
)

// WalletURL is a parsed wallet-connect pairing string:
// nostr+walletconnect://<wallet-pubkey>?relay=<ws-url>&secret=<hex>.
type WalletURL struct {
	WalletPubkey string
	Relays       []string
	Secret       string
}

// ParseWalletURL validates and splits a pairing string. The secret is kept
// opaque; only its presence is checked here.
func ParseWalletURL(raw string) (WalletURL, error) {
	var w WalletURL
	u, err := url.Parse(raw)
	if err != nil {
		return w, fmt.Errorf("wallet url: %w", err)
	}
	if u.Scheme != "nostr+walletconnect" {
		return w, fmt.Errorf("wallet url: unsupported scheme %q", u.Scheme)
	}
	w.WalletPubkey = u.Host
	if w.WalletPubkey == "" {
		// Some providers emit the triple-slash form, which parses the
		// pubkey into the path instead of the host.
		w.WalletPubkey = strings.TrimPrefix(u.Path, "/")
	}
	if w.WalletPubkey == "" {
		return w, fmt.Errorf("wallet url: missing wallet pubkey")
	}
	q := u.Query()
	w.Relays = q["relay"]
	if len(w.Relays) == 0 {
		return w, fmt.Errorf("wallet url: missing relay parameter")
	}
	w.Secret = q.Get("secret")
	if w.Secret == "" {
		return w, fmt.Errorf("wallet url: missing secret parameter")
	}
	return w, nil
}
