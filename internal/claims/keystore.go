package claims

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"accord/internal/claims/metrics"
	"accord/pkg/platform/sentinel"
)

// KeyResolver resolves an issuer signing key by key ID.
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Keystore caches the issuer's JWKS document. Reads are lock-free in the
// common case (RWMutex read path); refreshes swap the whole key map at once.
// An unknown kid triggers an on-demand refetch, rate-limited so a flood of
// bad tokens cannot hammer the issuer.
type Keystore struct {
	jwksURL    string
	httpClient *http.Client
	minRefresh time.Duration
	refresh    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu          sync.RWMutex
	keys        map[string]crypto.PublicKey
	lastAttempt time.Time
}

// NewKeystore builds a keystore for the given JWKS endpoint. Call Run in a
// background goroutine to keep keys fresh across issuer rotations.
func NewKeystore(jwksURL string, refreshInterval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Keystore {
	return &Keystore{
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		minRefresh: 30 * time.Second,
		refresh:    refreshInterval,
		logger:     logger,
		metrics:    m,
		keys:       make(map[string]crypto.PublicKey),
	}
}

// Resolve returns the public key for kid, refetching the JWKS once when the
// kid is unknown (key rotation happens between refresh ticks).
func (k *Keystore) Resolve(ctx context.Context, kid string) (crypto.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := k.refreshKeys(ctx, false); err != nil {
		return nil, fmt.Errorf("%w: jwks refresh: %w", sentinel.ErrUnavailable, err)
	}

	k.mu.RLock()
	key, ok = k.keys[kid]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: signing key %q", sentinel.ErrNotFound, kid)
	}
	return key, nil
}

// Run refreshes the key cache on a ticker until ctx is cancelled.
func (k *Keystore) Run(ctx context.Context) error {
	// Prime the cache before serving; a failure here is logged, not fatal,
	// since Resolve refetches on demand.
	if err := k.refreshKeys(ctx, true); err != nil {
		k.logger.WarnContext(ctx, "initial jwks fetch failed", "error", err.Error())
	}

	ticker := time.NewTicker(k.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := k.refreshKeys(ctx, true); err != nil {
				k.logger.WarnContext(ctx, "jwks refresh failed", "error", err.Error())
			}
		}
	}
}

// refreshKeys fetches and atomically swaps the key map. When force is false
// the fetch is skipped if one ran within minRefresh.
func (k *Keystore) refreshKeys(ctx context.Context, force bool) error {
	k.mu.Lock()
	if !force && time.Since(k.lastAttempt) < k.minRefresh {
		k.mu.Unlock()
		return nil
	}
	k.lastAttempt = time.Now()
	k.mu.Unlock()

	keys, err := k.fetch(ctx)
	if err != nil {
		k.metrics.IncrementJWKSRefresh("error")
		return err
	}
	k.metrics.IncrementJWKSRefresh("ok")
	k.metrics.SetKeyCacheSize(len(keys))

	k.mu.Lock()
	k.keys = keys
	k.mu.Unlock()
	return nil
}

// jwk is the subset of RFC 7517 this service understands. Only asymmetric
// key types are accepted; symmetric entries are ignored.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

func (k *Keystore) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, entry := range doc.Keys {
		if entry.Kid == "" || (entry.Use != "" && entry.Use != "sig") {
			continue
		}
		key, err := entry.publicKey()
		if err != nil {
			k.logger.Warn("skipping unusable jwks entry", "kid", entry.Kid, "error", err.Error())
			continue
		}
		if key != nil {
			keys[entry.Kid] = key
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks document contained no usable signing keys")
	}
	return keys, nil
}

func (j *jwk) publicKey() (crypto.PublicKey, error) {
	switch j.Kty {
	case "RSA":
		return j.rsaKey()
	case "EC":
		return j.ecdsaKey()
	default:
		// oct (symmetric) and OKP entries are not usable here.
		return nil, nil
	}
}

func (j *jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	exponent := 0
	for _, b := range e {
		exponent = exponent<<8 | int(b)
	}
	if exponent <= 1 {
		return nil, fmt.Errorf("invalid public exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exponent}, nil
}

func (j *jwk) ecdsaKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch j.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", j.Crv)
	}

	x, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}

	key := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !curve.IsOnCurve(key.X, key.Y) {
		return nil, fmt.Errorf("point not on curve")
	}
	return key, nil
}
