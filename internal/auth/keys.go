package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrKeyNotFound means the identity provider's key set does not contain
	// the requested key id.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeyFetch means the key set could not be retrieved at all.
	ErrKeyFetch = errors.New("signing key fetch failed")
)

const (
	defaultKeyFetchTimeout = 30 * time.Second
	defaultKeyCacheTTL     = 15 * time.Minute
	defaultKeyCacheSize    = 16
)

// KeyResolverConfig holds configuration for the JWKS key resolver.
type KeyResolverConfig struct {
	Endpoint     string
	FetchTimeout time.Duration
	CacheTTL     time.Duration
	CacheSize    int
}

// KeyResolver fetches and caches the identity provider's public signing keys.
// Concurrent requests for the same uncached key id share a single fetch.
type KeyResolver struct {
	endpoint string
	client   *http.Client
	cache    *expirable.LRU[string, *rsa.PublicKey]
	group    singleflight.Group
	logger   *slog.Logger
}

// NewKeyResolver creates a key resolver for the given JWKS endpoint.
func NewKeyResolver(cfg KeyResolverConfig, logger *slog.Logger) *KeyResolver {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultKeyFetchTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultKeyCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultKeyCacheSize
	}

	return &KeyResolver{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		cache:    expirable.NewLRU[string, *rsa.PublicKey](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:   logger.With("component", "key_resolver"),
	}
}

// Resolve returns the public key for the given key id, fetching the key set
// from the identity provider on a cache miss.
func (r *KeyResolver) Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := r.cache.Get(kid); ok {
		return key, nil
	}

	// Collapse concurrent misses for the same kid into one network fetch.
	v, err, _ := r.group.Do(kid, func() (any, error) {
		if key, ok := r.cache.Get(kid); ok {
			return key, nil
		}
		return r.fetch(ctx, kid)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

// Refresh bypasses the cache and re-fetches the key set. The verifier calls
// this once when a cached key fails signature verification, which covers the
// provider rotating keys under a reused key id.
func (r *KeyResolver) Refresh(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v, err, _ := r.group.Do("refresh:"+kid, func() (any, error) {
		return r.fetch(ctx, kid)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

// jwk is the subset of an RFC 7517 JSON Web Key this resolver understands.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// fetch retrieves the full key set, caches every RSA key it contains, and
// returns the requested one. A failed fetch leaves previously cached keys
// untouched.
func (r *KeyResolver) fetch(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key endpoint returned %d", ErrKeyFetch, resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, err)
	}

	var found *rsa.PublicKey
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		key, err := rsaKeyFromJWK(k)
		if err != nil {
			r.logger.Warn("skipping unparsable key in key set", "kid", k.Kid, "error", err)
			continue
		}
		r.cache.Add(k.Kid, key)
		if k.Kid == kid {
			found = key
		}
	}

	if found == nil {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	return found, nil
}

// rsaKeyFromJWK decodes the base64url modulus and exponent of an RSA JWK.
func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 1 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
