package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	defaultJWKSCacheTTL     = 5 * time.Minute
	defaultJWKSFetchTimeout = 5 * time.Second
	// A kid miss refetches at most this often, so forged kids cannot drive
	// traffic at the provider.
	minJWKSRefreshInterval = 30 * time.Second
)

// jwksCache holds the provider's RSA signing keys. Keys are refetched after
// the TTL or when an unknown kid arrives; concurrent callers share a fetch.
type jwksCache struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	expiresAt   time.Time
	lastFetched time.Time

	fetchMu sync.Mutex
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newJWKSCache(url string, httpClient *http.Client) *jwksCache {
	return &jwksCache{
		url:        url,
		httpClient: httpClient,
		ttl:        defaultJWKSCacheTTL,
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
}

func (c *jwksCache) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, errors.New("kid is required")
	}
	if key, fresh := c.lookup(kid); key != nil && fresh {
		return key, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	// Another caller may have refreshed while we waited.
	key, fresh := c.lookup(kid)
	if key != nil && fresh {
		return key, nil
	}
	if c.recentlyFetched() {
		if key != nil {
			return key, nil
		}
		return nil, errors.New("jwks key not found")
	}
	if err := c.fetch(ctx); err != nil {
		if key != nil {
			// Serve the expired key rather than reject every caller while
			// the provider is unreachable.
			return key, nil
		}
		return nil, err
	}
	if key, _ := c.lookup(kid); key != nil {
		return key, nil
	}
	return nil, errors.New("jwks key not found")
}

func (c *jwksCache) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := c.keys[kid]
	return key, c.now().Before(c.expiresAt)
}

func (c *jwksCache) recentlyFetched() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastFetched.IsZero() && c.now().Sub(c.lastFetched) < minJWKSRefreshInterval
}

func (c *jwksCache) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultJWKSFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("jwks fetch failed")
	}
	var payload jwksResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, key := range payload.Keys {
		if key.Kty != "RSA" || key.Kid == "" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := jwkToRSAPublicKey(key)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable keys")
	}

	now := c.now()
	c.mu.Lock()
	c.keys = keys
	c.expiresAt = now.Add(c.ttl)
	c.lastFetched = now
	c.mu.Unlock()
	return nil
}

func jwkToRSAPublicKey(key jwkKey) (*rsa.PublicKey, error) {
	if key.N == "" || key.E == "" {
		return nil, errors.New("missing rsa params")
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes).Int64()
	if e <= 1 || e > int64(^uint32(0)>>1) {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e)}, nil
}
