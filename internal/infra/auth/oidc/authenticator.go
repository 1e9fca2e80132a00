package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"qrtrust/internal/domain"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	discoveryPath      = "/.well-known/openid-configuration"
)

type Config struct {
	IssuerURL string
	// JWKSURL skips discovery when set.
	JWKSURL   string
	Audience  string
	ClockSkew time.Duration
}

// Authenticator validates RS256 access tokens from an OpenID provider such as
// Keycloak and maps their roles and scopes onto a domain.Principal.
type Authenticator struct {
	issuer    string
	audience  string
	clockSkew time.Duration
	client    *http.Client
	jwks      *jwksCache
}

type Option func(*Authenticator)

func WithHTTPClient(client *http.Client) Option {
	return func(a *Authenticator) {
		if client != nil {
			a.client = client
		}
	}
}

func NewAuthenticator(ctx context.Context, cfg Config, opts ...Option) (*Authenticator, error) {
	issuer := strings.TrimSpace(cfg.IssuerURL)
	if issuer == "" {
		return nil, errors.New("auth.oidc_issuer_url is required")
	}
	auth := &Authenticator{
		issuer:    issuer,
		audience:  strings.TrimSpace(cfg.Audience),
		clockSkew: cfg.ClockSkew,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(auth)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		discovered, err := discoverJWKSURL(ctx, auth.client, issuer)
		if err != nil {
			return nil, err
		}
		jwksURL = discovered
	}
	auth.jwks = newJWKSCache(jwksURL, auth.client)
	return auth, nil
}

// Authenticate returns domain.ErrUnauthorized for any token it cannot accept.
func (a *Authenticator) Authenticate(ctx context.Context, bearerToken string) (domain.Principal, error) {
	if a == nil {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	raw := strings.TrimSpace(bearerToken)
	if raw == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.clockSkew),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return a.jwks.getKey(ctx, kid)
	}, opts...)
	if err != nil || !token.Valid {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	return principalFromClaims(claims), nil
}

func discoverJWKSURL(ctx context.Context, client *http.Client, issuer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(issuer, "/")+discoveryPath, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New("oidc discovery failed")
	}
	var payload struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.JWKSURI == "" {
		return "", errors.New("oidc discovery missing jwks_uri")
	}
	return payload.JWKSURI, nil
}

func principalFromClaims(claims jwt.MapClaims) domain.Principal {
	subject, _ := claims.GetSubject()
	return domain.Principal{
		Subject: subject,
		Roles:   extractRoles(claims),
		Scopes:  extractScopes(claims),
	}
}

// extractRoles reads Keycloak-style realm_access and resource_access roles.
func extractRoles(claims jwt.MapClaims) []string {
	var roles []string
	if realmAccess, ok := claims["realm_access"].(map[string]any); ok {
		roles = append(roles, stringList(realmAccess["roles"])...)
	}
	if resourceAccess, ok := claims["resource_access"].(map[string]any); ok {
		for _, rawClient := range resourceAccess {
			if client, ok := rawClient.(map[string]any); ok {
				roles = append(roles, stringList(client["roles"])...)
			}
		}
	}
	return dedupeStrings(roles)
}

func extractScopes(claims jwt.MapClaims) []string {
	var scopes []string
	if scope, ok := claims["scope"].(string); ok {
		scopes = append(scopes, strings.Fields(scope)...)
	}
	scopes = append(scopes, stringList(claims["scp"])...)
	return dedupeStrings(scopes)
}

func stringList(raw any) []string {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
