// Package auth validates the bearer tokens presented to the job API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/retry"
)

const (
	wellKnownPath    = "/.well-known/openid-configuration"
	discoveryTimeout = 30 * time.Second
	clockSkew        = 30 * time.Second
)

var (
	ErrInvalidAudience = errors.New("invalid audience")
	ErrIssuerMismatch  = errors.New("discovery document issuer does not match")
)

// TokenVerifier validates a raw bearer token
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims are the token claims the API reads
type Claims struct {
	UserID            string   `json:"sub"`
	Email             string   `json:"email,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// providerMetadata is the part of the OpenID provider document we use
type providerMetadata struct {
	Issuer      string   `json:"issuer"`
	JWKSURI     string   `json:"jwks_uri"`
	SigningAlgs []string `json:"id_token_signing_alg_values_supported"`
}

func fetchProviderMetadata(ctx context.Context, hc *http.Client, issuer string) (*providerMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+wellKnownPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var meta providerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if meta.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document for %s has no jwks_uri", issuer)
	}
	if meta.Issuer == "" {
		meta.Issuer = issuer
	}
	if strings.TrimSuffix(meta.Issuer, "/") != issuer {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrIssuerMismatch, issuer, meta.Issuer)
	}
	return &meta, nil
}

// JWKSVerifier checks tokens against an OpenID provider's key set. Keys
// are refreshed in the background until Close.
type JWKSVerifier struct {
	keyFunc jwt.Keyfunc
	parser  *jwt.Parser
	stop    context.CancelFunc
}

// NewJWKSVerifier discovers the provider's key set and starts refreshing it
func NewJWKSVerifier(cfg *config.OIDCConfig) (*JWKSVerifier, error) {
	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	if issuer == "" {
		return nil, fmt.Errorf("oidc issuer is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	hc := retry.NewHTTPClient(retry.NewPolicy(time.Second, retry.DefaultMaxRetries, nil), "oidc", discoveryTimeout)
	meta, err := fetchProviderMetadata(ctx, hc, issuer)
	if err != nil {
		return nil, err
	}

	refreshCtx, stop := context.WithCancel(context.Background())
	keys, err := keyfunc.NewDefaultCtx(refreshCtx, []string{meta.JWKSURI})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to load key set from %s: %w", meta.JWKSURI, err)
	}
	return newJWKSVerifier(keys.Keyfunc, meta, cfg.ClientID, stop), nil
}

func newJWKSVerifier(keyFunc jwt.Keyfunc, meta *providerMetadata, audience string, stop context.CancelFunc) *JWKSVerifier {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(meta.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if len(meta.SigningAlgs) > 0 {
		opts = append(opts, jwt.WithValidMethods(meta.SigningAlgs))
	}
	return &JWKSVerifier{keyFunc: keyFunc, parser: jwt.NewParser(opts...), stop: stop}
}

func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenInvalidAudience) {
			return nil, ErrInvalidAudience
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

// Close stops the key refresh
func (v *JWKSVerifier) Close() error {
	if v.stop != nil {
		v.stop()
	}
	return nil
}
