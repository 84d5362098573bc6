package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
)

var (
	// ErrMalformedToken covers tokens that cannot be decoded or whose header
	// lacks a usable key id.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnknownKey means the token's key id could not be resolved.
	ErrUnknownKey = errors.New("token signed with unknown key")

	// ErrSignatureInvalid covers bad signatures and disallowed algorithms.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrTokenExpired means the token's expiry is in the past.
	ErrTokenExpired = errors.New("token expired")
)

var errMissingKeyID = fmt.Errorf("%w: missing key id", ErrMalformedToken)

// Claims defines the structured data the identity provider puts in its tokens.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	AgencyID string `json:"agencyId,omitempty"`
	jwt.RegisteredClaims
}

// KeySource resolves public signing keys by key id.
type KeySource interface {
	Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error)
	Refresh(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Verifier validates bearer tokens against the identity provider's published
// keys and yields the verified identity behind a connection attempt.
type Verifier struct {
	keys   KeySource
	parser *jwt.Parser
	logger *slog.Logger
}

// NewVerifier creates a verifier accepting exactly one signature algorithm.
// Expiry is checked with zero grace.
func NewVerifier(keys KeySource, algorithm string, logger *slog.Logger) *Verifier {
	return &Verifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{algorithm}),
			jwt.WithExpirationRequired(),
		),
		logger: logger.With("component", "token_verifier"),
	}
}

// Verify decodes and cryptographically validates the token. A signature
// failure triggers one forced key refresh before failing, covering provider
// key rotation behind a cached key id.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*domain.Identity, error) {
	identity, err := v.parse(ctx, tokenString, false)
	if errors.Is(err, ErrSignatureInvalid) {
		v.logger.Debug("signature failed against cached key, forcing key refresh")
		return v.parse(ctx, tokenString, true)
	}
	return identity, err
}

func (v *Verifier) parse(ctx context.Context, tokenString string, forceRefresh bool) (*domain.Identity, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errMissingKeyID
		}
		if forceRefresh {
			return v.keys.Refresh(ctx, kid)
		}
		return v.keys.Resolve(ctx, kid)
	})
	if err != nil {
		return nil, mapTokenError(err)
	}

	return identityFromClaims(claims)
}

// mapTokenError translates jwt library failures into this package's taxonomy.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, ErrMalformedToken):
		return err
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeyFetch):
		return fmt.Errorf("%w: %w", ErrUnknownKey, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		// Bad signatures and rejected algorithms both land here.
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
}

func identityFromClaims(claims *Claims) (*domain.Identity, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}

	role := domain.Role(claims.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrMalformedToken, claims.Role)
	}
	if role == domain.RolePartner && claims.AgencyID == "" {
		return nil, fmt.Errorf("%w: partner token missing agency", ErrMalformedToken)
	}

	return &domain.Identity{
		Subject:    claims.Subject,
		Email:      claims.Email,
		Role:       role,
		TenantHint: claims.AgencyID,
	}, nil
}
