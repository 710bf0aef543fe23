package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPolicy sets token lifetimes. Admin access tokens use AdminAccessTTL.
type TokenPolicy struct {
	AccessTTL      time.Duration
	AdminAccessTTL time.Duration
	RefreshTTL     time.Duration
}

func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		AccessTTL:      time.Hour,
		AdminAccessTTL: 7 * 24 * time.Hour,
		RefreshTTL:     30 * 24 * time.Hour,
	}
}

func (p TokenPolicy) accessTTL(isAdmin bool) time.Duration {
	if isAdmin {
		return p.AdminAccessTTL
	}
	return p.AccessTTL
}

type Claims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (User, error)
}

type TokenService struct {
	secret      []byte
	issuer      string
	policy      TokenPolicy
	revocations RevocationRegistry
	users       userLookup
	metrics     Metrics
	now         func() time.Time
}

func NewTokenService(secret, issuer string, policy TokenPolicy, revocations RevocationRegistry, users userLookup) *TokenService {
	defaults := DefaultTokenPolicy()
	if policy.AccessTTL <= 0 {
		policy.AccessTTL = defaults.AccessTTL
	}
	if policy.AdminAccessTTL <= 0 {
		policy.AdminAccessTTL = defaults.AdminAccessTTL
	}
	if policy.RefreshTTL <= 0 {
		policy.RefreshTTL = defaults.RefreshTTL
	}

	return &TokenService{
		secret:      []byte(secret),
		issuer:      issuer,
		policy:      policy,
		revocations: revocations,
		users:       users,
		metrics:     noopMetrics{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *TokenService) WithMetrics(metrics Metrics) *TokenService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

func (s *TokenService) Policy() TokenPolicy {
	return s.policy
}

func (s *TokenService) IssueAccessToken(userID string, isAdmin bool) (IssuedToken, error) {
	return s.issue(userID, TokenAccess, s.policy.accessTTL(isAdmin))
}

func (s *TokenService) IssueRefreshToken(userID string) (IssuedToken, error) {
	return s.issue(userID, TokenRefresh, s.policy.RefreshTTL)
}

func (s *TokenService) issue(userID string, kind TokenKind, ttl time.Duration) (IssuedToken, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()

	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	s.metrics.RecordTokenIssued(string(kind))

	return IssuedToken{
		Token:     encoded,
		ID:        jti,
		Kind:      kind,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Validate checks signature, issuer and expiry, then rejects revoked identifiers.
func (s *TokenService) Validate(ctx context.Context, token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Kind != TokenAccess && claims.Kind != TokenRefresh {
		return nil, ErrInvalidToken
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a new access token, re-reading the user's role.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (IssuedToken, error) {
	claims, err := s.Validate(ctx, refreshToken)
	if err != nil {
		return IssuedToken{}, err
	}
	if claims.Kind != TokenRefresh {
		return IssuedToken{}, ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return IssuedToken{}, err
	}

	return s.IssueAccessToken(user.ID, user.IsAdmin)
}

func (s *TokenService) Revoke(ctx context.Context, claims *Claims) error {
	if err := s.revocations.Revoke(ctx, RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.Subject,
		Kind:      claims.Kind,
		RevokedAt: s.now(),
		ExpiresAt: claims.Expiry(),
	}); err != nil {
		return err
	}

	s.metrics.RecordRevocation(string(claims.Kind))
	return nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
