package httpt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"prayerflow/internal/entity"
)

// Claims is the token body issued by the identity provider; the subject is
// the user id.
type Claims struct {
	TenantID string      `json:"tenant_id"`
	Role     entity.Role `json:"role"`
	jwt.RegisteredClaims
}

type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier accepts HS256 tokens signed with secret. An empty issuer
// disables the issuer check.
func NewTokenVerifier(secret, issuer string, leeway time.Duration) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("httpt.NewTokenVerifier: secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &TokenVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

func (v *TokenVerifier) Verify(raw string) (entity.Principal, error) {
	const op = "httpt.TokenVerifier.Verify"

	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return entity.Principal{}, fmt.Errorf("%s: %w: %w", op, entity.ErrUnauthorized, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return entity.Principal{}, fmt.Errorf("%s: %w: bad subject", op, entity.ErrUnauthorized)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return entity.Principal{}, fmt.Errorf("%s: %w: bad tenant_id", op, entity.ErrUnauthorized)
	}
	if !claims.Role.IsValid() {
		return entity.Principal{}, fmt.Errorf("%s: %w: unknown role %q", op, entity.ErrUnauthorized, claims.Role)
	}
	return entity.Principal{UserID: userID, TenantID: tenantID, Role: claims.Role}, nil
}

// Sign issues a token for p. Used by tests and the local tooling.
func (v *TokenVerifier) Sign(p entity.Principal, issuer string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		TenantID: p.TenantID.String(),
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
