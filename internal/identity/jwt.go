package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/comms/internal/apperr"
	"github.com/smallbiznis/comms/internal/config"
)

var (
	ErrMissingToken = apperr.New(apperr.CodeUnauthorized, "missing_token")
	ErrInvalidToken = apperr.New(apperr.CodeUnauthorized, "invalid_token")
)

const issuer = "comms"

type Claims struct {
	OrgID        string `json:"org_id,omitempty"`
	PlatformRole string `json:"platform_role,omitempty"`
	jwt.RegisteredClaims
}

// Resolver turns a bearer token into an Actor.
type Resolver struct {
	secret []byte
	now    func() time.Time
}

func NewResolver(cfg config.Config) (*Resolver, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		if !cfg.IsDevelopment() {
			return nil, errors.New("AUTH_JWT_SECRET is required")
		}
		secret = "comms-dev-secret"
	}
	return &Resolver{secret: []byte(secret), now: time.Now}, nil
}

func NewResolverWithSecret(secret string) *Resolver {
	return &Resolver{secret: []byte(secret), now: time.Now}
}

func (r *Resolver) Resolve(token string) (Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Actor{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.now), jwt.WithIssuer(issuer))
	if err != nil || !parsed.Valid {
		return Actor{}, ErrInvalidToken
	}

	userID, err := snowflake.ParseString(claims.Subject)
	if err != nil || userID == 0 {
		return Actor{}, ErrInvalidToken
	}

	actor := Actor{UserID: userID, PlatformRole: strings.TrimSpace(claims.PlatformRole)}
	if claims.OrgID != "" {
		orgID, err := snowflake.ParseString(claims.OrgID)
		if err != nil {
			return Actor{}, ErrInvalidToken
		}
		actor.OrgID = orgID
	}
	return actor, nil
}

// Issue signs a token for actor. Used by the dev tooling and tests.
func (r *Resolver) Issue(actor Actor, ttl time.Duration) (string, error) {
	now := r.now()
	claims := &Claims{
		PlatformRole: actor.PlatformRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if actor.OrgID != 0 {
		claims.OrgID = actor.OrgID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
