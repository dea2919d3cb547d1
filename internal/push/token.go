package push

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ActionClaims resolve a deep-link button tap back to an intent without
// re-authenticating.
type ActionClaims struct {
	jwt.RegisteredClaims
	User          string `json:"user"`
	EntityType    string `json:"entity_type,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
	RouteFallback string `json:"route_fallback,omitempty"`
	Family        string `json:"family,omitempty"`
}

// TokenIssuer signs and verifies action tokens embedded in push payloads.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewTokenIssuer(secret string) TokenIssuer {
	return TokenIssuer{Secret: []byte(secret), TTL: 48 * time.Hour, Now: time.Now}
}

// IssueActionToken signs claims with HS256.
func (i TokenIssuer) IssueActionToken(claims ActionClaims) (string, error) {
	if len(i.Secret) == 0 || strings.TrimSpace(string(i.Secret)) == "" {
		return "", errors.New("action token secret not configured")
	}
	if claims.User == "" {
		return "", errors.New("action token requires a user")
	}
	now := i.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.TTL))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.Secret)
	if err != nil {
		return "", fmt.Errorf("sign action token: %w", err)
	}
	return signed, nil
}

// ParseActionToken verifies a token from an activity callback.
func (i TokenIssuer) ParseActionToken(raw string) (ActionClaims, error) {
	if len(i.Secret) == 0 {
		return ActionClaims{}, errors.New("action token secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.Now),
	)
	claims := &ActionClaims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.Secret, nil
	})
	if err != nil {
		return ActionClaims{}, fmt.Errorf("parse action token: %w", err)
	}
	if !parsed.Valid || claims.User == "" {
		return ActionClaims{}, errors.New("invalid action token")
	}
	return *claims, nil
}
