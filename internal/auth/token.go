// Package auth issues and verifies the bearer tokens that identify a
// participant. Accounts live in an external identity service; the token only
// carries the participant id and the role they act in.
package auth

import (
	"errors"
	"fmt"
	"time"

	"jobchat/backend/internal/config"
	"jobchat/backend/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the token claims. Subject is the participant id.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity is an authenticated participant.
type Identity struct {
	ParticipantID string
	Role          models.Role
}

type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokens(cfg config.JWTConfig) *Tokens {
	return &Tokens{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// Issue генерує HS256 токен для учасника.
func (t *Tokens) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.ParticipantID == "" || id.ParticipantID == config.SystemSenderID {
		return "", fmt.Errorf("participant id %q cannot hold a token", id.ParticipantID)
	}
	if !validRole(id.Role) {
		return "", fmt.Errorf("unknown role %q", id.Role)
	}

	now := t.now()
	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ParticipantID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies raw and returns the identity it carries.
func (t *Tokens) Parse(raw string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Subject == config.SystemSenderID || !validRole(claims.Role) {
		return Identity{}, fmt.Errorf("%w: bad subject or role", ErrInvalidToken)
	}
	return Identity{ParticipantID: claims.Subject, Role: claims.Role}, nil
}

func validRole(r models.Role) bool {
	return r == models.RoleEmployer || r == models.RoleCandidate
}
