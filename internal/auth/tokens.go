package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const maxTokenTTL = 24 * time.Hour

type IssuedToken struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueUserToken mints an end-user bearer token with the configured key.
// The identity system normally does this; the CLI uses it for local testing.
func (s *Service) IssueUserToken(userID string, ttl time.Duration) (IssuedToken, error) {
	var issued IssuedToken
	if userID == "" {
		return issued, errors.New("missing user id")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if ttl > maxTokenTTL {
		return issued, errors.New("ttl exceeds maximum")
	}
	signingKey := []byte(s.Config.Security.TokenSigningKey)
	if len(signingKey) == 0 {
		return issued, errors.New("token signing key not configured")
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	tokenID := uuid.NewString()
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": tokenID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	if iss := s.Config.Security.TokenIssuer; iss != "" {
		claims["iss"] = iss
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return issued, err
	}
	return IssuedToken{
		Token:     token,
		TokenID:   tokenID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}, nil
}
