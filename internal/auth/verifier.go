package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"premiumsync/internal/config"
)

const APIKeyHeader = "X-API-Key"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type Service struct {
	Config config.Config
	Now    func() time.Time
}

func NewService(cfg config.Config) *Service {
	return &Service{
		Config: cfg,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) AuthenticateRequest(r *http.Request) (Principal, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return s.VerifyJWT(authHeader)
	}
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return s.VerifyAPIKey(key)
	}
	return Principal{}, ErrUnauthorized
}

func (s *Service) VerifyJWT(authHeader string) (Principal, error) {
	headerParts := strings.Fields(authHeader)
	if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "Bearer") {
		return Principal{}, ErrUnauthorized
	}
	rawToken := strings.TrimSpace(headerParts[1])

	signingKey := []byte(s.Config.Security.TokenSigningKey)
	if len(signingKey) == 0 {
		return Principal{}, fmt.Errorf("%w: token signing key not configured", ErrUnauthorized)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if iss := strings.TrimSpace(s.Config.Security.TokenIssuer); iss != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(iss))
	}

	parsed, err := jwt.Parse(rawToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return signingKey, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return Principal{}, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrUnauthorized
	}
	userID := claimString(claims["sub"])
	if userID == "" {
		return Principal{}, ErrUnauthorized
	}
	return Principal{
		UserID:     userID,
		TokenID:    claimString(claims["jti"]),
		AuthMethod: MethodJWT,
	}, nil
}

// VerifyAPIKey compares digests so the comparison time does not depend on
// the configured key's length.
func (s *Service) VerifyAPIKey(key string) (Principal, error) {
	configured := strings.TrimSpace(s.Config.Security.APIKey)
	if configured == "" {
		return Principal{}, ErrUnauthorized
	}
	want := sha256.Sum256([]byte(configured))
	got := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return Principal{}, ErrUnauthorized
	}
	return Principal{AuthMethod: MethodAPIKey}, nil
}

// AuthorizeUser lets service callers read anyone and end users read themselves.
func (s *Service) AuthorizeUser(principal Principal, userID string) error {
	if principal.IsService() {
		return nil
	}
	if principal.UserID != "" && principal.UserID == userID {
		return nil
	}
	return ErrForbidden
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func claimString(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	default:
		return ""
	}
}
