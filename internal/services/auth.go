package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/whytv-ai/whytv-backend/internal/platform/ctxutil"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

const adminRole = "admin"

type JWTClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthService verifies operator bearer tokens for the admin API.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	IssueToken(subject string, ttl time.Duration) (string, error)
	Enabled() bool
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
}

func NewAuthService(baseLog *logger.Logger, jwtSecretKey string) AuthService {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &authService{log: baseLog.With("service", "AuthService"), jwtSecretKey: jwtSecretKey}
}

func (as *authService) Enabled() bool { return as.jwtSecretKey != "" }

// IssueToken signs an HS256 admin token; used by operators' tooling and tests.
func (as *authService) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !as.Enabled() {
		return "", errors.New("admin auth is not configured")
	}
	now := time.Now()
	claims := JWTClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if !as.Enabled() {
		return ctx, errors.New("admin auth is not configured")
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return ctx, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, errors.New("invalid or expired token")
	}
	if claims.Role != adminRole {
		return ctx, errors.New("token lacks admin role")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return ctx, errors.New("token has no subject")
	}
	ctx = ctxutil.WithRequestData(ctx, &ctxutil.RequestData{TokenString: tokenString, Subject: subject})
	return ctx, nil
}
