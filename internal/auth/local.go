package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tokenrail/tokenrail/internal/config"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

type localAuth struct {
	AuthConfig config.AuthConfig
}

// NewLocalAuth validates self-issued HS256 tokens. Meant for development
// and tests; production deployments point at a real issuer.
func NewLocalAuth(cfg *config.Configuration) Provider {
	return &localAuth{
		AuthConfig: cfg.Auth,
	}
}

func (l *localAuth) GetProvider() types.AuthProvider {
	return types.AuthProviderLocal
}

func (l *localAuth) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	return validateHMAC(token, l.AuthConfig.Secret)
}

// GenerateToken issues a token the local provider accepts, for seeding
// tools and tests.
func (l *localAuth) GenerateToken(subject, email string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"exp":   time.Now().Add(30 * 24 * time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(l.AuthConfig.Secret))
}

// validateHMAC parses and verifies an HS256 token and extracts the subject
// and email claims.
func validateHMAC(token, secret string) (*Claims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewError("unexpected signing method").
				WithHint(fmt.Sprintf("unexpected signing method: %v", token.Header["alg"])).
				Mark(ierr.ErrPermissionDenied)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Token parse error").
			Mark(ierr.ErrPermissionDenied)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok || !parsedToken.Valid {
		return nil, ierr.NewError("invalid token claims").
			WithHint("Invalid token claims").
			Mark(ierr.ErrPermissionDenied)
	}

	subject, subjectOk := claims["sub"].(string)
	if !subjectOk || subject == "" {
		return nil, ierr.NewError("token missing subject").
			WithHint("Token missing subject").
			Mark(ierr.ErrPermissionDenied)
	}

	email, _ := claims["email"].(string)

	return &Claims{UserID: subject, Email: email}, nil
}
