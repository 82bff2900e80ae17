package auth

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/types"
)

// Claims is the identity a validated bearer token asserts. UserID is the
// issuer's stable subject, not our local user id; EnsureUser maps one to
// the other.
type Claims struct {
	UserID string
	Email  string
}

// Provider validates bearer tokens for the configured identity issuer.
// Sign-up and login live with the issuer; this service only needs to know
// who is calling.
type Provider interface {
	GetProvider() types.AuthProvider
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

func NewProvider(cfg *config.Configuration) Provider {
	switch cfg.Auth.Provider {
	case types.AuthProviderSupabase:
		return NewSupabaseAuth(cfg)
	default:
		return NewLocalAuth(cfg)
	}
}
