package auth

import (
	"context"
	"log"

	supabase "github.com/nedpals/supabase-go"

	"github.com/tokenrail/tokenrail/internal/config"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
	"github.com/tokenrail/tokenrail/internal/types"
)

type supabaseAuth struct {
	AuthConfig config.AuthConfig
	client     *supabase.Client
}

func NewSupabaseAuth(cfg *config.Configuration) Provider {
	client := supabase.CreateClient(cfg.Auth.Supabase.BaseURL, cfg.Auth.Supabase.ServiceKey)
	if client == nil {
		log.Fatalf("failed to create Supabase client")
	}

	return &supabaseAuth{
		AuthConfig: cfg.Auth,
		client:     client,
	}
}

func (s *supabaseAuth) GetProvider() types.AuthProvider {
	return types.AuthProviderSupabase
}

// ValidateToken verifies Supabase access tokens. With the project JWT
// secret configured they are checked locally; otherwise the token is
// introspected against the Supabase API.
func (s *supabaseAuth) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if s.AuthConfig.Secret != "" {
		return validateHMAC(token, s.AuthConfig.Secret)
	}

	user, err := s.client.Auth.User(ctx, token)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Token rejected by the identity provider").
			Mark(ierr.ErrPermissionDenied)
	}
	if user.ID == "" {
		return nil, ierr.NewError("token resolves to no user").
			WithHint("Token rejected by the identity provider").
			Mark(ierr.ErrPermissionDenied)
	}

	return &Claims{UserID: user.ID, Email: user.Email}, nil
}
