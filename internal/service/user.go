package service

import (
	"context"

	"github.com/tokenrail/tokenrail/internal/domain/user"
	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

// GatewayIdentity carries whatever identity fragments a gateway event
// offers about the paying user. Fields may be empty; resolution tries them
// in a fixed order.
type GatewayIdentity struct {
	// MetadataUserID is our user id echoed back from checkout or
	// subscription metadata
	MetadataUserID string
	// CustomerID is the gateway customer
	CustomerID string
	// CustomerEmail is the email when the event payload carried one
	CustomerEmail string
}

// UserService maintains the local user rows and resolves gateway events
// back to users.
type UserService interface {
	// EnsureUser upserts the user row for an authenticated identity. The
	// first authenticated interaction creates the row; later ones refresh
	// the email.
	EnsureUser(ctx context.Context, externalID, email string) (*user.User, error)

	GetUser(ctx context.Context, id string) (*user.User, error)

	// BindCustomer attaches the gateway customer id to the user
	BindCustomer(ctx context.Context, userID, pgCustomerID string) error

	// ResolveGatewayIdentity maps event identity fragments to a local user:
	// metadata user id first, then the stored customer binding, then email
	// lookup through the gateway. Unresolvable identities surface as
	// not-found; the dispatcher treats that as skip-without-retry.
	ResolveGatewayIdentity(ctx context.Context, identity *GatewayIdentity) (*user.User, error)
}

type userService struct {
	ServiceParams
}

// NewUserService creates a new instance of UserService
func NewUserService(params ServiceParams) UserService {
	return &userService{
		ServiceParams: params,
	}
}

func (s *userService) EnsureUser(ctx context.Context, externalID, email string) (*user.User, error) {
	u := user.New(ctx, externalID, email)
	if err := u.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.UserRepo.UpsertByExternalID(ctx, u)
	if err != nil {
		return nil, err
	}

	s.Logger.Debugw("ensured user",
		"user_id", stored.ID,
		"external_id", stored.ExternalID,
	)
	return stored, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*user.User, error) {
	if id == "" {
		return nil, ierr.NewError("user id is required").
			WithHint("User ID is required").
			Mark(ierr.ErrValidation)
	}
	return s.UserRepo.GetByID(ctx, id)
}

func (s *userService) BindCustomer(ctx context.Context, userID, pgCustomerID string) error {
	if userID == "" || pgCustomerID == "" {
		return ierr.NewError("user id and customer id are required").
			WithHint("User ID and customer ID are required").
			Mark(ierr.ErrValidation)
	}
	return s.UserRepo.BindPGCustomer(ctx, userID, pgCustomerID)
}

func (s *userService) ResolveGatewayIdentity(ctx context.Context, identity *GatewayIdentity) (*user.User, error) {
	if identity.MetadataUserID != "" {
		u, err := s.UserRepo.GetByID(ctx, identity.MetadataUserID)
		if err == nil {
			return u, nil
		}
		if !ierr.IsNotFound(err) {
			return nil, err
		}
		s.Logger.Warnw("metadata user id does not match a local user",
			"metadata_user_id", identity.MetadataUserID,
		)
	}

	if identity.CustomerID != "" {
		u, err := s.UserRepo.GetByPGCustomerID(ctx, identity.CustomerID)
		if err == nil {
			return u, nil
		}
		if !ierr.IsNotFound(err) {
			return nil, err
		}
	}

	email := identity.CustomerEmail
	if email == "" && identity.CustomerID != "" {
		customer, err := s.Gateway.GetCustomer(ctx, identity.CustomerID)
		if err != nil {
			s.Logger.Warnw("customer lookup failed during user resolution",
				"error", err,
				"customer_id", identity.CustomerID,
			)
		} else {
			email = customer.Email
		}
	}
	if email != "" {
		u, err := s.UserRepo.GetByEmail(ctx, email)
		if err == nil {
			return u, nil
		}
		if !ierr.IsNotFound(err) {
			return nil, err
		}
	}

	return nil, ierr.NewError("no local user for gateway identity").
		WithHint("Event could not be attributed to a user").
		WithReportableDetails(map[string]any{
			"metadata_user_id": identity.MetadataUserID,
			"customer_id":      identity.CustomerID,
		}).
		Mark(ierr.ErrNotFound)
}
