package stripe

import (
	"context"

	ierr "github.com/tokenrail/tokenrail/internal/errors"

	"github.com/stripe/stripe-go/v82"
)

// GetCustomer retrieves a gateway customer. Used by the dispatcher to
// resolve webhook events to local users via the customer's email.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	if customerID == "" {
		return nil, ierr.NewError("customer id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	var customer *stripe.Customer
	err := c.withRetry(callCtx, func() error {
		var err error
		customer, err = c.api.V1Customers.Retrieve(callCtx, customerID, nil)
		return err
	})
	if err != nil {
		c.logger.Errorw("failed to retrieve customer",
			"error", err,
			"customer_id", customerID,
		)
		return nil, ierr.WithError(err).
			WithHint("Could not fetch customer from the payment gateway").
			WithReportableDetails(map[string]any{
				"customer_id": customerID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	return customer, nil
}

// FindCustomerByEmail looks up a gateway customer by email address.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	if email == "" {
		return nil, ierr.NewError("email is required").
			WithHint("Email is required").
			Mark(ierr.ErrValidation)
	}

	params := &stripe.CustomerSearchParams{}
	params.Query = "email:'" + email + "'"
	params.Limit = stripe.Int64(1)

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	// Manual iteration over the stripe.Seq2 iterator; range-over-func
	// needs a newer language version than this module targets.
	iter := c.api.V1Customers.Search(callCtx, params)
	var (
		found   *stripe.Customer
		iterErr error
		yielded bool
	)
	iter(func(customer *stripe.Customer, err error) bool {
		yielded = true
		if err != nil {
			iterErr = ierr.WithError(err).
				WithHint("Customer search failed").
				Mark(ierr.ErrHTTPClient)
			return false
		}
		found = customer
		return false
	})
	if yielded {
		return found, iterErr
	}

	return nil, ierr.NewError("customer not found").
		WithHint("No gateway customer with this email").
		Mark(ierr.ErrNotFound)
}
