package internal

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tokenrail/tokenrail/internal/alert"
	"github.com/tokenrail/tokenrail/internal/domain/batch"
	"github.com/tokenrail/tokenrail/internal/domain/purchase"
	"github.com/tokenrail/tokenrail/internal/httpclient"
	integration "github.com/tokenrail/tokenrail/internal/integration/stripe"
	"github.com/tokenrail/tokenrail/internal/service"
	"github.com/tokenrail/tokenrail/internal/types"
)

// GrantSupportTokens credits a user with tokens outside any payment, for
// support cases like outage compensation. The grant is recorded as a
// zero-cost purchase so it shows up in the user's purchase history and in
// the books the reconciliation audit balances.
func GrantSupportTokens() error {
	userID := os.Getenv("USER_ID")
	if userID == "" {
		return fmt.Errorf("USER_ID is required")
	}

	amount, err := strconv.ParseInt(os.Getenv("GRANT_AMOUNT"), 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("GRANT_AMOUNT must be a positive integer")
	}

	expiryDays := purchase.TokenValidityDays
	if v := os.Getenv("GRANT_EXPIRES_DAYS"); v != "" {
		expiryDays, err = strconv.Atoi(v)
		if err != nil || expiryDays <= 0 {
			return fmt.Errorf("GRANT_EXPIRES_DAYS must be a positive integer")
		}
	}

	note := os.Getenv("GRANT_NOTE")
	if note == "" {
		note = "support-grant"
	}

	deps, err := newScriptDeps()
	if err != nil {
		return err
	}

	client := httpclient.NewDefaultClient()
	params := service.ServiceParams{
		Logger:         deps.log,
		Config:         deps.cfg,
		DB:             deps.db,
		UserRepo:       deps.userRepo,
		PurchaseRepo:   deps.purchaseRepo,
		BatchRepo:      deps.batchRepo,
		TokenEventRepo: deps.tokenEventRepo,
		Gateway:        integration.NewClient(deps.cfg, deps.log),
		AlertSender:    alert.NewSender(deps.cfg, client, deps.log),
		Client:         client,
	}
	ledger := service.NewLedgerService(params)

	ctx := context.Background()
	u, err := deps.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	now := time.Now().UTC()
	p := purchase.New(ctx, u.ID, "support:"+types.GenerateUUID())
	p.AmountTokens = amount
	p.PeriodStart = now
	p.PeriodEnd = now.AddDate(0, 0, expiryDays)
	if err := p.Validate(); err != nil {
		return err
	}

	err = deps.db.WithTx(ctx, func(ctx context.Context) error {
		if err := deps.purchaseRepo.Create(ctx, p); err != nil {
			return err
		}
		_, err := ledger.Grant(ctx, &batch.GrantOperation{
			UserID:    u.ID,
			Origin:    types.PurchaseOrigin(p.ID),
			Amount:    amount,
			ExpiresAt: p.PeriodEnd,
			Note:      note,
			Reason:    types.TokenEventReasonPurchase,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to grant tokens: %w", err)
	}

	fmt.Printf("Granted %d tokens to %s (%s), expiring %s\n",
		amount, u.ID, u.Email, p.PeriodEnd.Format(time.RFC3339))
	return nil
}
