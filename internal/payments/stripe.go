package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Session is the slice of a checkout session the reconciler cares about.
// Metadata is the only trusted channel for game id / player name: it was
// written by us at session creation and comes back signed or re-fetched.
type Session struct {
	ID            string
	Paid          bool
	Metadata      map[string]string
	CustomerName  string
	CustomerEmail string
}

type AccountStatus struct {
	AccountID      string
	ChargesEnabled bool
	PayoutsEnabled bool
	CurrentlyDue   []string
	DisabledReason string
}

type CheckoutParams struct {
	GameID             string
	GameTitle          string
	PlayerName         string
	Spots              int
	UnitAmount         int64
	Currency           string
	DestinationAccount string
	SuccessURL         string
	CancelURL          string
	IdempotencyKey     string
}

// Gateway is the payment-processor boundary. Handlers and the reconciler
// depend on this interface so tests can substitute a fake.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (redirectURL string, sessionID string, err error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// VerifyWebhook authenticates the raw payload against the shared secret.
	// It returns ErrInvalidSignature before any payload field is looked at.
	// A verified event that is not a completed checkout yields (nil, nil).
	VerifyWebhook(payload []byte, sigHeader string) (*Session, error)
	CreateAccount(ctx context.Context, email string) (string, error)
	GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
	OnboardingLink(ctx context.Context, accountID string) (string, error)
}

type stripeGateway struct {
	api           *client.API
	webhookSecret string
	refreshURL    string
	returnURL     string
	log           *zerolog.Logger
}

func NewStripeGateway(secretKey, webhookSecret, onboardRefreshURL, onboardReturnURL string, log *zerolog.Logger) Gateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &stripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
		refreshURL:    onboardRefreshURL,
		returnURL:     onboardReturnURL,
		log:           log,
	}
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(p.GameID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(p.UnitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.GameTitle),
					},
				},
				Quantity: stripe.Int64(int64(p.Spots)),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(p.DestinationAccount),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("gameId", p.GameID)
	params.AddMetadata("name", p.PlayerName)
	params.AddMetadata("spots", fmt.Sprintf("%d", p.Spots))
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, sess.ID, nil
}

func (g *stripeGateway) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return fromStripeSession(sess), nil
}

func (g *stripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*Session, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if event.Type != "checkout.session.completed" {
		g.log.Debug().Str("type", string(event.Type)).Msg("ignoring webhook event")
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session payload: %w", err)
	}
	return fromStripeSession(&sess), nil
}

func (g *stripeGateway) CreateAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:         stripe.String(string(stripe.AccountTypeExpress)),
		Email:        stripe.String(email),
		BusinessType: stripe.String("individual"),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx

	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", fmt.Errorf("create connected account: %w", err)
	}
	return acct.ID, nil
}

func (g *stripeGateway) GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve connected account: %w", err)
	}

	status := &AccountStatus{
		AccountID:      acct.ID,
		ChargesEnabled: acct.ChargesEnabled,
		PayoutsEnabled: acct.PayoutsEnabled,
	}
	if acct.Requirements != nil {
		status.CurrentlyDue = acct.Requirements.CurrentlyDue
		status.DisabledReason = string(acct.Requirements.DisabledReason)
	}
	return status, nil
}

func (g *stripeGateway) OnboardingLink(ctx context.Context, accountID string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(g.refreshURL),
		ReturnURL:  stripe.String(g.returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", fmt.Errorf("create onboarding link: %w", err)
	}
	return link.URL, nil
}

func fromStripeSession(sess *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:       sess.ID,
		Paid:     sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Metadata: sess.Metadata,
	}
	if sess.CustomerDetails != nil {
		out.CustomerName = sess.CustomerDetails.Name
		out.CustomerEmail = sess.CustomerDetails.Email
	}
	return out
}
