package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const metaProviderInvoiceID = "provider_invoice_id"

var zeroDecimalCurrencies = []string{"bif", "clp", "djf", "gnf", "jpy", "kmf", "krw", "mga", "pyg", "rwf", "ugx", "vnd", "vuv", "xaf", "xof", "xpf"}

type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	Currency        string
	AdminFee        decimal.Decimal
	InvoiceDuration time.Duration
	SuccessURL      string
	CancelURL       string

	BreakerFailures int
	BreakerCooldown time.Duration

	// Backends overrides the API endpoint; used by tests.
	Backends *stripe.Backends
}

// Stripe opens Checkout Sessions and reads Stripe webhooks.
type Stripe struct {
	sc      *client.API
	cfg     StripeConfig
	breaker *Breaker
	now     func() time.Time
}

func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("payment.NewStripe: missing secret key")
	}
	if cfg.Currency == "" {
		cfg.Currency = "idr"
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	if cfg.InvoiceDuration <= 0 {
		cfg.InvoiceDuration = time.Hour
	}

	return &Stripe{
		sc:      client.New(cfg.SecretKey, cfg.Backends),
		cfg:     cfg,
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		now:     time.Now,
	}, nil
}

func (s *Stripe) Provider() domain.PaymentProvider { return domain.ProviderStripe }

func (s *Stripe) minor(d decimal.Decimal) int64 {
	if slices.Contains(zeroDecimalCurrencies, s.cfg.Currency) {
		return d.Round(0).IntPart()
	}
	return d.Shift(2).Round(0).IntPart()
}

func (s *Stripe) call(op string, fn func() error) error {
	started := time.Now()
	err := s.breaker.Do(fn)
	metrics.GatewayCall(string(domain.ProviderStripe), op, started, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return nil
}

// CreateIntent opens a Checkout Session for the order's tickets plus the
// admin fee. The session id is kept in the payment metadata.
func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	const op = "payment.Stripe.CreateIntent"

	expiresAt := s.now().Add(s.cfg.InvoiceDuration)

	lineItems := []*stripe.CheckoutSessionLineItemParams{
		{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.Currency),
				UnitAmount: stripe.Int64(s.minor(req.UnitPrice)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Ticket: " + req.EventTitle),
				},
			},
			Quantity: stripe.Int64(int64(req.Quantity)),
		},
	}
	if s.cfg.AdminFee.IsPositive() {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.Currency),
				UnitAmount: stripe.Int64(s.minor(s.cfg.AdminFee)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Admin fee"),
				},
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ReferenceID),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		LineItems:         lineItems,
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
		Metadata: map[string]string{
			"reference_id":   req.ReferenceID,
			"order_id":       req.OrderID.String(),
			"order_number":   req.OrderNumber,
			"invoice_number": req.InvoiceNumber,
		},
	}
	if req.BuyerEmail != "" {
		params.CustomerEmail = stripe.String(req.BuyerEmail)
	}
	params.Context = ctx

	var sess *stripe.CheckoutSession
	err := s.call("create", func() error {
		var err error
		sess, err = s.sc.CheckoutSessions.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Intent{
		ReferenceID:    req.ReferenceID,
		RedirectURL:    sess.URL,
		ProviderStatus: string(sess.Status),
		ExpiresAt:      expiresAt,
		Metadata: domain.Metadata{
			metaProviderInvoiceID: sess.ID,
			"admin_fee":           s.cfg.AdminFee.String(),
			"currency":            s.cfg.Currency,
			"provider_expires_at": expiresAt.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (s *Stripe) sessionID(p *domain.Payment) (string, error) {
	id := p.Metadata.String(metaProviderInvoiceID)
	if id == "" {
		return "", fmt.Errorf("payment %s has no checkout session", p.ReferenceID)
	}
	return id, nil
}

func sessionStatus(sess *stripe.CheckoutSession) string {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return string(domain.PaymentPaid)
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return string(domain.PaymentExpired)
	default:
		return string(sess.Status)
	}
}

func firstMethod(sess *stripe.CheckoutSession) string {
	if len(sess.PaymentMethodTypes) == 0 {
		return ""
	}
	return sess.PaymentMethodTypes[0]
}

func (s *Stripe) CheckStatus(ctx context.Context, p *domain.Payment) (*StatusSnapshot, error) {
	const op = "payment.Stripe.CheckStatus"

	id, err := s.sessionID(p)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	var sess *stripe.CheckoutSession
	err = s.call("get", func() error {
		var err error
		sess, err = s.sc.CheckoutSessions.Get(id, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	snap := &StatusSnapshot{
		ReferenceID:   p.ReferenceID,
		Status:        sessionStatus(sess),
		PaymentMethod: firstMethod(sess),
		ProviderID:    sess.ID,
		Raw: domain.Metadata{
			"session_status": string(sess.Status),
			"payment_status": string(sess.PaymentStatus),
		},
	}
	if MapStatus(snap.Status) == domain.PaymentPaid {
		now := s.now()
		snap.PaidAt = &now
	}

	return snap, nil
}

func (s *Stripe) Expire(ctx context.Context, p *domain.Payment) error {
	const op = "payment.Stripe.Expire"

	id, err := s.sessionID(p)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if err := s.call("expire", func() error {
		_, err := s.sc.CheckoutSessions.Expire(id, params)
		return err
	}); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// ParseCallback verifies the Stripe-Signature header and translates
// checkout session events. Other verified event types (payment_intent.*,
// charge.*, ...) yield ErrIgnoredEvent.
func (s *Stripe) ParseCallback(payload []byte, token string) (*Callback, error) {
	event, err := webhook.ConstructEventWithOptions(payload, token, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if !strings.HasPrefix(string(event.Type), "checkout.session.") {
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	ref := sess.ClientReferenceID
	if ref == "" {
		ref = sess.Metadata["reference_id"]
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: session %s has no reference", ErrIgnoredEvent, sess.ID)
	}

	status := string(event.Type)
	switch event.Type {
	case "checkout.session.completed":
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			status = string(domain.PaymentPaid)
		}
	case "checkout.session.async_payment_succeeded":
		status = string(domain.PaymentPaid)
	case "checkout.session.expired":
		status = string(domain.PaymentExpired)
	case "checkout.session.async_payment_failed":
		status = string(domain.PaymentFailed)
	}

	cb := &Callback{
		ReferenceID:   ref,
		Status:        status,
		PaymentMethod: firstMethod(&sess),
		ProviderID:    sess.ID,
		Raw: domain.Metadata{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		},
	}
	if MapStatus(status) == domain.PaymentPaid {
		paidAt := time.Unix(event.Created, 0).UTC()
		cb.PaidAt = &paidAt
	}

	return cb, nil
}
