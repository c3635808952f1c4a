package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeMock   Mode = "mock"
	ModeStripe Mode = "stripe"
)

type Config struct {
	Mode            Mode
	AppURL          string
	Currency        string
	AdminFee        decimal.Decimal
	InvoiceDuration time.Duration
	SuccessURL      string
	CancelURL       string

	StripeSecretKey     string
	StripeWebhookSecret string

	BreakerFailures int
	BreakerCooldown time.Duration
}

// New selects the gateway for cfg.Mode.
func New(cfg Config) (Gateway, error) {
	switch cfg.Mode {
	case "", ModeMock:
		return NewMock(MockConfig{
			AppURL:          cfg.AppURL,
			InvoiceDuration: cfg.InvoiceDuration,
		}), nil
	case ModeStripe:
		s, err := NewStripe(StripeConfig{
			SecretKey:       cfg.StripeSecretKey,
			WebhookSecret:   cfg.StripeWebhookSecret,
			Currency:        cfg.Currency,
			AdminFee:        cfg.AdminFee,
			InvoiceDuration: cfg.InvoiceDuration,
			SuccessURL:      cfg.SuccessURL,
			CancelURL:       cfg.CancelURL,
			BreakerFailures: cfg.BreakerFailures,
			BreakerCooldown: cfg.BreakerCooldown,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("payment.New: unknown mode %q", cfg.Mode)
	}
}
