package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kirinyoku/tix-checkout/internal/domain"
)

type MockConfig struct {
	AppURL          string
	InvoiceDuration time.Duration
}

// Mock is an in-process provider. Payments settle only through Simulate.
type Mock struct {
	cfg MockConfig
	now func() time.Time

	mu        sync.Mutex
	simulated map[string]Callback
}

func NewMock(cfg MockConfig) *Mock {
	if cfg.AppURL == "" {
		cfg.AppURL = "http://localhost:8080"
	}
	if cfg.InvoiceDuration <= 0 {
		cfg.InvoiceDuration = time.Hour
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")

	return &Mock{cfg: cfg, now: time.Now, simulated: map[string]Callback{}}
}

func (m *Mock) Provider() domain.PaymentProvider { return domain.ProviderMock }

func (m *Mock) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	now := m.now()

	ref := req.ReferenceID
	if ref == "" {
		ref = NewReference(now)
	}

	method := req.Method
	if method == "" {
		method = "VARIOUS"
	}

	return &Intent{
		ReferenceID:    ref,
		RedirectURL:    fmt.Sprintf("%s/mock-payment/%s?method=%s", m.cfg.AppURL, url.PathEscape(ref), url.QueryEscape(method)),
		ProviderStatus: string(domain.PaymentPending),
		ExpiresAt:      now.Add(m.cfg.InvoiceDuration),
		Metadata: domain.Metadata{
			"mock_payment": true,
			"order_number": req.OrderNumber,
			"event_title":  req.EventTitle,
			"quantity":     req.Quantity,
			"instructions": "This is a mock payment. Use the simulate endpoint to settle it.",
		},
	}, nil
}

func (m *Mock) CheckStatus(_ context.Context, p *domain.Payment) (*StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.simulated[p.ReferenceID]
	if !ok {
		return &StatusSnapshot{ReferenceID: p.ReferenceID, Status: string(domain.PaymentPending)}, nil
	}

	snap := StatusSnapshot(cb)
	return &snap, nil
}

// Expire marks an unsettled mock payment as expired.
func (m *Mock) Expire(_ context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.simulated[p.ReferenceID]; ok && MapStatus(cb.Status) == domain.PaymentPaid {
		return nil
	}
	m.simulated[p.ReferenceID] = Callback{ReferenceID: p.ReferenceID, Status: string(domain.PaymentExpired)}

	return nil
}

type genericCallback struct {
	ExternalID     string     `json:"external_id,omitempty"`
	ExternalIDAlt  string     `json:"externalId,omitempty"`
	ID             string     `json:"id,omitempty"`
	Status         string     `json:"status,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	PaymentChannel string     `json:"payment_channel,omitempty"`
	BankCode       string     `json:"bank_code,omitempty"`
}

// ParseCallback reads the generic JSON callback. The mock never rejects a
// callback on its token.
func (m *Mock) ParseCallback(payload []byte, _ string) (*Callback, error) {
	var body genericCallback
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	ref := body.ExternalID
	if ref == "" {
		ref = body.ExternalIDAlt
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: missing external_id", ErrInvalidCallback)
	}

	var raw domain.Metadata
	_ = json.Unmarshal(payload, &raw)

	return &Callback{
		ReferenceID:    ref,
		Status:         body.Status,
		PaidAt:         body.PaidAt,
		PaymentMethod:  body.PaymentMethod,
		PaymentChannel: body.PaymentChannel,
		BankCode:       body.BankCode,
		ProviderID:     body.ID,
		Raw:            raw,
	}, nil
}

// Simulate records status for ref and returns the callback payload the
// provider would have sent.
func (m *Mock) Simulate(ref, status, method string) ([]byte, error) {
	cb := Callback{
		ReferenceID:   ref,
		Status:        strings.ToUpper(status),
		PaymentMethod: method,
		ProviderID:    "mock-" + ref,
	}

	body := genericCallback{
		ExternalID:    ref,
		ID:            cb.ProviderID,
		Status:        cb.Status,
		PaymentMethod: method,
	}
	if MapStatus(cb.Status) == domain.PaymentPaid {
		now := m.now().UTC()
		cb.PaidAt = &now
		body.PaidAt = &now
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.simulated[ref] = cb
	m.mu.Unlock()

	return payload, nil
}
