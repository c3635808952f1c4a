package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/apperr"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]domain.PaymentStatus{
		"PAID":     domain.PaymentPaid,
		"paid":     domain.PaymentPaid,
		" Expired": domain.PaymentExpired,
		"FAILED":   domain.PaymentFailed,
		"SETTLING": domain.PaymentPending,
		"":         domain.PaymentPending,
		"checkout.session.completed": domain.PaymentPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapStatus(raw), "raw %q", raw)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		cb          Callback
		wantChannel domain.PaymentChannel
		wantCode    string
	}{
		{"bank code wins", Callback{BankCode: "bca", PaymentMethod: "OVO"}, domain.ChannelVirtualAccount, "BCA"},
		{"unknown bank code still va", Callback{BankCode: "SAHABAT_SAMPOERNA"}, domain.ChannelVirtualAccount, "SAHABAT_SAMPOERNA"},
		{"e-wallet", Callback{PaymentMethod: "ShopeePay"}, domain.ChannelEWallet, "SHOPEEPAY"},
		{"qris via channel", Callback{PaymentChannel: "QRIS", PaymentMethod: "EWALLET"}, domain.ChannelQRIS, "QRIS"},
		{"retail", Callback{PaymentMethod: "INDOMARET"}, domain.ChannelRetailOutlet, "INDOMARET"},
		{"stripe card", Callback{PaymentMethod: "card"}, domain.ChannelCreditCard, "CARD"},
		{"credit card", Callback{PaymentMethod: "CREDIT_CARD"}, domain.ChannelCreditCard, "CREDIT_CARD"},
		{"other", Callback{PaymentMethod: "BANK_TRANSFER"}, domain.ChannelOther, "BANK_TRANSFER"},
		{"nothing", Callback{}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, code := Classify(&tt.cb)
			assert.Equal(t, tt.wantChannel, ch)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestNewReference(t *testing.T) {
	ref := NewReference(time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC))
	assert.Regexp(t, `^PAY-20250309-\d{10}$`, ref)
}

func TestMock_CreateIntent(t *testing.T) {
	m := NewMock(MockConfig{AppURL: "http://app.test/"})

	in, err := m.CreateIntent(context.Background(), IntentRequest{
		ReferenceID: "PAY-20250101-00001",
		Method:      "BCA",
		OrderNumber: "ORD-20250101-0001",
	})
	require.NoError(t, err)
	assert.Equal(t, "PAY-20250101-00001", in.ReferenceID)
	assert.Equal(t, "http://app.test/mock-payment/PAY-20250101-00001?method=BCA", in.RedirectURL)
	assert.Equal(t, true, in.Metadata["mock_payment"])
	assert.WithinDuration(t, time.Now().Add(time.Hour), in.ExpiresAt, 5*time.Second)
}

func TestMock_ParseCallback(t *testing.T) {
	m := NewMock(MockConfig{})

	cb, err := m.ParseCallback([]byte(`{"externalId":"PAY-1","status":"paid","bank_code":"BNI","paid_at":"2025-01-01T10:00:00Z","id":"inv-1"}`), "whatever")
	require.NoError(t, err)
	assert.Equal(t, "PAY-1", cb.ReferenceID)
	assert.Equal(t, domain.PaymentPaid, MapStatus(cb.Status))
	assert.Equal(t, "BNI", cb.BankCode)
	assert.Equal(t, "inv-1", cb.ProviderID)
	require.NotNil(t, cb.PaidAt)
	assert.Equal(t, "inv-1", cb.Raw.String("id"))

	_, err = m.ParseCallback([]byte(`{"status":"PAID"}`), "")
	assert.ErrorIs(t, err, ErrInvalidCallback)
	assert.ErrorIs(t, err, apperr.Validation)

	_, err = m.ParseCallback([]byte(`not json`), "")
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestMock_SimulateAndCheckStatus(t *testing.T) {
	m := NewMock(MockConfig{})
	ctx := context.Background()
	p := &domain.Payment{ReferenceID: "PAY-2"}

	snap, err := m.CheckStatus(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, MapStatus(snap.Status))

	payload, err := m.Simulate("PAY-2", "paid", "OVO")
	require.NoError(t, err)

	cb, err := m.ParseCallback(payload, "")
	require.NoError(t, err)
	assert.Equal(t, "PAY-2", cb.ReferenceID)
	assert.Equal(t, "OVO", cb.PaymentMethod)
	assert.NotNil(t, cb.PaidAt)

	snap, err = m.CheckStatus(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, MapStatus(snap.Status))

	// expiring a paid mock payment is a no-op
	require.NoError(t, m.Expire(ctx, p))
	snap, _ = m.CheckStatus(ctx, p)
	assert.Equal(t, domain.PaymentPaid, MapStatus(snap.Status))
}

func TestBreaker(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)

	// half-open trial fails: reopen
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Do(func() error { return nil }))
	require.NoError(t, b.Do(func() error { return nil }))
}

func TestNew_SelectsGateway(t *testing.T) {
	g, err := New(Config{Mode: ModeMock})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderMock, g.Provider())

	_, err = New(Config{Mode: ModeStripe})
	assert.Error(t, err, "stripe without a key")

	g, err = New(Config{Mode: ModeStripe, StripeSecretKey: "sk_test_x"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStripe, g.Provider())

	_, err = New(Config{Mode: "paypal"})
	assert.Error(t, err)
}

type fakeStripe struct {
	mu      sync.Mutex
	created url.Values
	expired bool
	fail    bool
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.fail {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"type":"api_error","message":"down"}}`)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
		body, _ := io.ReadAll(r.Body)
		f.created, _ = url.ParseQuery(string(body))
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1","status":"open","payment_status":"unpaid"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_test_1":
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","status":"complete","payment_status":"paid","payment_method_types":["card"]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions/cs_test_1/expire":
		f.expired = true
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","status":"expired","payment_status":"unpaid"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"not found"}}`)
	}
}

func newTestStripe(t *testing.T, f *fakeStripe) *Stripe {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})

	s, err := NewStripe(StripeConfig{
		SecretKey:       "sk_test_123",
		WebhookSecret:   "whsec_test",
		Currency:        "IDR",
		AdminFee:        decimal.NewFromInt(5000),
		SuccessURL:      "http://app.test/success",
		CancelURL:       "http://app.test/cancel",
		BreakerFailures: 2,
		Backends:        &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	})
	require.NoError(t, err)

	return s
}

func TestStripe_CreateCheckAndExpire(t *testing.T) {
	f := &fakeStripe{}
	s := newTestStripe(t, f)
	ctx := context.Background()

	in, err := s.CreateIntent(ctx, IntentRequest{
		ReferenceID: "PAY-20250101-00042",
		OrderID:     uuid.New(),
		OrderNumber: "ORD-20250101-0042",
		EventTitle:  "Jazz Night",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(150000),
		Amount:      decimal.NewFromInt(300000),
		BuyerEmail:  "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", in.RedirectURL)
	assert.Equal(t, "cs_test_1", in.Metadata.String("provider_invoice_id"))

	f.mu.Lock()
	form := f.created
	f.mu.Unlock()
	assert.Equal(t, "PAY-20250101-00042", form.Get("client_reference_id"))
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "buyer@example.com", form.Get("customer_email"))
	assert.Equal(t, "15000000", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "2", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "500000", form.Get("line_items[1][price_data][unit_amount]"))
	assert.Equal(t, "idr", form.Get("line_items[1][price_data][currency]"))

	p := &domain.Payment{ReferenceID: in.ReferenceID, Metadata: in.Metadata}

	snap, err := s.CheckStatus(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, MapStatus(snap.Status))
	assert.Equal(t, "card", snap.PaymentMethod)

	require.NoError(t, s.Expire(ctx, p))
	f.mu.Lock()
	assert.True(t, f.expired)
	f.mu.Unlock()

	_, err = s.CheckStatus(ctx, &domain.Payment{ReferenceID: "PAY-X"})
	assert.Error(t, err, "no session id in metadata")
}

func TestStripe_ProviderFailureOpensBreaker(t *testing.T) {
	f := &fakeStripe{fail: true}
	s := newTestStripe(t, f)
	ctx := context.Background()
	req := IntentRequest{ReferenceID: "PAY-1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}

	for range 2 {
		_, err := s.CreateIntent(ctx, req)
		require.ErrorIs(t, err, ErrProvider)
		assert.ErrorIs(t, err, apperr.Unavailable)
	}

	_, err := s.CreateIntent(ctx, req)
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func signedEvent(t *testing.T, secret, eventType string, session map[string]any) ([]byte, string) {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"created":     1735689600,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})

	return body, signed.Header
}

func TestStripe_ParseCallback(t *testing.T) {
	s := newTestStripe(t, &fakeStripe{})

	tests := []struct {
		eventType string
		payStatus string
		want      domain.PaymentStatus
	}{
		{"checkout.session.completed", "paid", domain.PaymentPaid},
		{"checkout.session.completed", "unpaid", domain.PaymentPending},
		{"checkout.session.async_payment_succeeded", "paid", domain.PaymentPaid},
		{"checkout.session.async_payment_failed", "unpaid", domain.PaymentFailed},
		{"checkout.session.expired", "unpaid", domain.PaymentExpired},
	}
	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.payStatus, func(t *testing.T) {
			body, header := signedEvent(t, "whsec_test", tt.eventType, map[string]any{
				"id":                   "cs_test_1",
				"object":               "checkout.session",
				"client_reference_id":  "PAY-20250101-00042",
				"payment_status":       tt.payStatus,
				"payment_method_types": []string{"card"},
			})

			cb, err := s.ParseCallback(body, header)
			require.NoError(t, err)
			assert.Equal(t, "PAY-20250101-00042", cb.ReferenceID)
			assert.Equal(t, tt.want, MapStatus(cb.Status))
			assert.Equal(t, tt.want == domain.PaymentPaid, cb.PaidAt != nil)
		})
	}
}

func TestStripe_ParseCallback_OtherEventTypes(t *testing.T) {
	s := newTestStripe(t, &fakeStripe{})

	for _, typ := range []string{"payment_intent.succeeded", "charge.refunded"} {
		t.Run(typ, func(t *testing.T) {
			body, header := signedEvent(t, "whsec_test", typ, map[string]any{
				"id":     "pi_test_1",
				"object": "payment_intent",
				"status": "succeeded",
			})

			_, err := s.ParseCallback(body, header)
			require.ErrorIs(t, err, ErrIgnoredEvent)
			assert.NotErrorIs(t, err, ErrInvalidSignature)
			assert.NotErrorIs(t, err, apperr.Authentication)
		})
	}

	t.Run("session without reference", func(t *testing.T) {
		body, header := signedEvent(t, "whsec_test", "checkout.session.completed", map[string]any{
			"id": "cs_other", "object": "checkout.session", "payment_status": "paid",
		})

		_, err := s.ParseCallback(body, header)
		require.ErrorIs(t, err, ErrIgnoredEvent)
	})
}

func TestStripe_ParseCallback_BadSignature(t *testing.T) {
	s := newTestStripe(t, &fakeStripe{})

	body, _ := signedEvent(t, "whsec_other", "checkout.session.completed", map[string]any{
		"id": "cs_test_1", "client_reference_id": "PAY-1", "payment_status": "paid",
	})
	_, header := signedEvent(t, "whsec_other", "checkout.session.completed", map[string]any{})

	_, err := s.ParseCallback(body, header)
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, apperr.Authentication)

	_, err = s.ParseCallback(body, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.True(t, strings.Contains(err.Error(), "signature"))
}
