package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/apperr"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/render"
	"github.com/kirinyoku/tix-checkout/internal/repository/memstore"
	"github.com/kirinyoku/tix-checkout/internal/service/inventory"
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/service/orders"
	"github.com/kirinyoku/tix-checkout/internal/service/payment"
	"github.com/kirinyoku/tix-checkout/internal/service/tickets"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, doc render.Document) (render.Artifacts, error) {
	return render.Artifacts{QRCodeURL: "qr/" + doc.TicketNumber, PDFURL: "pdf/" + doc.TicketNumber}, nil
}

func (stubRenderer) Remove(uuid.UUID) {}

type scheduled struct {
	msg notify.Message
	at  time.Time
}

type recordingNotifier struct {
	mu        sync.Mutex
	sent      []notify.Message
	scheduled []scheduled
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) Schedule(_ context.Context, msg notify.Message, at time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, scheduled{msg: msg, at: at})
	return nil
}

func (n *recordingNotifier) count(c domain.NotificationCategory) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := 0
	for _, m := range n.sent {
		if m.Category == c {
			k++
		}
	}
	return k
}

type fixture struct {
	proc     *Processor
	orders   *orders.Service
	store    *memstore.Store
	mock     *payment.Mock
	notifier *recordingNotifier
	event    *domain.Event
}

func newFixture(t *testing.T, startsIn time.Duration) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	mock := payment.NewMock(payment.MockConfig{})
	notifier := &recordingNotifier{}

	ordersSvc := orders.New(orders.Deps{
		Store:    store,
		Ledger:   inventory.New(store, nil, nil, log, inventory.Config{}),
		Gateway:  mock,
		Tickets:  tickets.New(store, stubRenderer{}, notifier, log),
		Notifier: notifier,
		Log:      log,
	}, orders.Config{})

	e := &domain.Event{
		ID:               uuid.New(),
		Title:            "Jazz Night",
		Location:         "Hall A",
		StartsAt:         time.Now().Add(startsIn),
		EndsAt:           time.Now().Add(startsIn + 3*time.Hour),
		Price:            decimal.NewFromInt(100000),
		Quota:            10,
		AvailableTickets: 10,
		Status:           domain.EventPublished,
	}
	require.NoError(t, store.Events().Create(context.Background(), e))

	return &fixture{
		proc:     New(store, mock, ordersSvc, notifier, log),
		orders:   ordersSvc,
		store:    store,
		mock:     mock,
		notifier: notifier,
		event:    e,
	}
}

func (f *fixture) checkout(t *testing.T, qty int) *domain.OrderDetails {
	t.Helper()

	d, err := f.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		BuyerID:    "buyer-1",
		BuyerEmail: "buyer@example.com",
		EventID:    f.event.ID,
		Quantity:   qty,
	})
	require.NoError(t, err)
	return d
}

func callback(t *testing.T, ref, status string, extra map[string]any) []byte {
	t.Helper()

	body := map[string]any{"external_id": ref, "status": status}
	for k, v := range extra {
		body[k] = v
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()

	o, err := f.store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()

	e, err := f.store.Events().Get(context.Background(), f.event.ID)
	require.NoError(t, err)
	return e.AvailableTickets
}

func TestHandle_Paid(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	d := f.checkout(t, 2)

	ack, err := f.proc.Handle(ctx, callback(t, d.Payment.ReferenceID, "PAID", map[string]any{"bank_code": "bca"}), "")
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, ResultApplied, ack.Result)
	assert.Equal(t, domain.PaymentPaid, ack.PaymentStatus)
	assert.Equal(t, domain.OrderPaid, ack.OrderStatus)

	pay, err := f.store.Payments().GetByReference(ctx, d.Payment.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, pay.Status)
	assert.Equal(t, domain.ChannelVirtualAccount, pay.Channel)
	assert.Equal(t, "BCA", pay.ChannelCode)
	require.NotNil(t, pay.PaidAt)

	assert.Equal(t, domain.OrderPaid, f.order(t, d.Order.ID).Status)

	n, err := f.store.Tickets().CountByOrder(ctx, d.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.notifier.count(domain.CategoryPaymentSuccess))

	require.Len(t, f.notifier.scheduled, 1)
	assert.Equal(t, domain.CategoryEventReminder, f.notifier.scheduled[0].msg.Category)
	assert.WithinDuration(t, f.event.StartsAt.Add(-24*time.Hour), f.notifier.scheduled[0].at, time.Second)
}

func TestHandle_DuplicateDelivery(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	d := f.checkout(t, 1)
	payload := callback(t, d.Payment.ReferenceID, "PAID", nil)

	var wg sync.WaitGroup
	acks := make([]*Ack, 4)
	for i := range acks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := f.proc.Handle(ctx, payload, "")
			assert.NoError(t, err)
			acks[i] = ack
		}()
	}
	wg.Wait()

	applied := 0
	for _, a := range acks {
		assert.True(t, a.Success)
		if a.Result == ResultApplied {
			applied++
		} else {
			assert.Equal(t, ResultDuplicate, a.Result)
		}
	}
	assert.Equal(t, 1, applied)

	n, err := f.store.Tickets().CountByOrder(ctx, d.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.notifier.count(domain.CategoryPaymentSuccess))
}

func TestHandle_StaleAfterPaid(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	d := f.checkout(t, 1)

	_, err := f.proc.Handle(ctx, callback(t, d.Payment.ReferenceID, "PAID", nil), "")
	require.NoError(t, err)

	ack, err := f.proc.Handle(ctx, callback(t, d.Payment.ReferenceID, "EXPIRED", nil), "")
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, ResultStale, ack.Result)
	assert.Equal(t, domain.PaymentPaid, ack.PaymentStatus)
	assert.Equal(t, domain.OrderPaid, f.order(t, d.Order.ID).Status)
}

func TestHandle_FailedReleasesInventory(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	d := f.checkout(t, 3)
	require.Equal(t, 7, f.available(t))

	ack, err := f.proc.Handle(ctx, callback(t, d.Payment.ReferenceID, "failed", nil), "")
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, domain.PaymentFailed, ack.PaymentStatus)
	assert.Equal(t, domain.OrderExpired, ack.OrderStatus)

	assert.Equal(t, 10, f.available(t))
	assert.Equal(t, 1, f.notifier.count(domain.CategoryPaymentFailed))
}

func TestHandle_PendingIsDuplicate(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	d := f.checkout(t, 1)

	ack, err := f.proc.Handle(context.Background(), callback(t, d.Payment.ReferenceID, "SETTLING", nil), "")
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, ack.Result)
	assert.Equal(t, domain.OrderAwaitingPayment, f.order(t, d.Order.ID).Status)
}

func TestHandle_UnknownReference(t *testing.T) {
	f := newFixture(t, 72*time.Hour)

	ack, err := f.proc.Handle(context.Background(), callback(t, "PAY-20260101-00000", "PAID", nil), "")
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, ResultIgnored, ack.Result)
}

func TestHandle_StripeForeignEventAcked(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := payment.NewStripe(payment.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_test"})
	require.NoError(t, err)
	proc := New(memstore.New(), gw, nil, &recordingNotifier{}, log)

	body, err := json.Marshal(map[string]any{
		"id":          "evt_pi_1",
		"object":      "event",
		"type":        "payment_intent.succeeded",
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": map[string]any{"id": "pi_1", "object": "payment_intent"}},
	})
	require.NoError(t, err)
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   body,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	ack, err := proc.Handle(context.Background(), body, signed.Header)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, ResultIgnored, ack.Result)

	ack, err = proc.Handle(context.Background(), body, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrAuthentication)
	assert.False(t, ack.Success)
	assert.Equal(t, ResultRejected, ack.Result)
}

func TestHandle_Malformed(t *testing.T) {
	f := newFixture(t, 72*time.Hour)

	ack, err := f.proc.Handle(context.Background(), []byte(`{"status":"PAID"}`), "")
	require.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, apperr.Authentication)
	require.NotNil(t, ack)
	assert.False(t, ack.Success)
}

func TestHandle_PaidAfterExpiry(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	d := f.checkout(t, 1)

	_, err := f.orders.Transition(ctx, d.Order.ID, domain.OrderExpired, orders.TransitionContext{Reason: "expired"})
	require.NoError(t, err)

	ack, err := f.proc.Handle(ctx, callback(t, d.Payment.ReferenceID, "PAID", nil), "")
	require.NoError(t, err)
	assert.False(t, ack.Success)
	assert.Equal(t, ResultFailed, ack.Result)
	assert.Equal(t, domain.OrderExpired, f.order(t, d.Order.ID).Status)
	assert.Equal(t, 10, f.available(t))
}

func TestHandle_ReminderSkippedForSoonEvents(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	d := f.checkout(t, 1)

	_, err := f.proc.Handle(context.Background(), callback(t, d.Payment.ReferenceID, "PAID", nil), "")
	require.NoError(t, err)
	assert.Empty(t, f.notifier.scheduled)
}

func TestSimulate(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	d := f.checkout(t, 1)

	_, err := f.proc.Simulate(ctx, d.Payment.ReferenceID, "PENDING", "")
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.proc.Simulate(ctx, "PAY-unknown", "PAID", "")
	require.ErrorIs(t, err, ErrPaymentNotFound)

	ack, err := f.proc.Simulate(ctx, d.Payment.ReferenceID, "PAID", "OVO")
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, domain.OrderPaid, ack.OrderStatus)

	pay, err := f.store.Payments().GetByReference(ctx, d.Payment.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEWallet, pay.Channel)
}

type stripeLike struct{ payment.Gateway }

func TestSimulate_NotMock(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	f.proc.gateway = stripeLike{Gateway: f.mock}

	_, err := f.proc.Simulate(context.Background(), "PAY-x", "PAID", "")
	require.ErrorIs(t, err, ErrSimulationUnsupported)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	d := f.checkout(t, 1)

	ack, err := f.proc.Reconcile(ctx, d.Payment.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, ack.Result)
	assert.Equal(t, domain.OrderAwaitingPayment, ack.OrderStatus)

	// settled at the provider, callback lost
	_, err = f.mock.Simulate(d.Payment.ReferenceID, "PAID", "QRIS")
	require.NoError(t, err)

	ack, err = f.proc.Reconcile(ctx, d.Payment.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, ack.Result)
	assert.Equal(t, domain.OrderPaid, ack.OrderStatus)

	_, err = f.proc.Reconcile(ctx, "PAY-unknown")
	require.True(t, errors.Is(err, ErrPaymentNotFound))
}
