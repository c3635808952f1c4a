package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/apperr"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/render"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/repository/memstore"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/service/inventory"
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/service/payment"
	"github.com/kirinyoku/tix-checkout/internal/service/tickets"
	"github.com/kirinyoku/tix-checkout/internal/uow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyGateway struct {
	*payment.Mock
	failCreate atomic.Bool
	expired    atomic.Int32
}

func (g *flakyGateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if g.failCreate.Load() {
		return nil, payment.ErrProvider
	}
	return g.Mock.CreateIntent(ctx, req)
}

func (g *flakyGateway) Expire(ctx context.Context, p *domain.Payment) error {
	g.expired.Add(1)
	return g.Mock.Expire(ctx, p)
}

type stubRenderer struct{ fail atomic.Bool }

func (r *stubRenderer) Render(_ context.Context, doc render.Document) (render.Artifacts, error) {
	if r.fail.Load() {
		return render.Artifacts{}, errors.New("render failed")
	}
	return render.Artifacts{QRCodeURL: "qr/" + doc.TicketNumber, PDFURL: "pdf/" + doc.TicketNumber}, nil
}

func (r *stubRenderer) Remove(uuid.UUID) {}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) categories() []domain.NotificationCategory {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotificationCategory, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Category)
	}
	return out
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (redisrepo.Decision, error) {
	return redisrepo.Decision{Allowed: false, Current: 6, RetryAfter: 30 * time.Second}, nil
}

type fixture struct {
	svc      *Service
	store    *memstore.Store
	gateway  *flakyGateway
	renderer *stubRenderer
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	f := &fixture{
		store:    store,
		gateway:  &flakyGateway{Mock: payment.NewMock(payment.MockConfig{AppURL: "http://app.test"})},
		renderer: &stubRenderer{},
		notifier: &recordingNotifier{},
	}

	f.svc = New(Deps{
		Store:    store,
		Ledger:   inventory.New(store, nil, nil, log, inventory.Config{}),
		Gateway:  f.gateway,
		Tickets:  tickets.New(store, f.renderer, f.notifier, log),
		Notifier: f.notifier,
		Log:      log,
	}, Config{})

	return f
}

func (f *fixture) event(t *testing.T, quota int, mutate ...func(*domain.Event)) *domain.Event {
	t.Helper()

	e := &domain.Event{
		ID:               uuid.New(),
		Title:            "Jazz Night",
		Location:         "Hall A",
		StartsAt:         time.Now().Add(72 * time.Hour),
		EndsAt:           time.Now().Add(75 * time.Hour),
		Price:            decimal.NewFromInt(150000),
		Quota:            quota,
		AvailableTickets: quota,
		Status:           domain.EventPublished,
	}
	for _, m := range mutate {
		m(e)
	}
	require.NoError(t, f.store.Events().Create(context.Background(), e))

	return e
}

func (f *fixture) available(t *testing.T, eventID uuid.UUID) int {
	t.Helper()

	e, err := f.store.Events().Get(context.Background(), eventID)
	require.NoError(t, err)
	return e.AvailableTickets
}

func (f *fixture) outboxTypes(t *testing.T) []string {
	t.Helper()

	evs, err := f.store.Outbox().ClaimPending(context.Background(), 0)
	require.NoError(t, err)
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) create(t *testing.T, eventID uuid.UUID, qty int) *domain.OrderDetails {
	t.Helper()

	d, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:    "buyer-1",
		BuyerEmail: "buyer@example.com",
		EventID:    eventID,
		Quantity:   qty,
		Method:     "BCA",
	})
	require.NoError(t, err)
	return d
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, 10)

	d := f.create(t, e.ID, 3)

	assert.Equal(t, domain.OrderAwaitingPayment, d.Order.Status)
	assert.True(t, decimal.NewFromInt(450000).Equal(d.Order.TotalAmount))
	assert.Regexp(t, `^ORD-\d{8}-\d{4}$`, d.Order.OrderNumber)
	assert.Regexp(t, `^INV-\d{8}-\d{4}$`, d.Order.InvoiceNumber)
	assert.WithinDuration(t, time.Now().Add(time.Hour), d.Order.ExpiresAt, time.Minute)

	require.NotNil(t, d.Payment)
	assert.Equal(t, domain.PaymentPending, d.Payment.Status)
	assert.Equal(t, domain.ProviderMock, d.Payment.Provider)
	assert.Regexp(t, `^PAY-\d{8}-\d{10}$`, d.Payment.ReferenceID)
	assert.Contains(t, d.Payment.RedirectURL, "http://app.test/mock-payment/"+d.Payment.ReferenceID)
	assert.True(t, d.Order.TotalAmount.Equal(d.Payment.Amount))

	assert.Equal(t, 7, f.available(t, e.ID))
	assert.Equal(t, []string{"order.created", "order.awaiting_payment"}, f.outboxTypes(t))
	assert.Equal(t, []domain.NotificationCategory{domain.CategoryOrderCreated}, f.notifier.categories())
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.event(t, 2)
	draft := f.event(t, 10, func(e *domain.Event) { e.Status = domain.EventDraft })
	started := f.event(t, 10, func(e *domain.Event) { e.StartsAt = time.Now().Add(-time.Minute) })

	tests := []struct {
		name string
		in   CreateOrderInput
		want error
		kind error
	}{
		{"zero quantity", CreateOrderInput{BuyerID: "b", EventID: open.ID, Quantity: 0}, ErrInvalidQuantity, apperr.Validation},
		{"too many", CreateOrderInput{BuyerID: "b", EventID: open.ID, Quantity: 11}, ErrInvalidQuantity, apperr.Validation},
		{"no buyer", CreateOrderInput{EventID: open.ID, Quantity: 1}, ErrMissingBuyer, apperr.Validation},
		{"unknown event", CreateOrderInput{BuyerID: "b", EventID: uuid.New(), Quantity: 1}, ErrEventNotFound, apperr.NotFound},
		{"draft event", CreateOrderInput{BuyerID: "b", EventID: draft.ID, Quantity: 1}, ErrEventNotBookable, apperr.InvalidState},
		{"started event", CreateOrderInput{BuyerID: "b", EventID: started.ID, Quantity: 1}, ErrEventNotBookable, apperr.InvalidState},
		{"sold out", CreateOrderInput{BuyerID: "b", EventID: open.ID, Quantity: 3}, ErrInsufficientInventory, apperr.InvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	assert.Equal(t, 2, f.available(t, open.ID))
	assert.Empty(t, f.outboxTypes(t))
}

func TestCreateOrder_GatewayFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 5)
	f.gateway.failCreate.Store(true)

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{BuyerID: "buyer-1", EventID: e.ID, Quantity: 2})
	require.ErrorIs(t, err, ErrPaymentCreation)
	assert.ErrorIs(t, err, apperr.Unavailable)

	assert.Equal(t, 5, f.available(t, e.ID))

	list, err := f.svc.ListByBuyer(ctx, repository.OrderFilter{BuyerID: "buyer-1"})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, []string{"order.created", "order.discarded"}, f.outboxTypes(t))
	assert.Empty(t, f.notifier.categories())
}

func TestCreateOrder_RecordingFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 5)

	// the first Do (reservation) commits, the second (payment) fails
	f.svc.store = &failNth{Store: f.store, n: 2}

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{BuyerID: "buyer-1", EventID: e.ID, Quantity: 2})
	require.ErrorIs(t, err, ErrPaymentCreation)

	assert.Equal(t, 5, f.available(t, e.ID))
	assert.Equal(t, int32(1), f.gateway.expired.Load())
}

func TestCreateOrder_RegeneratesTakenReference(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, 5)

	const taken = "PAY-20261019-0000000042"
	refs := []string{taken, taken, "PAY-20261019-0000000043"}
	var calls int
	f.svc.newRef = func(time.Time) string {
		ref := refs[min(calls, len(refs)-1)]
		calls++
		return ref
	}

	first := f.create(t, e.ID, 1)
	assert.Equal(t, taken, first.Payment.ReferenceID)

	second := f.create(t, e.ID, 1)
	assert.Equal(t, "PAY-20261019-0000000043", second.Payment.ReferenceID)
	assert.Equal(t, domain.OrderAwaitingPayment, second.Order.Status)
	assert.Equal(t, 3, f.available(t, e.ID))
}

func TestCreateOrder_NoFreeReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 5)

	const taken = "PAY-20261019-0000000042"
	f.svc.newRef = func(time.Time) string { return taken }
	f.create(t, e.ID, 1)

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{BuyerID: "buyer-2", EventID: e.ID, Quantity: 2})
	require.ErrorIs(t, err, ErrPaymentCreation)
	assert.Equal(t, 4, f.available(t, e.ID), "the failed order returns its tickets")
}

func TestCreateOrder_RateLimited(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, 5)
	f.svc.limiter = denyLimiter{}

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{BuyerID: "buyer-1", EventID: e.ID, Quantity: 1})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, apperr.RateLimited)
	assert.Equal(t, 5, f.available(t, e.ID))
}

func TestCreateOrder_NoOversell(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, 5)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
				BuyerID:  uuid.NewString(),
				EventID:  e.ID,
				Quantity: 1,
			})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientInventory, "attempt %d", i)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Zero(t, f.available(t, e.ID))
}

func TestTransition_Edges(t *testing.T) {
	tests := []struct {
		from, to domain.OrderStatus
		ok       bool
	}{
		{domain.OrderPending, domain.OrderAwaitingPayment, true},
		{domain.OrderPending, domain.OrderCancelled, true},
		{domain.OrderPending, domain.OrderExpired, true},
		{domain.OrderPending, domain.OrderPaid, false},
		{domain.OrderAwaitingPayment, domain.OrderPaid, true},
		{domain.OrderAwaitingPayment, domain.OrderPending, false},
		{domain.OrderPaid, domain.OrderCancelled, false},
		{domain.OrderPaid, domain.OrderExpired, false},
		{domain.OrderExpired, domain.OrderPaid, false},
		{domain.OrderCancelled, domain.OrderAwaitingPayment, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransition_PaidIssuesTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 2)

	o, err := f.svc.Transition(ctx, d.Order.ID, domain.OrderPaid, TransitionContext{Actor: "webhook"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, o.Status)
	require.NotNil(t, o.PaidAt)

	n, err := f.store.Tickets().CountByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, f.notifier.categories(), domain.CategoryPaymentSuccess)
	assert.Contains(t, f.notifier.categories(), domain.CategoryTicketGenerated)

	successes := func() int {
		k := 0
		for _, c := range f.notifier.categories() {
			if c == domain.CategoryPaymentSuccess {
				k++
			}
		}
		return k
	}
	require.Equal(t, 1, successes())

	// same status again is a no-op
	again, err := f.svc.Transition(ctx, d.Order.ID, domain.OrderPaid, TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, again.Status)

	n, err = f.store.Tickets().CountByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "no second ticket batch")
	assert.Equal(t, 1, successes(), "no second confirmation")

	_, err = f.svc.Transition(ctx, d.Order.ID, domain.OrderExpired, TransitionContext{})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, apperr.InvalidState)
	assert.Equal(t, 8, f.available(t, e.ID))
}

func TestTransition_SideEffectFailureKeepsCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 1)
	f.renderer.fail.Store(true)

	o, err := f.svc.Transition(ctx, d.Order.ID, domain.OrderPaid, TransitionContext{})
	var side *SideEffectError
	require.ErrorAs(t, err, &side)
	assert.ErrorIs(t, err, tickets.ErrRenderingFailed)
	require.NotNil(t, o)
	assert.Equal(t, domain.OrderPaid, o.Status)

	stored, err := f.store.Orders().Get(ctx, d.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, stored.Status)
}

func TestTransition_ExpiryReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 4)
	require.Equal(t, 6, f.available(t, e.ID))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := f.svc.Transition(ctx, d.Order.ID, domain.OrderExpired, TransitionContext{Reason: "expired"})
			assert.NoError(t, err)
			assert.Equal(t, domain.OrderExpired, o.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, f.available(t, e.ID))

	stored, err := f.store.Orders().Get(ctx, d.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "expired", stored.CancelReason)
	assert.Equal(t, []string{"order.created", "order.awaiting_payment", "order.expired"}, f.outboxTypes(t))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 3)

	_, err := f.svc.Cancel(ctx, d.Order.ID, "someone-else")
	require.ErrorIs(t, err, ErrForbidden)

	o, err := f.svc.Cancel(ctx, d.Order.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, o.Status)
	assert.Equal(t, 10, f.available(t, e.ID))
	assert.Equal(t, int32(1), f.gateway.expired.Load())
	assert.Contains(t, f.notifier.categories(), domain.CategoryOrderCancelled)

	_, err = f.svc.Cancel(ctx, d.Order.ID, "buyer-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 10, f.available(t, e.ID))
}

func TestCancel_PaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 1)

	_, err := f.svc.Transition(ctx, d.Order.ID, domain.OrderPaid, TransitionContext{})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, d.Order.ID, "buyer-1")
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestCancel_PaymentSettledBeforeLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 2)

	// the payment settles after Cancel's unlocked read but before its
	// transaction takes the order lock
	f.svc.store = &beforeDo{Store: f.store, hook: func() {
		paidAt := time.Now()
		_, err := f.store.Payments().UpdateStatus(ctx, repository.PaymentStatusUpdate{
			ID: d.Payment.ID, Status: domain.PaymentPaid, PaidAt: &paidAt,
		})
		require.NoError(t, err)
	}}

	_, err := f.svc.Cancel(ctx, d.Order.ID, "buyer-1")
	require.ErrorIs(t, err, ErrAlreadyPaid)

	stored, err := f.store.Orders().Get(ctx, d.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderAwaitingPayment, stored.Status)
	assert.Equal(t, 8, f.available(t, e.ID))
	assert.Zero(t, f.gateway.expired.Load())
	assert.NotContains(t, f.notifier.categories(), domain.CategoryOrderCancelled)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 2)

	got, err := f.svc.Get(ctx, d.Order.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, d.Order.ID, got.Order.ID)
	require.NotNil(t, got.Payment)
	assert.Equal(t, d.Payment.ReferenceID, got.Payment.ReferenceID)
	assert.Empty(t, got.Tickets)

	_, err = f.svc.Get(ctx, d.Order.ID, "buyer-2")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Get(ctx, uuid.New(), "buyer-1")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestResendConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, 10)
	d := f.create(t, e.ID, 1)

	err := f.svc.ResendConfirmation(ctx, d.Order.ID, "buyer-1")
	require.ErrorIs(t, err, ErrOrderNotPaid)

	_, err = f.svc.Transition(ctx, d.Order.ID, domain.OrderPaid, TransitionContext{})
	require.NoError(t, err)

	before := len(f.notifier.categories())
	require.NoError(t, f.svc.ResendConfirmation(ctx, d.Order.ID, "buyer-1"))

	cats := f.notifier.categories()
	require.Len(t, cats, before+1)
	assert.Equal(t, domain.CategoryPaymentSuccess, cats[len(cats)-1])
}

// beforeDo runs hook once, right before the first unit of work.
type beforeDo struct {
	*memstore.Store
	hook func()
	once sync.Once
}

func (s *beforeDo) Do(ctx context.Context, fn uow.TxFunc) error {
	s.once.Do(s.hook)
	return s.Store.Do(ctx, fn)
}

// failNth fails the n-th unit of work.
type failNth struct {
	*memstore.Store
	n     int
	calls atomic.Int32
}

func (s *failNth) Do(ctx context.Context, fn uow.TxFunc) error {
	if int(s.calls.Add(1)) == s.n {
		s.Store.FailCommit = errors.New("connection reset")
	}
	return s.Store.Do(ctx, fn)
}
