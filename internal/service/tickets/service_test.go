package tickets

import (
	"context"
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
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	mu      sync.Mutex
	failAt  int
	calls   int
	removed []uuid.UUID
}

func (r *fakeRenderer) Render(_ context.Context, doc render.Document) (render.Artifacts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.failAt > 0 && r.calls == r.failAt {
		return render.Artifacts{}, errors.New("disk full")
	}

	return render.Artifacts{
		QRCodeURL: "/artifacts/qrcodes/qr-" + doc.TicketID.String() + ".png",
		PDFURL:    "/artifacts/tickets/ticket-" + doc.TicketID.String() + ".pdf",
	}, nil
}

func (r *fakeRenderer) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

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

type fixture struct {
	svc      *Service
	store    *memstore.Store
	renderer *fakeRenderer
	notifier *recordingNotifier
	event    *domain.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	e := &domain.Event{
		ID:               uuid.New(),
		Title:            "Jazz Night",
		Location:         "Hall A",
		StartsAt:         time.Now().Add(72 * time.Hour),
		EndsAt:           time.Now().Add(75 * time.Hour),
		Price:            decimal.NewFromInt(150000),
		Quota:            1000,
		AvailableTickets: 1000,
		Status:           domain.EventPublished,
	}
	require.NoError(t, store.Events().Create(context.Background(), e))

	f := &fixture{
		store:    store,
		renderer: &fakeRenderer{},
		notifier: &recordingNotifier{},
		event:    e,
	}
	f.svc = New(store, f.renderer, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return f
}

func (f *fixture) order(t *testing.T, status domain.OrderStatus, qty int) *domain.Order {
	t.Helper()

	o := &domain.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-20261019-" + uuid.NewString()[:4],
		InvoiceNumber: "INV-20261019-" + uuid.NewString()[:4],
		BuyerID:       "buyer-1",
		BuyerEmail:    "buyer@example.com",
		EventID:       f.event.ID,
		Quantity:      qty,
		UnitPrice:     f.event.Price,
		TotalAmount:   domain.Total(qty, f.event.Price),
		Status:        status,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	require.NoError(t, f.store.Orders().Create(context.Background(), o))

	return o
}

func TestSeatLabel(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "A1"},
		{25, "A26"},
		{26, "B1"},
		{51, "B26"},
		{675, "Z26"},
		{676, "AA1"},
		{702, "AB1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeatLabel(tt.n), "seat %d", tt.n)
	}
}

func TestIssueForOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderPaid, 3)

	ts, err := f.svc.IssueForOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, ts, 3)

	seats := []string{ts[0].SeatNumber, ts[1].SeatNumber, ts[2].SeatNumber}
	assert.ElementsMatch(t, []string{"A1", "A2", "A3"}, seats)
	for _, tk := range ts {
		assert.Equal(t, domain.TicketActive, tk.Status)
		assert.NotEmpty(t, tk.QRCodeURL)
		assert.NotEmpty(t, tk.PDFURL)
		assert.Contains(t, tk.TicketNumber, "TCK-"+o.OrderNumber+"-")
	}

	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, domain.CategoryTicketGenerated, f.notifier.msgs[0].Category)
	assert.Equal(t, "buyer@example.com", f.notifier.msgs[0].Email)

	// a second order continues the event's seat sequence
	o2 := f.order(t, domain.OrderPaid, 1)
	ts2, err := f.svc.IssueForOrder(ctx, o2.ID)
	require.NoError(t, err)
	require.Len(t, ts2, 1)
	assert.Equal(t, "A4", ts2[0].SeatNumber)
}

func TestIssueForOrder_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderPaid, 2)

	first, err := f.svc.IssueForOrder(ctx, o.ID)
	require.NoError(t, err)

	again, err := f.svc.IssueForOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, again, 2)

	ids := []uuid.UUID{again[0].ID, again[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first[0].ID, first[1].ID}, ids)
	assert.Len(t, f.notifier.msgs, 1, "re-issuing does not notify twice")
}

func TestIssueForOrder_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderPaid, 2)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.IssueForOrder(ctx, o.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := f.store.Tickets().CountByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIssueForOrder_RequiresPaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderAwaitingPayment, 1)

	_, err := f.svc.IssueForOrder(ctx, o.ID)
	require.ErrorIs(t, err, ErrOrderNotPaid)
	assert.ErrorIs(t, err, apperr.InvalidState)

	_, err = f.svc.IssueForOrder(ctx, uuid.New())
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestIssueForOrder_RenderFailureRemovesTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderPaid, 3)
	f.renderer.failAt = 2

	_, err := f.svc.IssueForOrder(ctx, o.ID)
	require.ErrorIs(t, err, ErrRenderingFailed)

	n, err := f.store.Tickets().CountByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.renderer.removed, 3)
	assert.Empty(t, f.notifier.msgs)

	// a later retry issues the tickets
	f.renderer.failAt = 0
	ts, err := f.svc.IssueForOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, ts, 3)
}

func TestCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderPaid, 1)

	ts, err := f.svc.IssueForOrder(ctx, o.ID)
	require.NoError(t, err)
	number := ts[0].TicketNumber

	v, err := f.svc.Validate(ctx, number)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	_, err = f.svc.CheckIn(ctx, number, "")
	require.ErrorIs(t, err, ErrMissingOperator)

	tk, err := f.svc.CheckIn(ctx, number, "gate-1")
	require.NoError(t, err)
	assert.True(t, tk.CheckedIn)
	assert.Equal(t, domain.TicketUsed, tk.Status)
	assert.Equal(t, "gate-1", tk.CheckedInBy)

	_, err = f.svc.CheckIn(ctx, number, "gate-2")
	require.ErrorIs(t, err, ErrAlreadyCheckedIn)

	v, err = f.svc.Validate(ctx, number)
	require.NoError(t, err)
	assert.False(t, v.Valid)

	_, err = f.svc.CheckIn(ctx, "TCK-unknown", "gate-1")
	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestCheckIn_CancelledTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderPaid, 1)

	ts, err := f.svc.IssueForOrder(ctx, o.ID)
	require.NoError(t, err)

	n, err := f.svc.CancelBatch(ctx, []uuid.UUID{ts[0].ID}, "event moved")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.svc.CheckIn(ctx, ts[0].TicketNumber, "gate-1")
	require.ErrorIs(t, err, ErrTicketNotActive)
}

func TestCancelBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, domain.OrderPaid, 3)

	ts, err := f.svc.IssueForOrder(ctx, o.ID)
	require.NoError(t, err)

	_, err = f.svc.CheckIn(ctx, ts[0].TicketNumber, "gate-1")
	require.NoError(t, err)

	n, err := f.svc.CancelBatch(ctx, []uuid.UUID{ts[0].ID, ts[1].ID, ts[2].ID}, "refund")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "used tickets are skipped")

	_, err = f.svc.CancelBatch(ctx, nil, "x")
	require.ErrorIs(t, err, ErrInvalidBatch)

	_, err = f.svc.CancelBatch(ctx, make([]uuid.UUID, 501), "x")
	require.ErrorIs(t, err, ErrInvalidBatch)
}
