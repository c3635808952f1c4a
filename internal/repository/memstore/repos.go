package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
)

func sortByRank[T any](st *state, items []T, id func(T) uuid.UUID, desc bool) {
	slices.SortFunc(items, func(a, b T) int {
		ra, rb := st.rank[id(a)], st.rank[id(b)]
		if desc {
			ra, rb = rb, ra
		}
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		}
		return 0
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// events

type eventRepo struct{ *repos }

func (r *eventRepo) Create(_ context.Context, e *domain.Event) error {
	st, done := r.acquire()
	defer done()

	if _, ok := st.events[e.ID]; ok {
		return fmt.Errorf("memstore.Events.Create:%w", repository.ErrConflict)
	}
	e.CreatedAt = time.Now()
	e.TicketSeq = 0
	st.events[e.ID] = *e
	st.track(e.ID)
	return nil
}

func (r *eventRepo) Get(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	st, done := r.acquire()
	defer done()

	e, ok := st.events[id]
	if !ok {
		return nil, fmt.Errorf("memstore.Events.Get:%w", repository.ErrNotFound)
	}
	return &e, nil
}

func (r *eventRepo) SetStatus(_ context.Context, id uuid.UUID, status domain.EventStatus) error {
	st, done := r.acquire()
	defer done()

	e, ok := st.events[id]
	if !ok {
		return fmt.Errorf("memstore.Events.SetStatus:%w", repository.ErrNotFound)
	}
	e.Status = status
	st.events[id] = e
	return nil
}

func (r *eventRepo) Reserve(_ context.Context, id uuid.UUID, q int) (int, error) {
	st, done := r.acquire()
	defer done()

	e, ok := st.events[id]
	if !ok {
		return 0, fmt.Errorf("memstore.Events.Reserve:%w", repository.ErrNotFound)
	}
	if e.AvailableTickets < q {
		return 0, fmt.Errorf("memstore.Events.Reserve:%w", repository.ErrInsufficientInventory)
	}
	e.AvailableTickets -= q
	st.events[id] = e
	return e.AvailableTickets, nil
}

func (r *eventRepo) Release(_ context.Context, id uuid.UUID, q int) (int, error) {
	st, done := r.acquire()
	defer done()

	e, ok := st.events[id]
	if !ok {
		return 0, fmt.Errorf("memstore.Events.Release:%w", repository.ErrNotFound)
	}
	e.AvailableTickets = min(e.Quota, e.AvailableTickets+q)
	st.events[id] = e
	return e.AvailableTickets, nil
}

func (r *eventRepo) AllocateSeats(_ context.Context, id uuid.UUID, q int) (int, error) {
	st, done := r.acquire()
	defer done()

	e, ok := st.events[id]
	if !ok {
		return 0, fmt.Errorf("memstore.Events.AllocateSeats:%w", repository.ErrNotFound)
	}
	first := e.TicketSeq
	e.TicketSeq += q
	st.events[id] = e
	return first, nil
}

// orders

type orderRepo struct{ *repos }

func (r *orderRepo) Create(_ context.Context, o *domain.Order) error {
	st, done := r.acquire()
	defer done()

	for _, other := range st.orders {
		if other.ID == o.ID || other.OrderNumber == o.OrderNumber || other.InvoiceNumber == o.InvoiceNumber {
			return fmt.Errorf("memstore.Orders.Create:%w", repository.ErrConflict)
		}
	}
	if _, ok := st.events[o.EventID]; !ok {
		return fmt.Errorf("memstore.Orders.Create: unknown event %s", o.EventID)
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	st.orders[o.ID] = *o
	st.track(o.ID)
	return nil
}

func (r *orderRepo) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	st, done := r.acquire()
	defer done()

	o, ok := st.orders[id]
	if !ok {
		return nil, fmt.Errorf("memstore.Orders.Get:%w", repository.ErrNotFound)
	}
	return &o, nil
}

func (r *orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepo) UpdateStatus(_ context.Context, u repository.OrderStatusUpdate) (*domain.Order, error) {
	st, done := r.acquire()
	defer done()

	o, ok := st.orders[u.ID]
	if !ok {
		return nil, fmt.Errorf("memstore.Orders.UpdateStatus:%w", repository.ErrNotFound)
	}
	if o.Status != u.From {
		return nil, fmt.Errorf("memstore.Orders.UpdateStatus:%w", repository.ErrStaleState)
	}
	o.Status = u.To
	at := u.At
	switch u.To {
	case domain.OrderPaid:
		o.PaidAt = &at
	case domain.OrderCancelled, domain.OrderExpired:
		o.CancelledAt = &at
		o.CancelReason = u.Reason
	}
	o.UpdatedAt = at
	st.orders[u.ID] = o
	return &o, nil
}

func (r *orderRepo) DeletePending(_ context.Context, id uuid.UUID) (bool, error) {
	st, done := r.acquire()
	defer done()

	o, ok := st.orders[id]
	if !ok || o.Status != domain.OrderPending {
		return false, nil
	}
	delete(st.orders, id)
	for pid, p := range st.payments {
		if p.OrderID == id {
			delete(st.payments, pid)
		}
	}
	return true, nil
}

func (r *orderRepo) filter(st *state, keep func(domain.Order) bool) []domain.Order {
	var out []domain.Order
	for _, o := range st.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (r *orderRepo) ListByBuyer(_ context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	st, done := r.acquire()
	defer done()

	out := r.filter(st, func(o domain.Order) bool {
		return o.BuyerID == f.BuyerID && (f.Status == "" || o.Status == f.Status)
	})
	sortByRank(st, out, func(o domain.Order) uuid.UUID { return o.ID }, true)
	return page(out, f.Limit, f.Offset), nil
}

func paymentStatusOf(st *state, orderID uuid.UUID) (domain.PaymentStatus, bool) {
	for _, p := range st.payments {
		if p.OrderID == orderID {
			return p.Status, true
		}
	}
	return "", false
}

func (r *orderRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Order, error) {
	st, done := r.acquire()
	defer done()

	out := r.filter(st, func(o domain.Order) bool {
		if o.Status != domain.OrderPending && o.Status != domain.OrderAwaitingPayment {
			return false
		}
		if !o.ExpiresAt.Before(now) {
			return false
		}
		ps, ok := paymentStatusOf(st, o.ID)
		return !ok || ps != domain.PaymentPaid
	})
	sortByRank(st, out, func(o domain.Order) uuid.UUID { return o.ID }, false)
	return page(out, limit, 0), nil
}

func (r *orderRepo) ListPaidWithoutTickets(_ context.Context, limit int) ([]domain.Order, error) {
	st, done := r.acquire()
	defer done()

	out := r.filter(st, func(o domain.Order) bool {
		if o.Status != domain.OrderPaid {
			return false
		}
		for _, t := range st.tickets {
			if t.OrderID == o.ID {
				return false
			}
		}
		return true
	})
	sortByRank(st, out, func(o domain.Order) uuid.UUID { return o.ID }, false)
	return page(out, limit, 0), nil
}

func (r *orderRepo) ListAwaitingWithPaidPayment(_ context.Context, limit int) ([]domain.Order, error) {
	st, done := r.acquire()
	defer done()

	out := r.filter(st, func(o domain.Order) bool {
		if o.Status != domain.OrderPending && o.Status != domain.OrderAwaitingPayment {
			return false
		}
		ps, ok := paymentStatusOf(st, o.ID)
		return ok && ps == domain.PaymentPaid
	})
	sortByRank(st, out, func(o domain.Order) uuid.UUID { return o.ID }, false)
	return page(out, limit, 0), nil
}

// payments

type paymentRepo struct{ *repos }

func (r *paymentRepo) Create(_ context.Context, p *domain.Payment) error {
	st, done := r.acquire()
	defer done()

	for _, other := range st.payments {
		if other.ID == p.ID || other.OrderID == p.OrderID || other.ReferenceID == p.ReferenceID {
			return fmt.Errorf("memstore.Payments.Create:%w", repository.ErrConflict)
		}
	}
	if p.Metadata == nil {
		p.Metadata = domain.Metadata{}
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	stored := *p
	stored.Metadata = maps.Clone(p.Metadata)
	st.payments[p.ID] = stored
	st.track(p.ID)
	return nil
}

func (r *paymentRepo) find(st *state, match func(domain.Payment) bool) (*domain.Payment, bool) {
	for _, p := range st.payments {
		if match(p) {
			cp := p
			cp.Metadata = maps.Clone(p.Metadata)
			return &cp, true
		}
	}
	return nil, false
}

func (r *paymentRepo) GetByReference(_ context.Context, referenceID string) (*domain.Payment, error) {
	st, done := r.acquire()
	defer done()

	p, ok := r.find(st, func(p domain.Payment) bool { return p.ReferenceID == referenceID })
	if !ok {
		return nil, fmt.Errorf("memstore.Payments.GetByReference:%w", repository.ErrNotFound)
	}
	return p, nil
}

func (r *paymentRepo) GetByOrder(_ context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	st, done := r.acquire()
	defer done()

	p, ok := r.find(st, func(p domain.Payment) bool { return p.OrderID == orderID })
	if !ok {
		return nil, fmt.Errorf("memstore.Payments.GetByOrder:%w", repository.ErrNotFound)
	}
	return p, nil
}

func (r *paymentRepo) UpdateStatus(_ context.Context, u repository.PaymentStatusUpdate) (*domain.Payment, error) {
	st, done := r.acquire()
	defer done()

	p, ok := st.payments[u.ID]
	if !ok {
		return nil, fmt.Errorf("memstore.Payments.UpdateStatus:%w", repository.ErrNotFound)
	}
	if p.Status != domain.PaymentPending {
		return nil, fmt.Errorf("memstore.Payments.UpdateStatus:%w", repository.ErrStaleState)
	}
	p.Status = u.Status
	if u.Channel != "" {
		p.Channel = u.Channel
	}
	if u.ChannelCode != "" {
		p.ChannelCode = u.ChannelCode
	}
	if u.PaidAt != nil {
		p.PaidAt = u.PaidAt
	}
	md := maps.Clone(p.Metadata)
	if md == nil {
		md = domain.Metadata{}
	}
	maps.Copy(md, u.Metadata)
	p.Metadata = md
	p.UpdatedAt = time.Now()
	st.payments[u.ID] = p

	out := p
	out.Metadata = maps.Clone(md)
	return &out, nil
}

// tickets

type ticketRepo struct{ *repos }

func (r *ticketRepo) CreateBatch(_ context.Context, tickets []domain.Ticket) error {
	st, done := r.acquire()
	defer done()

	for i, t := range tickets {
		for _, other := range st.tickets {
			if other.TicketNumber == t.TicketNumber ||
				(other.EventID == t.EventID && other.SeatNumber == t.SeatNumber) {
				return fmt.Errorf("memstore.Tickets.CreateBatch:%w", repository.ErrConflict)
			}
		}
		for _, prev := range tickets[:i] {
			if prev.TicketNumber == t.TicketNumber || prev.SeatNumber == t.SeatNumber {
				return fmt.Errorf("memstore.Tickets.CreateBatch:%w", repository.ErrConflict)
			}
		}
	}

	now := time.Now()
	for _, t := range tickets {
		t.CreatedAt, t.UpdatedAt = now, now
		st.tickets[t.ID] = t
		st.track(t.ID)
	}
	return nil
}

func (r *ticketRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]domain.Ticket, error) {
	st, done := r.acquire()
	defer done()

	var out []domain.Ticket
	for _, t := range st.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	sortByRank(st, out, func(t domain.Ticket) uuid.UUID { return t.ID }, false)
	return out, nil
}

func (r *ticketRepo) CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	ts, err := r.ListByOrder(ctx, orderID)
	return len(ts), err
}

func (r *ticketRepo) GetByNumber(_ context.Context, number string) (*domain.Ticket, error) {
	st, done := r.acquire()
	defer done()

	for _, t := range st.tickets {
		if t.TicketNumber == number {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("memstore.Tickets.GetByNumber:%w", repository.ErrNotFound)
}

func (r *ticketRepo) SetArtifacts(_ context.Context, id uuid.UUID, qrURL, pdfURL string) error {
	st, done := r.acquire()
	defer done()

	t, ok := st.tickets[id]
	if !ok {
		return fmt.Errorf("memstore.Tickets.SetArtifacts:%w", repository.ErrNotFound)
	}
	t.QRCodeURL, t.PDFURL = qrURL, pdfURL
	st.tickets[id] = t
	return nil
}

func (r *ticketRepo) DeleteByIDs(_ context.Context, ids []uuid.UUID) error {
	st, done := r.acquire()
	defer done()

	for _, id := range ids {
		delete(st.tickets, id)
	}
	return nil
}

func (r *ticketRepo) CancelByOrder(_ context.Context, orderID uuid.UUID) (int64, error) {
	st, done := r.acquire()
	defer done()

	var n int64
	for id, t := range st.tickets {
		if t.OrderID == orderID && t.Status == domain.TicketActive {
			t.Status = domain.TicketCancelled
			st.tickets[id] = t
			n++
		}
	}
	return n, nil
}

func (r *ticketRepo) CancelByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	st, done := r.acquire()
	defer done()

	var n int64
	for _, id := range ids {
		t, ok := st.tickets[id]
		if !ok || t.Status == domain.TicketUsed || t.Status == domain.TicketCancelled {
			continue
		}
		t.Status = domain.TicketCancelled
		st.tickets[id] = t
		n++
	}
	return n, nil
}

func (r *ticketRepo) CheckIn(_ context.Context, number, operator string, at time.Time) (*domain.Ticket, error) {
	st, done := r.acquire()
	defer done()

	for id, t := range st.tickets {
		if t.TicketNumber != number {
			continue
		}
		if t.Status != domain.TicketActive || t.CheckedIn {
			return nil, fmt.Errorf("memstore.Tickets.CheckIn:%w", repository.ErrStaleState)
		}
		t.Status = domain.TicketUsed
		t.CheckedIn = true
		t.CheckedInAt = &at
		t.CheckedInBy = operator
		st.tickets[id] = t
		return &t, nil
	}
	return nil, fmt.Errorf("memstore.Tickets.CheckIn:%w", repository.ErrNotFound)
}

// notifications

type notificationRepo struct{ *repos }

func (r *notificationRepo) Create(_ context.Context, n *domain.Notification) error {
	st, done := r.acquire()
	defer done()

	n.CreatedAt = time.Now()
	st.notifications[n.ID] = *n
	st.track(n.ID)
	return nil
}

func (r *notificationRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	st, done := r.acquire()
	defer done()

	var out []domain.Notification
	for _, n := range st.notifications {
		if n.Status == domain.NotificationPending && n.Type == domain.NotificationEmail &&
			n.ScheduledAt != nil && !n.ScheduledAt.After(now) {
			out = append(out, n)
		}
	}
	sortByRank(st, out, func(n domain.Notification) uuid.UUID { return n.ID }, false)
	return page(out, limit, 0), nil
}

func (r *notificationRepo) update(op string, id uuid.UUID, fn func(*domain.Notification) bool) error {
	st, done := r.acquire()
	defer done()

	n, ok := st.notifications[id]
	if !ok || !fn(&n) {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	st.notifications[id] = n
	return nil
}

func (r *notificationRepo) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update("memstore.Notifications.MarkSent", id, func(n *domain.Notification) bool {
		n.Status, n.SentAt, n.Error = domain.NotificationSent, &at, ""
		return true
	})
}

func (r *notificationRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return r.update("memstore.Notifications.MarkFailed", id, func(n *domain.Notification) bool {
		n.Status, n.Error = domain.NotificationFailed, reason
		return true
	})
}

func (r *notificationRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	st, done := r.acquire()
	defer done()

	var out []domain.Notification
	for _, n := range st.notifications {
		if n.UserID == userID && n.Type == domain.NotificationInApp {
			out = append(out, n)
		}
	}
	sortByRank(st, out, func(n domain.Notification) uuid.UUID { return n.ID }, true)
	return page(out, limit, offset), nil
}

func (r *notificationRepo) MarkRead(_ context.Context, id uuid.UUID, userID string) error {
	return r.update("memstore.Notifications.MarkRead", id, func(n *domain.Notification) bool {
		if n.UserID != userID {
			return false
		}
		n.Status = domain.NotificationRead
		return true
	})
}

// outbox

type outboxRepo struct{ *repos }

func (r *outboxRepo) Add(_ context.Context, e *domain.OutboxEvent) error {
	st, done := r.acquire()
	defer done()

	e.Status = domain.OutboxPending
	e.CreatedAt = time.Now()
	st.outbox[e.ID] = *e
	st.track(e.ID)
	return nil
}

func (r *outboxRepo) ClaimPending(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	st, done := r.acquire()
	defer done()

	var out []domain.OutboxEvent
	for _, e := range st.outbox {
		if e.Status == domain.OutboxPending {
			out = append(out, e)
		}
	}
	sortByRank(st, out, func(e domain.OutboxEvent) uuid.UUID { return e.ID }, false)
	return page(out, limit, 0), nil
}

func (r *outboxRepo) MarkProduced(_ context.Context, ids []uuid.UUID, at time.Time) error {
	st, done := r.acquire()
	defer done()

	for _, id := range ids {
		if e, ok := st.outbox[id]; ok {
			e.Status = domain.OutboxProduced
			e.ProducedAt = &at
			st.outbox[id] = e
		}
	}
	return nil
}

func (r *outboxRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	st, done := r.acquire()
	defer done()

	e, ok := st.outbox[id]
	if !ok {
		return fmt.Errorf("memstore.Outbox.MarkFailed:%w", repository.ErrNotFound)
	}
	e.Attempts++
	e.LastError = reason
	if e.Attempts >= maxAttempts {
		e.Status = domain.OutboxFailed
	}
	st.outbox[id] = e
	return nil
}
