package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
)

type EventRepository interface {
	Create(ctx context.Context, e *domain.Event) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus) error
	// Reserve decrements available tickets by q only if at least q remain.
	Reserve(ctx context.Context, id uuid.UUID, q int) (int, error)
	// Release increments available tickets by q, capped at the quota.
	Release(ctx context.Context, id uuid.UUID, q int) (int, error)
	// AllocateSeats advances the per-event seat counter by q and returns the
	// first allocated index.
	AllocateSeats(ctx context.Context, id uuid.UUID, q int) (int, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateStatus(ctx context.Context, u OrderStatusUpdate) (*domain.Order, error)
	DeletePending(ctx context.Context, id uuid.UUID) (bool, error)
	ListByBuyer(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
	ListPaidWithoutTickets(ctx context.Context, limit int) ([]domain.Order, error)
	ListAwaitingWithPaidPayment(ctx context.Context, limit int) ([]domain.Order, error)
}

type OrderStatusUpdate struct {
	ID     uuid.UUID
	From   domain.OrderStatus
	To     domain.OrderStatus
	At     time.Time
	Reason string
}

type OrderFilter struct {
	BuyerID string
	Status  domain.OrderStatus
	Limit   int
	Offset  int
}

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByReference(ctx context.Context, referenceID string) (*domain.Payment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
	// UpdateStatus moves a PENDING payment to a new status. It returns
	// ErrStaleState when the payment is no longer PENDING.
	UpdateStatus(ctx context.Context, u PaymentStatusUpdate) (*domain.Payment, error)
}

type PaymentStatusUpdate struct {
	ID          uuid.UUID
	Status      domain.PaymentStatus
	Channel     domain.PaymentChannel
	ChannelCode string
	PaidAt      *time.Time
	Metadata    domain.Metadata
}

type TicketRepository interface {
	CreateBatch(ctx context.Context, tickets []domain.Ticket) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error)
	CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	SetArtifacts(ctx context.Context, id uuid.UUID, qrURL, pdfURL string) error
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
	CancelByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	CancelByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	// CheckIn marks an ACTIVE, not yet checked-in ticket as USED. It returns
	// ErrStaleState otherwise.
	CheckIn(ctx context.Context, number, operator string, at time.Time) (*domain.Ticket, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, userID string) error
}

type OutboxRepository interface {
	Add(ctx context.Context, e *domain.OutboxEvent) error
	// ClaimPending locks up to limit pending events for the current
	// transaction, skipping rows locked by other relays.
	ClaimPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkProduced(ctx context.Context, ids []uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error
}

// Repos bundles the repositories bound to one database handle, either the
// pool or an open transaction.
type Repos interface {
	Events() EventRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Tickets() TicketRepository
	Notifications() NotificationRepository
	Outbox() OutboxRepository
}
