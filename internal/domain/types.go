package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderPaid            OrderStatus = "PAID"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled || s == OrderExpired
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentExpired PaymentStatus = "EXPIRED"
	PaymentFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentExpired || s == PaymentFailed
}

type PaymentProvider string

const (
	ProviderMock   PaymentProvider = "mock"
	ProviderStripe PaymentProvider = "stripe"
)

type PaymentType string

const (
	PaymentTypeInvoice PaymentType = "invoice"
	PaymentTypeDirect  PaymentType = "direct"
	PaymentTypeRefund  PaymentType = "refund"
)

type PaymentChannel string

const (
	ChannelVirtualAccount PaymentChannel = "virtual_account"
	ChannelEWallet        PaymentChannel = "e_wallet"
	ChannelQRIS           PaymentChannel = "qris"
	ChannelRetailOutlet   PaymentChannel = "retail_outlet"
	ChannelCreditCard     PaymentChannel = "credit_card"
	ChannelOther          PaymentChannel = "other"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "ACTIVE"
	TicketUsed      TicketStatus = "USED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketExpired   TicketStatus = "EXPIRED"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
)

type Event struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	Location         string          `json:"location"`
	StartsAt         time.Time       `json:"starts_at"`
	EndsAt           time.Time       `json:"ends_at"`
	Price            decimal.Decimal `json:"price"`
	Quota            int             `json:"quota"`
	AvailableTickets int             `json:"available_tickets"`
	TicketSeq        int             `json:"-"`
	Status           EventStatus     `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Bookable reports whether tickets for e may be sold at now.
func (e *Event) Bookable(now time.Time) bool {
	return e.Status == EventPublished && e.StartsAt.After(now)
}

type Availability struct {
	EventID   uuid.UUID `json:"event_id"`
	Quota     int       `json:"quota"`
	Available int       `json:"available"`
}

type Order struct {
	ID            uuid.UUID       `json:"id"`
	OrderNumber   string          `json:"order_number"`
	InvoiceNumber string          `json:"invoice_number"`
	BuyerID       string          `json:"buyer_id"`
	BuyerEmail    string          `json:"buyer_email,omitempty"`
	EventID       uuid.UUID       `json:"event_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        OrderStatus     `json:"status"`
	ExpiresAt     time.Time       `json:"expires_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Total computes quantity x unit price.
func Total(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

type Payment struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	Provider    PaymentProvider `json:"provider"`
	Type        PaymentType     `json:"payment_type"`
	Channel     PaymentChannel  `json:"channel,omitempty"`
	ChannelCode string          `json:"channel_code,omitempty"`
	ReferenceID string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	RedirectURL string          `json:"redirect_url"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	Metadata    Metadata        `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Metadata is free-form provider data stored as jsonb.
type Metadata map[string]any

func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

type Ticket struct {
	ID           uuid.UUID    `json:"id"`
	OrderID      uuid.UUID    `json:"order_id"`
	EventID      uuid.UUID    `json:"event_id"`
	BuyerID      string       `json:"buyer_id"`
	TicketNumber string       `json:"ticket_number"`
	SeatNumber   string       `json:"seat_number"`
	Status       TicketStatus `json:"status"`
	CheckedIn    bool         `json:"checked_in"`
	CheckedInAt  *time.Time   `json:"checked_in_at,omitempty"`
	CheckedInBy  string       `json:"checked_in_by,omitempty"`
	QRCodeURL    string       `json:"qr_code_url,omitempty"`
	PDFURL       string       `json:"pdf_url,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type OrderDetails struct {
	Order   Order    `json:"order"`
	Payment *Payment `json:"payment,omitempty"`
	Tickets []Ticket `json:"tickets"`
}

type NotificationType string

const (
	NotificationEmail NotificationType = "email"
	NotificationInApp NotificationType = "in_app"
	NotificationSMS   NotificationType = "sms"
)

type NotificationCategory string

const (
	CategoryOrderCreated    NotificationCategory = "order_created"
	CategoryPaymentPending  NotificationCategory = "payment_pending"
	CategoryPaymentSuccess  NotificationCategory = "payment_success"
	CategoryPaymentFailed   NotificationCategory = "payment_failed"
	CategoryOrderCancelled  NotificationCategory = "order_cancelled"
	CategoryOrderExpired    NotificationCategory = "order_expired"
	CategoryTicketGenerated NotificationCategory = "ticket_generated"
	CategoryEventReminder   NotificationCategory = "event_reminder"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationRead    NotificationStatus = "read"
)

type Notification struct {
	ID          uuid.UUID            `json:"id"`
	UserID      string               `json:"user_id"`
	Recipient   string               `json:"recipient,omitempty"`
	Type        NotificationType     `json:"type"`
	Category    NotificationCategory `json:"category"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Payload     Metadata             `json:"payload,omitempty"`
	Status      NotificationStatus   `json:"status"`
	ScheduledAt *time.Time           `json:"scheduled_at,omitempty"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

type OutboxStatus string

const (
	OutboxPending  OutboxStatus = "pending"
	OutboxProduced OutboxStatus = "produced"
	OutboxFailed   OutboxStatus = "failed"
)

type OutboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      OutboxStatus    `json:"-"`
	Attempts    int             `json:"-"`
	LastError   string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	ProducedAt  *time.Time      `json:"-"`
}
