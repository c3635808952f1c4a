// Package notify records user notifications and delivers the email ones.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
)

// Message is one notification addressed to a user. Email is optional.
type Message struct {
	Category domain.NotificationCategory
	UserID   string
	Email    string
	Title    string
	Body     string
	Payload  domain.Metadata
}

type Service struct {
	repos  repository.Repos
	mailer Mailer
	log    *slog.Logger
	now    func() time.Time
}

func New(repos repository.Repos, mailer Mailer, log *slog.Logger) *Service {
	return &Service{
		repos:  repos,
		mailer: mailer,
		log:    log,
		now:    time.Now,
	}
}

func (s *Service) newRow(msg Message, typ domain.NotificationType) *domain.Notification {
	n := &domain.Notification{
		ID:       uuid.New(),
		UserID:   msg.UserID,
		Type:     typ,
		Category: msg.Category,
		Title:    msg.Title,
		Message:  msg.Body,
		Payload:  msg.Payload,
		Status:   domain.NotificationPending,
	}
	if typ == domain.NotificationEmail {
		n.Recipient = msg.Email
	}
	return n
}

// Send stores an in-app notification and, when msg has an email address,
// an email notification that is delivered right away. Delivery failures are
// recorded on the row and logged, never returned.
//
// Returns:
//   - error: only when the in-app notification cannot be stored.
func (s *Service) Send(ctx context.Context, msg Message) error {
	const op = "service.notify.Send"

	inApp := s.newRow(msg, domain.NotificationInApp)
	inApp.Status = domain.NotificationSent
	now := s.now()
	inApp.SentAt = &now

	if err := s.repos.Notifications().Create(ctx, inApp); err != nil {
		s.log.Error("in-app notification failed", "user_id", msg.UserID, "category", msg.Category, "error", err)
		return fmt.Errorf("%s:%w", op, err)
	}

	if msg.Email == "" {
		return nil
	}

	email := s.newRow(msg, domain.NotificationEmail)
	if err := s.repos.Notifications().Create(ctx, email); err != nil {
		s.log.Error("email notification failed", "user_id", msg.UserID, "category", msg.Category, "error", err)
		return nil
	}

	s.deliver(ctx, email)

	return nil
}

// Schedule stores an email notification to be delivered by DeliverDue at or
// after at.
func (s *Service) Schedule(ctx context.Context, msg Message, at time.Time) error {
	const op = "service.notify.Schedule"

	if msg.Email == "" {
		return nil
	}

	n := s.newRow(msg, domain.NotificationEmail)
	n.ScheduledAt = &at

	if err := s.repos.Notifications().Create(ctx, n); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// DeliverDue sends pending email notifications scheduled at or before now.
//
// Returns:
//   - int: notifications sent.
//   - int: notifications that failed and were marked failed.
//   - error: if the due notifications cannot be listed.
func (s *Service) DeliverDue(ctx context.Context, now time.Time, limit int) (int, int, error) {
	const op = "service.notify.DeliverDue"

	if limit <= 0 {
		limit = 100
	}

	due, err := s.repos.Notifications().ListDue(ctx, now, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("%s:%w", op, err)
	}

	var sent, failed int
	for i := range due {
		if s.deliver(ctx, &due[i]) {
			sent++
		} else {
			failed++
		}
	}

	return sent, failed, nil
}

func (s *Service) deliver(ctx context.Context, n *domain.Notification) bool {
	err := s.mailer.Send(ctx, Mail{To: n.Recipient, Subject: n.Title, Body: n.Message})
	if err != nil {
		s.log.Warn("email delivery failed", "notification_id", n.ID, "category", n.Category, "error", err)
		if err := s.repos.Notifications().MarkFailed(ctx, n.ID, err.Error()); err != nil {
			s.log.Error("mark notification failed", "notification_id", n.ID, "error", err)
		}
		return false
	}

	if err := s.repos.Notifications().MarkSent(ctx, n.ID, s.now()); err != nil {
		s.log.Error("mark notification sent", "notification_id", n.ID, "error", err)
	}

	return true
}

func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	const op = "service.notify.ListForUser"

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	out, err := s.repos.Notifications().ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	const op = "service.notify.MarkRead"

	if err := s.repos.Notifications().MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrNotificationNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}
