package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/domodwyer/mailyak/v3"
)

type Mail struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPMailer delivers plain-text mail through one SMTP relay. Message
// assembly, MIME and header encoding are left to mailyak.
type SMTPMailer struct {
	cfg  SMTPConfig
	addr string
	auth smtp.Auth
	send func(*mailyak.MailYak) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPMailer{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth: auth,
		send: (*mailyak.MailYak).Send,
	}
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func (m *SMTPMailer) message(mail Mail) *mailyak.MailYak {
	msg := mailyak.New(m.addr, m.auth)
	msg.From(m.cfg.From)
	if m.cfg.FromName != "" {
		msg.FromName(m.cfg.FromName)
	}
	msg.To(strings.TrimSpace(headerBreaks.Replace(mail.To)))
	msg.Subject(headerBreaks.Replace(mail.Subject))
	msg.Plain().Set(mail.Body)
	return msg
}

func (m *SMTPMailer) Send(ctx context.Context, mail Mail) error {
	const op = "notify.SMTPMailer.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := m.send(m.message(mail)); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// LogMailer writes mail to the log instead of sending it.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, mail Mail) error {
	m.log.Info("mail", "to", mail.To, "subject", mail.Subject, "body", mail.Body)
	return nil
}
