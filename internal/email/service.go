package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

var ErrNoRecipient = errors.New("email has no recipient")

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Service handles email sending via SMTP
type Service struct {
	cfg Config
	log *zap.Logger
}

// NewService creates a new email service
func NewService(cfg Config, log *zap.Logger) *Service {
	return &Service{cfg: cfg, log: log.Named("email")}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(ctx context.Context, m OrderConfirmation) error {
	subject := fmt.Sprintf("Order confirmation %s", m.Reference)
	return s.send(ctx, m.To, subject, BuildOrderConfirmationBody(m))
}

func (s *Service) SendPaymentReceipt(ctx context.Context, m PaymentReceipt) error {
	subject := fmt.Sprintf("Payment received for order %s", m.Reference)
	return s.send(ctx, m.To, subject, BuildPaymentReceiptBody(m))
}

func (s *Service) SendShipmentUpdate(ctx context.Context, m ShipmentUpdate) error {
	subject := fmt.Sprintf("Order %s is now %s", m.Reference, m.NewStatus)
	return s.send(ctx, m.To, subject, BuildShipmentUpdateBody(m))
}

func (s *Service) newMessage(to, subject, body string) (*mail.Msg, error) {
	if to == "" {
		return nil, ErrNoRecipient
	}
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

func (s *Service) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

func (s *Service) send(ctx context.Context, to, subject, body string) error {
	msg, err := s.newMessage(to, subject, body)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	s.log.Info("email sent", zap.String("recipient", to), zap.String("subject", subject))
	return nil
}
