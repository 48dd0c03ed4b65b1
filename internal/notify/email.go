package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// EmailSender delivers one staff notification. SendGrid and SES are
// interchangeable behind it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a plain-text staff notification. Event is the booking
// event kind and is passed on as the provider's category or tag.
type EmailMessage struct {
	To      []string
	Subject string
	Body    string
	Event   EventKind
}

var errNoRecipients = errors.New("notify: message has no recipients")

const defaultFromName = "MediBook Clinic"

type sendGridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends notifications through the SendGrid v3 API.
type SendGridSender struct {
	client    sendGridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig comes from SENDGRID_API_KEY, SENDGRID_FROM_EMAIL and
// SENDGRID_FROM_NAME.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(client sendGridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send delivers msg as one email addressed to every recipient.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	if len(msg.To) == 0 {
		return errNoRecipients
	}

	email := mail.NewV3Mail()
	email.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	email.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	email.AddPersonalizations(p)
	email.AddContent(mail.NewContent("text/plain", msg.Body))
	if msg.Event != "" {
		email.AddCategories(string(msg.Event))
	}

	response, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected notification", "status", response.StatusCode, "body", response.Body, "event", string(msg.Event))
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("notification sent via sendgrid", "recipients", len(msg.To), "event", string(msg.Event), "status", response.StatusCode)
	return nil
}

// StubEmailSender logs notifications instead of sending them.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send notification", "recipients", len(msg.To), "subject", msg.Subject, "event", string(msg.Event))
	return nil
}
