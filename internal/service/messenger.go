package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noah-isme/sma-program-sync/internal/models"
	"github.com/noah-isme/sma-program-sync/pkg/config"
)

// Delivery is one rendered notice addressed to one user.
type Delivery struct {
	From    models.PlatformUser
	To      models.PlatformUser
	Subject string
	Body    string
	Type    models.MessageType
}

// Messenger delivers a rendered notice.
type Messenger interface {
	Send(ctx context.Context, delivery Delivery) error
}

type notificationWriter interface {
	Create(ctx context.Context, n *models.Notification) error
}

// PlatformMessenger stores notices as platform private notifications.
type PlatformMessenger struct {
	notifications notificationWriter
	now           func() time.Time
}

// NewPlatformMessenger constructs the messenger.
func NewPlatformMessenger(notifications notificationWriter) *PlatformMessenger {
	return &PlatformMessenger{notifications: notifications, now: time.Now}
}

// Send writes the notification row.
func (m *PlatformMessenger) Send(ctx context.Context, delivery Delivery) error {
	return m.notifications.Create(ctx, &models.Notification{
		UserIDFrom:   delivery.From.ID,
		UserIDTo:     delivery.To.ID,
		Subject:      delivery.Subject,
		FullMessage:  delivery.Body,
		SmallMessage: delivery.Subject + ": " + delivery.Body,
		EventType:    string(delivery.Type),
		TimeCreated:  m.now().Unix(),
	})
}

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridMessenger e-mails a copy of each notice through SendGrid.
type SendGridMessenger struct {
	key  string
	from *sgmail.Email
}

// NewSendGridMessenger constructs the messenger from configuration.
func NewSendGridMessenger(cfg config.SendGridConfig) *SendGridMessenger {
	return &SendGridMessenger{
		key:  cfg.APIKey,
		from: sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
	}
}

// Send posts the e-mail. Recipients without an address are skipped.
func (m *SendGridMessenger) Send(_ context.Context, delivery Delivery) error {
	if delivery.To.Email == "" {
		return nil
	}
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(delivery))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send email: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (m *SendGridMessenger) prepare(delivery Delivery) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = delivery.Subject
	p.AddTos(sgmail.NewEmail(delivery.To.FullName(), delivery.To.Email))

	msg := sgmail.NewV3Mail()
	msg.SetFrom(m.from)
	msg.AddPersonalizations(p)
	msg.AddContent(sgmail.NewContent("text/plain", delivery.Body))
	return msg
}
