package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	mail "gopkg.in/mail.v2"

	"pasal/internal/domain/orders"
)

const (
	FromName   = "Pasal"
	maxRetries = 3

	OrderConfirmationTemplate = "order_confirmation.tmpl"
)

//go:embed "templates"
var FS embed.FS

// Mailer sends transactional mail over SMTP. Sends are retried a few times;
// callers treat a failed send as a logging matter, never a checkout failure.
type Mailer struct {
	dialer *mail.Dialer
	sender string
}

func New(host string, port int, username, password, sender string) *Mailer {
	dialer := mail.NewDialer(host, port, username, password)
	dialer.Timeout = 10 * time.Second
	return &Mailer{dialer: dialer, sender: sender}
}

// Send renders the named template (subject, plainBody and htmlBody blocks)
// and delivers it to recipient.
func (m *Mailer) Send(templateFile, recipient string, data any) error {
	tmpl, err := template.New("email").ParseFS(FS, "templates/"+templateFile)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", templateFile, err)
	}

	subject := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(subject, "subject", data); err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	plainBody := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(plainBody, "plainBody", data); err != nil {
		return fmt.Errorf("render plain body: %w", err)
	}
	htmlBody := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(htmlBody, "htmlBody", data); err != nil {
		return fmt.Errorf("render html body: %w", err)
	}

	msg := mail.NewMessage()
	msg.SetHeader("To", recipient)
	msg.SetAddressHeader("From", m.sender, FromName)
	msg.SetHeader("Subject", subject.String())
	msg.SetBody("text/plain", plainBody.String())
	msg.AddAlternative("text/html", htmlBody.String())

	for i := 1; i <= maxRetries; i++ {
		if err = m.dialer.DialAndSend(msg); err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("send %s to %s after %d attempts: %w", templateFile, recipient, maxRetries, err)
}

// SendOrderConfirmation mails the paid-order receipt.
func (m *Mailer) SendOrderConfirmation(email string, order *orders.Order) error {
	return m.Send(OrderConfirmationTemplate, email, map[string]any{
		"OrderNumber": order.OrderNumber,
		"Order":       order,
		"Total":       formatCents(order.TotalCents, order.Currency),
	})
}

func formatCents(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}
