package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/monateaches/assessment/internal/model"
)

// MailNotifier sends the results email over SMTP.
type MailNotifier struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// send replaces the SMTP client in tests.
	send func(ctx context.Context, msg *mail.Msg) error
}

func (m *MailNotifier) Notify(ctx context.Context, req model.NotificationRequest) error {
	if strings.TrimSpace(req.ParentEmail) == "" {
		return &NotificationError{Err: errors.New("missing recipient address")}
	}
	msg, err := buildMessage(m.From, req, time.Now())
	if err != nil {
		return &NotificationError{Err: err}
	}

	send := m.send
	if send == nil {
		send = m.dialAndSend
	}
	if err := send(ctx, msg); err != nil {
		var netErr net.Error
		network := errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		var sendErr *mail.SendError
		if errors.As(err, &sendErr) && sendErr.IsTemp() {
			network = true
		}
		return &NotificationError{Network: network, Err: err}
	}
	slog.Info("results email sent", "to", req.ParentEmail, "child", req.ChildName)
	return nil
}

func (m *MailNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{mail.WithPort(m.Port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if m.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.Username),
			mail.WithPassword(m.Password),
		)
	}
	client, err := mail.NewClient(m.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// buildMessage assembles a multipart/alternative message with a plain-text
// body and an HTML alternative, both quoted-printable encoded.
func buildMessage(from string, req model.NotificationRequest, now time.Time) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(req.ParentEmail); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(fmt.Sprintf("%s Assessment Results for %s", req.KeyStage, req.ChildName))
	msg.SetDateWithValue(now)

	switch {
	case req.ResultsText != "" && req.ResultsHTML != "":
		msg.SetBodyString(mail.TypeTextPlain, req.ResultsText)
		msg.AddAlternativeString(mail.TypeTextHTML, req.ResultsHTML)
	case req.ResultsHTML != "":
		msg.SetBodyString(mail.TypeTextHTML, req.ResultsHTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, req.ResultsText)
	}
	return msg, nil
}

// LogNotifier logs notifications instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, req model.NotificationRequest) error {
	slog.Info("results email (not sent)", "to", req.ParentEmail, "child", req.ChildName,
		"key_stage", req.KeyStage, "text_bytes", len(req.ResultsText), "html_bytes", len(req.ResultsHTML))
	return nil
}
