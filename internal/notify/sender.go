package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"exit-ticket-audit/internal/analytics"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

type SendgridSender struct {
	key  string
	from *sgmail.Email
}

var _ Sender = (*SendgridSender)(nil)

func NewSendgridSender(key string, from mail.Address) *SendgridSender {
	return &SendgridSender{
		key:  key,
		from: sgmail.NewEmail(from.Name, from.Address),
	}
}

func (s *SendgridSender) prepare(msg *Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", msg.TextContent),
		sgmail.NewContent("text/html", msg.HTMLContent),
	)
	return m
}

func (s *SendgridSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sending email to %s: %w", msg.To.Address, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email to %s - status: %d - body: %s", msg.To.Address, res.StatusCode, res.Body)
	}
	return nil
}

// OutboxSender writes each message to a directory instead of sending it.
type OutboxSender struct {
	dir string
}

var _ Sender = (*OutboxSender)(nil)

func NewOutboxSender(dir string) *OutboxSender {
	return &OutboxSender{dir: dir}
}

func (s *OutboxSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	body := new(strings.Builder)
	fmt.Fprintf(body, "Message-ID: <%s>\r\n", msg.ID)
	fmt.Fprintf(body, "To: %s\r\n", msg.To.String())
	fmt.Fprintf(body, "Subject: %s\r\n", msg.Subject)
	body.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	body.WriteString(msg.HTMLContent)

	name := fmt.Sprintf("%s-%s.eml", analytics.LocalPart(msg.To.Address), msg.ID)
	return os.WriteFile(filepath.Join(s.dir, name), []byte(body.String()), 0o644)
}

// Deliver renders and sends one message per report. A failure for one
// student is logged and does not stop the others.
func Deliver(ctx context.Context, sender Sender, reports []analytics.StudentReport, date time.Time, logger *zap.Logger) (int, error) {
	sent := 0
	var errs []error
	for _, report := range reports {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		msg, err := Render(report, date)
		if err == nil {
			err = sender.Send(ctx, msg)
		}
		if err != nil {
			logger.Error("student report not delivered", zap.String("email", report.Email), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Debug("student report delivered", zap.String("email", report.Email), zap.String("message_id", msg.ID))
		sent++
	}
	return sent, errors.Join(errs...)
}
