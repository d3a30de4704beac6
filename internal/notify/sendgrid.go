// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.opentelemetry.io/otel/trace"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendgridSender struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
}

func NewSendgridSender(key, appName, fromEmail string) *SendgridSender {
	return &SendgridSender{
		key:        key,
		host:       sendgridHost,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

func (s *SendgridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", msg.Text),
		sgmail.NewContent("text/html", msg.HTML),
	)
	return m
}

func (s *SendgridSender) Send(ctx context.Context, msg Message) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "SendgridSender.Send")
	defer span.End()

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
		span.RecordError(err)
		return err
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. It is used
// when no SendGrid key is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "mail",
		"to", msg.To.String(),
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return nil
}
