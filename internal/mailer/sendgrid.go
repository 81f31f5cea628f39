package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/pavelanni/remedial/internal/dispatch"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGrid delivers messages through the SendGrid v3 API.
type SendGrid struct {
	key  string
	host string
	from *sgmail.Email
}

var _ dispatch.Channel = (*SendGrid)(nil)

// NewSendGrid creates a SendGrid channel. An empty host uses the public API.
func NewSendGrid(key, host, from, fromName string) (*SendGrid, error) {
	if key == "" {
		return nil, errors.New("sendgrid: API key is required")
	}
	if from == "" {
		return nil, errors.New("sendgrid: sender address is required")
	}
	if host == "" {
		host = sendgridHost
	}
	return &SendGrid{key: key, host: host, from: sgmail.NewEmail(fromName, from)}, nil
}

// Name implements dispatch.Channel.
func (s *SendGrid) Name() string { return ChannelSendGrid }

func (s *SendGrid) prepare(msg dispatch.Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	return m
}

// Send implements dispatch.Channel.
func (s *SendGrid) Send(ctx context.Context, msg dispatch.Message) error {
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid send: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
