package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/pavelanni/remedial/internal/dispatch"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is one of mandatory, opportunistic or none.
	TLS string
}

// SMTP delivers messages through an SMTP relay, one connection per message.
type SMTP struct {
	cfg      SMTPConfig
	from     string
	fromName string
	opts     []mail.Option
}

var _ dispatch.Channel = (*SMTP)(nil)

// NewSMTP validates cfg and prepares the client options.
func NewSMTP(cfg SMTPConfig, from, fromName string) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if from == "" {
		return nil, errors.New("smtp: sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	policy, err := tlsPolicy(cfg.TLS)
	if err != nil {
		return nil, err
	}
	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTLSPolicy(policy)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &SMTP{cfg: cfg, from: from, fromName: fromName, opts: opts}, nil
}

func tlsPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(s) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, fmt.Errorf("smtp: unknown TLS policy %q", s)
	}
}

// Name implements dispatch.Channel.
func (s *SMTP) Name() string { return ChannelSMTP }

func (s *SMTP) buildMsg(msg dispatch.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	var err error
	if s.fromName != "" {
		err = m.FromFormat(s.fromName, s.from)
	} else {
		err = m.From(s.from)
	}
	if err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("set recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// Send implements dispatch.Channel.
func (s *SMTP) Send(ctx context.Context, msg dispatch.Message) error {
	m, err := s.buildMsg(msg)
	if err != nil {
		return err
	}
	c, err := mail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
