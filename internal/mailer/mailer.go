// Package mailer implements the delivery channels used by the dispatcher.
package mailer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pavelanni/remedial/internal/dispatch"
)

// Channel names accepted by New.
const (
	ChannelSMTP     = "smtp"
	ChannelSendGrid = "sendgrid"
	ChannelConsole  = "console"
)

// Config selects and configures a delivery channel.
type Config struct {
	Channel  string
	From     string
	FromName string

	SMTP SMTPConfig

	SendGridKey  string
	SendGridHost string

	Output io.Writer
}

// New builds the channel named by cfg.Channel.
func New(cfg Config) (dispatch.Channel, error) {
	switch strings.ToLower(cfg.Channel) {
	case ChannelSMTP:
		return NewSMTP(cfg.SMTP, cfg.From, cfg.FromName)
	case ChannelSendGrid:
		return NewSendGrid(cfg.SendGridKey, cfg.SendGridHost, cfg.From, cfg.FromName)
	case ChannelConsole, "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return NewConsole(out, cfg.From), nil
	default:
		return nil, fmt.Errorf("unknown channel %q (want %s, %s or %s)", cfg.Channel, ChannelSMTP, ChannelSendGrid, ChannelConsole)
	}
}
