package mailer

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/remedial/internal/dispatch"
)

// Console writes messages to an io.Writer instead of delivering them.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	from string
	sent []dispatch.Message
}

var _ dispatch.Channel = (*Console)(nil)

// NewConsole creates a Console channel writing to w.
func NewConsole(w io.Writer, from string) *Console {
	return &Console{w: w, from: from}
}

// Name implements dispatch.Channel.
func (c *Console) Name() string { return ChannelConsole }

// Send implements dispatch.Channel.
func (c *Console) Send(ctx context.Context, msg dispatch.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	body := new(strings.Builder)
	if c.from != "" {
		_, _ = fmt.Fprintf(body, "From: %s\r\n", c.from)
	}
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", to.String())
	_, _ = fmt.Fprint(body, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	_, _ = fmt.Fprint(body, msg.Body)
	_, _ = fmt.Fprint(body, "\r\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, body.String()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Sent returns the messages written so far.
func (c *Console) Sent() []dispatch.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]dispatch.Message, len(c.sent))
	copy(out, c.sent)
	return out
}
