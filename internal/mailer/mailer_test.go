package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/pavelanni/remedial/internal/dispatch"
)

var sample = dispatch.Message{
	To:      "asha@example.edu",
	Subject: "Study Materials for Your Test Performance",
	Body:    "Dear Asha,\n\n- Regular Expression: https://x/1\n",
}

func TestNewSelectsChannel(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"console default", Config{}, ChannelConsole, false},
		{"console", Config{Channel: "Console"}, ChannelConsole, false},
		{"smtp", Config{Channel: "smtp", From: "t@example.edu", SMTP: SMTPConfig{Host: "smtp.example.edu"}}, ChannelSMTP, false},
		{"smtp without host", Config{Channel: "smtp", From: "t@example.edu"}, "", true},
		{"smtp bad tls", Config{Channel: "smtp", From: "t@example.edu", SMTP: SMTPConfig{Host: "h", TLS: "sometimes"}}, "", true},
		{"sendgrid", Config{Channel: "sendgrid", From: "t@example.edu", SendGridKey: "k"}, ChannelSendGrid, false},
		{"sendgrid without key", Config{Channel: "sendgrid", From: "t@example.edu"}, "", true},
		{"unknown", Config{Channel: "pigeon"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ch.Name())
		})
	}
}

func TestConsoleWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, "teacher@example.edu")

	require.NoError(t, c.Send(context.Background(), sample))
	out := buf.String()
	assert.Contains(t, out, "From: teacher@example.edu\r\n")
	assert.Contains(t, out, "To: <asha@example.edu>\r\n")
	assert.Contains(t, out, "Subject: Study Materials for Your Test Performance\r\n")
	assert.Contains(t, out, "- Regular Expression: https://x/1")
	assert.Equal(t, []dispatch.Message{sample}, c.Sent())
}

func TestConsoleRejectsBadAddress(t *testing.T) {
	c := NewConsole(io.Discard, "")
	err := c.Send(context.Background(), dispatch.Message{To: "not an address"})
	assert.Error(t, err)
	assert.Empty(t, c.Sent())
}

func TestSMTPBuildsMessage(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.edu", Username: "u", Password: "p"}, "teacher@example.edu", "Dr. Rao")
	require.NoError(t, err)

	m, err := s.buildMsg(sample)
	require.NoError(t, err)
	assert.Equal(t, []string{"<asha@example.edu>"}, m.GetToString())
	assert.Equal(t, []string{sample.Subject}, m.GetGenHeader(mail.HeaderSubject))

	_, err = s.buildMsg(dispatch.Message{To: "bogus"})
	assert.Error(t, err)
}

func TestSendGridPostsMail(t *testing.T) {
	var got struct {
		Personalizations []struct {
			To      []struct{ Email string } `json:"to"`
			Subject string                   `json:"subject"`
		} `json:"personalizations"`
		Content []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"content"`
	}
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg, err := NewSendGrid("sg-key", srv.URL, "teacher@example.edu", "Dr. Rao")
	require.NoError(t, err)
	require.NoError(t, sg.Send(context.Background(), sample))

	assert.Equal(t, "Bearer sg-key", auth)
	assert.Equal(t, "/v3/mail/send", path)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "asha@example.edu", got.Personalizations[0].To[0].Email)
	assert.Equal(t, sample.Subject, got.Personalizations[0].Subject)
	require.Len(t, got.Content, 1)
	assert.Equal(t, sample.Body, got.Content[0].Value)
}

func TestSendGridErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad"}]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sg, err := NewSendGrid("sg-key", srv.URL, "teacher@example.edu", "")
	require.NoError(t, err)
	err = sg.Send(context.Background(), sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
