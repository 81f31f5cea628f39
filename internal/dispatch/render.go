package dispatch

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"sync"
	"text/template"

	"github.com/pavelanni/remedial/internal/i18n"
	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

//go:embed templates/message.txt
var templateFS embed.FS

var (
	tmplOnce sync.Once
	tmpl     *template.Template
	tmplErr  error
)

func messageTemplate() (*template.Template, error) {
	tmplOnce.Do(func() {
		tmpl, tmplErr = template.ParseFS(templateFS, "templates/message.txt")
	})
	return tmpl, tmplErr
}

// Line is one (topic, resource) pair in a message body.
type Line struct {
	Topic    string
	Resource string
}

type messageData struct {
	Greeting    string
	Intro       string
	Lines       []Line
	Outro       string
	Signoff     string
	Teacher     string
	Institution string
}

// Lines returns the non-empty (topic, resource) pairs of row in column order.
func Lines(reg *registry.Registry, columns []string, row model.ReportRow) []Line {
	var lines []Line
	for i, id := range columns {
		if i >= len(row.Resources) || row.Resources[i] == "" {
			continue
		}
		topic, err := reg.Topic(id)
		if err != nil {
			topic = id
		}
		lines = append(lines, Line{Topic: topic, Resource: row.Resources[i]})
	}
	return lines
}

// Render builds the message for one report row. The localizer in ctx selects the language.
func Render(ctx context.Context, reg *registry.Registry, columns []string, row model.ReportRow, teacher, institution string) (Message, error) {
	t, err := messageTemplate()
	if err != nil {
		return Message{}, fmt.Errorf("parse message template: %w", err)
	}

	data := messageData{
		Greeting:    i18n.Td(ctx, "MessageGreeting", map[string]any{"Name": row.Name}),
		Intro:       i18n.T(ctx, "MessageIntro"),
		Lines:       Lines(reg, columns, row),
		Outro:       i18n.T(ctx, "MessageOutro"),
		Signoff:     i18n.T(ctx, "MessageSignoff"),
		Teacher:     teacher,
		Institution: institution,
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render message for %s: %w", row.StudentID, err)
	}
	return Message{
		To:      row.Contact,
		Subject: i18n.T(ctx, "MessageSubject"),
		Body:    buf.String(),
	}, nil
}
