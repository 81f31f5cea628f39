// Package prompts renders the prompt templates used by the score query assistant.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var defaultFS embed.FS

// MaxQuestionRunes caps the question length sent to the model.
const MaxQuestionRunes = 2000

var (
	questionTagRegex = regexp.MustCompile(`(?i)</?\s*teacher-question\b[^>]*>`)
	systemTagRegex   = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var (
	loadOnce         sync.Once
	loadErr          error
	systemTemplate   *template.Template
	questionTemplate *template.Template
)

// SystemData holds template data for the system prompt.
type SystemData struct {
	Dialect string
	Schema  string
	MaxRows int
}

// Load parses the templates from fsys. A nil fsys uses the embedded templates.
// Templates are loaded only once per process.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = defaultFS
		}
		systemTemplate, loadErr = parse(fsys, "templates/system.txt")
		if loadErr != nil {
			return
		}
		questionTemplate, loadErr = parse(fsys, "templates/question.txt")
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildSystemPrompt renders the system prompt.
func BuildSystemPrompt(data SystemData) (string, error) {
	if err := Load(nil); err != nil {
		return "", err
	}
	if systemTemplate == nil {
		return "", errors.New("system prompt template not loaded")
	}
	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildQuestionPrompt wraps the sanitized question for the user message.
func BuildQuestionPrompt(question string) (string, error) {
	if err := Load(nil); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := questionTemplate.Execute(&buf, struct{ Question string }{SanitizeQuestion(question)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeQuestion strips prompt delimiter tags and truncates long input.
func SanitizeQuestion(q string) string {
	q = questionTagRegex.ReplaceAllString(q, "")
	q = systemTagRegex.ReplaceAllString(q, "")
	q = strings.TrimSpace(q)

	if q == "" {
		return "[No question provided]"
	}

	if utf8.RuneCountInString(q) > MaxQuestionRunes {
		runes := []rune(q)
		q = string(runes[:MaxQuestionRunes]) + "\n\n[Question truncated due to length]"
	}
	return q
}
