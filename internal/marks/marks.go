// Package marks pulls per-question marks and Bloom's Taxonomy levels out of
// question paper documents.
package marks

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pavelanni/remedial/internal/model"
)

// ErrUnsupportedType reports a document that is neither docx, pdf nor plain text.
var ErrUnsupportedType = errors.New("unsupported document type")

// DefaultPDFTimeout bounds a single pdftotext invocation.
const DefaultPDFTimeout = 30 * time.Second

// MaxDocumentSize caps the bytes read from an uploaded document.
const MaxDocumentSize = 20 << 20

const (
	mimeDocx  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeZip   = "application/zip"
	mimePDF   = "application/pdf"
	mimePlain = "text/plain"
)

var marksPattern = regexp.MustCompile(`Marks:\s*(\d+)\s*\nBT Level:\s*L(\d)`)

// Extractor turns documents into text and text into marks entries.
type Extractor struct {
	// PDFToText is the pdftotext binary; empty means "pdftotext" on PATH.
	PDFToText  string
	PDFTimeout time.Duration
}

// Result is what an extraction produced.
type Result struct {
	MIME    string             `json:"mime"`
	Text    string             `json:"-"`
	Entries []model.MarksEntry `json:"entries"`
}

// Parse finds every "Marks: N" followed on the next line by "BT Level: Lk".
// Questions are numbered from 1 in document order.
func Parse(text string) []model.MarksEntry {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	matches := marksPattern.FindAllStringSubmatch(text, -1)
	entries := make([]model.MarksEntry, 0, len(matches))
	for i, m := range matches {
		marks, err := strconv.Atoi(m[1])
		if err != nil {
			// Digits that overflow int are not real marks.
			continue
		}
		level, _ := strconv.Atoi(m[2])
		entries = append(entries, model.MarksEntry{Question: i + 1, Marks: marks, BTLevel: level})
	}
	return entries
}

// ExtractFile reads path and extracts marks from it.
func (e Extractor) ExtractFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return e.Extract(ctx, f)
}

// Extract detects the document type from its content and extracts marks.
func (e Extractor) Extract(ctx context.Context, r io.Reader) (*Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("document larger than %d bytes", MaxDocumentSize)
	}

	mt := mimetype.Detect(data)
	var text string
	switch {
	case mt.Is(mimeDocx), mt.Is(mimeZip):
		text, err = DocxText(data)
	case mt.Is(mimePDF):
		text, err = e.pdfText(ctx, data)
	case mt.Is(mimePlain):
		text = string(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}
	if err != nil {
		return nil, err
	}

	entries := Parse(text)
	slog.Debug("extracted marks", "mime", mt.String(), "entries", len(entries))
	return &Result{MIME: mt.String(), Text: text, Entries: entries}, nil
}

// DocxText returns the paragraphs of a Word document, trimmed and joined by newlines.
func DocxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("%w: zip archive without word/document.xml", ErrUnsupportedType)
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	var (
		paragraphs []string
		cur        strings.Builder
		inText     bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

func (e Extractor) pdfText(ctx context.Context, data []byte) (string, error) {
	bin := e.PDFToText
	if bin == "" {
		bin = "pdftotext"
	}
	timeout := e.PDFTimeout
	if timeout <= 0 {
		timeout = DefaultPDFTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "-", "-")
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("pdftotext failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return string(out), nil
}
