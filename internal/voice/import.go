package voice

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

// MaxGuidelinesChars bounds the imported guideline text.
const MaxGuidelinesChars = 8000

// ImportResult describes what an import changed.
type ImportResult struct {
	Format    string   `json:"format"`
	Fields    []string `json:"fields"`
	Chars     int      `json:"chars"`
	Truncated bool     `json:"truncated"`
}

// Import reads a brand guideline document and stores it. YAML documents set
// voice fields directly; every other format becomes the guidelines text.
func (m *Manager) Import(name string, data []byte) (ImportResult, error) {
	format := formatOf(name)

	if format == "yaml" {
		var v Voice
		if err := yaml.Unmarshal(data, &v); err != nil {
			return ImportResult{}, fmt.Errorf("parsing yaml: %w", err)
		}
		if err := m.Apply(v); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Format: format, Fields: setFields(v), Chars: utf8.RuneCount([]byte(v.Guidelines))}, nil
	}

	text, err := ExtractText(format, data)
	if err != nil {
		return ImportResult{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ImportResult{}, fmt.Errorf("no text found in %s", name)
	}

	truncated := false
	if utf8.RuneCountInString(text) > MaxGuidelinesChars {
		text = truncateRunes(text, MaxGuidelinesChars)
		truncated = true
	}
	if err := m.Set(FieldGuidelines, text); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{
		Format:    format,
		Fields:    []string{FieldGuidelines},
		Chars:     utf8.RuneCountInString(text),
		Truncated: truncated,
	}, nil
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".html", ".htm":
		return "html"
	case ".yaml", ".yml":
		return "yaml"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}

// ExtractText returns the plain text of a pdf, html, markdown or text
// document.
func ExtractText(format string, data []byte) (string, error) {
	switch format {
	case "pdf":
		return pdfText(data)
	case "html":
		return htmlText(data)
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("document is not valid UTF-8 text")
		}
		return string(data), nil
	}
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(b), nil
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, "\n"), nil
}

func setFields(v Voice) []string {
	var out []string
	if v.Tone != "" {
		out = append(out, FieldTone)
	}
	if v.Style != "" {
		out = append(out, FieldStyle)
	}
	if len(v.Values) > 0 {
		out = append(out, FieldValues)
	}
	if len(v.Avoid) > 0 {
		out = append(out, FieldAvoid)
	}
	if v.Guidelines != "" {
		out = append(out, FieldGuidelines)
	}
	return out
}
