// Package files extracts script text from uploaded documents.
package files

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "rsc.io/pdf"
)

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrNoText      = errors.New("document has no extractable text")
	ErrUnreadable  = errors.New("document is unreadable")
)

// DefaultMaxChars bounds extracted text; roughly a 300-page screenplay.
const DefaultMaxChars = 600000

// ExtractScript returns the text of an uploaded .pdf, .txt or .fountain
// file, truncated to maxChars bytes.
func ExtractScript(filename string, data []byte, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err = extractPDF(data, maxChars)
	case ".txt", ".fountain":
		text, err = extractPlain(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(filename))
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return truncate(text, maxChars), nil
}

func extractPDF(data []byte, maxChars int) (text string, err error) {
	// rsc.io/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf: %v", ErrUnreadable, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", ErrUnreadable, err)
	}

	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		lastY := -1.0
		for _, t := range p.Content().Text {
			if lastY >= 0 && t.Y != lastY {
				buf.WriteByte('\n')
			}
			buf.WriteString(t.S)
			lastY = t.Y
		}
		buf.WriteString("\n\n")
		if buf.Len() >= maxChars {
			break
		}
	}
	return buf.String(), nil
}

func extractPlain(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text file is not valid UTF-8", ErrUnreadable)
	}
	s := strings.ReplaceAll(string(data), "\x00", "")
	return strings.ReplaceAll(s, "\r\n", "\n"), nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
