package extract

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"groupsync/internal/domain"
)

// TextExtractor turns an uploaded document into brief text.
type TextExtractor interface {
	ExtractText(raw []byte, mimeHint string) (string, error)
}

// PlainText handles text documents. Binary formats such as PDF or DOCX need
// an external extractor and are reported as unsupported.
type PlainText struct{}

var textTypes = map[string]bool{
	"":                   true,
	"text/plain":         true,
	"text/markdown":      true,
	"text/x-markdown":    true,
	"application/yaml":   true,
	"application/x-yaml": true,
	"text/yaml":          true,
	"application/json":   true,
}

func (PlainText) ExtractText(raw []byte, mimeHint string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(mimeHint))
	if mediaType != "" {
		parsed, _, err := mime.ParseMediaType(mediaType)
		if err != nil {
			return "", fmt.Errorf("%w: mime type %q", domain.ErrUnsupportedFormat, mimeHint)
		}
		mediaType = parsed
	}
	if !textTypes[mediaType] {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, mediaType)
	}
	if bytes.HasPrefix(raw, []byte("%PDF-")) || bytes.HasPrefix(raw, []byte("PK\x03\x04")) {
		return "", fmt.Errorf("%w: binary document sent as %s", domain.ErrUnsupportedFormat, orPlain(mediaType))
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) || bytes.IndexByte(raw, 0) >= 0 {
		return "", fmt.Errorf("%w: text is not valid UTF-8", domain.ErrCorruptDocument)
	}
	text := strings.TrimSpace(strings.ReplaceAll(string(raw), "\r\n", "\n"))
	if text == "" {
		return "", fmt.Errorf("%w: document is empty", domain.ErrCorruptDocument)
	}
	return text, nil
}

func orPlain(mediaType string) string {
	if mediaType == "" {
		return "text/plain"
	}
	return mediaType
}
