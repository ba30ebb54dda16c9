package domain

import (
	"bytes"
	"strings"
	"text/template"
	"time"
)

const maxFilenameStem = 128

// FallbackFilename is used when the configured default renders empty.
const FallbackFilename = "document.pdf"

type filenameData struct {
	Timestamp string
	Date      string
}

// DefaultFilename renders the configured default name template and
// sanitizes the result.
func DefaultFilename(pattern string, now time.Time) string {
	tmpl, err := template.New("filename").Option("missingkey=zero").Parse(pattern)
	if err != nil {
		return SanitizeFilename(pattern, FallbackFilename)
	}
	var buf bytes.Buffer
	data := filenameData{
		Timestamp: now.Format("20060102_150405"),
		Date:      now.Format("20060102"),
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return FallbackFilename
	}
	return SanitizeFilename(buf.String(), FallbackFilename)
}

// SanitizeFilename reduces name to a safe attachment filename ending in
// ".pdf". Only [A-Za-z0-9_.-] survive; an empty result yields fallback.
func SanitizeFilename(name, fallback string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name = name[:len(name)-len(".pdf")]
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		ok := r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}

	stem := strings.Trim(b.String(), "._-")
	if len(stem) > maxFilenameStem {
		stem = strings.TrimRight(stem[:maxFilenameStem], "._-")
	}
	if stem == "" {
		if fallback == "" {
			return FallbackFilename
		}
		return SanitizeFilename(fallback, "")
	}
	return stem + ".pdf"
}
