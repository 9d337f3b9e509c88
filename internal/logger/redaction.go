package logger

import (
	"io"
	"regexp"
)

const redactedMark = "[REDACTED]"

// defaultRedactionPatterns covers the credentials this service handles:
// provider API keys, bearer tokens, Supabase JWTs and mailbox passwords.
var defaultRedactionPatterns = []string{
	`sk-[a-zA-Z0-9_-]{20,}`,
	`sk-or-[a-zA-Z0-9_-]{20,}`,
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9._-]+`,
	`password["\s:=]+[^\s"]+`,
	`pwd["\s:=]+[^\s"]+`,
	`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	`secret["\s:=]+[^\s"]+`,
}

// Redactor masks credential-shaped substrings before they reach a log sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor builds a redactor with the default credential patterns.
func NewRedactor() *Redactor {
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(defaultRedactionPatterns))}
	for _, p := range defaultRedactionPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern registers an extra pattern to mask.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every pattern match with the redaction mark.
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redactedMark)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	return w.next.Write([]byte(w.redactor.Redact(string(p))))
}
