package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	redacted      = "[REDACTED]"
	maxPatternLen = 200
)

// redactingEncoder masks values of sensitive keys, and string values that
// look like credentials, before they reach the wrapped encoder.
type redactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactingEncoder(base zapcore.Encoder, keys, patterns []string) (*redactingEncoder, error) {
	e := &redactingEncoder{Encoder: base, keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		e.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

func (e *redactingEncoder) sensitive(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

func (e *redactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			e.Encoder.AddString(key, redacted)
			return
		}
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, patterns: e.patterns}
}
