package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const redacted = "[REDACTED]"

var errRedactedSecret = errors.New("secret value is redacted")

// Duration is a time.Duration read from text such as "30s" in YAML files and
// environment variables. Negative values are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	switch {
	case err != nil:
		return err
	case v < 0:
		return fmt.Errorf("negative duration %q", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration().String()), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.Duration().String()) }

// Duration converts d back to a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret holds a credential. Every formatting and encoding path prints
// [REDACTED]; only Value returns the real string.
type Secret string

// mask is what a Secret looks like outside Value.
func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.mask() }
func (s Secret) GoString() string { return "config.Secret(" + redacted + ")" }

// Value returns the credential itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// UnmarshalJSON refuses the redacted placeholder so a dumped config cannot
// be reloaded with a fake credential.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == redacted {
		return errRedactedSecret
	}
	*s = Secret(raw)
	return nil
}
