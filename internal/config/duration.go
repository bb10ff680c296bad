package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ParseDurationField reads an optional duration setting named key. Empty is
// zero; a bare number is seconds, so "30" and "30s" agree.
func ParseDurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := cast.ToFloat64E(s); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not a duration", ErrInvalid, key, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s: negative duration %q", ErrInvalid, key, raw)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when the setting is empty or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
