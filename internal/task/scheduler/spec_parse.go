package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseInterval parses an interval written as whole seconds ("90"), a Go
// duration ("1m30s") or HH:MM ("00:15" is fifteen minutes) and returns whole
// seconds. The result is range checked.
func ParseInterval(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}

	var d time.Duration
	switch {
	case isDigits(s):
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", raw, err)
		}
		d = time.Duration(n) * time.Second
	case reHHMM.MatchString(s):
		m := reHHMM.FindStringSubmatch(s)
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", raw)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	default:
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q (use seconds like '60', HH:MM like '00:05', or duration like '5m')", raw)
		}
		if d%time.Second != 0 {
			return 0, fmt.Errorf("interval %q must be whole seconds", raw)
		}
	}

	secs := int(d / time.Second)
	if err := ValidateInterval(secs); err != nil {
		return 0, err
	}
	return secs, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
