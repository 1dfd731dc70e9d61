package utils

import (
	"fmt"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// ParseRelative resolves RFC3339 timestamps and natural-language dates such as
// "1 day ago", "yesterday" or "now" against now.
func ParseRelative(value string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	dt, err := dps.Parse(&dps.Configuration{CurrentTime: now}, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	if dt.Time.IsZero() {
		return time.Time{}, fmt.Errorf("parse time %q: no date found", value)
	}
	return dt.Time, nil
}
