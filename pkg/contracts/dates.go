package contracts

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical storable date format.
const DateLayout = "2006-01-02T15:04:05.000"

var inputLayouts = []string{
	time.RFC3339Nano,
	DateLayout,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatDate renders t in the canonical layout, in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// NormalizeDate parses any accepted input layout and returns the canonical form.
func NormalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return FormatDate(t), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", value)
}
