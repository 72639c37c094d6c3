package config

import (
	"fmt"
	"strings"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

// NormalizeFormat validates a CLI output format. Empty means json.
func NormalizeFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	switch format {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatText, "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid format %q (expected %s|%s)", raw, FormatJSON, FormatText)
	}
}
