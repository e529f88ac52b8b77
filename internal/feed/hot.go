package feed

import (
	"strconv"
	"strings"
)

// ParseHotValue coerces the hot value formats seen in the wild into a float.
// Upstream feeds deliver plain numbers, comma-grouped strings ("1,234,000"),
// and ten-thousand shorthand ("98.2万", "12w"). Unparsable input yields 0.
func ParseHotValue(raw string) float64 {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.ReplaceAll(text, ",", "")
	if text == "" {
		return 0
	}
	multiplier := 1.0
	if strings.HasSuffix(text, "万") {
		text = strings.TrimSuffix(text, "万")
		multiplier = 10000
	} else if strings.HasSuffix(text, "w") {
		text = strings.TrimSuffix(text, "w")
		multiplier = 10000
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0
	}
	return v * multiplier
}
