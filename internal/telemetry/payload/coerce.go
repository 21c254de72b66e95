package payload

import (
	"math"
	"regexp"
	"strconv"
)

var embeddedNumber = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// Coerce converts a scalar node into a float. Numbers convert directly; text
// yields the first embedded signed decimal ("23.5 C" -> 23.5). Anything else,
// including booleans and values that do not fit a float64, is absent.
func Coerce(n Node) (float64, bool) {
	switch n.kind {
	case KindNumber:
		return parseFinite(string(n.number))
	case KindText:
		match := embeddedNumber.FindString(n.text)
		if match == "" {
			return 0, false
		}
		return parseFinite(match)
	default:
		return 0, false
	}
}

// CoercePtr is Coerce returning nil when absent.
func CoercePtr(n Node) *float64 {
	value, ok := Coerce(n)
	if !ok {
		return nil
	}
	return &value
}

func parseFinite(s string) (float64, bool) {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}
