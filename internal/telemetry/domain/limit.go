package telemetry

import (
	"errors"
	"strconv"
	"strings"
)

const (
	DefaultHistoryLimit = 300
	MinHistoryLimit     = 1
	MaxHistoryLimit     = 5000
)

// ClampLimit bounds n to [MinHistoryLimit, MaxHistoryLimit].
func ClampLimit(n int) int {
	if n < MinHistoryLimit {
		return MinHistoryLimit
	}
	if n > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return n
}

// ParseLimit reads a limit query parameter. Missing or non-numeric input
// yields DefaultHistoryLimit; integers outside the bounds are clamped.
func ParseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultHistoryLimit
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			if strings.HasPrefix(raw, "-") {
				return MinHistoryLimit
			}
			return MaxHistoryLimit
		}
		return DefaultHistoryLimit
	}
	if n < MinHistoryLimit {
		return MinHistoryLimit
	}
	if n > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return int(n)
}
