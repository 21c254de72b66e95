package payload

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MillisecondThreshold separates epoch seconds from epoch milliseconds.
const MillisecondThreshold int64 = 1_000_000_000_000

// ResolveTimestamp turns a raw timestamp node into an instant with second
// precision. Values above the threshold are read as milliseconds. Absent or
// null input, unparsable text and numbers outside int64 resolve to now.
func ResolveTimestamp(raw Node, now time.Time) time.Time {
	fallback := time.Unix(now.Unix(), 0).UTC()
	value, ok := epochValue(raw)
	if !ok {
		return fallback
	}
	if value > MillisecondThreshold {
		value /= 1000
	}
	return time.Unix(value, 0).UTC()
}

func epochValue(raw Node) (int64, bool) {
	switch raw.kind {
	case KindNumber:
		literal := string(raw.number)
		if value, err := strconv.ParseInt(literal, 10, 64); err == nil {
			return value, true
		}
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		f = math.Trunc(f)
		if f >= math.MaxInt64 || f <= math.MinInt64 {
			return 0, false
		}
		return int64(f), true
	case KindText:
		value, err := strconv.ParseInt(strings.TrimSpace(raw.text), 10, 64)
		if err != nil {
			return 0, false
		}
		return value, true
	default:
		return 0, false
	}
}
