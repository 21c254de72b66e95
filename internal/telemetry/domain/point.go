package telemetry

import (
	"context"
	"math"
	"strings"
	"time"
)

// Point is one normalized telemetry sample for a device.
// TS has second precision; CreatedAt records when the point was stored.
type Point struct {
	ID          int64
	DeviceEUI   string
	TS          time.Time
	Lat         float64
	Lng         float64
	Temperature *float64
	Battery     *float64
	RSSI        *float64
	SNR         *float64
	CreatedAt   time.Time
}

// Validate checks the fields every stored point must carry.
func (p Point) Validate() error {
	if strings.TrimSpace(p.DeviceEUI) == "" {
		return ErrInvalidPoint
	}
	if !finite(p.Lat) || !finite(p.Lng) {
		return ErrInvalidPoint
	}
	return nil
}

// Before orders points by timestamp, then by insertion id.
func (p Point) Before(other Point) bool {
	if !p.TS.Equal(other.TS) {
		return p.TS.Before(other.TS)
	}
	return p.ID < other.ID
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// HistoryQuery selects a window of points for one device.
// From and To are inclusive; nil leaves that side unbounded.
// A zero Limit means DefaultHistoryLimit.
type HistoryQuery struct {
	DeviceEUI string
	Limit     int
	From      *time.Time
	To        *time.Time
}

// Contains reports whether ts falls inside the query bounds.
func (q HistoryQuery) Contains(ts time.Time) bool {
	if q.From != nil && ts.Before(*q.From) {
		return false
	}
	if q.To != nil && ts.After(*q.To) {
		return false
	}
	return true
}

// EffectiveLimit returns the clamped limit the store applies.
func (q HistoryQuery) EffectiveLimit() int {
	if q.Limit == 0 {
		return DefaultHistoryLimit
	}
	return ClampLimit(q.Limit)
}

// Store is an append-only per-device time series.
type Store interface {
	// Append inserts p and returns it with its assigned ID and CreatedAt.
	Append(ctx context.Context, p Point) (Point, error)
	// Latest returns the point with the greatest (TS, ID); ErrNoTelemetry when none exist.
	Latest(ctx context.Context, deviceEUI string) (Point, error)
	// History returns at most the most recent limit points in range, oldest first.
	History(ctx context.Context, q HistoryQuery) ([]Point, error)
}
