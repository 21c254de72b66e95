package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "envsurveillance/internal/telemetry/domain"
)

// PointStore keeps each device's points in a slice sorted by (TS, ID).
type PointStore struct {
	mu     sync.RWMutex
	nextID int64
	series map[string][]telemetry.Point
}

// NewPointStore constructs an empty store.
func NewPointStore() *PointStore {
	return &PointStore{series: make(map[string][]telemetry.Point)}
}

// Append inserts a point after any existing point with the same timestamp.
func (s *PointStore) Append(ctx context.Context, p telemetry.Point) (telemetry.Point, error) {
	_ = ctx
	if err := p.Validate(); err != nil {
		return telemetry.Point{}, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID

	points := s.series[p.DeviceEUI]
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].TS.After(p.TS)
	})
	points = append(points, telemetry.Point{})
	copy(points[idx+1:], points[idx:])
	points[idx] = p
	s.series[p.DeviceEUI] = points
	return p, nil
}

// Latest returns the last point of the device's series.
func (s *PointStore) Latest(ctx context.Context, deviceEUI string) (telemetry.Point, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	points := s.series[deviceEUI]
	if len(points) == 0 {
		return telemetry.Point{}, telemetry.ErrNoTelemetry
	}
	return points[len(points)-1], nil
}

// History binary-searches the range and keeps its newest points.
func (s *PointStore) History(ctx context.Context, q telemetry.HistoryQuery) ([]telemetry.Point, error) {
	_ = ctx
	limit := q.EffectiveLimit()

	s.mu.RLock()
	defer s.mu.RUnlock()
	points := s.series[q.DeviceEUI]

	lo := 0
	if q.From != nil {
		from := *q.From
		lo = sort.Search(len(points), func(i int) bool {
			return !points[i].TS.Before(from)
		})
	}
	hi := len(points)
	if q.To != nil {
		to := *q.To
		hi = sort.Search(len(points), func(i int) bool {
			return points[i].TS.After(to)
		})
	}
	if hi <= lo {
		return []telemetry.Point{}, nil
	}
	if hi-lo > limit {
		lo = hi - limit
	}
	out := make([]telemetry.Point, hi-lo)
	copy(out, points[lo:hi])
	return out, nil
}

// PurgeDevice drops every point of a device.
func (s *PointStore) PurgeDevice(ctx context.Context, deviceEUI string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, deviceEUI)
	return nil
}

// Count returns the number of stored points for a device.
func (s *PointStore) Count(deviceEUI string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[deviceEUI])
}
