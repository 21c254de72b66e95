package memory

import (
	"context"
	"sync"
	"time"

	uplinks "envsurveillance/internal/uplinks/domain"
)

// UplinkLog keeps uplinks in insertion order.
type UplinkLog struct {
	mu     sync.RWMutex
	nextID int64
	items  []uplinks.RawUplink
}

// NewUplinkLog constructs an empty log.
func NewUplinkLog() *UplinkLog {
	return &UplinkLog{}
}

func (l *UplinkLog) Store(ctx context.Context, uplink uplinks.RawUplink) (uplinks.RawUplink, error) {
	_ = ctx
	if uplink.ReceivedAt.IsZero() {
		uplink.ReceivedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	uplink.ID = l.nextID
	l.items = append(l.items, uplink)
	return uplink, nil
}

func (l *UplinkLog) List(ctx context.Context, limit int) ([]uplinks.RawUplink, error) {
	_ = ctx
	limit = uplinks.ClampListLimit(limit)
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]uplinks.RawUplink, 0, min(limit, len(l.items)))
	for i := len(l.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.items[i])
	}
	return out, nil
}

func (l *UplinkLog) Delete(ctx context.Context, id int64) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, item := range l.items {
		if item.ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return nil
		}
	}
	return uplinks.ErrUplinkNotFound
}

// PurgeDevice drops all uplinks of a device.
func (l *UplinkLog) PurgeDevice(ctx context.Context, deviceEUI string) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.items[:0]
	for _, item := range l.items {
		if item.DeviceEUI != deviceEUI {
			kept = append(kept, item)
		}
	}
	l.items = kept
	return nil
}
