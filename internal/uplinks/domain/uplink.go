package uplinks

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ErrUplinkNotFound is returned when deleting an unknown uplink.
var ErrUplinkNotFound = errors.New("uplink not found")

// RawUplink is a verbatim webhook body with its extracted radio metadata.
type RawUplink struct {
	ID             int64
	DeviceEUI      string
	ApplicationID  string
	RawPayload     json.RawMessage
	DecodedPayload json.RawMessage
	RSSI           *float64
	SNR            *float64
	FPort          *int
	ReceivedAt     time.Time
}

// Log stores and lists raw uplinks.
type Log interface {
	Store(ctx context.Context, uplink RawUplink) (RawUplink, error)
	// List returns the newest uplinks first.
	List(ctx context.Context, limit int) ([]RawUplink, error)
	Delete(ctx context.Context, id int64) error
}

// ClampListLimit bounds a list limit; zero or negative means DefaultListLimit.
func ClampListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
