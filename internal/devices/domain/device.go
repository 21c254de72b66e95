package devices

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// EUILength is the number of hex characters in a device EUI.
	EUILength = 16
	// MaxNameLength bounds device display names, in characters.
	MaxNameLength = 100
	// PlaceholderName is used when an uplink carries no device name.
	PlaceholderName = "unknown-device"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device already exists")
	ErrInvalidEUI     = errors.New("invalid device eui")
	ErrEmptyName      = errors.New("missing name")
	ErrEUIExhausted   = errors.New("device eui generation exhausted")
)

// Device is a registered field device.
type Device struct {
	ID        int64
	EUI       string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// NormalizeEUI trims and upper-cases an EUI, rejecting anything that is not
// exactly 16 hex characters.
func NormalizeEUI(raw string) (string, error) {
	eui := strings.ToUpper(strings.TrimSpace(raw))
	if len(eui) != EUILength {
		return "", ErrInvalidEUI
	}
	for i := 0; i < len(eui); i++ {
		c := eui[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", ErrInvalidEUI
		}
	}
	return eui, nil
}

// NormalizeName trims a display name and cuts it to MaxNameLength characters.
func NormalizeName(raw string) string {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxNameLength])
}

// Repository persists devices.
type Repository interface {
	Find(ctx context.Context, eui string) (Device, error)
	Exists(ctx context.Context, eui string) (bool, error)
	List(ctx context.Context) ([]Device, error)
	// Names maps each registered EUI in euis to its name; unknown EUIs are omitted.
	Names(ctx context.Context, euis []string) (map[string]string, error)
	// Create fails with ErrDeviceExists when the EUI is taken.
	Create(ctx context.Context, device Device) (Device, error)
	// ResolveOrCreate returns the stored device, inserting it first when the
	// EUI is new. Concurrent first inserts for one EUI yield a single row.
	ResolveOrCreate(ctx context.Context, eui, defaultName string) (Device, bool, error)
	Update(ctx context.Context, device Device) (Device, error)
	Delete(ctx context.Context, eui string) error
}
