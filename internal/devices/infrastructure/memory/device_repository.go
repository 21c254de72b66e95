package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	devices "envsurveillance/internal/devices/domain"
)

// DeviceRepository is an in-memory device directory.
type DeviceRepository struct {
	mu     sync.RWMutex
	nextID int64
	data   map[string]devices.Device
	now    func() time.Time
}

// NewDeviceRepository constructs an empty repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{
		data: make(map[string]devices.Device),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *DeviceRepository) Find(ctx context.Context, eui string) (devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.data[eui]
	if !ok {
		return devices.Device{}, devices.ErrDeviceNotFound
	}
	return device, nil
}

func (r *DeviceRepository) Exists(ctx context.Context, eui string) (bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data[eui]
	return ok, nil
}

// List returns devices in registration order.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]devices.Device, 0, len(r.data))
	for _, device := range r.data {
		out = append(out, device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *DeviceRepository) Names(ctx context.Context, euis []string) (map[string]string, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make(map[string]string, len(euis))
	for _, eui := range euis {
		if device, ok := r.data[eui]; ok {
			names[eui] = device.Name
		}
	}
	return names, nil
}

func (r *DeviceRepository) Create(ctx context.Context, device devices.Device) (devices.Device, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[device.EUI]; ok {
		return devices.Device{}, devices.ErrDeviceExists
	}
	return r.insertLocked(device), nil
}

func (r *DeviceRepository) ResolveOrCreate(ctx context.Context, eui, defaultName string) (devices.Device, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.data[eui]; ok {
		return existing, false, nil
	}
	device := r.insertLocked(devices.Device{EUI: eui, Name: defaultName, IsActive: true})
	return device, true, nil
}

func (r *DeviceRepository) Update(ctx context.Context, device devices.Device) (devices.Device, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[device.EUI]
	if !ok {
		return devices.Device{}, devices.ErrDeviceNotFound
	}
	existing.Name = device.Name
	existing.IsActive = device.IsActive
	r.data[device.EUI] = existing
	return existing, nil
}

func (r *DeviceRepository) Delete(ctx context.Context, eui string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[eui]; !ok {
		return devices.ErrDeviceNotFound
	}
	delete(r.data, eui)
	return nil
}

func (r *DeviceRepository) insertLocked(device devices.Device) devices.Device {
	r.nextID++
	device.ID = r.nextID
	if device.CreatedAt.IsZero() {
		device.CreatedAt = r.now()
	}
	r.data[device.EUI] = device
	return device
}
