package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	devices "envsurveillance/internal/devices/domain"
)

// Purger removes data a device owns outside the directory.
type Purger interface {
	PurgeDevice(ctx context.Context, eui string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// CreateInput registers a device. An empty EUI is generated.
type CreateInput struct {
	EUI  string
	Name string
}

// UpdateInput patches a device; nil fields are left unchanged.
type UpdateInput struct {
	Name     *string
	IsActive *bool
}

// Service manages the device directory.
type Service struct {
	repo      devices.Repository
	generator devices.EUIGenerator
	purgers   []Purger
	clock     Clock
	logger    *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithGenerator replaces the EUI generator.
func WithGenerator(gen devices.EUIGenerator) Option {
	return func(s *Service) { s.generator = gen }
}

// WithPurgers registers stores cleaned when a device is deleted.
func WithPurgers(purgers ...Purger) Option {
	return func(s *Service) {
		for _, p := range purgers {
			if p != nil {
				s.purgers = append(s.purgers, p)
			}
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a device service.
func NewService(repo devices.Repository, logger *zap.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("device service: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{repo: repo, clock: systemClock{}, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns all devices.
func (s *Service) List(ctx context.Context) ([]devices.Device, error) {
	return s.repo.List(ctx)
}

// Names resolves display names for a set of stored EUIs.
func (s *Service) Names(ctx context.Context, euis []string) (map[string]string, error) {
	if len(euis) == 0 {
		return map[string]string{}, nil
	}
	return s.repo.Names(ctx, euis)
}

// Find returns one device by EUI.
func (s *Service) Find(ctx context.Context, eui string) (devices.Device, error) {
	normalized, err := devices.NormalizeEUI(eui)
	if err != nil {
		return devices.Device{}, devices.ErrDeviceNotFound
	}
	return s.repo.Find(ctx, normalized)
}

// Create registers a device, generating its EUI when none is given.
func (s *Service) Create(ctx context.Context, in CreateInput) (devices.Device, error) {
	name := devices.NormalizeName(in.Name)
	if name == "" {
		return devices.Device{}, devices.ErrEmptyName
	}

	var (
		eui string
		err error
	)
	if strings.TrimSpace(in.EUI) == "" {
		eui, err = s.generator.Generate(ctx, s.repo.Exists)
	} else {
		eui, err = devices.NormalizeEUI(in.EUI)
	}
	if err != nil {
		return devices.Device{}, err
	}

	device, err := s.repo.Create(ctx, devices.Device{
		EUI:       eui,
		Name:      name,
		IsActive:  true,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return devices.Device{}, err
	}
	s.logger.Info("device created", zap.String("device_eui", device.EUI), zap.String("name", device.Name))
	return device, nil
}

// Update applies a partial change to a device.
func (s *Service) Update(ctx context.Context, eui string, in UpdateInput) (devices.Device, error) {
	device, err := s.Find(ctx, eui)
	if err != nil {
		return devices.Device{}, err
	}
	if in.Name != nil {
		name := devices.NormalizeName(*in.Name)
		if name == "" {
			return devices.Device{}, devices.ErrEmptyName
		}
		device.Name = name
	}
	if in.IsActive != nil {
		device.IsActive = *in.IsActive
	}
	return s.repo.Update(ctx, device)
}

// Rename sets a device's display name.
func (s *Service) Rename(ctx context.Context, eui, name string) (devices.Device, error) {
	return s.Update(ctx, eui, UpdateInput{Name: &name})
}

// ResolveOrCreate returns the device for eui, registering it on first sight.
func (s *Service) ResolveOrCreate(ctx context.Context, eui, defaultName string) (devices.Device, bool, error) {
	normalized, err := devices.NormalizeEUI(eui)
	if err != nil {
		return devices.Device{}, false, err
	}
	name := devices.NormalizeName(defaultName)
	if name == "" {
		name = devices.PlaceholderName
	}
	device, created, err := s.repo.ResolveOrCreate(ctx, normalized, name)
	if err != nil {
		return devices.Device{}, false, err
	}
	if created {
		s.logger.Info("device registered from traffic", zap.String("device_eui", device.EUI))
	}
	return device, created, nil
}

// Delete removes a device and purges the data it owns. Purge failures are
// logged; the device row is already gone by then.
func (s *Service) Delete(ctx context.Context, eui string) error {
	normalized, err := devices.NormalizeEUI(eui)
	if err != nil {
		return devices.ErrDeviceNotFound
	}
	if err := s.repo.Delete(ctx, normalized); err != nil {
		return err
	}
	for _, purger := range s.purgers {
		if err := purger.PurgeDevice(ctx, normalized); err != nil {
			s.logger.Error("device delete: purge failed", zap.String("device_eui", normalized), zap.Error(err))
		}
	}
	s.logger.Info("device deleted", zap.String("device_eui", normalized))
	return nil
}
