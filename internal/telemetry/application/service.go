package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	devices "envsurveillance/internal/devices/domain"
	"envsurveillance/internal/observability/metrics"
	telemetry "envsurveillance/internal/telemetry/domain"
	"envsurveillance/internal/telemetry/interfaces/ttn"
	"envsurveillance/internal/telemetry/payload"
	uplinks "envsurveillance/internal/uplinks/domain"
)

// DeviceDirectory resolves device identities.
type DeviceDirectory interface {
	ResolveOrCreate(ctx context.Context, eui, defaultName string) (devices.Device, bool, error)
	Find(ctx context.Context, eui string) (devices.Device, error)
	Rename(ctx context.Context, eui, name string) (devices.Device, error)
}

// UplinkRecorder persists raw webhook bodies.
type UplinkRecorder interface {
	Store(ctx context.Context, uplink uplinks.RawUplink) (uplinks.RawUplink, error)
}

// PointPublisher receives every appended point. Publish must not block.
type PointPublisher interface {
	Publish(point telemetry.Point)
}

// Clock supplies the ingestion instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service ingests uplinks and direct readings and answers telemetry queries.
type Service struct {
	store     telemetry.Store
	directory DeviceDirectory
	recorder  UplinkRecorder
	publisher PointPublisher
	clock     Clock
	logger    *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithUplinkRecorder stores each webhook body in the raw uplink log.
func WithUplinkRecorder(recorder UplinkRecorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

// WithPublisher forwards appended points, e.g. to the live stream.
func WithPublisher(publisher PointPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a telemetry service.
func NewService(store telemetry.Store, directory DeviceDirectory, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("telemetry service: nil store")
	}
	if directory == nil {
		return nil, errors.New("telemetry service: nil device directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, directory: directory, clock: systemClock{}, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// UplinkResult describes what one webhook produced.
type UplinkResult struct {
	Record        ttn.UplinkRecord
	Device        devices.Device
	DeviceCreated bool
	Point         *telemetry.Point
}

// IngestUplink handles a network-server webhook body. The device is resolved
// or created, the raw body is logged, and a point is appended when the
// decoded payload carries a position.
func (s *Service) IngestUplink(ctx context.Context, body []byte) (UplinkResult, error) {
	now := s.clock.Now()
	record, err := ttn.Build(body)
	if err != nil {
		return UplinkResult{}, err
	}

	device, created, err := s.directory.ResolveOrCreate(ctx, record.DeviceEUI, record.DeviceName)
	if err != nil {
		return UplinkResult{}, fmt.Errorf("resolve device: %w", err)
	}
	if created {
		metrics.IncDeviceAutoRegistered()
	} else if record.HasDeviceName() && device.Name != record.DeviceName {
		renamed, err := s.directory.Rename(ctx, device.EUI, record.DeviceName)
		if err != nil {
			s.logger.Warn("telemetry ingest: rename failed", zap.String("device_eui", device.EUI), zap.Error(err))
		} else {
			device = renamed
		}
	}
	result := UplinkResult{Record: record, Device: device, DeviceCreated: created}

	s.recordUplink(ctx, record, now)

	if !record.Decoded.IsObject() {
		return result, nil
	}
	lat, lng, ok := payload.ExtractPosition(record.Decoded)
	if !ok {
		s.logger.Debug("telemetry ingest: no position in payload", zap.String("device_eui", device.EUI))
		return result, nil
	}
	rssi := record.RSSI
	if rssi == nil {
		rssi = payload.ExtractFieldPtr(record.Decoded, payload.RSSIAliases...)
	}
	snr := record.SNR
	if snr == nil {
		snr = payload.ExtractFieldPtr(record.Decoded, payload.SNRAliases...)
	}
	point, err := s.append(ctx, telemetry.Point{
		DeviceEUI:   device.EUI,
		TS:          payload.ResolveTimestamp(payload.Lookup(record.Decoded, payload.TimestampAliases...), now),
		Lat:         lat,
		Lng:         lng,
		Temperature: payload.ExtractFieldPtr(record.Decoded, payload.TemperatureAliases...),
		Battery:     payload.ExtractFieldPtr(record.Decoded, payload.BatteryAliases...),
		RSSI:        rssi,
		SNR:         snr,
		CreatedAt:   now,
	})
	if err != nil {
		return result, err
	}
	result.Point = &point
	return result, nil
}

func (s *Service) recordUplink(ctx context.Context, record ttn.UplinkRecord, now time.Time) {
	if s.recorder == nil {
		return
	}
	_, err := s.recorder.Store(ctx, uplinks.RawUplink{
		DeviceEUI:      record.DeviceEUI,
		ApplicationID:  record.ApplicationID,
		RawPayload:     record.RawBody,
		DecodedPayload: record.DecodedJSON(),
		RSSI:           record.RSSI,
		SNR:            record.SNR,
		FPort:          record.FPort,
		ReceivedAt:     now,
	})
	if err != nil {
		metrics.IncUplinkLogError()
		s.logger.Error("telemetry ingest: store uplink failed", zap.String("device_eui", record.DeviceEUI), zap.Error(err))
	}
}

// IngestDirect stores a reading shaped like
// {device_eui, lat, lng, ts?, temp?, battery?|battery_level?, rssi?, snr?}.
func (s *Service) IngestDirect(ctx context.Context, body []byte) (telemetry.Point, error) {
	now := s.clock.Now()
	root, err := payload.Parse(body)
	if err != nil {
		return telemetry.Point{}, fmt.Errorf("%w: %v", telemetry.ErrInvalidFormat, err)
	}
	if !root.IsObject() {
		return telemetry.Point{}, fmt.Errorf("%w: body is %s, not an object", telemetry.ErrInvalidFormat, root.Kind())
	}

	rawEUI, ok := root.Get("device_eui").Text()
	if !ok {
		return telemetry.Point{}, telemetry.ErrMissingIdentifier
	}
	eui, err := devices.NormalizeEUI(rawEUI)
	if err != nil {
		return telemetry.Point{}, fmt.Errorf("%w: %v", telemetry.ErrMissingIdentifier, err)
	}

	lat, latOK := payload.Coerce(root.Get("lat"))
	lng, lngOK := payload.Coerce(root.Get("lng"))
	if !latOK || !lngOK {
		return telemetry.Point{}, telemetry.ErrMissingCoordinate
	}

	device, created, err := s.directory.ResolveOrCreate(ctx, eui, devices.PlaceholderName)
	if err != nil {
		return telemetry.Point{}, fmt.Errorf("resolve device: %w", err)
	}
	if created {
		metrics.IncDeviceAutoRegistered()
	}

	return s.append(ctx, telemetry.Point{
		DeviceEUI:   device.EUI,
		TS:          payload.ResolveTimestamp(root.Get("ts"), now),
		Lat:         lat,
		Lng:         lng,
		Temperature: payload.ExtractFieldPtr(root, payload.TemperatureAliases...),
		Battery:     payload.ExtractFieldPtr(root, payload.BatteryAliases...),
		RSSI:        payload.ExtractFieldPtr(root, payload.RSSIAliases...),
		SNR:         payload.ExtractFieldPtr(root, payload.SNRAliases...),
		CreatedAt:   now,
	})
}

func (s *Service) append(ctx context.Context, point telemetry.Point) (telemetry.Point, error) {
	stored, err := s.store.Append(ctx, point)
	if err != nil {
		return telemetry.Point{}, fmt.Errorf("append telemetry: %w", err)
	}
	metrics.IncPointsAppended()
	if s.publisher != nil {
		s.publisher.Publish(stored)
	}
	return stored, nil
}

// Latest returns the newest point of a known device.
func (s *Service) Latest(ctx context.Context, eui string) (telemetry.Point, error) {
	start := time.Now()
	device, err := s.findDevice(ctx, eui)
	if err != nil {
		metrics.ObserveQuery(metrics.QueryLatest, metrics.ResultRejected, time.Since(start))
		return telemetry.Point{}, err
	}
	point, err := s.store.Latest(ctx, device.EUI)
	metrics.ObserveQuery(metrics.QueryLatest, queryResult(err), time.Since(start))
	return point, err
}

// History returns a bounded window of a known device's points, oldest first.
func (s *Service) History(ctx context.Context, q telemetry.HistoryQuery) ([]telemetry.Point, error) {
	start := time.Now()
	device, err := s.findDevice(ctx, q.DeviceEUI)
	if err != nil {
		metrics.ObserveQuery(metrics.QueryHistory, metrics.ResultRejected, time.Since(start))
		return nil, err
	}
	q.DeviceEUI = device.EUI
	points, err := s.store.History(ctx, q)
	metrics.ObserveQuery(metrics.QueryHistory, queryResult(err), time.Since(start))
	return points, err
}

func (s *Service) findDevice(ctx context.Context, eui string) (devices.Device, error) {
	normalized, err := devices.NormalizeEUI(eui)
	if err != nil {
		return devices.Device{}, devices.ErrDeviceNotFound
	}
	return s.directory.Find(ctx, normalized)
}

func queryResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, telemetry.ErrNoTelemetry):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
