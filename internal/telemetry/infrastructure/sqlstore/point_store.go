package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"envsurveillance/internal/storage"
	telemetry "envsurveillance/internal/telemetry/domain"
)

const defaultPointsTable = "telemetry_points"

// PointStore persists telemetry points in Postgres or SQLite.
type PointStore struct {
	db    *storage.DB
	table string
}

// NewPointStore constructs a store with the default table name.
func NewPointStore(db *storage.DB, opts ...Option) *PointStore {
	store := &PointStore{db: db, table: defaultPointsTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Option configures the store.
type Option func(*PointStore)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(store *PointStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Append inserts one point; ts is stored as epoch seconds.
func (s *PointStore) Append(ctx context.Context, p telemetry.Point) (telemetry.Point, error) {
	if s == nil || s.db == nil {
		return telemetry.Point{}, errors.New("telemetry store: nil db")
	}
	if err := p.Validate(); err != nil {
		return telemetry.Point{}, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := s.db.Rebind(fmt.Sprintf(`
INSERT INTO %s (device_eui, ts, lat, lng, temp, battery, rssi, snr, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`, s.table))

	if err := s.db.QueryRowContext(ctx, query,
		p.DeviceEUI,
		p.TS.Unix(),
		p.Lat,
		p.Lng,
		storage.NullFloat(p.Temperature),
		storage.NullFloat(p.Battery),
		storage.NullFloat(p.RSSI),
		storage.NullFloat(p.SNR),
		storage.Millis(p.CreatedAt),
	).Scan(&p.ID); err != nil {
		return telemetry.Point{}, fmt.Errorf("telemetry store: insert: %w", err)
	}
	p.TS = time.Unix(p.TS.Unix(), 0).UTC()
	p.CreatedAt = storage.FromMillis(storage.Millis(p.CreatedAt))
	return p, nil
}

// Latest loads the point with the greatest (ts, id).
func (s *PointStore) Latest(ctx context.Context, deviceEUI string) (telemetry.Point, error) {
	if s == nil || s.db == nil {
		return telemetry.Point{}, errors.New("telemetry store: nil db")
	}

	query := s.db.Rebind(fmt.Sprintf(`
SELECT id, device_eui, ts, lat, lng, temp, battery, rssi, snr, created_at
FROM %s
WHERE device_eui = ?
ORDER BY ts DESC, id DESC
LIMIT 1`, s.table))

	p, err := scanPoint(s.db.QueryRowContext(ctx, query, deviceEUI))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return telemetry.Point{}, telemetry.ErrNoTelemetry
		}
		return telemetry.Point{}, fmt.Errorf("telemetry store: latest: %w", err)
	}
	return p, nil
}

// History selects the newest points in range through the (device_eui, ts, id)
// index and returns them oldest first.
func (s *PointStore) History(ctx context.Context, q telemetry.HistoryQuery) ([]telemetry.Point, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("telemetry store: nil db")
	}

	where := "device_eui = ?"
	args := []any{q.DeviceEUI}
	if q.From != nil {
		where += " AND ts >= ?"
		args = append(args, q.From.Unix())
	}
	if q.To != nil {
		where += " AND ts <= ?"
		args = append(args, q.To.Unix())
	}
	args = append(args, q.EffectiveLimit())

	query := s.db.Rebind(fmt.Sprintf(`
SELECT id, device_eui, ts, lat, lng, temp, battery, rssi, snr, created_at
FROM %s
WHERE %s
ORDER BY ts DESC, id DESC
LIMIT ?`, s.table, where))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: history: %w", err)
	}
	defer rows.Close()

	points := make([]telemetry.Point, 0)
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("telemetry store: scan: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// PurgeDevice deletes a device's points. Foreign keys cascade the same
// delete when the device row goes away.
func (s *PointStore) PurgeDevice(ctx context.Context, deviceEUI string) error {
	if s == nil || s.db == nil {
		return errors.New("telemetry store: nil db")
	}
	query := s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE device_eui = ?`, s.table))
	_, err := s.db.ExecContext(ctx, query, deviceEUI)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoint(row rowScanner) (telemetry.Point, error) {
	var (
		p         telemetry.Point
		ts        int64
		createdAt int64
		temp      sql.NullFloat64
		battery   sql.NullFloat64
		rssi      sql.NullFloat64
		snr       sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &p.DeviceEUI, &ts, &p.Lat, &p.Lng, &temp, &battery, &rssi, &snr, &createdAt); err != nil {
		return telemetry.Point{}, err
	}
	p.TS = time.Unix(ts, 0).UTC()
	p.CreatedAt = storage.FromMillis(createdAt)
	p.Temperature = storage.FloatPtr(temp)
	p.Battery = storage.FloatPtr(battery)
	p.RSSI = storage.FloatPtr(rssi)
	p.SNR = storage.FloatPtr(snr)
	return p, nil
}
