package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	devices "envsurveillance/internal/devices/domain"
	"envsurveillance/internal/storage"
)

const defaultDevicesTable = "devices"

// DeviceRepository stores devices in Postgres or SQLite.
type DeviceRepository struct {
	db    *storage.DB
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *storage.DB, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Find loads a device by EUI.
func (r *DeviceRepository) Find(ctx context.Context, eui string) (devices.Device, error) {
	if r == nil || r.db == nil {
		return devices.Device{}, errors.New("device repo: nil db")
	}
	query := r.db.Rebind(fmt.Sprintf(`
SELECT id, device_eui, name, is_active, created_at
FROM %s
WHERE device_eui = ?
LIMIT 1`, r.table))

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, eui))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return devices.Device{}, devices.ErrDeviceNotFound
		}
		return devices.Device{}, err
	}
	return device, nil
}

// Exists checks whether an EUI is registered.
func (r *DeviceRepository) Exists(ctx context.Context, eui string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	query := r.db.Rebind(fmt.Sprintf(`SELECT 1 FROM %s WHERE device_eui = ? LIMIT 1`, r.table))
	var one int
	if err := r.db.QueryRowContext(ctx, query, eui).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List loads every device ordered by id.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, device_eui, name, is_active, created_at
FROM %s
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]devices.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const namesBatchSize = 500

// Names looks up the names of the given EUIs in batches.
func (r *DeviceRepository) Names(ctx context.Context, euis []string) (map[string]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	names := make(map[string]string, len(euis))
	for start := 0; start < len(euis); start += namesBatchSize {
		end := start + namesBatchSize
		if end > len(euis) {
			end = len(euis)
		}
		batch := euis[start:end]
		args := make([]any, len(batch))
		for i, eui := range batch {
			args[i] = eui
		}
		query := r.db.Rebind(fmt.Sprintf(`
SELECT device_eui, name
FROM %s
WHERE device_eui IN (%s)`, r.table, strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ")))

		if err := r.scanNames(ctx, query, args, names); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (r *DeviceRepository) scanNames(ctx context.Context, query string, args []any, names map[string]string) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var eui, name string
		if err := rows.Scan(&eui, &name); err != nil {
			return err
		}
		names[eui] = name
	}
	return rows.Err()
}

// Create inserts a new device; an existing EUI yields ErrDeviceExists.
func (r *DeviceRepository) Create(ctx context.Context, device devices.Device) (devices.Device, error) {
	if r == nil || r.db == nil {
		return devices.Device{}, errors.New("device repo: nil db")
	}
	created, ok, err := r.insertIfAbsent(ctx, device)
	if err != nil {
		return devices.Device{}, err
	}
	if !ok {
		return devices.Device{}, devices.ErrDeviceExists
	}
	return created, nil
}

// ResolveOrCreate inserts with ON CONFLICT DO NOTHING and falls back to a lookup,
// so the losing side of a concurrent first insert reads the winner's row.
func (r *DeviceRepository) ResolveOrCreate(ctx context.Context, eui, defaultName string) (devices.Device, bool, error) {
	if r == nil || r.db == nil {
		return devices.Device{}, false, errors.New("device repo: nil db")
	}
	created, ok, err := r.insertIfAbsent(ctx, devices.Device{EUI: eui, Name: defaultName, IsActive: true})
	if err != nil {
		return devices.Device{}, false, err
	}
	if ok {
		return created, true, nil
	}
	existing, err := r.Find(ctx, eui)
	if err != nil {
		return devices.Device{}, false, err
	}
	return existing, false, nil
}

// Update writes name and active flag.
func (r *DeviceRepository) Update(ctx context.Context, device devices.Device) (devices.Device, error) {
	if r == nil || r.db == nil {
		return devices.Device{}, errors.New("device repo: nil db")
	}
	query := r.db.Rebind(fmt.Sprintf(`
UPDATE %s
SET name = ?, is_active = ?
WHERE device_eui = ?`, r.table))

	res, err := r.db.ExecContext(ctx, query, device.Name, device.IsActive, device.EUI)
	if err != nil {
		return devices.Device{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return devices.Device{}, err
	}
	if affected == 0 {
		return devices.Device{}, devices.ErrDeviceNotFound
	}
	return r.Find(ctx, device.EUI)
}

// Delete removes a device; telemetry and uplinks cascade.
func (r *DeviceRepository) Delete(ctx context.Context, eui string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	query := r.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE device_eui = ?`, r.table))
	res, err := r.db.ExecContext(ctx, query, eui)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrDeviceNotFound
	}
	return nil
}

func (r *DeviceRepository) insertIfAbsent(ctx context.Context, device devices.Device) (devices.Device, bool, error) {
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(fmt.Sprintf(`
INSERT INTO %s (device_eui, name, is_active, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (device_eui) DO NOTHING
RETURNING id`, r.table))

	err := r.db.QueryRowContext(ctx, query,
		device.EUI,
		device.Name,
		device.IsActive,
		storage.Millis(device.CreatedAt),
	).Scan(&device.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return devices.Device{}, false, nil
		}
		return devices.Device{}, false, err
	}
	device.CreatedAt = storage.FromMillis(storage.Millis(device.CreatedAt))
	return device, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (devices.Device, error) {
	var (
		device    devices.Device
		createdAt int64
	)
	if err := row.Scan(&device.ID, &device.EUI, &device.Name, &device.IsActive, &createdAt); err != nil {
		return devices.Device{}, err
	}
	device.CreatedAt = storage.FromMillis(createdAt)
	return device, nil
}
