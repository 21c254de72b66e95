package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"envsurveillance/internal/storage"
	uplinks "envsurveillance/internal/uplinks/domain"
)

const defaultUplinksTable = "ttn_uplinks"

// UplinkLog stores raw uplinks in Postgres or SQLite.
type UplinkLog struct {
	db    *storage.DB
	table string
}

// NewUplinkLog constructs a log.
func NewUplinkLog(db *storage.DB, opts ...Option) *UplinkLog {
	log := &UplinkLog{db: db, table: defaultUplinksTable}
	for _, opt := range opts {
		opt(log)
	}
	return log
}

// Option configures the log.
type Option func(*UplinkLog)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(log *UplinkLog) {
		if table != "" {
			log.table = table
		}
	}
}

// Store inserts one uplink.
func (l *UplinkLog) Store(ctx context.Context, uplink uplinks.RawUplink) (uplinks.RawUplink, error) {
	if l == nil || l.db == nil {
		return uplinks.RawUplink{}, errors.New("uplink log: nil db")
	}
	if uplink.ReceivedAt.IsZero() {
		uplink.ReceivedAt = time.Now().UTC()
	}

	decoded := sql.NullString{}
	if len(uplink.DecodedPayload) > 0 {
		decoded = sql.NullString{String: string(uplink.DecodedPayload), Valid: true}
	}
	fPort := sql.NullInt64{}
	if uplink.FPort != nil {
		fPort = sql.NullInt64{Int64: int64(*uplink.FPort), Valid: true}
	}

	query := l.db.Rebind(fmt.Sprintf(`
INSERT INTO %s (device_eui, application_id, raw_payload, decoded_payload, rssi, snr, f_port, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`, l.table))

	if err := l.db.QueryRowContext(ctx, query,
		uplink.DeviceEUI,
		uplink.ApplicationID,
		string(uplink.RawPayload),
		decoded,
		storage.NullFloat(uplink.RSSI),
		storage.NullFloat(uplink.SNR),
		fPort,
		storage.Millis(uplink.ReceivedAt),
	).Scan(&uplink.ID); err != nil {
		return uplinks.RawUplink{}, fmt.Errorf("uplink log: insert: %w", err)
	}
	uplink.ReceivedAt = storage.FromMillis(storage.Millis(uplink.ReceivedAt))
	return uplink, nil
}

// List loads the newest uplinks first.
func (l *UplinkLog) List(ctx context.Context, limit int) ([]uplinks.RawUplink, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("uplink log: nil db")
	}
	query := l.db.Rebind(fmt.Sprintf(`
SELECT id, device_eui, application_id, raw_payload, decoded_payload, rssi, snr, f_port, received_at
FROM %s
ORDER BY received_at DESC, id DESC
LIMIT ?`, l.table))

	rows, err := l.db.QueryContext(ctx, query, uplinks.ClampListLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]uplinks.RawUplink, 0)
	for rows.Next() {
		var (
			uplink     uplinks.RawUplink
			raw        string
			decoded    sql.NullString
			rssi       sql.NullFloat64
			snr        sql.NullFloat64
			fPort      sql.NullInt64
			receivedAt int64
		)
		if err := rows.Scan(&uplink.ID, &uplink.DeviceEUI, &uplink.ApplicationID, &raw, &decoded, &rssi, &snr, &fPort, &receivedAt); err != nil {
			return nil, err
		}
		uplink.RawPayload = json.RawMessage(raw)
		if decoded.Valid {
			uplink.DecodedPayload = json.RawMessage(decoded.String)
		}
		uplink.RSSI = storage.FloatPtr(rssi)
		uplink.SNR = storage.FloatPtr(snr)
		if fPort.Valid {
			port := int(fPort.Int64)
			uplink.FPort = &port
		}
		uplink.ReceivedAt = storage.FromMillis(receivedAt)
		result = append(result, uplink)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes one uplink by id.
func (l *UplinkLog) Delete(ctx context.Context, id int64) error {
	if l == nil || l.db == nil {
		return errors.New("uplink log: nil db")
	}
	query := l.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, l.table))
	res, err := l.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return uplinks.ErrUplinkNotFound
	}
	return nil
}
