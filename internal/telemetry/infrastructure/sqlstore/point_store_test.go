package sqlstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"envsurveillance/internal/storage"
	"envsurveillance/internal/storage/storagetest"
	telemetry "envsurveillance/internal/telemetry/domain"
)

const deviceEUI = "70B3D57ED0000001"

func seedDevice(t *testing.T, db *storage.DB, eui string) {
	t.Helper()
	_, err := db.Exec(db.Rebind(`INSERT INTO devices (device_eui, name, is_active, created_at) VALUES (?, ?, ?, ?)`),
		eui, "sensor", true, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestPointStoreSQLite(t *testing.T) {
	db := storagetest.OpenSQLite(t)
	seedDevice(t, db, deviceEUI)
	runPointStoreSuite(t, NewPointStore(db))
}

func TestPointStorePostgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := storage.Open(context.Background(), storage.Config{Driver: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, _ = db.Exec(`DELETE FROM devices WHERE device_eui = $1`, deviceEUI)
	seedDevice(t, db, deviceEUI)
	defer db.Exec(`DELETE FROM devices WHERE device_eui = $1`, deviceEUI)
	runPointStoreSuite(t, NewPointStore(db))
}

func runPointStoreSuite(t *testing.T, store *PointStore) {
	ctx := context.Background()

	if _, err := store.Latest(ctx, deviceEUI); !errors.Is(err, telemetry.ErrNoTelemetry) {
		t.Fatalf("expected ErrNoTelemetry, got %v", err)
	}

	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []int64{3, 1, 5, 2, 4} {
		p := telemetry.Point{
			DeviceEUI: deviceEUI,
			TS:        time.Unix(ts, 0),
			Lat:       45.1,
			Lng:       4.8,
			CreatedAt: created,
		}
		if ts == 5 {
			p.Temperature = floatPtr(21.5)
			p.Battery = floatPtr(87)
			p.RSSI = floatPtr(-101)
			p.SNR = floatPtr(7.25)
		}
		if _, err := store.Append(ctx, p); err != nil {
			t.Fatalf("append %d: %v", ts, err)
		}
	}

	history, err := store.History(ctx, telemetry.HistoryQuery{DeviceEUI: deviceEUI, Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].TS.Unix() != 4 || history[1].TS.Unix() != 5 {
		t.Fatalf("history = %+v", history)
	}

	latest, err := store.Latest(ctx, deviceEUI)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.TS.Unix() != 5 || latest.Temperature == nil || *latest.Temperature != 21.5 || *latest.SNR != 7.25 {
		t.Fatalf("latest = %+v", latest)
	}
	if !latest.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v", latest.CreatedAt)
	}

	from := time.Unix(2, 0)
	to := time.Unix(4, 0)
	ranged, err := store.History(ctx, telemetry.HistoryQuery{DeviceEUI: deviceEUI, Limit: 10, From: &from, To: &to})
	if err != nil {
		t.Fatalf("ranged history: %v", err)
	}
	if len(ranged) != 3 || ranged[0].TS.Unix() != 2 || ranged[2].TS.Unix() != 4 {
		t.Fatalf("ranged = %+v", ranged)
	}
	if ranged[0].Temperature != nil {
		t.Fatalf("optional fields should stay nil")
	}

	dup1, _ := store.Append(ctx, telemetry.Point{DeviceEUI: deviceEUI, TS: time.Unix(5, 0), Lat: 1, Lng: 1})
	dup2, _ := store.Append(ctx, telemetry.Point{DeviceEUI: deviceEUI, TS: time.Unix(5, 0), Lat: 2, Lng: 2})
	latest, _ = store.Latest(ctx, deviceEUI)
	if latest.ID != dup2.ID || dup1.ID >= dup2.ID {
		t.Fatalf("ties should resolve to the last insert: latest=%d dup1=%d dup2=%d", latest.ID, dup1.ID, dup2.ID)
	}

	all, _ := store.History(ctx, telemetry.HistoryQuery{DeviceEUI: deviceEUI})
	if len(all) != 7 {
		t.Fatalf("all = %d points", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Before(all[i-1]) {
			t.Fatalf("history not ascending at %d", i)
		}
	}

	if err := store.PurgeDevice(ctx, deviceEUI); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := store.Latest(ctx, deviceEUI); !errors.Is(err, telemetry.ErrNoTelemetry) {
		t.Fatalf("expected no telemetry after purge, got %v", err)
	}
}

func TestAppendRequiresKnownDevice(t *testing.T) {
	db := storagetest.OpenSQLite(t)
	store := NewPointStore(db)
	_, err := store.Append(context.Background(), telemetry.Point{DeviceEUI: "FFFFFFFFFFFFFFFF", TS: time.Unix(1, 0), Lat: 1, Lng: 1})
	if err == nil {
		t.Fatalf("expected foreign key failure")
	}
}

func TestDeviceDeleteCascades(t *testing.T) {
	db := storagetest.OpenSQLite(t)
	seedDevice(t, db, deviceEUI)
	store := NewPointStore(db)
	ctx := context.Background()
	if _, err := store.Append(ctx, telemetry.Point{DeviceEUI: deviceEUI, TS: time.Unix(1, 0), Lat: 1, Lng: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM devices WHERE device_eui = ?`, deviceEUI); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	if _, err := store.Latest(ctx, deviceEUI); !errors.Is(err, telemetry.ErrNoTelemetry) {
		t.Fatalf("expected cascade, got %v", err)
	}
}
