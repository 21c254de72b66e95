package integration_test

import (
	"context"
	"os"
	"testing"
	"time"

	devicesql "envsurveillance/internal/devices/infrastructure/sqlstore"
	"envsurveillance/internal/storage"
	"envsurveillance/internal/storage/storagetest"
	telemetry "envsurveillance/internal/telemetry/domain"
	telemetrysql "envsurveillance/internal/telemetry/infrastructure/sqlstore"
)

const perfEUI = "70B3D57ED00FFFF1"

func TestHistoryPerf_30dInsert_7dQuery_SQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	runHistoryPerf(t, storagetest.OpenSQLite(t))
}

func TestHistoryPerf_30dInsert_7dQuery_Postgres(t *testing.T) {
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
	_, _ = db.Exec(`DELETE FROM devices WHERE device_eui = $1`, perfEUI)
	defer db.Exec(`DELETE FROM devices WHERE device_eui = $1`, perfEUI)
	runHistoryPerf(t, db)
}

func runHistoryPerf(t *testing.T, db *storage.DB) {
	ctx := context.Background()
	if _, _, err := devicesql.NewDeviceRepository(db).ResolveOrCreate(ctx, perfEUI, "perf"); err != nil {
		t.Fatalf("resolve device: %v", err)
	}
	store := telemetrysql.NewPointStore(db)

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -30)

	insertStart := time.Now()
	inserted := 0
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		temp := float64(ts.Hour()) + 10
		if _, err := store.Append(ctx, telemetry.Point{DeviceEUI: perfEUI, TS: ts, Lat: 46.5, Lng: 6.6, Temperature: &temp}); err != nil {
			t.Fatalf("append: %v", err)
		}
		inserted++
	}
	insertElapsed := time.Since(insertStart)

	from := end.AddDate(0, 0, -7)
	to := end.Add(-time.Second)
	queryStart := time.Now()
	window, err := store.History(ctx, telemetry.HistoryQuery{DeviceEUI: perfEUI, From: &from, To: &to, Limit: telemetry.MaxHistoryLimit})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	windowElapsed := time.Since(queryStart)
	if len(window) != 7*24 {
		t.Fatalf("expected %d points in 7d window, got %d", 7*24, len(window))
	}
	if !window[0].TS.Equal(from) {
		t.Fatalf("window starts at %s, want %s", window[0].TS, from)
	}

	queryStart = time.Now()
	recent, err := store.History(ctx, telemetry.HistoryQuery{DeviceEUI: perfEUI})
	if err != nil {
		t.Fatalf("default history: %v", err)
	}
	recentElapsed := time.Since(queryStart)
	if len(recent) != telemetry.DefaultHistoryLimit {
		t.Fatalf("expected %d points, got %d", telemetry.DefaultHistoryLimit, len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].TS.Before(recent[i-1].TS) {
			t.Fatalf("history not ascending at %d", i)
		}
	}
	if !recent[len(recent)-1].TS.Equal(end.Add(-time.Hour)) {
		t.Fatalf("newest point = %s, want %s", recent[len(recent)-1].TS, end.Add(-time.Hour))
	}

	t.Logf("perf insert 30d rows=%d elapsed=%s", inserted, insertElapsed)
	t.Logf("perf query 7d window rows=%d elapsed=%s", len(window), windowElapsed)
	t.Logf("perf query default limit rows=%d elapsed=%s", len(recent), recentElapsed)
}
