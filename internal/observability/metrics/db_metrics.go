package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const dbGaugeTimeout = 2 * time.Second

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tables := []struct {
		name  string
		help  string
		query string
	}{
		{name: "devices_registered", help: "Registered devices", query: `SELECT COUNT(*) FROM devices`},
		{name: "uplinks_stored", help: "Stored raw uplinks", query: `SELECT COUNT(*) FROM ttn_uplinks`},
	}
	for _, table := range tables {
		query := table.query
		name := table.name
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + name,
				Help: table.help,
			},
			func() float64 {
				return queryCount(db, logger, name, query)
			},
		))
	}
}

func queryCount(db *sql.DB, logger *zap.Logger, name, query string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), dbGaugeTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		logger.Warn("metrics: gauge query failed", zap.String("gauge", name), zap.Error(err))
		return 0
	}
	return float64(count)
}
