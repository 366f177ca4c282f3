package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "open_periods",
			Help: "Service periods in OPEN status",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM service_periods WHERE status = 'OPEN'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "bills_stored",
			Help: "Bills stored across all periods",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM bills")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "owners_without_account",
			Help: "Owners that cannot receive bills",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM owners WHERE account_id IS NULL OR account_id = ''")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
