package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "billing_"

	resultSuccess  = "success"
	resultError    = "error"
	resultConflict = "conflict"
)

var (
	registerOnce sync.Once

	billRunsTotal   *prometheus.CounterVec
	billRunsLatency *prometheus.HistogramVec
	billsWritten    *prometheus.CounterVec
	ownersSkipped   *prometheus.CounterVec

	ledgerEntriesTotal *prometheus.CounterVec

	balanceSheetTotal   *prometheus.CounterVec
	balanceSheetLatency *prometheus.HistogramVec
	carryForwardOwners  prometheus.Counter

	periodTransitions *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers billing metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		billRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_runs_total",
				Help: "Total bill creation runs by bill kind and result",
			},
			[]string{"kind", "result"},
		)
		billRunsLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_runs_latency_seconds",
				Help:    "Bill creation run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)
		billsWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bills_written_total",
				Help: "Bills created or updated by type and action",
			},
			[]string{"type", "action"},
		)
		ownersSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "owners_skipped_total",
				Help: "Owners skipped during bill creation by reason",
			},
			[]string{"reason"},
		)

		ledgerEntriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_entries_total",
				Help: "Ledger rows recorded by kind and result",
			},
			[]string{"kind", "result"},
		)

		balanceSheetTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "balance_sheet_total",
				Help: "Balance sheet computations by result",
			},
			[]string{"result"},
		)
		balanceSheetLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "balance_sheet_latency_seconds",
				Help:    "Balance sheet latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		carryForwardOwners = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "carry_forward_owners_total",
				Help: "Owner balances carried into a following period",
			},
		)

		periodTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "period_transitions_total",
				Help: "Service period lifecycle transitions by action",
			},
			[]string{"action"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			billRunsTotal,
			billRunsLatency,
			billsWritten,
			ownersSkipped,
			ledgerEntriesTotal,
			balanceSheetTotal,
			balanceSheetLatency,
			carryForwardOwners,
			periodTransitions,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveBillRun records a bill creation run.
func ObserveBillRun(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if billRunsTotal != nil {
		billRunsTotal.WithLabelValues(kind, result).Inc()
	}
	if billRunsLatency != nil {
		billRunsLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// AddBillsWritten counts created or updated bills.
func AddBillsWritten(billType, action string, count int) {
	if count <= 0 {
		return
	}
	if billsWritten != nil {
		billsWritten.WithLabelValues(billType, action).Add(float64(count))
	}
}

// AddOwnersSkipped counts owners left out of a bill run.
func AddOwnersSkipped(reason string, count int) {
	if count <= 0 {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	if ownersSkipped != nil {
		ownersSkipped.WithLabelValues(reason).Add(float64(count))
	}
}

// IncLedgerEntry counts a recorded ledger row.
func IncLedgerEntry(kind, result string) {
	if result == "" {
		result = resultSuccess
	}
	if ledgerEntriesTotal != nil {
		ledgerEntriesTotal.WithLabelValues(kind, result).Inc()
	}
}

// ObserveBalanceSheet records balance sheet latency and result.
func ObserveBalanceSheet(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if balanceSheetTotal != nil {
		balanceSheetTotal.WithLabelValues(result).Inc()
	}
	if balanceSheetLatency != nil {
		balanceSheetLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddCarriedForward counts owners carried into a new period.
func AddCarriedForward(count int) {
	if count <= 0 {
		return
	}
	if carryForwardOwners != nil {
		carryForwardOwners.Add(float64(count))
	}
}

// IncPeriodTransition counts period lifecycle transitions.
func IncPeriodTransition(action string) {
	if periodTransitions != nil {
		periodTransitions.WithLabelValues(action).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultConflict = resultConflict
)
