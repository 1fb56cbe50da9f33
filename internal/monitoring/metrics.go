package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	ordersPlacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderblock_bot_orders_placed_total",
			Help: "Total number of entry orders placed",
		},
		[]string{"symbol", "side"},
	)

	ordersFilledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderblock_bot_orders_filled_total",
			Help: "Total number of entry orders filled",
		},
		[]string{"symbol", "side"},
	)

	protectiveOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderblock_bot_protective_orders_total",
			Help: "Total number of protective TP/SL orders placed",
		},
		[]string{"symbol", "kind"},
	)

	// Detection metrics
	activeBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderblock_bot_active_blocks",
			Help: "Number of unmitigated order blocks per symbol",
		},
		[]string{"symbol", "type"},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderblock_bot_current_price",
			Help: "Last observed price of a trading symbol",
		},
		[]string{"symbol"},
	)

	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderblock_bot_account_equity",
			Help: "Free account equity in the margin asset",
		},
	)

	// Engine metrics
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderblock_bot_cycles_total",
			Help: "Total number of completed trading cycles",
		},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderblock_bot_cycle_duration_seconds",
			Help:    "Distribution of trading cycle durations",
			Buckets: prometheus.DefBuckets,
		},
	)

	reconciliationRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderblock_bot_reconciliation_runs_total",
			Help: "Total number of reconciliation passes",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderblock_bot_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlacedTotal)
	prometheus.MustRegister(ordersFilledTotal)
	prometheus.MustRegister(protectiveOrdersTotal)
	prometheus.MustRegister(activeBlocks)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(accountEquity)
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(reconciliationRunsTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles the Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrderPlaced records an entry order placement
func RecordOrderPlaced(symbol, side string) {
	ordersPlacedTotal.WithLabelValues(symbol, side).Inc()
}

// RecordOrderFilled records an entry order fill
func RecordOrderFilled(symbol, side string) {
	ordersFilledTotal.WithLabelValues(symbol, side).Inc()
}

// RecordProtectiveOrder records a TP or SL placement
func RecordProtectiveOrder(symbol, kind string) {
	protectiveOrdersTotal.WithLabelValues(symbol, kind).Inc()
}

// UpdateActiveBlocks updates the active block count for a symbol
func UpdateActiveBlocks(symbol, blockType string, count int) {
	activeBlocks.WithLabelValues(symbol, blockType).Set(float64(count))
}

// UpdatePrice updates the current price gauge
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// UpdateEquity updates the free equity gauge
func UpdateEquity(equity float64) {
	accountEquity.Set(equity)
}

// RecordCycle records a completed trading cycle and its duration
func RecordCycle(seconds float64) {
	cyclesTotal.Inc()
	cycleDuration.Observe(seconds)
}

// RecordReconciliation records a reconciliation pass
func RecordReconciliation() {
	reconciliationRunsTotal.Inc()
}

// RecordError records an error by category
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
