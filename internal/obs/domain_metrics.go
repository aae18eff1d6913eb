package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingCalculationsTotal counts cart calculations by outcome.
	PricingCalculationsTotal *prometheus.CounterVec
	// PricingCalculationDuration records end-to-end calculation latency in milliseconds.
	PricingCalculationDuration *prometheus.HistogramVec
	// RuleCacheRequestsTotal counts rule cache lookups (hit, miss, error).
	RuleCacheRequestsTotal *prometheus.CounterVec
	// RuleStoreRetriesTotal counts rule store reads retried after a transient failure.
	RuleStoreRetriesTotal prometheus.Counter
	// OrdersPlacedTotal counts order placement attempts by outcome.
	OrdersPlacedTotal *prometheus.CounterVec
	// ShopNotificationsTotal counts order notifications handled by the worker.
	ShopNotificationsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingCalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_calculations_total",
			Help:      "Count of cart price calculations by outcome.",
		}, []string{"result"})
		PricingCalculationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_calculation_duration_ms",
			Help:      "Latency of cart price calculations in milliseconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"result"})
		RuleCacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_cache_requests_total",
			Help:      "Count of pricing rule cache lookups by result.",
		}, []string{"result"})
		RuleStoreRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_store_retries_total",
			Help:      "Number of rule store reads retried after a transient failure.",
		})
		OrdersPlacedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Count of order placement attempts by outcome.",
		}, []string{"result"})
		ShopNotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shop_notifications_total",
			Help:      "Count of shop order notifications processed by the worker.",
		}, []string{"result"})

		PricingCalculationsTotal = register(reg, PricingCalculationsTotal)
		PricingCalculationDuration = register(reg, PricingCalculationDuration)
		RuleCacheRequestsTotal = register(reg, RuleCacheRequestsTotal)
		RuleStoreRetriesTotal = register(reg, RuleStoreRetriesTotal)
		OrdersPlacedTotal = register(reg, OrdersPlacedTotal)
		ShopNotificationsTotal = register(reg, ShopNotificationsTotal)
	})
}

// ObserveCalculation records the outcome and latency of a cart calculation when metrics are registered.
func ObserveCalculation(result string, millis float64) {
	if PricingCalculationsTotal != nil {
		PricingCalculationsTotal.WithLabelValues(result).Inc()
	}
	if PricingCalculationDuration != nil {
		PricingCalculationDuration.WithLabelValues(result).Observe(millis)
	}
}

// CountRuleCache records a rule cache lookup result.
func CountRuleCache(result string) {
	if RuleCacheRequestsTotal != nil {
		RuleCacheRequestsTotal.WithLabelValues(result).Inc()
	}
}

// CountRuleStoreRetry records a retried rule store read.
func CountRuleStoreRetry() {
	if RuleStoreRetriesTotal != nil {
		RuleStoreRetriesTotal.Inc()
	}
}

// CountOrderPlaced records an order placement outcome.
func CountOrderPlaced(result string) {
	if OrdersPlacedTotal != nil {
		OrdersPlacedTotal.WithLabelValues(result).Inc()
	}
}

// CountShopNotification records a worker notification outcome.
func CountShopNotification(result string) {
	if ShopNotificationsTotal != nil {
		ShopNotificationsTotal.WithLabelValues(result).Inc()
	}
}
