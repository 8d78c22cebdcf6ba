package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionsOpenedTotal counts checkout sessions opened at the registers.
	SessionsOpenedTotal prometheus.Counter
	// PaymentsConfirmedTotal counts confirmed partial payments by tender method.
	PaymentsConfirmedTotal *prometheus.CounterVec
	// SalesSettledTotal counts finalized sales by tender state at close.
	SalesSettledTotal *prometheus.CounterVec
	// SaleTotalCentavos records the distribution of settled sale totals.
	SaleTotalCentavos prometheus.Histogram
	// PixPayloadsTotal counts BR Code payloads generated by outcome.
	PixPayloadsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers checkout domain
// Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Number of checkout sessions opened.",
		})
		PaymentsConfirmedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirmed_total",
			Help:      "Confirmed partial payments by tender method.",
		}, []string{"method"})
		SalesSettledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_settled_total",
			Help:      "Finalized sales by the tender method that settled them.",
		}, []string{"method"})
		SaleTotalCentavos = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_total_centavos",
			Help:      "Distribution of settled sale totals in centavos.",
			Buckets:   []float64{500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
		})
		PixPayloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pix_payloads_total",
			Help:      "Generated PIX BR Code payloads by outcome.",
		}, []string{"outcome"})

		mustRegisterCollector(reg, SessionsOpenedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				SessionsOpenedTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentsConfirmedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentsConfirmedTotal = v
			}
		})
		mustRegisterCollector(reg, SalesSettledTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SalesSettledTotal = v
			}
		})
		mustRegisterCollector(reg, SaleTotalCentavos, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				SaleTotalCentavos = v
			}
		})
		mustRegisterCollector(reg, PixPayloadsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PixPayloadsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
