// Package metrics exposes gasstation's prometheus instrumentation. Every
// metric here is best-effort bookkeeping: a failure to record one must
// never affect the outcome of a domain operation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PoolTotal is the number of coins currently tracked by the pool.
	PoolTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gasstation",
		Subsystem: "pool",
		Name:      "total",
		Help:      "Number of fee coins currently tracked by the pool.",
	})

	// PoolAvailable is the number of Available coins.
	PoolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gasstation",
		Subsystem: "pool",
		Name:      "available",
		Help:      "Number of fee coins currently Available for reservation.",
	})

	// PoolReserved is the number of Reserved coins.
	PoolReserved = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gasstation",
		Subsystem: "pool",
		Name:      "reserved",
		Help:      "Number of fee coins currently Reserved.",
	})

	// PoolTotalBalance is the sum of every tracked coin's balance.
	PoolTotalBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gasstation",
		Subsystem: "pool",
		Name:      "total_balance",
		Help:      "Sum of every tracked fee coin's balance, in the chain's smallest unit.",
	})

	// SponsorshipsTotal counts SponsorTransaction outcomes by result.
	SponsorshipsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasstation",
		Subsystem: "sponsor",
		Name:      "sponsorships_total",
		Help:      "Total SponsorTransaction calls, partitioned by outcome.",
	}, []string{"result"})

	// ReservationDuration tracks how long a coin stays Reserved, from
	// Reserve to Release/UpdateFromEffects/sweep.
	ReservationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gasstation",
		Subsystem: "pool",
		Name:      "reservation_duration_seconds",
		Help:      "Time a fee coin spends Reserved before being released, reported, or swept.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// ReferencePrice mirrors the current cached reference gas price.
	ReferencePrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gasstation",
		Subsystem: "price",
		Name:      "reference_price",
		Help:      "Current cached reference gas price.",
	})
)

func init() {
	prometheus.MustRegister(
		PoolTotal,
		PoolAvailable,
		PoolReserved,
		PoolTotalBalance,
		SponsorshipsTotal,
		ReservationDuration,
		ReferencePrice,
	)
}
