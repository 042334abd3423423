// Package metrics holds the process-wide Prometheus counters.
//
// Counters register on the default registry at init. Components call
// the small helpers below rather than touching the vectors directly.
// A CLI process exports them once per command with WriteTextfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache names used as the "cache" label.
const (
	CacheFingerprint = "fingerprint"
	CacheProfile     = "profile"
	CacheResponse    = "response"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "velocity_cache_hits_total",
		Help: "Cache lookups that returned a live entry.",
	}, []string{"cache"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "velocity_cache_misses_total",
		Help: "Cache lookups that found nothing or an expired entry.",
	}, []string{"cache"})

	degradedReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "velocity_degraded_reads_total",
		Help: "Record reads that did not decode cleanly, by outcome.",
	}, []string{"outcome"})

	chunkGroupsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "velocity_chunk_groups_written_total",
		Help: "Logical records persisted as chunk groups.",
	})

	paymentsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "velocity_payments_settled_total",
		Help: "Payment intents whose amount was credited.",
	})

	duplicateCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "velocity_duplicate_completions_total",
		Help: "Payment completions ignored because the intent was already terminal.",
	})

	promoRedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "velocity_promo_redemptions_total",
		Help: "Promo redemption attempts, by outcome.",
	}, []string{"outcome"})
)

// CacheHit counts a hit on the named cache.
func CacheHit(cache string) { cacheHitsTotal.WithLabelValues(cache).Inc() }

// CacheMiss counts a miss on the named cache.
func CacheMiss(cache string) { cacheMissesTotal.WithLabelValues(cache).Inc() }

// DegradedRead counts a record read that fell back or was unavailable.
func DegradedRead(outcome string) { degradedReadsTotal.WithLabelValues(outcome).Inc() }

// ChunkGroupWritten counts a chunked write.
func ChunkGroupWritten() { chunkGroupsWrittenTotal.Inc() }

// PaymentSettled counts a winning payment completion.
func PaymentSettled() { paymentsSettledTotal.Inc() }

// DuplicateCompletion counts a no-op payment completion.
func DuplicateCompletion() { duplicateCompletionsTotal.Inc() }

// PromoRedemption counts a redemption attempt by outcome.
func PromoRedemption(outcome string) { promoRedemptionsTotal.WithLabelValues(outcome).Inc() }

// WriteTextfile writes every metric in the default registry to path in
// the Prometheus text format, for a node_exporter textfile collector.
// The file is replaced atomically.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
