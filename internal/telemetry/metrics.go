package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "wikiportret_jobs_submitted_total", Help: "Jobs accepted from the front end"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "wikiportret_submit_rate_limited_total", Help: "Submissions rejected by the per-owner rate limiter"})
	JobsClaimed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wikiportret_jobs_claimed_total", Help: "Jobs claimed by the dispatcher"}, []string{"kind"})
	JobsFinished      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wikiportret_jobs_finished_total", Help: "Jobs that reached a terminal or review state"}, []string{"kind", "status"})
	StaleLocksRelease = prometheus.NewCounter(prometheus.CounterOpts{Name: "wikiportret_stale_locks_released_total", Help: "Locks released by the janitor"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "wikiportret_jobs_inflight", Help: "Jobs currently held by a worker"})
	PlatformWrites    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wikiportret_platform_writes_total", Help: "Mutating requests sent to a platform"}, []string{"platform"})
	ThrottleWaits     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wikiportret_throttle_waits_total", Help: "Cooldowns taken because the edit budget was spent"}, []string{"platform"})
	OverloadAborts    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wikiportret_overload_aborts_total", Help: "Requests rejected with maxlag"}, []string{"platform"})
	DryRunMutations   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wikiportret_dry_run_mutations_total", Help: "Mutations recorded instead of sent"}, []string{"platform"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			RateLimitRejects,
			JobsClaimed,
			JobsFinished,
			StaleLocksRelease,
			InFlightGauge,
			PlatformWrites,
			ThrottleWaits,
			OverloadAborts,
			DryRunMutations,
		)
	})
	return promhttp.Handler()
}
