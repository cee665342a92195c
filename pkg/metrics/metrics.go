package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	TokenPairsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "sessions", Name: "token_pairs_issued_total", Help: "Number of access/refresh token pairs issued."},
	)
	// RefreshOutcomes is labelled by result: success, rejected, race_lost, error.
	RefreshOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "sessions", Name: "refresh_total", Help: "Refresh attempts by outcome."},
		[]string{"result"},
	)
	// RefreshRejections is labelled by the validation reason.
	RefreshRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "sessions", Name: "refresh_rejected_total", Help: "Rejected refresh tokens by reason."},
		[]string{"reason"},
	)
	Revocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "sessions", Name: "revocations_total", Help: "Token revocations by scope (single, all, access)."},
		[]string{"scope"},
	)
	CleanupRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "sessions", Name: "cleanup_removed_total", Help: "Records removed by the cleanup sweep (session_field, blacklist)."},
		[]string{"store"},
	)
	AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "audit", Name: "write_failures_total", Help: "Audit events that could not be recorded, by event type."},
		[]string{"event"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(TokenPairsIssued)
	reg.MustRegister(RefreshOutcomes)
	reg.MustRegister(RefreshRejections)
	reg.MustRegister(Revocations)
	reg.MustRegister(CleanupRemoved)
	reg.MustRegister(AuditFailures)
}
