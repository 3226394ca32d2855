package models

import "time"

// RegistrationMetrics is a point-in-time summary of the registration core counters.
type RegistrationMetrics struct {
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	EnrollmentOutcomes       map[string]uint64 `json:"enrollment_outcomes"`
	TransactionsTotal        uint64            `json:"transactions_total"`
	AverageTxDurationMs      float64           `json:"average_tx_duration_ms"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
