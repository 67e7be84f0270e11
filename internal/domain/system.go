package domain

import "time"

// RuntimeStats is the latest sample taken by the process monitor job.
type RuntimeStats struct {
	ProcessCPU   float64   `json:"process_cpu"`
	ProcessRSSMB uint64    `json:"process_rss_mb"`
	SystemCPU    float64   `json:"system_cpu"`
	SystemMemMB  uint64    `json:"system_mem_mb"`
	Goroutines   int       `json:"goroutines"`
	Uptime       string    `json:"uptime"`
	SampledAt    time.Time `json:"sampled_at"`
}
