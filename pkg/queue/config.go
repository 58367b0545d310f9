package queue

import "time"

// Config holds the configuration for the job queue
type Config struct {
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LeaseTimeout      time.Duration `env:"QUEUE_LEASE_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout   time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentJobs int           `env:"QUEUE_MAX_CONCURRENT_JOBS" envDefault:"10"`
}
