package resource

import "time"

// Config holds the timing knobs of the resource manager.
type Config struct {
	// WorkerCheckInterval is the poll interval of the wait for the
	// first worker to register.
	WorkerCheckInterval time.Duration
	// RequestRetryInterval is the backoff between failed matching
	// attempts of one resource request.
	RequestRetryInterval time.Duration
}

var defaultConfig = Config{}.Adjust()

// Adjust validates the Config and fills in defaults.
func (c Config) Adjust() Config {
	adjusted := c
	if adjusted.WorkerCheckInterval <= 0 {
		adjusted.WorkerCheckInterval = 500 * time.Millisecond
	}
	if adjusted.RequestRetryInterval <= 0 {
		adjusted.RequestRetryInterval = 500 * time.Millisecond
	}
	return adjusted
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return defaultConfig
}
