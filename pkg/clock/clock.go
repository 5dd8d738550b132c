package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
)

type (
	// Timer is an alias for the underlying clock library's timer.
	Timer = bclock.Timer
	// Ticker is an alias for the underlying clock library's ticker.
	Ticker = bclock.Ticker
	// MonotonicTime is a duration since an unspecified fixed epoch.
	MonotonicTime time.Duration
)

var unixEpoch = time.Unix(0, 0)

// Clock defines the time interface used across the project, so that
// time can be mocked in unit tests.
type Clock interface {
	bclock.Clock
	Mono() MonotonicTime
}

type withRealMono struct {
	bclock.Clock
}

func (r withRealMono) Mono() MonotonicTime {
	return MonotonicTime(monotime.Now())
}

// Mock is a mockable clock for tests.
type Mock struct {
	*bclock.Mock
}

func (r Mock) Mono() MonotonicTime {
	return MonotonicTime(r.Now().Sub(unixEpoch))
}

// New returns a Clock backed by the wall clock.
func New() Clock {
	return withRealMono{bclock.New()}
}

// NewMock returns a mock Clock whose time only advances manually.
func NewMock() *Mock {
	return &Mock{bclock.NewMock()}
}

// Sub returns the duration between two monotonic timestamps.
func (m MonotonicTime) Sub(other MonotonicTime) time.Duration {
	return time.Duration(m - other)
}
