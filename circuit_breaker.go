package mysqlcore

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreaker returns a Config.NewCircuitBreaker factory that trips
// after a run of failed Client construction attempts (handshake or dial
// failures against a downed server) so a Pool stops issuing new dial
// attempts for Timeout before trying again.
func NewCircuitBreaker(maxRequests uint32, interval, timeout time.Duration) func() CircuitBreaker {
	return func() CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        "mysqlcore",
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return &gobreakerAdapter{cb: gobreaker.NewCircuitBreaker[*Client](settings)}
	}
}

// gobreakerAdapter satisfies the Config.CircuitBreaker interface over a
// generic gobreaker.CircuitBreaker[*Client].
type gobreakerAdapter struct {
	cb *gobreaker.CircuitBreaker[*Client]
}

func (a *gobreakerAdapter) Execute(fn func() (*Client, error)) (*Client, error) {
	return a.cb.Execute(fn)
}

func (a *gobreakerAdapter) State() string {
	return a.cb.State().String()
}
