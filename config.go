package mysqlcore

import (
	"context"
	"net"
	"time"
)

// DefaultPrefetch is the default capacity of a ResultSet's row channel:
// how many decoded rows the Statement's executing command may buffer
// ahead of the consumer before blocking on backpressure.
const DefaultPrefetch = 4

// DefaultCharset is utf8mb4_general_ci, sent in the handshake response.
const DefaultCharset = 45

// DefaultPoolSize is the default maximum number of Clients a Pool holds.
const DefaultPoolSize = 10

// Config holds the knobs this core recognizes. Zero-valued fields fall
// back to the defaults documented on each field.
type Config struct {
	// PoolSize is the maximum number of Clients a Pool holds concurrently.
	// Zero or negative means DefaultPoolSize.
	PoolSize int32

	// Prefetch is resolved by prefetch() (zero means DefaultPrefetch), but
	// Statement execution does not consult it: every ResultSet's row
	// channel is created with DefaultPrefetch capacity.
	Prefetch int

	// Charset is the byte sent in the handshake response. Zero means
	// DefaultCharset.
	Charset uint8

	// Username and Password authenticate the handshake.
	Username string
	Password string

	// Dialer opens the TCP connection to the server. If nil, a
	// net.Dialer with a 10-second Timeout is used.
	Dialer *net.Dialer

	// Addr is the "host:port" the Dialer connects to.
	Addr string

	// NewCircuitBreaker, if non-nil, wraps the Pool's connection
	// constructor so repeated handshake failures stop being retried
	// immediately. Called once when the Pool is created.
	NewCircuitBreaker func() CircuitBreaker

	// for testing only: overrides how a fresh Client is constructed.
	constructor func(ctx context.Context) (*Client, error)
}

func (c Config) prefetch() int {
	if c.Prefetch <= 0 {
		return DefaultPrefetch
	}
	return c.Prefetch
}

func (c Config) charset() uint8 {
	if c.Charset == 0 {
		return DefaultCharset
	}
	return c.Charset
}

func (c Config) dialer() *net.Dialer {
	if c.Dialer == nil {
		return &net.Dialer{Timeout: 10 * time.Second}
	}
	return c.Dialer
}

// CircuitBreaker wraps Client construction so a consistently failing
// server stops being hammered with new connection attempts. Satisfied
// by a thin adapter over *gobreaker.CircuitBreaker[*Client].
type CircuitBreaker interface {
	Execute(fn func() (*Client, error)) (*Client, error)
	State() string
}
