package mysqlcore

import (
	"errors"
	"fmt"
)

// ErrorWithConnectionState is implemented by every error this core returns
// that can tell the caller whether the connection that produced it is
// still usable.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err means the connection that
// produced it must be closed rather than returned to a pool. Unknown
// error types are treated conservatively: close the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}

// ServerError represents an ERR_Packet sent by the server: the protocol
// state is still valid, the command itself failed.
//
// Common causes:
//   - Syntax error in a prepared statement
//   - Constraint violation
//   - Unknown table/database
//
// Connection handling: connection can be REUSED.
type ServerError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *ServerError) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("mysqlcore: server error %d (%s): %s", e.Code, e.SQLState, e.Message)
	}
	return fmt.Sprintf("mysqlcore: server error %d: %s", e.Code, e.Message)
}

// ShouldCloseConnection returns false: an ERR packet is a normal,
// well-formed response, the connection's framing state is intact.
func (e *ServerError) ShouldCloseConnection() bool { return false }

// ProtocolError means the bytes on the wire did not match what this core
// expected: wrong packet tag, truncated payload, bad length-encoding.
// The connection's framing state is no longer trustworthy.
//
// Connection handling: CLOSE connection immediately.
type ProtocolError struct {
	Context string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "mysqlcore: protocol error: " + e.Context + ": " + e.Err.Error()
	}
	return "mysqlcore: protocol error: " + e.Context
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ShouldCloseConnection returns true: a desynced decoder cannot be
// trusted to parse the next packet correctly.
func (e *ProtocolError) ShouldCloseConnection() bool { return true }

// ConnectionError wraps an underlying I/O failure (reset, timeout,
// closed pipe) from the socket itself.
//
// Connection handling: connection is already broken, CLOSE.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mysqlcore: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ShouldCloseConnection returns true unconditionally.
func (e *ConnectionError) ShouldCloseConnection() bool { return true }

// UsageError means the caller misused the API in a way that has nothing
// to do with connection health: wrong parameter count, fetching a
// column that doesn't exist, using a closed resultset.
//
// Connection handling: connection is unaffected, safe to reuse.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return "mysqlcore: " + e.Message }

// ShouldCloseConnection returns false.
func (e *UsageError) ShouldCloseConnection() bool { return false }

// PoolError is returned by pool operations that fail for reasons
// intrinsic to the pool itself rather than any one connection: the pool
// was closed, or the context was cancelled while waiting for capacity.
type PoolError struct {
	Message string
	Err     error
}

func (e *PoolError) Error() string {
	if e.Err != nil {
		return "mysqlcore: pool: " + e.Message + ": " + e.Err.Error()
	}
	return "mysqlcore: pool: " + e.Message
}

func (e *PoolError) Unwrap() error { return e.Err }

// ShouldCloseConnection returns false: no specific connection is
// implicated, there may not even be one.
func (e *PoolError) ShouldCloseConnection() bool { return false }

var (
	// ErrCursorClosed is returned by ResultSet fetch methods after
	// CloseCursor.
	ErrCursorClosed = &UsageError{Message: "resultset already closed"}

	// ErrStatementClosed is returned by Execute after Dispose.
	ErrStatementClosed = &UsageError{Message: "statement already closed"}

	// ErrClientDisposed is returned when a command is sent on a Client
	// that has already hit a fatal error or been shut down.
	ErrClientDisposed = &ConnectionError{Op: "send", Err: errors.New("client disposed")}
)
