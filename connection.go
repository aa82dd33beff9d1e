package mysqlcore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pior/mysqlcore/wire"
)

// Connection is a thin command façade over a Client: ping, prepare,
// transaction verbs, and idempotent disposal. All methods reject with
// a *UsageError once Shutdown has been called.
type Connection struct {
	client   *Client
	disposed atomic.Bool
}

// NewConnection wraps an already-authenticated Client in a Connection.
func NewConnection(client *Client) *Connection {
	return &Connection{client: client}
}

func (conn *Connection) checkDisposed() error {
	if conn.disposed.Load() {
		return &UsageError{Message: "connection disposed"}
	}
	return nil
}

// Ping sends COM_PING and returns the round-trip time.
func (conn *Connection) Ping(ctx context.Context) (time.Duration, error) {
	if err := conn.checkDisposed(); err != nil {
		return 0, err
	}

	start := time.Now()
	err := conn.client.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(1)
		b.Int8(comPing)
		if err := c.sendPacket(b.Bytes()); err != nil {
			c.shutdown(err)
			return err
		}
		if _, _, err := c.readPacket(tagOK); err != nil {
			if ShouldCloseConnection(err) {
				c.shutdown(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// UseDatabase sends COM_INIT_DB to switch the connection's default
// schema.
func (conn *Connection) UseDatabase(ctx context.Context, schema string) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}

	return conn.client.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(len(schema) + 1)
		b.Int8(comInitDB)
		b.Raw([]byte(schema))
		if err := c.sendPacket(b.Bytes()); err != nil {
			c.shutdown(err)
			return err
		}
		if _, _, err := c.readPacket(tagOK); err != nil {
			if ShouldCloseConnection(err) {
				c.shutdown(err)
			}
			return err
		}
		return nil
	})
}

// Prepare compiles sql into a Statement bound to this Connection's
// Client. The statement-id round trip happens lazily, on first Execute.
func (conn *Connection) Prepare(sql string) (*Statement, error) {
	if err := conn.checkDisposed(); err != nil {
		return nil, err
	}
	return newStatement(conn.client, sql), nil
}

// BeginTransaction issues START TRANSACTION.
func (conn *Connection) BeginTransaction(ctx context.Context, readOnly bool) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}
	return conn.client.beginTransaction(ctx, readOnly)
}

// Commit issues COMMIT.
func (conn *Connection) Commit(ctx context.Context) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}
	return conn.client.commit(ctx)
}

// RollBack issues ROLLBACK.
func (conn *Connection) RollBack(ctx context.Context) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}
	return conn.client.rollBack(ctx)
}

// Shutdown sends a best-effort COM_QUIT (errors ignored) on a clean
// connection and closes the underlying stream. A connection that has
// already lost protocol alignment skips COM_QUIT and closes directly.
// Idempotent.
func (conn *Connection) Shutdown(reason error) {
	if !conn.disposed.CompareAndSwap(false, true) {
		return
	}

	if !conn.client.Disposed() {
		_ = conn.client.sendCommand(context.Background(), func(c *Client) error {
			b := wire.NewBuilder(1)
			b.Int8(comQuit)
			_ = c.sendPacket(b.Bytes())
			return nil
		})
	}

	conn.client.shutdown(reason)
}

// Disposed reports whether Shutdown has been called.
func (conn *Connection) Disposed() bool { return conn.disposed.Load() }
