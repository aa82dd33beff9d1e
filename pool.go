package mysqlcore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
	"golang.org/x/sync/singleflight"
)

// Pool multiplexes many callers over up to Config.PoolSize Clients.
// Capacity accounting and the idle queue are delegated to
// puddle.Pool[*Client]: Acquire creates a fresh Client on demand while
// active < size and no idle one is waiting, otherwise it blocks FIFO on
// the next release.
type Pool struct {
	cfg     Config
	pool    *puddle.Pool[*Client]
	breaker CircuitBreaker

	disposed atomic.Bool
}

// NewPool creates a Pool that dials fresh Clients against cfg.Addr as
// demand requires, up to cfg.PoolSize concurrently. If cfg.NewCircuitBreaker
// is set, it wraps construction so a server that keeps failing handshakes
// stops being hammered with new dial attempts.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	constructor := cfg.constructor
	if constructor == nil {
		constructor = func(ctx context.Context) (*Client, error) {
			return dialClient(ctx, cfg)
		}
	}

	var breaker CircuitBreaker
	if cfg.NewCircuitBreaker != nil {
		breaker = cfg.NewCircuitBreaker()
		inner := constructor
		constructor = func(ctx context.Context) (*Client, error) {
			return breaker.Execute(func() (*Client, error) { return inner(ctx) })
		}
	}

	puddleCfg := &puddle.Config[*Client]{
		Constructor: constructor,
		Destructor: func(c *Client) {
			c.shutdown(ErrClientDisposed)
		},
		MaxSize: cfg.PoolSize,
	}

	pp, err := puddle.NewPool(puddleCfg)
	if err != nil {
		return nil, &PoolError{Message: "initialization", Err: err}
	}

	return &Pool{cfg: cfg, pool: pp, breaker: breaker}, nil
}

// Checkout acquires a Client, from the idle queue if one is waiting,
// otherwise by creating a fresh one if active < size, otherwise by
// blocking FIFO for the next release, and wraps it as a PooledConnection
// whose Shutdown releases it back to the Pool instead of closing it.
func (p *Pool) Checkout(ctx context.Context) (*PooledConnection, error) {
	if p.disposed.Load() {
		return nil, &PoolError{Message: "checkout on disposed pool"}
	}

	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if p.disposed.Load() {
			return nil, &PoolError{Message: "pool is shut down", Err: err}
		}
		return nil, &PoolError{Message: "acquire", Err: err}
	}

	return &PooledConnection{Connection: NewConnection(res.Value()), pool: p, res: res}, nil
}

// Prepare returns a PooledStatement that acquires a Client via the same
// checkout arbitration on its first Execute, and releases it back to the
// Pool (via the same release closure Checkout's callers use) on Dispose.
func (p *Pool) Prepare(sql string) (*PooledStatement, error) {
	if p.disposed.Load() {
		return nil, &PoolError{Message: "prepare on disposed pool"}
	}
	return newPooledStatement(p, sql), nil
}

// release is the one release closure every loaned Client flows through,
// whether the loan came from Checkout directly or via a PooledStatement.
// A non-nil reason (caller-observed failure), a disposed Client, or a
// disposed Pool all evict. A Client still reporting an open transaction
// is given one rollback as a probe: if that fails to clear the
// flag, it's evicted too; otherwise it returns to the idle queue healthy.
func (p *Pool) release(res *puddle.Resource[*Client], reason error) {
	client := res.Value()

	switch {
	case reason != nil, p.disposed.Load(), client.Disposed():
		res.Destroy()
	case client.InTransaction():
		if err := client.rollBack(context.Background()); err != nil {
			res.Destroy()
		} else {
			res.Release()
		}
	default:
		res.Release()
	}
}

// Shutdown marks the Pool disposed and closes every idle Client; Clients
// still on loan are evicted as their callers release them. Idempotent.
func (p *Pool) Shutdown() {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}
	p.pool.Close()
}

// Stats returns a snapshot of the Pool's capacity accounting, translated
// from puddle's stat structure into this core's PoolStats shape.
// CreatedConns and DestroyedConns are not tracked and are always zero.
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

// PooledConnection is the Connection handle Checkout hands out. Its
// Shutdown does not close the underlying Client: it invokes the Pool's
// release closure, which decides between re-queuing, a rollback probe, or
// eviction.
type PooledConnection struct {
	*Connection
	pool     *Pool
	res      *puddle.Resource[*Client]
	released atomic.Bool
}

// Shutdown releases this loan back to the Pool. reason, if non-nil, is
// treated as a caller-observed failure and forces eviction rather than
// re-queuing. Idempotent.
func (pc *PooledConnection) Shutdown(reason error) {
	if !pc.released.CompareAndSwap(false, true) {
		return
	}
	pc.Connection.disposed.Store(true)
	pc.pool.release(pc.res, reason)
}

// PooledStatement is the Statement handle Pool.Prepare hands out. It has
// no Client of its own until the first Execute: that call acquires one
// via the Pool's checkout arbitration and prepares the SQL on it.
// Concurrent first-Execute callers collapse into a single checkout via a
// singleflight.Group. The PREPARE round trip itself happens inside
// Statement.Execute, so concurrent first Executes on the shared Statement
// can each send one.
type PooledStatement struct {
	pool *Pool
	sql  string

	group singleflight.Group

	mu            sync.Mutex
	conn          *PooledConnection
	stmt          *Statement
	pendingLimit  int
	limitSet      bool
	pendingOffset int
	offsetSet     bool
	pendingBinds  map[int]any
	disposed      bool
}

func newPooledStatement(pool *Pool, sql string) *PooledStatement {
	return &PooledStatement{pool: pool, sql: sql, pendingBinds: make(map[int]any)}
}

// Limit sets the LIMIT clause. Buffered until a Client is acquired if
// the statement hasn't executed yet.
func (ps *PooledStatement) Limit(n int) error {
	if n < 1 {
		return &UsageError{Message: "limit must be >= 1"}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pendingLimit = n
	ps.limitSet = true
	if ps.stmt != nil {
		return ps.stmt.Limit(n)
	}
	return nil
}

// Offset sets the OFFSET clause. Buffered until a Client is acquired if
// the statement hasn't executed yet.
func (ps *PooledStatement) Offset(k int) error {
	if k < 0 {
		return &UsageError{Message: "offset must be >= 0"}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pendingOffset = k
	ps.offsetSet = true
	if ps.stmt != nil {
		return ps.stmt.Offset(k)
	}
	return nil
}

// Bind assigns value to parameter index i. Buffered until a Client is
// acquired if the statement hasn't executed yet.
func (ps *PooledStatement) Bind(i int, value any) error {
	if i < 0 {
		return &UsageError{Message: "parameter index out of range"}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pendingBinds[i] = value
	if ps.stmt != nil {
		return ps.stmt.Bind(i, value)
	}
	return nil
}

// BindAll assigns values[0], values[1], ... to parameters 0, 1, ...
func (ps *PooledStatement) BindAll(values ...any) error {
	for i, v := range values {
		if err := ps.Bind(i, v); err != nil {
			return err
		}
	}
	return nil
}

// Execute acquires a Client on first call (see ensure) and runs the
// statement on it.
func (ps *PooledStatement) Execute(ctx context.Context) (*ResultSet, error) {
	stmt, err := ps.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return stmt.Execute(ctx)
}

// ensure acquires a Client and creates the Statement for sql on first
// call (the PREPARE round trip happens later, in Statement.Execute);
// subsequent calls return the same Statement. Concurrent first calls
// collapse into one checkout.
func (ps *PooledStatement) ensure(ctx context.Context) (*Statement, error) {
	ps.mu.Lock()
	if ps.disposed {
		ps.mu.Unlock()
		return nil, ErrStatementClosed
	}
	if ps.stmt != nil {
		s := ps.stmt
		ps.mu.Unlock()
		return s, nil
	}
	ps.mu.Unlock()

	v, err, _ := ps.group.Do("acquire", func() (any, error) {
		ps.mu.Lock()
		if ps.stmt != nil {
			s := ps.stmt
			ps.mu.Unlock()
			return s, nil
		}
		ps.mu.Unlock()

		conn, err := ps.pool.Checkout(ctx)
		if err != nil {
			return nil, err
		}

		stmt, err := conn.Prepare(ps.sql)
		if err != nil {
			conn.Shutdown(err)
			return nil, err
		}

		ps.mu.Lock()
		if ps.limitSet {
			_ = stmt.Limit(ps.pendingLimit)
		}
		if ps.offsetSet {
			_ = stmt.Offset(ps.pendingOffset)
		}
		for i, val := range ps.pendingBinds {
			_ = stmt.Bind(i, val)
		}
		ps.conn = conn
		ps.stmt = stmt
		ps.mu.Unlock()

		return stmt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Statement), nil
}

// Dispose closes the underlying Statement, if one was ever prepared, and
// releases its Client back to the Pool. Idempotent.
func (ps *PooledStatement) Dispose(ctx context.Context) error {
	ps.mu.Lock()
	if ps.disposed {
		ps.mu.Unlock()
		return nil
	}
	ps.disposed = true
	stmt, conn := ps.stmt, ps.conn
	ps.stmt, ps.conn = nil, nil
	ps.mu.Unlock()

	if stmt == nil {
		return nil
	}

	err := stmt.Dispose(ctx)
	conn.Shutdown(err)
	return err
}
