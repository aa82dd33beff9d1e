package mysqlcore

import (
	"sync/atomic"
	"time"

	"github.com/pior/mysqlcore/internal/coarsetime"
)

// PoolStats contains statistics about a connection pool. All fields are
// safe for concurrent access.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Histogram: AcquireWaitDuration (derive from AcquireWaitCount / AcquireWaitTimeNs)
type PoolStats struct {
	AcquireCount      uint64
	AcquireWaitCount  uint64
	CreatedConns      uint64
	DestroyedConns    uint64
	AcquireErrors     uint64
	AcquireWaitTimeNs uint64

	TotalConns  int32
	IdleConns   int32
	ActiveConns int32
	_           int32
}

// ClientStats contains statistics about a single Client's command
// traffic since it was created.
type ClientStats struct {
	CommandsExecuted   uint64
	RowsStreamed       uint64
	StatementsPrepared uint64
	Errors             uint64
	LastActivity       time.Time
}

type poolStatsCollector struct {
	stats PoolStats
}

func (c *poolStatsCollector) recordAcquire() { atomic.AddUint64(&c.stats.AcquireCount, 1) }

func (c *poolStatsCollector) recordAcquireWait(d time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(d.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
}

func (c *poolStatsCollector) recordAcquireError() { atomic.AddUint64(&c.stats.AcquireErrors, 1) }

func (c *poolStatsCollector) recordAcquireFromIdle() {
	atomic.AddInt32(&c.stats.IdleConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordRelease() {
	atomic.AddInt32(&c.stats.IdleConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalConns:        atomic.LoadInt32(&c.stats.TotalConns),
		IdleConns:         atomic.LoadInt32(&c.stats.IdleConns),
		ActiveConns:       atomic.LoadInt32(&c.stats.ActiveConns),
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedConns:      atomic.LoadUint64(&c.stats.CreatedConns),
		DestroyedConns:    atomic.LoadUint64(&c.stats.DestroyedConns),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
	}
}

type clientStatsCollector struct {
	stats        ClientStats
	lastActivity atomic.Value // time.Time, via coarsetime to avoid a syscall per command
}

func (c *clientStatsCollector) recordCommand() {
	atomic.AddUint64(&c.stats.CommandsExecuted, 1)
	c.lastActivity.Store(coarsetime.Now())
}
func (c *clientStatsCollector) recordRows(n int) {
	atomic.AddUint64(&c.stats.RowsStreamed, uint64(n))
}
func (c *clientStatsCollector) recordPrepare() { atomic.AddUint64(&c.stats.StatementsPrepared, 1) }
func (c *clientStatsCollector) recordError()   { atomic.AddUint64(&c.stats.Errors, 1) }

func (c *clientStatsCollector) snapshot() ClientStats {
	var last time.Time
	if v := c.lastActivity.Load(); v != nil {
		last = v.(time.Time)
	}
	return ClientStats{
		CommandsExecuted:   atomic.LoadUint64(&c.stats.CommandsExecuted),
		RowsStreamed:       atomic.LoadUint64(&c.stats.RowsStreamed),
		StatementsPrepared: atomic.LoadUint64(&c.stats.StatementsPrepared),
		Errors:             atomic.LoadUint64(&c.stats.Errors),
		LastActivity:       last,
	}
}
