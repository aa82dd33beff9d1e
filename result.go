package mysqlcore

import (
	"context"
	"fmt"
	"sync"
)

// Row is one decoded binary-protocol result row: the column metadata it
// was decoded against (shared across every row of one ResultSet) and the
// per-column values, nil where the NULL bitmap marked a column absent.
type Row struct {
	columns []*columnDef
	Values  []any
}

// Column returns the value of the column named alias. Column lookup is
// by the result column's name (not its table-qualified org_name), the
// same field a `SELECT ... AS alias` renames.
func (r *Row) Column(alias string) (any, error) {
	for i, col := range r.columns {
		if col.Name == alias {
			return r.Values[i], nil
		}
	}
	return nil, &UsageError{Message: fmt.Sprintf("no such column %q", alias)}
}

// ResultSet is the handle an Execute returns: affected/lastId for
// statements with no rows, or a bounded channel of Row for statements
// that produce them. The channel, if non-nil, is either open with
// rows arriving or closed, normally on the server's terminating EOF,
// or with an error recorded and retrievable after the channel drains.
type ResultSet struct {
	AffectedRows uint64
	LastInsertID uint64

	columns []*columnDef
	rows    chan *Row

	// moreResults is set once the terminating OK/EOF of this result set is
	// read, from SERVER_MORE_RESULTS_EXISTS. Execute's caller never sees
	// it; the Executor checks it right after to decide whether to drain
	// further result sets.
	moreResults bool

	closeOnce sync.Once

	mu           sync.Mutex
	err          error
	cursorClosed bool
}

// fail records err (first one wins) and closes the row channel, unblocking
// any consumer waiting in Fetch/FetchAll. Safe to call more than once and
// concurrently with the normal EOF-close path.
func (rs *ResultSet) fail(err error) {
	rs.mu.Lock()
	if rs.err == nil {
		rs.err = err
	}
	rs.mu.Unlock()
	rs.closeRows()
}

func (rs *ResultSet) closeRows() {
	if rs.rows == nil {
		return
	}
	rs.closeOnce.Do(func() { close(rs.rows) })
}

// Fetch returns the next row, or (nil, nil) once the result is
// exhausted. A ResultSet with no row channel (an OK-only result, e.g.
// from an INSERT/UPDATE) always returns (nil, nil). After CloseCursor,
// a ResultSet with a row channel returns ErrCursorClosed.
func (rs *ResultSet) Fetch(ctx context.Context) (*Row, error) {
	if rs.rows == nil {
		return nil, nil
	}
	rs.mu.Lock()
	closed := rs.cursorClosed
	rs.mu.Unlock()
	if closed {
		return nil, ErrCursorClosed
	}
	select {
	case row, ok := <-rs.rows:
		if !ok {
			rs.mu.Lock()
			err := rs.err
			rs.mu.Unlock()
			return nil, err
		}
		return row, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchAll drains every remaining row into a slice. On error it returns
// whatever rows were collected before the failure alongside the error.
func (rs *ResultSet) FetchAll(ctx context.Context) ([]*Row, error) {
	var out []*Row
	for {
		row, err := rs.Fetch(ctx)
		if err != nil {
			return out, err
		}
		if row == nil {
			return out, nil
		}
		out = append(out, row)
	}
}

// FetchColumn fetches the next row and returns the value of its alias
// column. Returns (nil, nil) once the result is exhausted.
func (rs *ResultSet) FetchColumn(ctx context.Context, alias string) (any, error) {
	row, err := rs.Fetch(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	return row.Column(alias)
}

// FetchColumnAll drains every remaining row and collects the alias
// column's value from each, in server-emitted order.
func (rs *ResultSet) FetchColumnAll(ctx context.Context, alias string) ([]any, error) {
	var out []any
	for {
		row, err := rs.Fetch(ctx)
		if err != nil {
			return out, err
		}
		if row == nil {
			return out, nil
		}
		v, err := row.Column(alias)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// CloseCursor drains any rows the server has already queued so the
// producing command's sequence counter stays correct, then discards
// them. Idempotent; safe to call whether or not the result is fully
// drained, and whether or not it ever produced rows.
func (rs *ResultSet) CloseCursor(ctx context.Context) error {
	rs.mu.Lock()
	if rs.cursorClosed {
		rs.mu.Unlock()
		return nil
	}
	rs.cursorClosed = true
	rs.mu.Unlock()

	if rs.rows == nil {
		return nil
	}

	for {
		select {
		case _, ok := <-rs.rows:
			if !ok {
				rs.mu.Lock()
				err := rs.err
				rs.mu.Unlock()
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
