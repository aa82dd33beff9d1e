package mysqlcore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResultSet(names ...string) (*ResultSet, []*columnDef) {
	cols := make([]*columnDef, len(names))
	for i, n := range names {
		cols[i] = &columnDef{Name: n}
	}
	return &ResultSet{columns: cols, rows: make(chan *Row, 4)}, cols
}

func TestRow_Column(t *testing.T) {
	_, cols := newTestResultSet("id", "name")
	row := &Row{columns: cols, Values: []any{int64(1), "alice"}}

	v, err := row.Column("name")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	_, err = row.Column("missing")
	require.Error(t, err)
	var usageErr *UsageError
	assert.ErrorAs(t, err, &usageErr)
}

func TestResultSet_FetchAll(t *testing.T) {
	rs, cols := newTestResultSet("id")
	rs.rows <- &Row{columns: cols, Values: []any{int64(1)}}
	rs.rows <- &Row{columns: cols, Values: []any{int64(2)}}
	close(rs.rows)

	rows, err := rs.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].Values[0])
	assert.Equal(t, int64(2), rows[1].Values[0])
}

func TestResultSet_FetchAll_NoRows(t *testing.T) {
	rs := &ResultSet{AffectedRows: 3, LastInsertID: 7}

	row, err := rs.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, row)

	rows, err := rs.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestResultSet_Fail_PropagatesThroughFetch(t *testing.T) {
	rs, _ := newTestResultSet("id")
	boom := errors.New("boom")
	rs.fail(boom)

	_, err := rs.Fetch(context.Background())
	assert.ErrorIs(t, err, boom)

	// fail is safe to call more than once; the first error wins.
	rs.fail(errors.New("second"))
	_, err = rs.Fetch(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestResultSet_FetchColumnAll(t *testing.T) {
	rs, cols := newTestResultSet("name")
	rs.rows <- &Row{columns: cols, Values: []any{"a"}}
	rs.rows <- &Row{columns: cols, Values: []any{"b"}}
	close(rs.rows)

	out, err := rs.FetchColumnAll(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestResultSet_CloseCursor_DrainsAndIdempotent(t *testing.T) {
	rs, cols := newTestResultSet("id")
	rs.rows <- &Row{columns: cols, Values: []any{int64(1)}}
	close(rs.rows)

	require.NoError(t, rs.CloseCursor(context.Background()))
	require.NoError(t, rs.CloseCursor(context.Background())) // idempotent
}

func TestResultSet_CloseCursor_NoRowChannel(t *testing.T) {
	rs := &ResultSet{AffectedRows: 1}
	require.NoError(t, rs.CloseCursor(context.Background()))
}
