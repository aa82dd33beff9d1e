package mysqlcore

import (
	"context"
	"testing"

	"github.com/pior/mysqlcore/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatement_Execute_RowsRoundTrip(t *testing.T) {
	prepOK := buildPrepareOK(t, 1, 7, 1, 0)
	prepColDef := buildColumnDef(t, 2, "name", fieldTypeVarString, 0)
	execColCount := buildColCountPacket(t, 1, 1)
	execColDef := buildColumnDef(t, 2, "name", fieldTypeVarString, 0)
	row1 := buildBinaryRowString(t, 3, "alice")
	row2 := buildBinaryRowString(t, 4, "bob")
	terminal := buildRowTerminator(t, 5, auth.RequestedCapabilities, auth.ServerStatusAutocommit)

	client := newBareClient(concat(prepOK, prepColDef, execColCount, execColDef, row1, row2, terminal))
	client.capabilities = auth.RequestedCapabilities
	t.Cleanup(func() { client.shutdown(ErrClientDisposed) })

	stmt := newStatement(client, "SELECT name FROM widgets")
	rs, err := stmt.Execute(context.Background())
	require.NoError(t, err)

	rows, err := rs.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Values[0])
	assert.Equal(t, "bob", rows[1].Values[0])
}

func TestStatement_Execute_DrainsAdditionalResultSets(t *testing.T) {
	prepOK := buildPrepareOK(t, 1, 7, 1, 0)
	prepColDef := buildColumnDef(t, 2, "name", fieldTypeVarString, 0)
	execColCount := buildColCountPacket(t, 1, 1)
	execColDef := buildColumnDef(t, 2, "name", fieldTypeVarString, 0)
	row1 := buildBinaryRowString(t, 3, "alice")
	// the first result set signals a second one follows
	terminal1 := buildRowTerminator(t, 4, auth.RequestedCapabilities, auth.ServerMoreResultsExists)
	// the second result set is a plain OK with nothing further queued
	terminal2 := buildOK(t, 5, auth.RequestedCapabilities, 2, 0, auth.ServerStatusAutocommit)

	client := newBareClient(concat(prepOK, prepColDef, execColCount, execColDef, row1, terminal1, terminal2))
	client.capabilities = auth.RequestedCapabilities
	t.Cleanup(func() { client.shutdown(ErrClientDisposed) })

	stmt := newStatement(client, "CALL multi_result_proc()")
	rs, err := stmt.Execute(context.Background())
	require.NoError(t, err)

	rows, err := rs.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Values[0])

	// Drain happens in the background right after the first result set
	// closes; a follow-up command only runs once the Executor's single
	// in-flight job (including the drain) has fully completed.
	err = client.sendCommand(context.Background(), func(c *Client) error { return nil })
	require.NoError(t, err)
	assert.False(t, client.Disposed(), "draining the second result set must not be treated as a protocol error")
}

func TestStatement_Execute_NoRowsReturnsAffected(t *testing.T) {
	prepOK := buildPrepareOK(t, 1, 3, 0, 0)
	execOK := buildOK(t, 1, auth.RequestedCapabilities, 5, 42, auth.ServerStatusAutocommit)

	client := newBareClient(concat(prepOK, execOK))
	client.capabilities = auth.RequestedCapabilities
	t.Cleanup(func() { client.shutdown(ErrClientDisposed) })

	stmt := newStatement(client, "UPDATE widgets SET active = 1")
	rs, err := stmt.Execute(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, rs.AffectedRows)
	assert.EqualValues(t, 42, rs.LastInsertID)

	row, err := rs.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestStatement_Execute_MissingBoundParamRejected(t *testing.T) {
	prepOK := buildPrepareOK(t, 1, 9, 0, 1)
	paramDef := buildColumnDef(t, 2, "?", fieldTypeVarString, 0)

	client := newBareClient(concat(prepOK, paramDef))
	client.capabilities = auth.RequestedCapabilities
	t.Cleanup(func() { client.shutdown(ErrClientDisposed) })

	stmt := newStatement(client, "SELECT * FROM widgets WHERE id = ?")
	_, err := stmt.Execute(context.Background())
	require.Error(t, err)
	var usageErr *UsageError
	require.ErrorAs(t, err, &usageErr)
}

func TestStatement_Dispose_Idempotent(t *testing.T) {
	client := newBareClient(nil)
	t.Cleanup(func() { client.shutdown(ErrClientDisposed) })

	stmt := newStatement(client, "SELECT 1")
	require.NoError(t, stmt.Dispose(context.Background()))
	require.NoError(t, stmt.Dispose(context.Background()))

	_, err := stmt.Execute(context.Background())
	assert.ErrorIs(t, err, ErrStatementClosed)
}

func TestStatement_LimitOffset_RejectsInvalid(t *testing.T) {
	client := newBareClient(nil)
	t.Cleanup(func() { client.shutdown(ErrClientDisposed) })

	stmt := newStatement(client, "SELECT * FROM widgets")
	assert.Error(t, stmt.Limit(0))
	assert.Error(t, stmt.Offset(-1))

	require.NoError(t, stmt.Limit(10))
	require.NoError(t, stmt.Offset(20))
	assert.Equal(t, "SELECT * FROM widgets LIMIT 10 OFFSET 20", stmt.effectiveSQL())
}
