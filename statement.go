package mysqlcore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/pior/mysqlcore/auth"
	"github.com/pior/mysqlcore/wire"
)

// columnDef is a parsed column-definition packet, shared by parameter
// and result-column metadata.
type columnDef struct {
	Catalog  string
	Schema   string
	Table    string
	OrgTable string
	Name     string
	OrgName  string
	Charset  uint16
	Length   uint32
	Type     fieldType
	Flags    uint16
	Decimals uint8
}

const columnFlagUnsigned = 0x20

func parseColumnDef(payload []byte) (*columnDef, error) {
	r := wire.NewReader(payload)

	col := &columnDef{}
	var err error

	if col.Catalog, err = lenStr(r); err != nil {
		return nil, &ProtocolError{Context: "column def: catalog", Err: err}
	}
	if col.Schema, err = lenStr(r); err != nil {
		return nil, &ProtocolError{Context: "column def: schema", Err: err}
	}
	if col.Table, err = lenStr(r); err != nil {
		return nil, &ProtocolError{Context: "column def: table", Err: err}
	}
	if col.OrgTable, err = lenStr(r); err != nil {
		return nil, &ProtocolError{Context: "column def: org_table", Err: err}
	}
	if col.Name, err = lenStr(r); err != nil {
		return nil, &ProtocolError{Context: "column def: name", Err: err}
	}
	if col.OrgName, err = lenStr(r); err != nil {
		return nil, &ProtocolError{Context: "column def: org_name", Err: err}
	}

	if _, _, err := r.LengthEncodedInt(false); err != nil { // fixed-fields length, always 0x0C
		return nil, &ProtocolError{Context: "column def: fixed length marker", Err: err}
	}

	charset, err := r.Int16()
	if err != nil {
		return nil, &ProtocolError{Context: "column def: charset", Err: err}
	}
	col.Charset = uint16(charset)

	length, err := r.Int32()
	if err != nil {
		return nil, &ProtocolError{Context: "column def: length", Err: err}
	}
	col.Length = length

	typ, err := r.Int8()
	if err != nil {
		return nil, &ProtocolError{Context: "column def: type", Err: err}
	}
	col.Type = fieldType(typ)

	flags, err := r.Int16()
	if err != nil {
		return nil, &ProtocolError{Context: "column def: flags", Err: err}
	}
	col.Flags = uint16(flags)

	decimals, err := r.Int8()
	if err != nil {
		return nil, &ProtocolError{Context: "column def: decimals", Err: err}
	}
	col.Decimals = decimals

	if err := r.Skip(2); err != nil {
		return nil, &ProtocolError{Context: "column def: filler", Err: err}
	}

	return col, nil
}

func lenStr(r *wire.Reader) (string, error) {
	s, _, err := r.LengthEncodedString()
	return string(s), err
}

// Statement is a binary-protocol prepared statement bound to a single
// Client. Prepare happens lazily on first Execute.
type Statement struct {
	client *Client
	sql    string

	mu              sync.Mutex
	stmtID          uint32
	paramDefs       []*columnDef
	columnDefs      []*columnDef
	bound           map[int]any
	limitN          int
	offsetK         int
	limitSet        bool
	offsetSet       bool
	recompileNeeded bool
	disposed        bool
}

func newStatement(client *Client, sql string) *Statement {
	return &Statement{
		client: client,
		sql:    sql,
		bound:  make(map[int]any),
	}
}

// Limit sets the LIMIT clause appended to the prepared SQL. n must be >= 1.
func (s *Statement) Limit(n int) error {
	if n < 1 {
		return &UsageError{Message: "limit must be >= 1"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitN = n
	s.limitSet = true
	s.recompileNeeded = true
	return nil
}

// Offset sets the OFFSET clause, only meaningful alongside Limit. k must be >= 0.
func (s *Statement) Offset(k int) error {
	if k < 0 {
		return &UsageError{Message: "offset must be >= 0"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsetK = k
	s.offsetSet = true
	s.recompileNeeded = true
	return nil
}

// Bind assigns value to the 0-based parameter index i.
func (s *Statement) Bind(i int, value any) error {
	if i < 0 {
		return &UsageError{Message: "parameter index out of range"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[i] = value
	return nil
}

// BindAll assigns values[0], values[1], ... to parameters 0, 1, ...
func (s *Statement) BindAll(values ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range values {
		s.bound[i] = v
	}
	return nil
}

func (s *Statement) effectiveSQL() string {
	sql := s.sql
	if s.limitSet {
		sql += fmt.Sprintf(" LIMIT %d", s.limitN)
		if s.offsetSet {
			sql += fmt.Sprintf(" OFFSET %d", s.offsetK)
		}
	}
	return sql
}

// prepare sends COM_STMT_PREPARE and stores the returned metadata.
func (s *Statement) prepare(ctx context.Context) error {
	s.mu.Lock()
	sql := s.effectiveSQL()
	s.mu.Unlock()

	return s.client.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(len(sql) + 1)
		b.Int8(comStmtPrepare)
		b.Raw([]byte(sql))
		if err := c.sendPacket(b.Bytes()); err != nil {
			c.shutdown(err)
			return err
		}

		raw, err := c.readRawPacket()
		if err != nil {
			c.shutdown(err)
			return err
		}
		if len(raw) == 0 {
			err := &ProtocolError{Context: "prepare: empty response"}
			c.shutdown(err)
			return err
		}

		// ERR checked before the OK status byte: a prepare can
		// legally fail with a server error without desyncing the stream.
		if raw[0] == tagERR {
			return c.parseErrPacket(raw[1:])
		}
		if raw[0] != tagOK {
			err := &ProtocolError{Context: fmt.Sprintf("prepare: unexpected status byte 0x%02x", raw[0])}
			c.shutdown(err)
			return err
		}

		r := wire.NewReader(raw[1:])
		stmtID, err := r.Int32()
		if err != nil {
			c.shutdown(err)
			return &ProtocolError{Context: "prepare: statement id", Err: err}
		}
		colCount, err := r.Int16()
		if err != nil {
			c.shutdown(err)
			return &ProtocolError{Context: "prepare: column count", Err: err}
		}
		paramCount, err := r.Int16()
		if err != nil {
			c.shutdown(err)
			return &ProtocolError{Context: "prepare: param count", Err: err}
		}
		if err := r.Skip(1); err != nil {
			c.shutdown(err)
			return &ProtocolError{Context: "prepare: filler", Err: err}
		}
		if _, err := r.Int16(); err != nil { // warning count, unused
			c.shutdown(err)
			return &ProtocolError{Context: "prepare: warning count", Err: err}
		}

		paramDefs, err := c.readColumnDefs(int(paramCount))
		if err != nil {
			c.shutdown(err)
			return err
		}
		columnDefs, err := c.readColumnDefs(int(colCount))
		if err != nil {
			c.shutdown(err)
			return err
		}

		s.mu.Lock()
		s.stmtID = uint32(stmtID)
		s.paramDefs = paramDefs
		s.columnDefs = columnDefs
		s.recompileNeeded = false
		s.mu.Unlock()

		c.stats.recordPrepare()
		return nil
	})
}

// readColumnDefs reads n column-definition packets followed by the EOF
// packet, unless DEPRECATE_EOF was negotiated.
func (c *Client) readColumnDefs(n int) ([]*columnDef, error) {
	if n == 0 {
		return nil, nil
	}
	defs := make([]*columnDef, n)
	for i := 0; i < n; i++ {
		raw, err := c.readRawPacket()
		if err != nil {
			return nil, err
		}
		col, err := parseColumnDef(raw)
		if err != nil {
			return nil, err
		}
		defs[i] = col
	}
	if !c.capabilities.Has(auth.CapDeprecateEOF) {
		raw, err := c.readRawPacket()
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 || raw[0] != tagEOF {
			return nil, &ProtocolError{Context: "expected EOF after column definitions"}
		}
	}
	return defs, nil
}

// Execute runs the statement, preparing it first if needed. It returns
// as soon as the result metadata (OK, or column definitions) is known;
// row streaming, if any, continues in the Client's Executor and is
// delivered through the returned ResultSet's channel.
func (s *Statement) Execute(ctx context.Context) (*ResultSet, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrStatementClosed
	}
	needsPrepare := s.stmtID == 0 || s.recompileNeeded
	s.mu.Unlock()

	if needsPrepare {
		if err := s.prepare(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	paramCount := len(s.paramDefs)
	for i := 0; i < paramCount; i++ {
		if _, ok := s.bound[i]; !ok {
			s.mu.Unlock()
			return nil, &UsageError{Message: fmt.Sprintf("parameter %d not bound", i)}
		}
	}
	values := make([]any, paramCount)
	for i := 0; i < paramCount; i++ {
		values[i] = s.bound[i]
	}
	stmtID := s.stmtID
	columnDefs := s.columnDefs
	s.mu.Unlock()

	resultCh := make(chan *ResultSet, 1)
	errCh := make(chan error, 1)

	go func() {
		_ = s.client.sendCommand(ctx, func(c *Client) error {
			rs, err := c.execStatement(stmtID, values, columnDefs)
			if err != nil {
				errCh <- err
				return err
			}
			resultCh <- rs

			if rs.rows != nil {
				if err := c.streamRows(rs, columnDefs); err != nil {
					return err
				}
			}

			// Execute only ever surfaces the first result set; anything a
			// multi-statement or CALL left behind is read off the wire and
			// dropped here so the stream stays in sync for the next command.
			if rs.moreResults {
				return c.drainResultSets()
			}
			return nil
		})
	}()

	select {
	case rs := <-resultCh:
		return rs, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execStatement sends COM_STMT_EXECUTE and parses the immediate
// response: an OK packet (no rows) or column-count + definitions
// (rows follow, streamed separately by streamRows).
func (c *Client) execStatement(stmtID uint32, values []any, columnDefs []*columnDef) (*ResultSet, error) {
	b := wire.NewBuilder(32)
	b.Int8(comStmtExecute)
	b.Int32(stmtID)
	b.Int8(noCursor)
	b.Int32(1) // iteration count

	if len(values) > 0 {
		nulls := make([]bool, len(values))
		anyNonNull := false
		for i, v := range values {
			if v == nil {
				nulls[i] = true
			} else {
				anyNonNull = true
			}
		}
		b.Raw(wire.AppendParamNullBitmap(nulls))

		if anyNonNull {
			b.Int8(1)
			types := make([]byte, 0, len(values)*2)
			bodies := make([][]byte, len(values))
			for i, v := range values {
				if v == nil {
					types = append(types, byte(fieldTypeNull), 0)
					continue
				}
				ft, flag, body, err := encodeParam(v)
				if err != nil {
					c.shutdown(err)
					return nil, err
				}
				types = append(types, byte(ft), flag)
				bodies[i] = body
			}
			b.Raw(types)
			for i, v := range values {
				if v == nil {
					continue
				}
				b.Raw(bodies[i])
			}
		} else {
			b.Int8(0)
		}
	}

	if err := c.sendPacket(b.Bytes()); err != nil {
		c.shutdown(err)
		return nil, err
	}

	raw, err := c.readRawPacket()
	if err != nil {
		c.shutdown(err)
		return nil, err
	}
	if len(raw) == 0 {
		err := &ProtocolError{Context: "execute: empty response"}
		c.shutdown(err)
		return nil, err
	}

	if raw[0] == tagERR {
		return nil, c.parseErrPacket(raw[1:])
	}

	if (raw[0] == tagOK || raw[0] == tagEOF) && len(raw) < 9 {
		ok, err := c.parseOk(raw[1:])
		if err != nil {
			c.shutdown(err)
			return nil, err
		}
		return &ResultSet{
			AffectedRows: ok.AffectedRows,
			LastInsertID: ok.LastInsertID,
			moreResults:  ok.Status.Has(auth.ServerMoreResultsExists),
		}, nil
	}

	r := wire.NewReader(raw)
	colCount, _, err := r.LengthEncodedInt(false)
	if err != nil {
		err := &ProtocolError{Context: "execute: column count", Err: err}
		c.shutdown(err)
		return nil, err
	}

	cols, err := c.readColumnDefs(int(colCount))
	if err != nil {
		c.shutdown(err)
		return nil, err
	}

	return &ResultSet{
		columns: cols,
		rows:    make(chan *Row, DefaultPrefetch),
	}, nil
}

// Dispose sends COM_STMT_CLOSE (no reply expected) and clears the
// statement's metadata. Idempotent.
func (s *Statement) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	stmtID := s.stmtID
	s.stmtID = 0
	s.paramDefs = nil
	s.columnDefs = nil
	s.mu.Unlock()

	if stmtID == 0 {
		return nil
	}

	return s.client.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(5)
		b.Int8(comStmtClose)
		b.Int32(stmtID)
		if err := c.sendPacket(b.Bytes()); err != nil {
			c.shutdown(err)
			return err
		}
		return nil
	})
}

// streamRows reads binary row packets until the terminating EOF/ERR and
// pushes each decoded row to rs.rows, blocking on backpressure.
func (c *Client) streamRows(rs *ResultSet, columns []*columnDef) error {
	for {
		raw, err := c.readRawPacket()
		if err != nil {
			rs.fail(err)
			return err
		}
		if len(raw) == 0 {
			err := &ProtocolError{Context: "streamRows: empty packet"}
			c.shutdown(err)
			rs.fail(err)
			return err
		}

		if raw[0] == tagEOF && len(raw) < 9 {
			ok, err := c.parseOk(raw[1:])
			if err != nil {
				c.shutdown(err)
				rs.fail(err)
				return err
			}
			rs.moreResults = ok.Status.Has(auth.ServerMoreResultsExists)
			close(rs.rows)
			return nil
		}
		if raw[0] == tagERR {
			srvErr := c.parseErrPacket(raw[1:])
			rs.fail(srvErr)
			return srvErr
		}

		row, err := decodeRow(raw, columns)
		if err != nil {
			c.shutdown(err)
			rs.fail(err)
			return err
		}

		rs.rows <- row
		c.stats.recordRows(1)
	}
}

// drainResultSets discards every result set after the first one that
// Execute surfaces, following SERVER_MORE_RESULTS_EXISTS chains left by a
// multi-statement SQL string or a stored procedure's extra result sets.
func (c *Client) drainResultSets() error {
	for {
		raw, err := c.readRawPacket()
		if err != nil {
			c.shutdown(err)
			return err
		}
		if len(raw) == 0 {
			err := &ProtocolError{Context: "drainResultSets: empty packet"}
			c.shutdown(err)
			return err
		}

		if raw[0] == tagERR {
			return c.parseErrPacket(raw[1:])
		}

		if (raw[0] == tagOK || raw[0] == tagEOF) && len(raw) < 9 {
			ok, err := c.parseOk(raw[1:])
			if err != nil {
				c.shutdown(err)
				return err
			}
			if !ok.Status.Has(auth.ServerMoreResultsExists) {
				return nil
			}
			continue
		}

		r := wire.NewReader(raw)
		colCount, _, err := r.LengthEncodedInt(false)
		if err != nil {
			err := &ProtocolError{Context: "drainResultSets: column count", Err: err}
			c.shutdown(err)
			return err
		}
		if _, err := c.readColumnDefs(int(colCount)); err != nil {
			c.shutdown(err)
			return err
		}

		more, err := c.discardRows()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// discardRows reads and drops binary row packets until the terminating
// EOF/OK, reporting whether another result set follows.
func (c *Client) discardRows() (bool, error) {
	for {
		raw, err := c.readRawPacket()
		if err != nil {
			c.shutdown(err)
			return false, err
		}
		if len(raw) == 0 {
			err := &ProtocolError{Context: "discardRows: empty packet"}
			c.shutdown(err)
			return false, err
		}
		if raw[0] == tagERR {
			return false, c.parseErrPacket(raw[1:])
		}
		if raw[0] == tagEOF && len(raw) < 9 {
			ok, err := c.parseOk(raw[1:])
			if err != nil {
				c.shutdown(err)
				return false, err
			}
			return ok.Status.Has(auth.ServerMoreResultsExists), nil
		}
		// an undecoded row packet being discarded
	}
}

func decodeRow(raw []byte, columns []*columnDef) (*Row, error) {
	r := wire.NewReader(raw)
	if err := r.Skip(1); err != nil {
		return nil, &ProtocolError{Context: "row: leading byte", Err: err}
	}

	nulls, err := r.ReadRowNullBitmap(len(columns))
	if err != nil {
		return nil, &ProtocolError{Context: "row: null bitmap", Err: err}
	}

	values := make([]any, len(columns))
	for i, col := range columns {
		if nulls[i] {
			continue
		}
		v, err := decodeValue(r, col)
		if err != nil {
			return nil, &ProtocolError{Context: fmt.Sprintf("row: column %d", i), Err: err}
		}
		values[i] = v
	}

	return &Row{columns: columns, Values: values}, nil
}

func decodeValue(r *wire.Reader, col *columnDef) (any, error) {
	unsigned := col.Flags&columnFlagUnsigned != 0

	switch {
	case isStringFamily(col.Type):
		s, _, err := r.LengthEncodedString()
		return string(s), err

	case col.Type == fieldTypeLongLong:
		v, err := r.Int64()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return uint64(v), nil
		}
		return int64(v), nil

	case col.Type == fieldTypeLong || col.Type == fieldTypeInt24:
		v, err := r.Int32()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return uint32(v), nil
		}
		return int32(v), nil

	case col.Type == fieldTypeShort || col.Type == fieldTypeYear:
		v, err := r.Int16()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return uint16(v), nil
		}
		return int16(v), nil

	case col.Type == fieldTypeTiny:
		v, err := r.Int8()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return uint8(v), nil
		}
		return int8(v), nil

	case col.Type == fieldTypeFloat:
		s, err := r.FixedString(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32([]byte(s))), nil

	case col.Type == fieldTypeDouble:
		s, err := r.FixedString(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64([]byte(s))), nil

	case col.Type == fieldTypeNull:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported column type 0x%02x", byte(col.Type))
	}
}

// encodeParam maps a host value to its MySQL binary-protocol type byte,
// unsigned-flag byte, and encoded body.
func encodeParam(v any) (fieldType, byte, []byte, error) {
	switch val := v.(type) {
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return fieldTypeTiny, 0, []byte{b}, nil

	case []byte:
		b := wire.NewBuilder(len(val) + 9)
		b.LengthEncodedString(val)
		return fieldTypeLongBlob, 0, b.Bytes(), nil

	case string:
		b := wire.NewBuilder(len(val) + 9)
		b.LengthEncodedString([]byte(val))
		return fieldTypeLongBlob, 0, b.Bytes(), nil

	case float32:
		return encodeFloat(float64(val))

	case float64:
		return encodeFloat(val)
	}

	i64, u64, unsigned, ok := normalizeInt(v)
	if !ok {
		return 0, 0, nil, &UsageError{Message: fmt.Sprintf("unsupported parameter type %T", v)}
	}

	var small uint64
	var inSmallRange bool
	if unsigned {
		inSmallRange = u64 < 1<<15
		small = u64
	} else if i64 >= 0 {
		inSmallRange = i64 < 1<<15
		small = uint64(i64)
	}

	if inSmallRange {
		body := make([]byte, 2)
		binary.LittleEndian.PutUint16(body, uint16(small))
		return fieldTypeShort, unsignedFlag, body, nil
	}

	body := make([]byte, 8)
	if unsigned || i64 >= 0 {
		val := u64
		if !unsigned {
			val = uint64(i64)
		}
		binary.LittleEndian.PutUint64(body, val)
		return fieldTypeLongLong, unsignedFlag, body, nil
	}
	binary.LittleEndian.PutUint64(body, uint64(i64))
	return fieldTypeLongLong, 0, body, nil
}

func encodeFloat(f float64) (fieldType, byte, []byte, error) {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint64(body, math.Float64bits(f))
	return fieldTypeDouble, 0, body, nil
}

func normalizeInt(v any) (i64 int64, u64 uint64, unsigned bool, ok bool) {
	switch val := v.(type) {
	case int:
		return int64(val), 0, false, true
	case int8:
		return int64(val), 0, false, true
	case int16:
		return int64(val), 0, false, true
	case int32:
		return int64(val), 0, false, true
	case int64:
		return val, 0, false, true
	case uint:
		return 0, uint64(val), true, true
	case uint8:
		return 0, uint64(val), true, true
	case uint16:
		return 0, uint64(val), true, true
	case uint32:
		return 0, uint64(val), true, true
	case uint64:
		return 0, val, true, true
	default:
		return 0, 0, false, false
	}
}

