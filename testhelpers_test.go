package mysqlcore

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/pior/mysqlcore/auth"
	"github.com/pior/mysqlcore/internal/testutils"
	"github.com/pior/mysqlcore/wire"
)

// framePacket wraps payload in a wire frame at sequence seq.
func framePacket(t *testing.T, seq uint8, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := wire.WritePacket(&buf, seq, payload); err != nil {
		t.Fatalf("framePacket: %v", err)
	}
	return buf.Bytes()
}

// buildGreeting constructs a framed server greeting packet (tag 0x0A)
// advertising serverCaps, carrying a 20-byte scramble split the way
// ParseGreeting expects (8 bytes inline, 12 + NUL terminator in the
// optional tail).
func buildGreeting(t *testing.T, serverCaps auth.Capability, scramble []byte, plugin string) []byte {
	t.Helper()
	if len(scramble) != 20 {
		t.Fatalf("buildGreeting: scramble must be 20 bytes, got %d", len(scramble))
	}

	b := wire.NewBuilder(128)
	b.Int8(0x0A) // greeting tag, peeled off by the caller before ParseGreeting
	b.NulString("8.0.34-test")
	b.Int32(42) // connection id
	b.FixedString(string(scramble[:8]))
	b.Int8(0) // filler
	b.Int16(uint16(serverCaps))
	b.Int8(45) // charset
	b.Int16(0) // status flags
	b.Int16(uint16(serverCaps >> 16))
	b.Int8(21) // auth data len: 20-byte scramble + NUL terminator
	b.Raw(make([]byte, 10))
	b.Raw(scramble[8:20])
	b.Int8(0) // scramble2 NUL terminator
	b.NulString(plugin)

	return framePacket(t, 0, b.Bytes())
}

// buildOK constructs a framed OK packet (tag 0x00) matching parseOk.
func buildOK(t *testing.T, seq uint8, caps auth.Capability, affected, lastID uint64, status auth.StatusFlag) []byte {
	t.Helper()
	b := wire.NewBuilder(32)
	b.Int8(tagOK)
	b.LengthEncodedInt(affected)
	b.LengthEncodedInt(lastID)
	if caps.Has(auth.CapProtocol41) {
		b.Int16(uint16(status))
		b.Int16(0) // warnings
	}
	return framePacket(t, seq, b.Bytes())
}

// buildERR constructs a framed ERR packet (tag 0xFF) matching parseErrPacket.
func buildERR(t *testing.T, seq uint8, protocol41 bool, code uint16, sqlState, msg string) []byte {
	t.Helper()
	b := wire.NewBuilder(32)
	b.Int8(tagERR)
	b.Int16(code)
	if protocol41 {
		b.FixedString("#")
		b.FixedString(sqlState)
	}
	b.FixedString(msg)
	return framePacket(t, seq, b.Bytes())
}

// buildPrepareOK constructs a framed COM_STMT_PREPARE OK response.
func buildPrepareOK(t *testing.T, seq uint8, stmtID uint32, numCols, numParams uint16) []byte {
	t.Helper()
	b := wire.NewBuilder(16)
	b.Int8(tagOK)
	b.Int32(stmtID)
	b.Int16(numCols)
	b.Int16(numParams)
	b.Int8(0)  // filler
	b.Int16(0) // warning count
	return framePacket(t, seq, b.Bytes())
}

// buildColCountPacket constructs a framed column-count packet, the first
// packet of an EXECUTE response when rows follow.
func buildColCountPacket(t *testing.T, seq uint8, n uint64) []byte {
	t.Helper()
	b := wire.NewBuilder(9)
	b.LengthEncodedInt(n)
	return framePacket(t, seq, b.Bytes())
}

// buildColumnDef constructs a framed column-definition packet per
// parseColumnDef's field order.
func buildColumnDef(t *testing.T, seq uint8, name string, ft fieldType, flags uint16) []byte {
	t.Helper()
	b := wire.NewBuilder(64)
	b.LengthEncodedString([]byte("def"))
	b.LengthEncodedString(nil)
	b.LengthEncodedString(nil)
	b.LengthEncodedString(nil)
	b.LengthEncodedString([]byte(name))
	b.LengthEncodedString([]byte(name))
	b.LengthEncodedInt(0x0C)
	b.Int16(45)
	b.Int32(0)
	b.Int8(byte(ft))
	b.Int16(flags)
	b.Int8(0)
	b.Raw([]byte{0, 0})
	return framePacket(t, seq, b.Bytes())
}

// buildBinaryRowString constructs a framed binary-protocol row packet for
// a single non-NULL string column.
func buildBinaryRowString(t *testing.T, seq uint8, value string) []byte {
	t.Helper()
	b := wire.NewBuilder(32)
	b.Int8(0) // leading byte
	b.Raw(make([]byte, wire.RowNullBitmapWidth(1)))
	b.LengthEncodedString([]byte(value))
	return framePacket(t, seq, b.Bytes())
}

// buildRowTerminator constructs the framed packet that ends a streamed
// result set: tag 0xFE (EOF, also used for the DEPRECATE_EOF-negotiated
// OK-shaped terminator this core always requests) carrying status.
func buildRowTerminator(t *testing.T, seq uint8, caps auth.Capability, status auth.StatusFlag) []byte {
	t.Helper()
	b := wire.NewBuilder(8)
	b.Int8(tagEOF)
	b.LengthEncodedInt(0) // affected rows
	b.LengthEncodedInt(0) // last insert id
	if caps.Has(auth.CapProtocol41) {
		b.Int16(uint16(status))
		b.Int16(0) // warnings
	}
	return framePacket(t, seq, b.Bytes())
}

// concat joins several framed packets into one server byte stream.
func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// handshakeScramble is a fixed 20-byte scramble used across tests so the
// expected native-password response can be computed once.
var handshakeScramble = []byte("01234567890123456789")

// dialTestClient builds a Client whose byte stream is backed by
// serverBytes (everything the server will ever send, including the
// greeting) and drives it through the real handshake path.
func dialTestClient(t *testing.T, serverBytes []byte, cfg Config) *Client {
	t.Helper()
	conn := testutils.NewConnectionMock(string(serverBytes))
	c, err := newClient(conn, cfg)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	return c
}

// bareTestClient returns a Client with its Executor running but no
// handshake performed, for tests that only exercise pool/lifecycle
// bookkeeping and never touch the wire.
func bareTestClient(t *testing.T) *Client {
	t.Helper()
	c := newBareClient(nil)
	t.Cleanup(func() { c.shutdown(ErrClientDisposed) })
	return c
}

// newBareClient builds a Client around serverBytes without driving a
// handshake, so a command sent to it reads straight from serverBytes.
// Used as a Config.constructor override in Pool tests, where the pool
// needs to create several independent Clients on demand.
func newBareClient(serverBytes []byte) *Client {
	conn := testutils.NewConnectionMock(string(serverBytes))
	c := &Client{
		conn:   conn,
		r:      bufio.NewReader(conn),
		seq:    -1,
		jobs:   make(chan *commandJob, 16),
		stopCh: make(chan struct{}),
	}
	go c.runExecutor()
	return c
}
