package mysqlcore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pior/mysqlcore/auth"
	"github.com/pior/mysqlcore/wire"
)

// commandJob is one closure submitted to a Client's Executor.
type commandJob struct {
	fn   func(*Client) error
	done chan error
}

// Client owns a single duplex byte stream to one MySQL server: the
// socket, the per-command sequence counter, the negotiated capability
// set, and the in-order Executor that serializes commands onto it.
//
// At most one command is ever in flight on a Client. Concurrent callers
// share a Client only through its Executor, never by touching the
// socket directly.
type Client struct {
	ID uuid.UUID

	conn net.Conn
	r    *bufio.Reader

	capabilities auth.Capability
	charset      uint8

	seq int // -1 means idle; next outbound packet is seq 0

	jobs   chan *commandJob
	stopCh chan struct{}

	disposed     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	inTransaction bool

	stats clientStatsCollector
}

// dialClient opens a TCP connection to cfg.Addr, performs the greeting
// exchange and native-password authentication, and starts the Executor.
func dialClient(ctx context.Context, cfg Config) (*Client, error) {
	netConn, err := cfg.dialer().DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	c, err := newClient(netConn, cfg)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	return c, nil
}

// newClient drives the greeting exchange and authentication over an
// already-opened byte stream and starts the Executor. Split out from
// dialClient so it can be exercised in tests against a net.Conn backed
// by an in-memory buffer instead of a real socket.
func newClient(netConn net.Conn, cfg Config) (*Client, error) {
	c := &Client{
		ID:     uuid.New(),
		conn:   netConn,
		r:      bufio.NewReader(netConn),
		seq:    -1,
		jobs:   make(chan *commandJob, 16),
		stopCh: make(chan struct{}),
	}

	if err := c.handshake(cfg); err != nil {
		return nil, err
	}

	go c.runExecutor()
	return c, nil
}

func (c *Client) handshake(cfg Config) error {
	if err := auth.ValidateCharset(cfg.charset()); err != nil {
		return &UsageError{Message: "config: " + err.Error()}
	}

	greetingPayload, err := c.readRawPacket()
	if err != nil {
		return err
	}
	if len(greetingPayload) == 0 || greetingPayload[0] != tagGreeting {
		return &ProtocolError{Context: "handshake: expected greeting packet"}
	}

	greeting, err := auth.ParseGreeting(greetingPayload[1:])
	if err != nil {
		return &auth.AuthError{Msg: err.Error()}
	}

	negotiated := auth.Negotiate(greeting.Capabilities)

	authResponse, err := auth.ComputeAuthResponse(greeting.AuthPluginName, cfg.Password, greeting.AuthPluginData)
	if err != nil {
		return err
	}

	resp := &auth.HandshakeResponse{
		Capabilities:   negotiated,
		Charset:        cfg.charset(),
		Username:       cfg.Username,
		AuthResponse:   authResponse,
		AuthPluginName: greeting.AuthPluginName,
	}

	if err := c.sendPacket(resp.Encode()); err != nil {
		return err
	}

	// Set ahead of reading the reply: an ERR here is still parsed in
	// whatever format was just negotiated, same as any other command.
	c.capabilities = negotiated
	c.charset = cfg.charset()

	payload, tag, err := c.readPacket(tagOK)
	if err != nil {
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			return &auth.AuthError{Msg: serverErr.Error()}
		}
		return err
	}
	_ = tag
	_ = payload

	c.seq = -1
	return nil
}

// runExecutor is the single-consumer Executor loop: exactly one
// command closure runs at a time, in submission order.
func (c *Client) runExecutor() {
	for {
		select {
		case job, ok := <-c.jobs:
			if !ok {
				return
			}
			c.seq = -1
			err := job.fn(c)
			c.seq = -1
			job.done <- err
		case <-c.stopCh:
			c.drainWithError(c.shutdownErr)
			_ = c.conn.Close()
			return
		}
	}
}

// drainWithError cancels every job still queued (not yet started) with
// err. The in-flight job, if any, already completed before stopCh was
// observed by runExecutor's select.
func (c *Client) drainWithError(err error) {
	for {
		select {
		case job := <-c.jobs:
			job.done <- err
		default:
			return
		}
	}
}

// sendCommand submits fn to the Executor and waits for it to complete.
// Cancelling ctx while fn is in flight escalates to shutting the Client
// down: the protocol stream cannot be trusted to resynchronize
// mid-packet.
func (c *Client) sendCommand(ctx context.Context, fn func(*Client) error) error {
	if c.disposed.Load() {
		return ErrClientDisposed
	}

	job := &commandJob{fn: fn, done: make(chan error, 1)}

	select {
	case c.jobs <- job:
	case <-c.stopCh:
		return c.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.done:
		c.stats.recordCommand()
		if err != nil {
			c.stats.recordError()
		}
		return err
	case <-ctx.Done():
		c.shutdown(fmt.Errorf("mysqlcore: command cancelled: %w", ctx.Err()))
		return ctx.Err()
	}
}

// shutdown marks the Client disposed and closes the underlying stream
// once the in-flight closure (if any) drains. Idempotent.
func (c *Client) shutdown(err error) {
	c.shutdownOnce.Do(func() {
		if err == nil {
			err = ErrClientDisposed
		}
		c.disposed.Store(true)
		c.shutdownErr = err
		close(c.stopCh)
	})
}

// Disposed reports whether the Client has been shut down.
func (c *Client) Disposed() bool { return c.disposed.Load() }

// InTransaction reports whether the last observed status indicated an
// open transaction.
func (c *Client) InTransaction() bool { return c.inTransaction }

// Stats returns a snapshot of this Client's command-traffic counters.
func (c *Client) Stats() ClientStats { return c.stats.snapshot() }

// sendPacket writes payload as one or more frames, starting at the next
// sequence number, and advances the Client's sequence counter.
func (c *Client) sendPacket(payload []byte) error {
	last, err := wire.WritePacket(c.conn, uint8(c.seq+1), payload)
	if err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	c.seq = int(last)
	return nil
}

// readRawPacket returns the next assembled frame unfiltered and
// advances the sequence counter from the header.
func (c *Client) readRawPacket() ([]byte, error) {
	payload, seq, err := wire.ReadFrame(c.r)
	if err != nil {
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	c.seq = int(seq)
	return payload, nil
}

// readPacket reads the next frame. A 0xFF tag is parsed as a
// *ServerError and returned regardless of expected. If expected is
// non-empty and the tag doesn't match, returns a *ProtocolError.
// Otherwise returns the payload with its tag byte already peeled off.
func (c *Client) readPacket(expected ...byte) ([]byte, byte, error) {
	payload, err := c.readRawPacket()
	if err != nil {
		return nil, 0, err
	}
	if len(payload) == 0 {
		return nil, 0, &ProtocolError{Context: "readPacket: empty packet"}
	}

	tag := payload[0]
	if tag == tagERR {
		return nil, tag, c.parseErrPacket(payload[1:])
	}

	if len(expected) > 0 {
		ok := false
		for _, e := range expected {
			if e == tag {
				ok = true
				break
			}
		}
		if !ok {
			return nil, tag, &ProtocolError{Context: fmt.Sprintf("readPacket: unexpected tag 0x%02x", tag)}
		}
	}

	return payload[1:], tag, nil
}

func (c *Client) parseErrPacket(rest []byte) error {
	r := wire.NewReader(rest)

	code, err := r.Int16()
	if err != nil {
		return &ProtocolError{Context: "ERR packet: code", Err: err}
	}

	var sqlState string
	if c.capabilities.Has(auth.CapProtocol41) {
		marker, err := r.FixedString(1)
		if err == nil && marker == "#" {
			sqlState, _ = r.FixedString(5)
		}
	}

	msg := r.EOFString()

	return &ServerError{Code: uint16(code), SQLState: sqlState, Message: msg}
}

// okPacket is the decoded body of an OK/EOF-as-OK packet.
type okPacket struct {
	AffectedRows uint64
	LastInsertID uint64
	Status       auth.StatusFlag
	Warnings     uint16
}

// parseOk decodes an OK packet body (tag byte already removed).
func (c *Client) parseOk(payload []byte) (okPacket, error) {
	r := wire.NewReader(payload)

	var ok okPacket

	affected, _, err := r.LengthEncodedInt(false)
	if err != nil {
		return ok, &ProtocolError{Context: "OK packet: affected rows", Err: err}
	}
	ok.AffectedRows = affected

	lastID, _, err := r.LengthEncodedInt(false)
	if err != nil {
		return ok, &ProtocolError{Context: "OK packet: last insert id", Err: err}
	}
	ok.LastInsertID = lastID

	if c.capabilities.Has(auth.CapProtocol41) {
		status, err := r.Int16()
		if err != nil {
			return ok, &ProtocolError{Context: "OK packet: status", Err: err}
		}
		ok.Status = auth.StatusFlag(status)

		warnings, err := r.Int16()
		if err != nil {
			return ok, &ProtocolError{Context: "OK packet: warnings", Err: err}
		}
		ok.Warnings = uint16(warnings)
	}

	if r.Len() > 0 {
		if c.capabilities.Has(auth.CapSessionTrack) {
			_, _, err := r.LengthEncodedString()
			if err != nil {
				return ok, &ProtocolError{Context: "OK packet: session info", Err: err}
			}
			if ok.Status.Has(auth.ServerSessionStateChanged) && r.Len() > 0 {
				_, _, err := r.LengthEncodedString()
				if err != nil {
					return ok, &ProtocolError{Context: "OK packet: session state changes", Err: err}
				}
			}
		} else {
			_ = r.EOFString()
		}
	}

	c.inTransaction = ok.Status.Has(auth.ServerStatusInTrans)
	return ok, nil
}

// execTextCommand sends a COM_QUERY with literal SQL and expects a
// single OK/ERR reply. Used only for the transaction verbs; this
// core never decodes text-protocol result rows.
func (c *Client) execTextCommand(sql string) (okPacket, error) {
	b := wire.NewBuilder(len(sql) + 1)
	b.Int8(comQuery)
	b.Raw([]byte(sql))

	if err := c.sendPacket(b.Bytes()); err != nil {
		return okPacket{}, err
	}

	payload, _, err := c.readPacket(tagOK)
	if err != nil {
		return okPacket{}, err
	}
	return c.parseOk(payload)
}

// beginTransaction issues START TRANSACTION, optionally read-only, and
// verifies the server confirms a transaction is now open.
func (c *Client) beginTransaction(ctx context.Context, readOnly bool) error {
	sql := "START TRANSACTION"
	if readOnly {
		sql += " READ ONLY"
	}
	return c.sendCommand(ctx, func(c *Client) error {
		ok, err := c.execTextCommand(sql)
		if err != nil {
			c.shutdown(err)
			return err
		}
		if !ok.Status.Has(auth.ServerStatusInTrans) {
			err := &ProtocolError{Context: "START TRANSACTION did not open a transaction"}
			c.shutdown(err)
			return err
		}
		return nil
	})
}

func (c *Client) commit(ctx context.Context) error {
	return c.sendCommand(ctx, func(c *Client) error {
		ok, err := c.execTextCommand("COMMIT")
		if err != nil {
			c.shutdown(err)
			return err
		}
		if ok.Status.Has(auth.ServerStatusInTrans) {
			err := &ProtocolError{Context: "COMMIT left a transaction open"}
			c.shutdown(err)
			return err
		}
		return nil
	})
}

func (c *Client) rollBack(ctx context.Context) error {
	return c.sendCommand(ctx, func(c *Client) error {
		ok, err := c.execTextCommand("ROLLBACK")
		if err != nil {
			c.shutdown(err)
			return err
		}
		if ok.Status.Has(auth.ServerStatusInTrans) {
			err := &ProtocolError{Context: "ROLLBACK left a transaction open"}
			c.shutdown(err)
			return err
		}
		return nil
	})
}
