package wire

import (
	"fmt"
	"io"
)

// MaxFramePayload is the largest payload a single frame can carry before
// the length field saturates and a continuation frame is required.
const MaxFramePayload = 0x00FFFFFF

// HeaderSize is the size of the length+sequence frame header.
const HeaderSize = 4

// CodecError reports a malformed frame or primitive: a length mismatch,
// an invalid length-encoded prefix, or a short read where an exact byte
// count was expected. The protocol stream is no longer trustworthy once
// one of these occurs.
type CodecError struct {
	Msg string
	Err error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mysqlcore: codec error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("mysqlcore: codec error: %s", e.Msg)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Fatal reports that the byte stream's framing can no longer be trusted.
func (e *CodecError) Fatal() bool { return true }

func codecErr(msg string, err error) error { return &CodecError{Msg: msg, Err: err} }

// ReadFrame reads one logical packet from r, transparently reassembling
// it from several physical frames when the payload is MaxFramePayload
// bytes or longer (length == 0x00FFFFFF marks a non-terminal fragment).
// It returns the concatenated payload and the sequence number carried by
// the last physical frame read.
func ReadFrame(r io.Reader) (payload []byte, seq uint8, err error) {
	var out []byte
	var header [HeaderSize]byte

	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, 0, err
		}

		length := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16
		seq = header[3]

		chunk := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, chunk); err != nil {
				return nil, 0, codecErr("short payload read", err)
			}
		}
		out = append(out, chunk...)

		if length < MaxFramePayload {
			return out, seq, nil
		}
		// length == MaxFramePayload: a continuation frame follows, even
		// if it turns out to carry zero additional bytes.
	}
}

// WritePacket writes payload as one or more physical frames, starting at
// sequence startSeq and incrementing (mod 256) for every frame written.
// It returns the sequence number stamped on the last frame.
func WritePacket(w io.Writer, startSeq uint8, payload []byte) (lastSeq uint8, err error) {
	seq := startSeq
	offset := 0

	for {
		remaining := len(payload) - offset
		n := remaining
		if n > MaxFramePayload {
			n = MaxFramePayload
		}

		var header [HeaderSize]byte
		header[0] = byte(n)
		header[1] = byte(n >> 8)
		header[2] = byte(n >> 16)
		header[3] = seq

		if _, err := w.Write(header[:]); err != nil {
			return 0, err
		}
		if n > 0 {
			if _, err := w.Write(payload[offset : offset+n]); err != nil {
				return 0, err
			}
		}

		lastSeq = seq
		offset += n
		seq++

		if n < MaxFramePayload {
			return lastSeq, nil
		}
	}
}
