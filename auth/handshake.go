package auth

import (
	"fmt"

	"github.com/pior/mysqlcore/wire"
)

// Greeting is the server's initial handshake packet (tag 0x0A).
type Greeting struct {
	ServerVersion  string
	ConnectionID   uint32
	Capabilities   Capability
	Charset        uint8
	StatusFlags    StatusFlag
	AuthPluginName string
	AuthPluginData []byte // scramble, parts 1+2 concatenated
}

// AuthError reports that the server rejected credentials or requested an
// authentication plugin this core does not implement. It can only occur
// during handshake/connection creation.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "mysqlcore: auth error: " + e.Msg }

// Fatal is always true: an AuthError aborts connection creation, it
// never applies to an already-authenticated Client.
func (e *AuthError) Fatal() bool { return true }

// ParseGreeting decodes the server's initial handshake payload (with its
// leading 0x0A tag already peeled off by the caller).
func ParseGreeting(payload []byte) (*Greeting, error) {
	r := wire.NewReader(payload)

	version, err := r.NulString()
	if err != nil {
		return nil, fmt.Errorf("mysqlcore: greeting: server version: %w", err)
	}

	connID, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("mysqlcore: greeting: connection id: %w", err)
	}

	scramble1, err := r.FixedString(8)
	if err != nil {
		return nil, fmt.Errorf("mysqlcore: greeting: scramble part 1: %w", err)
	}

	if err := r.Skip(1); err != nil { // filler 0x00
		return nil, fmt.Errorf("mysqlcore: greeting: filler: %w", err)
	}

	lowerCaps, err := r.Int16()
	if err != nil {
		return nil, fmt.Errorf("mysqlcore: greeting: capability flags (lower): %w", err)
	}

	charset, err := r.Int8()
	if err != nil {
		return nil, fmt.Errorf("mysqlcore: greeting: charset: %w", err)
	}

	status, err := r.Int16()
	if err != nil {
		return nil, fmt.Errorf("mysqlcore: greeting: status flags: %w", err)
	}

	// Everything past here is optional: a pre-4.1 greeting or one that
	// happens to end early is still valid.
	var upperCaps uint16
	if r.Len() > 0 {
		upperCaps, err = r.Int16()
		if err != nil {
			return nil, fmt.Errorf("mysqlcore: greeting: capability flags (upper): %w", err)
		}
	}

	caps := Capability(uint32(lowerCaps) | uint32(upperCaps)<<16)

	g := &Greeting{
		ServerVersion: version,
		ConnectionID:  connID,
		Capabilities:  caps,
		Charset:       charset,
		StatusFlags:   StatusFlag(status),
	}

	if r.Len() == 0 {
		g.AuthPluginData = []byte(scramble1)
		return g, nil
	}

	authDataLen, err := r.Int8()
	if err != nil {
		return g, fmt.Errorf("mysqlcore: greeting: auth data length: %w", err)
	}

	if err := r.Skip(10); err != nil { // reserved
		return g, fmt.Errorf("mysqlcore: greeting: reserved bytes: %w", err)
	}

	scramble2Len := int(authDataLen) - 8
	if scramble2Len < 13 {
		scramble2Len = 13
	}

	if r.Len() == 0 {
		g.AuthPluginData = []byte(scramble1)
		return g, nil
	}

	scramble2, err := r.FixedString(scramble2Len)
	if err != nil {
		return g, fmt.Errorf("mysqlcore: greeting: scramble part 2: %w", err)
	}

	// scramble2 is NUL-padded; the trailing NUL is the string terminator
	// MySQL always appends, not scramble data.
	if n := len(scramble2); n > 0 && scramble2[n-1] == 0x00 {
		scramble2 = scramble2[:n-1]
	}
	g.AuthPluginData = append([]byte(scramble1), scramble2...)

	if r.Len() == 0 {
		return g, nil
	}

	pluginName, err := r.NulString()
	if err != nil {
		// Some servers send the plugin name without a NUL terminator
		// when it is the last field; fall back to EOF-string.
		pluginName = r.EOFString()
	}
	g.AuthPluginName = pluginName

	return g, nil
}

// HandshakeResponse holds everything needed to build the client's
// handshake response packet.
type HandshakeResponse struct {
	Capabilities   Capability
	Charset        uint8
	Username       string
	AuthResponse   []byte
	AuthPluginName string
}

// Encode serializes the handshake response packet body.
func (h *HandshakeResponse) Encode() []byte {
	b := wire.NewBuilder(64 + len(h.Username) + len(h.AuthResponse))

	b.Int32(uint32(h.Capabilities))
	b.Int32(0xFFFFFF) // max-packet-size
	b.Int8(h.Charset)
	b.Raw(make([]byte, 23)) // reserved

	b.NulString(h.Username)

	switch {
	case h.Capabilities.Has(CapPluginAuthLenencClientData):
		b.LengthEncodedString(h.AuthResponse)
	case h.Capabilities.Has(CapSecureConnection):
		b.Int8(uint8(len(h.AuthResponse)))
		b.Raw(h.AuthResponse)
	default:
		b.NulString(string(h.AuthResponse))
	}

	if h.Capabilities.Has(CapPluginAuth) {
		b.NulString(h.AuthPluginName)
	}

	return b.Bytes()
}
