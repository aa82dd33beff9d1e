package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGreeting constructs a realistic protocol-41 greeting payload (tag
// byte already stripped, as ParseGreeting expects).
func buildGreeting(t *testing.T, caps Capability, plugin string) []byte {
	t.Helper()

	buf := []byte{}
	buf = append(buf, "8.0.34"...)
	buf = append(buf, 0x00)

	buf = append(buf, 42, 0, 0, 0) // connection id

	scramble1 := "12345678"
	buf = append(buf, scramble1...)
	buf = append(buf, 0x00) // filler

	buf = append(buf, byte(caps), byte(caps>>8)) // lower caps
	buf = append(buf, 45)                        // charset
	buf = append(buf, 0x02, 0x00)                // status: autocommit

	buf = append(buf, byte(caps>>16), byte(caps>>24)) // upper caps

	scramble2 := "123456789012" // 12 bytes, NUL terminator appended below
	buf = append(buf, byte(8+len(scramble2)+1))
	buf = append(buf, make([]byte, 10)...)
	buf = append(buf, scramble2...)
	buf = append(buf, 0x00)

	buf = append(buf, plugin...)
	buf = append(buf, 0x00)

	return buf
}

func TestParseGreetingFullPacket(t *testing.T) {
	caps := RequestedCapabilities
	payload := buildGreeting(t, caps, NativePasswordPlugin)

	g, err := ParseGreeting(payload)
	require.NoError(t, err)

	assert.Equal(t, "8.0.34", g.ServerVersion)
	assert.Equal(t, uint32(42), g.ConnectionID)
	assert.Equal(t, uint8(45), g.Charset)
	assert.Equal(t, NativePasswordPlugin, g.AuthPluginName)
	assert.Equal(t, 20, len(g.AuthPluginData))
	assert.True(t, g.Capabilities.Has(CapProtocol41))
	assert.True(t, g.StatusFlags.Has(ServerStatusAutocommit))
}

func TestParseGreetingShortPacketStopsAtScramble1(t *testing.T) {
	buf := []byte{}
	buf = append(buf, "5.5"...)
	buf = append(buf, 0x00)
	buf = append(buf, 1, 0, 0, 0)
	buf = append(buf, "abcdefgh"...)
	buf = append(buf, 0x00)
	buf = append(buf, 0, 0) // lower caps
	buf = append(buf, 8)    // charset
	buf = append(buf, 0, 0) // status

	g, err := ParseGreeting(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(g.AuthPluginData))
}

func TestNegotiateIsIntersection(t *testing.T) {
	serverCaps := CapProtocol41 | CapTransactions | CapSSL
	got := Negotiate(serverCaps)
	assert.True(t, got.Has(CapProtocol41))
	assert.True(t, got.Has(CapTransactions))
	assert.False(t, got.Has(CapSSL), "client never requests SSL")
	assert.False(t, got.Has(CapMultiStatements), "server didn't advertise it")
}

func TestHandshakeResponseEncodingPicksAuthEncoding(t *testing.T) {
	h := &HandshakeResponse{
		Capabilities:   CapPluginAuthLenencClientData | CapPluginAuth,
		Charset:        45,
		Username:       "root",
		AuthResponse:   []byte{1, 2, 3, 4},
		AuthPluginName: NativePasswordPlugin,
	}
	encoded := h.Encode()
	assert.Contains(t, string(encoded), "root")

	h2 := &HandshakeResponse{
		Capabilities: CapSecureConnection,
		Charset:      45,
		Username:     "root",
		AuthResponse: []byte{1, 2, 3, 4},
	}
	encoded2 := h2.Encode()
	assert.NotEqual(t, encoded, encoded2)
}
