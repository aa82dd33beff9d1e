package auth

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// knownCharsets maps the small set of MySQL charset ids this core sends
// in a handshake response's charset field to the text encoding they
// name. A nil value means UTF-8 family, which Go's strings already speak
// natively; only the single-byte latin1 id needs an explicit transcoding
// table, taken from x/text rather than hand-rolled.
var knownCharsets = map[uint8]encoding.Encoding{
	8:   charmap.ISO8859_1, // latin1_swedish_ci
	33:  nil,               // utf8_general_ci
	45:  nil,               // utf8mb4_general_ci
	224: nil,               // utf8mb4_unicode_ci
}

// ValidateCharset reports whether id is one of the charset bytes this
// core recognizes. An unrecognized id is rejected here, before it's sent
// in the handshake response, rather than surfacing as mojibake several
// round trips later.
func ValidateCharset(id uint8) error {
	if _, ok := knownCharsets[id]; !ok {
		return fmt.Errorf("unrecognized charset id %d", id)
	}
	return nil
}
