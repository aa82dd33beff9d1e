// Package wire implements the MySQL/MariaDB client/server wire framing and
// the primitive value encodings built on top of it: the 3-byte
// length-prefixed, 1-byte sequenced packet frame, length-encoded integers
// and strings, fixed and NUL-terminated strings, and the two flavors of
// NULL bitmap used by the binary protocol (row context and parameter
// context).
//
// This package owns no socket and no sequence-number state; it is pure
// encode/decode. The caller (the mysqlcore Client) is responsible for
// tracking the packet sequence counter across a command: ReadFrame reports
// the sequence number it read and WritePacket takes the one to start
// from, but neither keeps it between calls.
package wire
