// Package auth implements the MySQL handshake: decoding the server's
// initial greeting, negotiating the capability bitset, and computing the
// mysql_native_password authentication response. It depends only on
// wire for primitive decoding; it has no socket and performs no I/O.
package auth
