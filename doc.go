// Package mysqlcore is an asynchronous client core for the MySQL/MariaDB
// wire protocol: packet framing, handshake and native-password
// authentication, command serialization over a single in-order
// Executor, binary-protocol prepared statements, streamed result rows,
// and a capacity-aware connection pool.
//
// The core is handed an already-opened byte stream; DSN parsing, TLS,
// and SQL construction conveniences are out of scope. See the wire and
// auth subpackages for the packet codec and handshake, respectively.
package mysqlcore
