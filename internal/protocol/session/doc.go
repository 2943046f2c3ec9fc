// Package session owns control-connection establishment.
//
// Ownership boundary:
// - the Conn contract (read exactly N, write, flush) and its TCP/stream adapters
// - dial with retry/backoff
// - the control handshake state machine and its collaborators
//   (configuration reader, error reporter)
//
// A handshake is one round trip: hello out, one reply tag in. It never
// retries; retry belongs to whoever dials the connection.
package session
