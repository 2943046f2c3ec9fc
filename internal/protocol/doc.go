// Package protocol owns the agent<->controller wire contract.
//
// Ownership boundary:
// - message kinds, tag bytes and per-version capability tables
// - frame encode/decode for every message kind
// - heartbeat mode codes and modified UTF-8 text fields
//
// Every frame is one tag byte followed by the kind's fixed field layout.
// Integers are signed big-endian, text is a 2-byte byte count followed by
// modified UTF-8, and byte arrays carry a 4-byte length prefix.
package protocol
