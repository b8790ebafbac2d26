// Package echo owns the CRLF echo server.
//
// Ownership boundary:
// - accept loop and per-connection goroutines (Server)
//
// - read/frame/write loop for one connection (Handler)
//
// - process lifecycle, admin endpoint and heartbeat (Service)
//
// Wire contract:
// - frames end with "\r\n"; the delimiter is stripped and the bytes before
// it are written back once the full delimiter has arrived
//
// - partial frames are never echoed
//
// - a peer that stops sending mid-frame is disconnected (ErrStalled)
//
// Connections share no state. Failures close only the connection they
// happened on; a failed accept is logged and retried.
package echo
