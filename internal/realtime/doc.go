// Package realtime keeps a live connection to the CMS change feed.
//
// A [Channel] moves through Disconnected, Connecting, HandshakePending and
// Live. On every connection it proves identity with an AES-GCM sealed
// handshake derived from the project secret; only after the server
// acknowledges does it act on change events. Reconnection is owned here,
// not by the transport: attempts never stop and back off exponentially up
// to a cap, resetting once a connection reaches Live.
//
// The wire transport is abstracted behind [Dialer] and [Conn].
// [WebSocketDialer] is the gorilla/websocket implementation.
package realtime
