// Package transport exposes the coordination bus to remote modules over
// WebSocket.
//
// A Listener upgrades HTTP requests and runs a join handshake: the first
// frame must be a capability_announce envelope carrying the module's name,
// version, and capability list in its payload. Admitted peers are registered,
// announced ready, and attached to the bus behind a proxy module whose
// deliveries are forwarded over the socket. Inbound frames are decoded and
// submitted on the peer's behalf; responses to its requests travel back as
// ordinary frames. Disconnecting a peer detaches and deregisters it, so
// envelopes addressed to a gone peer fail fast instead of queuing.
package transport
