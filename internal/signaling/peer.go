package signaling

// Peer is the registry's non-owning reference to a transport connection. The
// transport that created it owns its lifetime.
type Peer interface {
	// ID identifies the connection, not the user.
	ID() string
	// Identity is the authenticated user bound to the connection.
	Identity() string
	// Send queues msg for delivery and never blocks. It reports false when
	// the connection is closed or cannot keep up.
	Send(msg Outbound) bool
}
