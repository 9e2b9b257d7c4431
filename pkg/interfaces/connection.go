package interfaces

// Connection is a live real-time client as seen by the chat gateway.
type Connection interface {
	// ID returns the server assigned connection identifier.
	ID() string

	// Emit queues an event for delivery. It must not block on network I/O and is
	// safe for concurrent use.
	Emit(event string, payload interface{}) error

	// Close releases the underlying transport.
	Close() error
}
