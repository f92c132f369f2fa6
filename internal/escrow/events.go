package escrow

// Event types broadcast on escrow state transitions.
const (
	EventEscrowCreated   = "escrow.created"
	EventEscrowFunded    = "escrow.funded"
	EventEscrowReleased  = "escrow.released"
	EventEscrowDisputed  = "escrow.disputed"
	EventEscrowResolved  = "escrow.resolved"
	EventEscrowCancelled = "escrow.cancelled"
)

// EventEmitter receives escrow lifecycle events for realtime distribution.
// Implementations must not block: emission happens on the request path.
type EventEmitter interface {
	Emit(event string, escrow *Escrow)
}
