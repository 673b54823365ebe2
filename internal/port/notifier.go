package port

// Notifier hands a message off to the outbound notification pipeline.
// Fire-and-forget: the contract ends at "handoff accepted", not "delivered".
type Notifier interface {
	// Enqueue returns false when the handoff was dropped (queue full or
	// pipeline closed). Callers must not treat that as a request failure.
	Enqueue(kind string, payload any) bool
}
