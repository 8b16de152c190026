package ledger

import "time"

// =============================================================================
// OPERATION CONTEXT - Explicit clock and principal
// =============================================================================

// OperationContext carries the wall-clock instant and the acting user into
// every lifecycle and audit operation. Nothing in the core reads an ambient
// clock or an ambient user; both are decided once, at the boundary, per
// operation.
type OperationContext struct {
	// Now is read once at the start of the operation. The cancellation
	// window, all bookkeeping timestamps, and the shared audit timestamp
	// derive from it.
	Now time.Time

	// UserID is the acting principal. Empty means unauthenticated; the
	// audit writer records it as-is, ownership checks reject it.
	UserID string
}

// NewOperationContext builds a context with the instant normalized to UTC.
func NewOperationContext(now time.Time, userID string) OperationContext {
	return OperationContext{Now: now.UTC(), UserID: userID}
}
