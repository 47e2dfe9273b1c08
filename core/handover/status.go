package handover

import "shiftrelay/core/store"

// Allowed handover transitions. A pending handover must be accepted or
// rejected before it can be re-initiated.
var allowedTransitions = map[store.HandoverStatus][]store.HandoverStatus{
	store.HandoverNone:     {store.HandoverPending},
	store.HandoverPending:  {store.HandoverAccepted, store.HandoverRejected},
	store.HandoverAccepted: {store.HandoverPending},
	store.HandoverRejected: {store.HandoverPending},
}

func CanTransition(from, to store.HandoverStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
