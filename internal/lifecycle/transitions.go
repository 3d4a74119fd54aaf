package lifecycle

import (
	"errors"
	"fmt"

	"ilprelay/internal/store"
)

// ErrInvalidTransition is returned for any edge not in the table below. The
// connection record is left untouched.
var ErrInvalidTransition = errors.New("invalid state transition")

// validEdges is the complete set of legal state transitions. DISCONNECTED
// and FAILED are re-entry points, not terminal states.
var validEdges = map[store.ConnState]map[store.ConnState]bool{
	store.StateDiscovering: {
		store.StateConnecting: true,
		store.StateFailed:     true,
	},
	store.StateConnecting: {
		store.StateConnected:     true,
		store.StateChannelNeeded: true,
		store.StateFailed:        true,
	},
	store.StateConnected: {
		store.StateDisconnected: true,
	},
	store.StateChannelNeeded: {
		store.StateConnecting:   true,
		store.StateFailed:       true,
		store.StateDisconnected: true,
	},
	store.StateDisconnected: {
		store.StateConnecting: true,
	},
	store.StateFailed: {
		store.StateDiscovering: true,
	},
}

func checkTransition(from, to store.ConnState) error {
	if validEdges[from][to] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
