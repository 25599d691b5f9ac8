package core

import "github.com/TomSB1423/networth/internal/events"

// isTerminalStatus reports whether a requisition can no longer change state.
func isTerminalStatus(status string) bool {
	switch status {
	case events.LinkStatusLinked, events.LinkStatusFailed, events.LinkStatusExpired:
		return true
	}
	return false
}

// nextLinkStatus is the requisition state transition: given the locally
// stored status and the status the aggregator reports, it returns the status
// to persist. Terminal statuses never regress, so a stale or out-of-order
// poll cannot undo a completed link.
func nextLinkStatus(current, reported string) string {
	if isTerminalStatus(current) {
		return current
	}
	switch reported {
	case events.LinkStatusLinked, events.LinkStatusFailed, events.LinkStatusExpired, events.LinkStatusPending:
		return reported
	}
	return current
}
