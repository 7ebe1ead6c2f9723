// Package metrics defines talkberry's instrumentation interface with
// Prometheus and no-op implementations.
package metrics

import "time"

// Metrics records client-side instrumentation. Implementations must be
// safe for concurrent use.
type Metrics interface {
	// Session metrics
	SetConnected(connected bool)

	// Call metrics
	IncCalls(iface, method string)
	IncCallErrors(iface, method, kind string)
	ObserveCallDuration(iface, method string, d time.Duration)

	// Notification metrics
	IncNotifications(kind string)
	IncHandlerErrors()
	SetSubscriptionState(state string)
}
