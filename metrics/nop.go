package metrics

import "time"

// NopMetrics is a no-op implementation of the Metrics interface.
// Use this when metrics collection is disabled.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

func (m *NopMetrics) SetConnected(connected bool)                                  {}
func (m *NopMetrics) IncCalls(iface, method string)                                {}
func (m *NopMetrics) IncCallErrors(iface, method, kind string)                     {}
func (m *NopMetrics) ObserveCallDuration(iface, method string, d time.Duration)    {}
func (m *NopMetrics) IncNotifications(kind string)                                 {}
func (m *NopMetrics) IncHandlerErrors()                                            {}
func (m *NopMetrics) SetSubscriptionState(state string)                            {}

// Ensure NopMetrics implements Metrics.
var _ Metrics = (*NopMetrics)(nil)
