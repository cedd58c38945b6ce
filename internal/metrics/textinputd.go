package metrics

import (
	"time"
)

// TextinputdMetrics holds all metrics for the textinputd daemon.
type TextinputdMetrics struct {
	registry *Registry

	// Counters
	FramesInTotal      *Counter
	FramesOutTotal     *Counter
	AttachesTotal      *Counter
	ClientActionsTotal *Counter
	StaleDropsTotal    *Counter
	AutofillSavesTotal *Counter
	AutofillFillsTotal *Counter
	BackendRestarts    *Counter
	ErrorsTotal        *Counter

	// Gauges
	ActiveConnections *Gauge
	ConnectedClients  *Gauge
	KeyboardVisible   *Gauge
	StoreEntries      *Gauge
	UptimeSeconds     *Gauge
	LastAttachTs      *Gauge

	// Histograms
	DispatchDuration *Histogram
	SendDuration     *Histogram
	FrameBytes       *Histogram
}

var startTime = time.Now()

// NewTextinputdMetrics creates and registers all daemon metrics.
func NewTextinputdMetrics(registry *Registry) *TextinputdMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &TextinputdMetrics{
		registry: registry,
	}

	// Counters
	m.FramesInTotal = registry.RegisterCounter(
		"frames_in_total",
		"Total number of frames received from clients",
		nil,
	)
	m.FramesOutTotal = registry.RegisterCounter(
		"frames_out_total",
		"Total number of frames sent to clients",
		nil,
	)
	m.AttachesTotal = registry.RegisterCounter(
		"attaches_total",
		"Total number of editing connections attached",
		nil,
	)
	m.ClientActionsTotal = registry.RegisterCounter(
		"client_actions_total",
		"Total number of client actions dispatched to editors",
		nil,
	)
	m.StaleDropsTotal = registry.RegisterCounter(
		"stale_drops_total",
		"Total number of messages dropped for superseded connections",
		nil,
	)
	m.AutofillSavesTotal = registry.RegisterCounter(
		"autofill_saves_total",
		"Total number of autofill values saved",
		nil,
	)
	m.AutofillFillsTotal = registry.RegisterCounter(
		"autofill_fills_total",
		"Total number of autofill lookups served",
		nil,
	)
	m.BackendRestarts = registry.RegisterCounter(
		"backend_restarts_total",
		"Total number of platform backend reconnects",
		nil,
	)
	m.ErrorsTotal = registry.RegisterCounter(
		"errors_total",
		"Total number of errors encountered",
		nil,
	)

	// Gauges
	m.ActiveConnections = registry.RegisterGauge(
		"active_connections",
		"Number of currently attached editing connections",
		nil,
	)
	m.ConnectedClients = registry.RegisterGauge(
		"connected_clients",
		"Number of currently connected control clients",
		nil,
	)
	m.KeyboardVisible = registry.RegisterGauge(
		"keyboard_visible",
		"Whether the platform input surface is shown (1) or hidden (0)",
		nil,
	)
	m.StoreEntries = registry.RegisterGauge(
		"store_entries",
		"Number of entries in the autofill store",
		nil,
	)
	m.UptimeSeconds = registry.RegisterGauge(
		"uptime_seconds",
		"Daemon uptime in seconds",
		nil,
	)
	m.LastAttachTs = registry.RegisterGauge(
		"last_attach_timestamp",
		"Unix timestamp of the last connection attach",
		nil,
	)

	// Histograms
	m.DispatchDuration = registry.RegisterHistogram(
		"dispatch_duration_seconds",
		"Time to dispatch an inbound method call",
		nil,
		DurationBuckets,
	)
	m.SendDuration = registry.RegisterHistogram(
		"send_duration_seconds",
		"Time to encode and write an outbound frame",
		nil,
		DurationBuckets,
	)
	m.FrameBytes = registry.RegisterHistogram(
		"frame_bytes",
		"Size of wire frames in bytes",
		nil,
		SizeBuckets,
	)

	return m
}

// RecordFrameIn records an inbound frame of the given size.
func (m *TextinputdMetrics) RecordFrameIn(bytes int) {
	m.FramesInTotal.Inc()
	m.FrameBytes.Observe(float64(bytes))
}

// RecordFrameOut records an outbound frame of the given size.
func (m *TextinputdMetrics) RecordFrameOut(bytes int) {
	m.FramesOutTotal.Inc()
	m.FrameBytes.Observe(float64(bytes))
}

// RecordAttach records a new editing connection.
func (m *TextinputdMetrics) RecordAttach() {
	m.AttachesTotal.Inc()
	m.ActiveConnections.Inc()
	m.LastAttachTs.Set(time.Now().Unix())
}

// RecordDetach records an editing connection going away.
func (m *TextinputdMetrics) RecordDetach() {
	m.ActiveConnections.Dec()
}

// RecordClientAction records a client action dispatched to an editor.
func (m *TextinputdMetrics) RecordClientAction() {
	m.ClientActionsTotal.Inc()
}

// RecordStaleDrop records a message dropped for a superseded connection.
func (m *TextinputdMetrics) RecordStaleDrop() {
	m.StaleDropsTotal.Inc()
}

// RecordDispatch records the duration of one inbound dispatch.
func (m *TextinputdMetrics) RecordDispatch(duration time.Duration) {
	m.DispatchDuration.ObserveDuration(duration)
}

// StartDispatchTimer returns a timer for an inbound dispatch.
func (m *TextinputdMetrics) StartDispatchTimer() *HistogramTimer {
	return m.DispatchDuration.Timer()
}

// StartSendTimer returns a timer for an outbound send.
func (m *TextinputdMetrics) StartSendTimer() *HistogramTimer {
	return m.SendDuration.Timer()
}

// RecordAutofillSave records a stored autofill value.
func (m *TextinputdMetrics) RecordAutofillSave() {
	m.AutofillSavesTotal.Inc()
}

// RecordAutofillFill records a served autofill lookup.
func (m *TextinputdMetrics) RecordAutofillFill() {
	m.AutofillFillsTotal.Inc()
}

// RecordBackendRestart records a platform backend reconnect.
func (m *TextinputdMetrics) RecordBackendRestart() {
	m.BackendRestarts.Inc()
}

// RecordError records an error.
func (m *TextinputdMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// ClientConnected records a new control client.
func (m *TextinputdMetrics) ClientConnected() {
	m.ConnectedClients.Inc()
}

// ClientDisconnected records a control client going away.
func (m *TextinputdMetrics) ClientDisconnected() {
	m.ConnectedClients.Dec()
}

// SetKeyboardVisible updates the input surface visibility gauge.
func (m *TextinputdMetrics) SetKeyboardVisible(visible bool) {
	if visible {
		m.KeyboardVisible.Set(1)
	} else {
		m.KeyboardVisible.Set(0)
	}
}

// SetStoreEntries updates the autofill store size gauge.
func (m *TextinputdMetrics) SetStoreEntries(n int64) {
	m.StoreEntries.Set(n)
}

// UpdateUptime updates the uptime gauge.
func (m *TextinputdMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Registry returns the underlying registry.
func (m *TextinputdMetrics) Registry() *Registry {
	return m.registry
}

// Snapshot returns a snapshot of daemon metrics.
func (m *TextinputdMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"frames_in_total":      m.FramesInTotal.Value(),
		"frames_out_total":     m.FramesOutTotal.Value(),
		"attaches_total":       m.AttachesTotal.Value(),
		"client_actions_total": m.ClientActionsTotal.Value(),
		"stale_drops_total":    m.StaleDropsTotal.Value(),
		"autofill_saves_total": m.AutofillSavesTotal.Value(),
		"autofill_fills_total": m.AutofillFillsTotal.Value(),
		"errors_total":         m.ErrorsTotal.Value(),
		"active_connections":   m.ActiveConnections.Value(),
		"connected_clients":    m.ConnectedClients.Value(),
		"keyboard_visible":     m.KeyboardVisible.Value(),
		"store_entries":        m.StoreEntries.Value(),
		"uptime_seconds":       int64(time.Since(startTime).Seconds()),
		"dispatch_p50_ms":      m.DispatchDuration.Quantile(50) * 1000,
		"dispatch_p95_ms":      m.DispatchDuration.Quantile(95) * 1000,
	}
}

// Global metrics instance.
var defaultTextinputdMetrics *TextinputdMetrics

// GetMetrics returns the global daemon metrics, initializing if needed.
func GetMetrics() *TextinputdMetrics {
	if defaultTextinputdMetrics == nil {
		defaultTextinputdMetrics = NewTextinputdMetrics(nil)
	}
	return defaultTextinputdMetrics
}

// InitMetrics initializes global metrics with a custom registry.
func InitMetrics(registry *Registry) *TextinputdMetrics {
	defaultTextinputdMetrics = NewTextinputdMetrics(registry)
	return defaultTextinputdMetrics
}
