// Package tracing records spans of daemon work for debugging.
//
// This is a lightweight tracer compatible with OpenTelemetry concepts but
// without the SDK: spans carry trace and span ids, attributes, events, and
// a status, propagate through context, and export as JSON lines. The daemon
// starts a span per dispatched method call and per backend event when
// tracing is enabled; with the default disabled tracer every call is a
// no-op.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TraceID is a unique identifier for a trace.
type TraceID [16]byte

// String returns the hex representation of the TraceID.
func (t TraceID) String() string {
	return hex.EncodeToString(t[:])
}

// IsValid returns true if the TraceID is non-zero.
func (t TraceID) IsValid() bool {
	for _, b := range t {
		if b != 0 {
			return true
		}
	}
	return false
}

// SpanID is a unique identifier for a span.
type SpanID [8]byte

// String returns the hex representation of the SpanID.
func (s SpanID) String() string {
	return hex.EncodeToString(s[:])
}

// IsValid returns true if the SpanID is non-zero.
func (s SpanID) IsValid() bool {
	for _, b := range s {
		if b != 0 {
			return true
		}
	}
	return false
}

// SpanKind represents the kind of span.
type SpanKind int

const (
	// SpanKindInternal is the default span kind.
	SpanKindInternal SpanKind = iota
	// SpanKindServer marks a span serving a client request.
	SpanKindServer
	// SpanKindConsumer marks a span consuming a backend event.
	SpanKindConsumer
)

// String returns the string representation of SpanKind.
func (k SpanKind) String() string {
	switch k {
	case SpanKindServer:
		return "server"
	case SpanKindConsumer:
		return "consumer"
	default:
		return "internal"
	}
}

// StatusCode represents the status of a span.
type StatusCode int

const (
	// StatusUnset is the default status.
	StatusUnset StatusCode = iota
	// StatusOK indicates success.
	StatusOK
	// StatusError indicates an error occurred.
	StatusError
)

// String returns the string representation of StatusCode.
func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// Attribute represents a key-value pair attached to a span.
type Attribute struct {
	Key   string
	Value any
}

// Event represents an event that occurred during a span.
type Event struct {
	Name       string
	Timestamp  time.Time
	Attributes []Attribute
}

// SpanContext carries the identifiers a child span inherits.
type SpanContext struct {
	TraceID    TraceID
	SpanID     SpanID
	TraceFlags byte
}

// IsValid returns true if the SpanContext is valid.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID.IsValid() && sc.SpanID.IsValid()
}

// IsSampled returns true if the trace is being recorded.
func (sc SpanContext) IsSampled() bool {
	return sc.TraceFlags&0x01 != 0
}

// Span represents a unit of work.
type Span struct {
	mu         sync.RWMutex
	tracer     *Tracer
	name       string
	context    SpanContext
	parent     SpanContext
	kind       SpanKind
	startTime  time.Time
	endTime    time.Time
	attributes []Attribute
	events     []Event
	status     StatusCode
	statusMsg  string
	ended      atomic.Bool
}

// Context returns the span's context.
func (s *Span) Context() SpanContext {
	return s.context
}

// SetAttribute sets an attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes = append(s.attributes, Attribute{Key: key, Value: value})
}

// SetAttributes sets multiple attributes on the span.
func (s *Span) SetAttributes(attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes = append(s.attributes, attrs...)
}

// AddEvent adds an event to the span.
func (s *Span) AddEvent(name string, attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attrs,
	})
}

// SetStatus sets the span status.
func (s *Span) SetStatus(code StatusCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
	s.statusMsg = message
}

// RecordError records an error on the span and marks it failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.AddEvent("exception",
		Attribute{Key: "exception.type", Value: fmt.Sprintf("%T", err)},
		Attribute{Key: "exception.message", Value: err.Error()},
	)
	s.SetStatus(StatusError, err.Error())
}

// End ends the span. Only sampled spans reach the exporter; ending twice
// is a no-op.
func (s *Span) End() {
	if s.ended.Swap(true) {
		return
	}

	s.mu.Lock()
	s.endTime = time.Now()
	s.mu.Unlock()

	if s.tracer != nil && s.context.IsSampled() {
		s.tracer.exporter.ExportSpan(s)
	}
}

// Duration returns the span duration, running if not yet ended.
func (s *Span) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

// SpanData is the serializable snapshot of a span.
type SpanData struct {
	Name       string         `json:"name"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Kind       string         `json:"kind"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Duration   time.Duration  `json:"duration_ns"`
	Status     string         `json:"status"`
	StatusMsg  string         `json:"status_message,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Events     []EventData    `json:"events,omitempty"`
}

// EventData is a serializable event.
type EventData struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Data returns a snapshot of the span.
func (s *Span) Data() SpanData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs := make(map[string]any)
	for _, a := range s.attributes {
		attrs[a.Key] = a.Value
	}

	events := make([]EventData, len(s.events))
	for i, e := range s.events {
		eventAttrs := make(map[string]any)
		for _, a := range e.Attributes {
			eventAttrs[a.Key] = a.Value
		}
		events[i] = EventData{
			Name:       e.Name,
			Timestamp:  e.Timestamp,
			Attributes: eventAttrs,
		}
	}

	parentID := ""
	if s.parent.SpanID.IsValid() {
		parentID = s.parent.SpanID.String()
	}

	return SpanData{
		Name:       s.name,
		TraceID:    s.context.TraceID.String(),
		SpanID:     s.context.SpanID.String(),
		ParentID:   parentID,
		Kind:       s.kind.String(),
		StartTime:  s.startTime,
		EndTime:    s.endTime,
		Duration:   s.endTime.Sub(s.startTime),
		Status:     s.status.String(),
		StatusMsg:  s.statusMsg,
		Attributes: attrs,
		Events:     events,
	}
}

// Exporter exports ended spans.
type Exporter interface {
	ExportSpan(span *Span)
	Shutdown() error
}

// StdoutExporter writes spans to stdout as JSON lines.
type StdoutExporter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewStdoutExporter creates a new StdoutExporter.
func NewStdoutExporter() *StdoutExporter {
	return &StdoutExporter{encoder: json.NewEncoder(os.Stdout)}
}

// ExportSpan writes a span to stdout.
func (e *StdoutExporter) ExportSpan(span *Span) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encoder.Encode(span.Data())
}

// Shutdown does nothing for stdout.
func (e *StdoutExporter) Shutdown() error {
	return nil
}

// FileExporter appends spans to a file as JSON lines.
type FileExporter struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewFileExporter creates a FileExporter appending to path.
func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return &FileExporter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// ExportSpan writes a span to the file.
func (e *FileExporter) ExportSpan(span *Span) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encoder.Encode(span.Data())
}

// Shutdown closes the file.
func (e *FileExporter) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}

// NoopExporter discards spans.
type NoopExporter struct{}

// ExportSpan does nothing.
func (e *NoopExporter) ExportSpan(span *Span) {}

// Shutdown does nothing.
func (e *NoopExporter) Shutdown() error { return nil }

// Sampler decides whether a new trace is recorded.
type Sampler interface {
	ShouldSample(traceID TraceID, name string) bool
}

// AlwaysSample records every trace.
type AlwaysSample struct{}

// ShouldSample always returns true.
func (s AlwaysSample) ShouldSample(traceID TraceID, name string) bool {
	return true
}

// NeverSample records no traces.
type NeverSample struct{}

// ShouldSample always returns false.
func (s NeverSample) ShouldSample(traceID TraceID, name string) bool {
	return false
}

// RatioSampler records a fraction of traces.
type RatioSampler struct {
	ratio float64
}

// NewRatioSampler creates a RatioSampler clamped to [0, 1].
func NewRatioSampler(ratio float64) *RatioSampler {
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}
	return &RatioSampler{ratio: ratio}
}

// ShouldSample uses the leading trace id bytes as the sampling coin.
func (s *RatioSampler) ShouldSample(traceID TraceID, name string) bool {
	if s.ratio >= 1 {
		return true
	}
	if s.ratio <= 0 {
		return false
	}
	h := binary.BigEndian.Uint64(traceID[:8])
	// The top 53 bits convert to a uniform fraction in [0, 1).
	return float64(h>>11)/float64(1<<53) < s.ratio
}

// TracerConfig configures a tracer.
type TracerConfig struct {
	ServiceName string
	Exporter    Exporter
	Sampler     Sampler
	Enabled     bool
}

// Tracer creates spans.
type Tracer struct {
	serviceName string
	exporter    Exporter
	sampler     Sampler
	enabled     bool
}

// NewTracer creates a new Tracer. A nil exporter discards spans and a nil
// sampler records everything.
func NewTracer(cfg *TracerConfig) *Tracer {
	if cfg == nil {
		cfg = &TracerConfig{}
	}

	exporter := cfg.Exporter
	if exporter == nil {
		exporter = &NoopExporter{}
	}

	sampler := cfg.Sampler
	if sampler == nil {
		sampler = AlwaysSample{}
	}

	return &Tracer{
		serviceName: cfg.ServiceName,
		exporter:    exporter,
		sampler:     sampler,
		enabled:     cfg.Enabled,
	}
}

// Start starts a span. A child span joins the parent's trace and inherits
// its sampling decision; a root span starts a fresh trace id and asks the
// sampler. The returned context carries the span for nested Start calls.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	if !t.enabled {
		return ctx, &Span{name: name}
	}

	var parentContext SpanContext
	if parent := SpanFromContext(ctx); parent != nil {
		parentContext = parent.Context()
	}

	var traceID TraceID
	var traceFlags byte
	if parentContext.TraceID.IsValid() {
		traceID = parentContext.TraceID
		traceFlags = parentContext.TraceFlags
	} else {
		rand.Read(traceID[:])
		if t.sampler.ShouldSample(traceID, name) {
			traceFlags = 0x01
		}
	}

	var spanID SpanID
	rand.Read(spanID[:])

	span := &Span{
		tracer: t,
		name:   name,
		context: SpanContext{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: traceFlags,
		},
		parent:    parentContext,
		kind:      SpanKindInternal,
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(span)
	}

	if t.serviceName != "" {
		span.attributes = append(span.attributes, Attribute{Key: "service.name", Value: t.serviceName})
	}

	return ContextWithSpan(ctx, span), span
}

// SpanOption configures a span at start.
type SpanOption func(*Span)

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(s *Span) {
		s.kind = kind
	}
}

// WithAttributes sets initial attributes.
func WithAttributes(attrs ...Attribute) SpanOption {
	return func(s *Span) {
		s.attributes = append(s.attributes, attrs...)
	}
}

type spanContextKey struct{}

// ContextWithSpan returns a new context carrying the span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext returns the span carried by the context, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(spanContextKey{}).(*Span); ok {
		return span
	}
	return nil
}

// Global tracer.
var (
	globalMu     sync.RWMutex
	globalTracer *Tracer
)

// GetTracer returns the global tracer, disabled until InitTracer runs.
func GetTracer() *Tracer {
	globalMu.RLock()
	t := globalTracer
	globalMu.RUnlock()
	if t != nil {
		return t
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalTracer == nil {
		globalTracer = NewTracer(&TracerConfig{Enabled: false})
	}
	return globalTracer
}

// InitTracer installs the global tracer.
func InitTracer(cfg *TracerConfig) *Tracer {
	t := NewTracer(cfg)
	globalMu.Lock()
	globalTracer = t
	globalMu.Unlock()
	return t
}

// Shutdown flushes and closes the global tracer's exporter.
func Shutdown() error {
	globalMu.RLock()
	t := globalTracer
	globalMu.RUnlock()
	if t != nil {
		return t.exporter.Shutdown()
	}
	return nil
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	return GetTracer().Start(ctx, name, opts...)
}

// Trace runs fn inside a span, recording its error.
func Trace(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := StartSpan(ctx, name)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetStatus(StatusOK, "")
	}
	return err
}
