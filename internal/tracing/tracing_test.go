package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// recordExporter captures exported spans for assertions.
type recordExporter struct {
	mu    sync.Mutex
	spans []SpanData
	shut  int
}

func (e *recordExporter) ExportSpan(span *Span) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = append(e.spans, span.Data())
}

func (e *recordExporter) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shut++
	return nil
}

func (e *recordExporter) exported() []SpanData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SpanData(nil), e.spans...)
}

func newTestTracer(exp Exporter) *Tracer {
	return NewTracer(&TracerConfig{
		ServiceName: "textinputd-test",
		Exporter:    exp,
		Enabled:     true,
	})
}

func TestSpanLifecycle(t *testing.T) {
	exp := &recordExporter{}
	tr := newTestTracer(exp)

	ctx, span := tr.Start(context.Background(), "dispatch",
		WithSpanKind(SpanKindServer),
		WithAttributes(Attribute{Key: "method", Value: "TextInput.show"}),
	)
	if SpanFromContext(ctx) != span {
		t.Fatal("context does not carry the started span")
	}
	if !span.Context().IsValid() {
		t.Fatal("span context should be valid")
	}
	if !span.Context().IsSampled() {
		t.Fatal("default sampler should sample the root span")
	}

	span.SetAttribute("client", "app-1")
	span.AddEvent("decoded")
	span.SetStatus(StatusOK, "")
	span.End()
	span.End() // second End must not re-export

	spans := exp.exported()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}

	data := spans[0]
	if data.Name != "dispatch" {
		t.Errorf("name = %q, want dispatch", data.Name)
	}
	if data.Kind != "server" {
		t.Errorf("kind = %q, want server", data.Kind)
	}
	if data.Status != "ok" {
		t.Errorf("status = %q, want ok", data.Status)
	}
	if data.ParentID != "" {
		t.Errorf("root span has parent %q", data.ParentID)
	}
	if data.Attributes["method"] != "TextInput.show" {
		t.Errorf("method attribute = %v", data.Attributes["method"])
	}
	if data.Attributes["client"] != "app-1" {
		t.Errorf("client attribute = %v", data.Attributes["client"])
	}
	if data.Attributes["service.name"] != "textinputd-test" {
		t.Errorf("service.name attribute = %v", data.Attributes["service.name"])
	}
	if len(data.Events) != 1 || data.Events[0].Name != "decoded" {
		t.Errorf("events = %+v", data.Events)
	}
	if data.Duration < 0 {
		t.Errorf("negative duration %v", data.Duration)
	}
}

func TestChildSpanJoinsTrace(t *testing.T) {
	exp := &recordExporter{}
	tr := newTestTracer(exp)

	ctx, parent := tr.Start(context.Background(), "outer")
	_, child := tr.Start(ctx, "inner")

	if child.Context().TraceID != parent.Context().TraceID {
		t.Error("child started a new trace")
	}
	if child.Context().SpanID == parent.Context().SpanID {
		t.Error("child reused the parent span id")
	}

	child.End()
	parent.End()

	spans := exp.exported()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	if spans[0].Name != "inner" || spans[1].Name != "outer" {
		t.Fatalf("export order %q, %q", spans[0].Name, spans[1].Name)
	}
	if spans[0].ParentID != parent.Context().SpanID.String() {
		t.Errorf("child parent id = %q, want %q", spans[0].ParentID, parent.Context().SpanID)
	}
	if spans[0].TraceID != spans[1].TraceID {
		t.Error("trace ids differ across the trace")
	}
}

func TestRecordError(t *testing.T) {
	exp := &recordExporter{}
	tr := newTestTracer(exp)

	_, span := tr.Start(context.Background(), "dispatch")
	span.RecordError(errors.New("no active client"))
	span.End()

	data := exp.exported()[0]
	if data.Status != "error" {
		t.Errorf("status = %q, want error", data.Status)
	}
	if data.StatusMsg != "no active client" {
		t.Errorf("status message = %q", data.StatusMsg)
	}
	if len(data.Events) != 1 || data.Events[0].Name != "exception" {
		t.Fatalf("events = %+v", data.Events)
	}
	if data.Events[0].Attributes["exception.message"] != "no active client" {
		t.Errorf("exception attributes = %+v", data.Events[0].Attributes)
	}
}

func TestDisabledTracer(t *testing.T) {
	exp := &recordExporter{}
	tr := NewTracer(&TracerConfig{Exporter: exp, Enabled: false})

	ctx, span := tr.Start(context.Background(), "dispatch")
	if SpanFromContext(ctx) != nil {
		t.Error("disabled tracer should not inject a span")
	}
	span.SetAttribute("k", "v")
	span.End()

	if n := len(exp.exported()); n != 0 {
		t.Fatalf("disabled tracer exported %d spans", n)
	}
}

func TestUnsampledTraceNotExported(t *testing.T) {
	exp := &recordExporter{}
	tr := NewTracer(&TracerConfig{Exporter: exp, Sampler: NeverSample{}, Enabled: true})

	ctx, parent := tr.Start(context.Background(), "outer")
	if parent.Context().IsSampled() {
		t.Fatal("NeverSample produced a sampled span")
	}

	// The child inherits the unsampled decision.
	_, child := tr.Start(ctx, "inner")
	if child.Context().IsSampled() {
		t.Fatal("child overrode the parent sampling decision")
	}
	if child.Context().TraceID != parent.Context().TraceID {
		t.Fatal("unsampled child left the trace")
	}

	child.End()
	parent.End()

	if n := len(exp.exported()); n != 0 {
		t.Fatalf("unsampled trace exported %d spans", n)
	}
}

func TestRatioSampler(t *testing.T) {
	var low, high TraceID
	// low hashes to fraction 0, high to a fraction just under 1.
	for i := 0; i < 8; i++ {
		high[i] = 0xFF
	}

	cases := []struct {
		name    string
		ratio   float64
		traceID TraceID
		want    bool
	}{
		{"zero rejects low", 0, low, false},
		{"zero rejects high", 0, high, false},
		{"one accepts low", 1, low, true},
		{"one accepts high", 1, high, true},
		{"half accepts low", 0.5, low, true},
		{"half rejects high", 0.5, high, false},
		{"clamped above one", 5, high, true},
		{"clamped below zero", -1, low, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewRatioSampler(tc.ratio)
			if got := s.ShouldSample(tc.traceID, "x"); got != tc.want {
				t.Errorf("ShouldSample = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFileExporter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")

	exp, err := NewFileExporter(path)
	if err != nil {
		t.Fatalf("NewFileExporter: %v", err)
	}

	tr := NewTracer(&TracerConfig{Exporter: exp, Enabled: true})
	for _, name := range []string{"first", "second"} {
		_, span := tr.Start(context.Background(), name)
		span.End()
	}
	if err := exp.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("trace file has %d lines, want 2", len(lines))
	}

	var names []string
	for _, line := range lines {
		var data SpanData
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			t.Fatalf("decode span line: %v", err)
		}
		names = append(names, data.Name)
	}
	if names[0] != "first" || names[1] != "second" {
		t.Errorf("span names = %v", names)
	}
}

func TestGlobalTracer(t *testing.T) {
	exp := &recordExporter{}
	InitTracer(&TracerConfig{Exporter: exp, Enabled: true})
	t.Cleanup(func() {
		InitTracer(&TracerConfig{Enabled: false})
	})

	err := Trace(context.Background(), "op", func(ctx context.Context) error {
		if SpanFromContext(ctx) == nil {
			t.Error("Trace did not inject its span")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	wantErr := errors.New("backend gone")
	if err := Trace(context.Background(), "op", func(context.Context) error {
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("Trace error = %v, want %v", err, wantErr)
	}

	if err := Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	spans := exp.exported()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	if spans[0].Status != "ok" {
		t.Errorf("first span status = %q", spans[0].Status)
	}
	if spans[1].Status != "error" || spans[1].StatusMsg != "backend gone" {
		t.Errorf("second span = %q %q", spans[1].Status, spans[1].StatusMsg)
	}
	if exp.shut != 1 {
		t.Errorf("exporter Shutdown ran %d times", exp.shut)
	}
}

func TestKindAndStatusStrings(t *testing.T) {
	if SpanKindServer.String() != "server" || SpanKindConsumer.String() != "consumer" || SpanKindInternal.String() != "internal" {
		t.Error("span kind strings wrong")
	}
	if StatusOK.String() != "ok" || StatusError.String() != "error" || StatusUnset.String() != "unset" {
		t.Error("status strings wrong")
	}
}
