package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "test counter", nil)

	c.Inc()
	c.Inc()
	c.Add(3)

	if got := c.Value(); got != 5 {
		t.Errorf("Value() = %d, want 5", got)
	}
	if c.Type() != TypeCounter {
		t.Errorf("Type() = %v, want counter", c.Type())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "test gauge", nil)

	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-3)

	if got := g.Value(); got != 7 {
		t.Errorf("Value() = %d, want 7", got)
	}
}

func TestLabelsString(t *testing.T) {
	l := Labels{"backend": "ibus", "action": "attach"}
	got := l.String()
	want := `{action="attach",backend="ibus"}`
	if got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}

	if (Labels{}).String() != "" {
		t.Error("empty labels should render as empty string")
	}
}

func TestHistogramObserve(t *testing.T) {
	h := NewHistogram("test_seconds", "test histogram", nil, []float64{0.25, 0.5, 1})

	h.Observe(0.1)
	h.Observe(0.3)
	h.Observe(0.5) // boundary value belongs to the le=0.5 bucket
	h.Observe(2)

	if got := h.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
	if got := h.Sum(); got != 2.9 {
		t.Errorf("Sum() = %g, want 2.9", got)
	}
	if got := h.Mean(); got != 2.9/4 {
		t.Errorf("Mean() = %g, want %g", got, 2.9/4)
	}

	wantCounts := []uint64{1, 2, 0, 1}
	for i, want := range wantCounts {
		if h.counts[i] != want {
			t.Errorf("counts[%d] = %d, want %d", i, h.counts[i], want)
		}
	}
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("test_seconds", "test histogram", nil, DurationBuckets)

	timer := h.Timer()
	time.Sleep(time.Millisecond)
	d := timer.Stop()

	if d <= 0 {
		t.Error("timer should report a positive duration")
	}
	if h.Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.Count())
	}
}

func TestHistogramQuantile(t *testing.T) {
	h := NewHistogram("test_seconds", "test histogram", nil, []float64{1, 2, 4, 8})

	for i := 0; i < 100; i++ {
		h.Observe(1.5)
	}

	p50 := h.Quantile(50)
	if p50 < 1 || p50 > 2 {
		t.Errorf("Quantile(50) = %g, want within (1, 2]", p50)
	}
}

func TestRegistryFullName(t *testing.T) {
	r := NewRegistry("textinputd", "ipc")
	c := r.RegisterCounter("frames_total", "frames", nil)

	if c.Name() != "textinputd_ipc_frames_total" {
		t.Errorf("Name() = %s, want textinputd_ipc_frames_total", c.Name())
	}
}

func TestRegistryIdempotentRegister(t *testing.T) {
	r := NewRegistry("textinputd", "")

	a := r.RegisterCounter("attaches_total", "attaches", nil)
	b := r.RegisterCounter("attaches_total", "attaches", nil)
	if a != b {
		t.Error("re-registering the same counter should return the existing one")
	}

	a.Inc()
	if got := r.GetCounter("attaches_total").Value(); got != 1 {
		t.Errorf("GetCounter().Value() = %d, want 1", got)
	}
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("textinputd", "")

	c := r.RegisterCounter("frames_in_total", "frames received", nil)
	c.Add(7)

	g := r.RegisterGauge("active_connections", "attached connections", nil)
	g.Set(2)

	h := r.RegisterHistogram("dispatch_duration_seconds", "dispatch time", nil, []float64{0.25, 0.5, 1})
	h.Observe(0.3)
	h.Observe(0.6)

	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# TYPE textinputd_frames_in_total counter",
		"textinputd_frames_in_total 7",
		"# TYPE textinputd_active_connections gauge",
		"textinputd_active_connections 2",
		"# TYPE textinputd_dispatch_duration_seconds histogram",
		`textinputd_dispatch_duration_seconds_bucket{le="0.25"} 0`,
		`textinputd_dispatch_duration_seconds_bucket{le="0.5"} 1`,
		`textinputd_dispatch_duration_seconds_bucket{le="1"} 2`,
		`textinputd_dispatch_duration_seconds_bucket{le="+Inf"} 2`,
		"textinputd_dispatch_duration_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestWritePrometheusLabeled(t *testing.T) {
	r := NewRegistry("textinputd", "")
	h := r.RegisterHistogram("send_duration_seconds", "send time", Labels{"backend": "ibus"}, []float64{1})
	h.Observe(0.5)

	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus() error = %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, `textinputd_send_duration_seconds_bucket{backend="ibus",le="1"} 1`) {
		t.Errorf("labeled bucket line missing:\n%s", out)
	}
}

func TestWriteJSON(t *testing.T) {
	r := NewRegistry("textinputd", "")
	r.RegisterCounter("errors_total", "errors", nil).Inc()

	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if _, ok := decoded["textinputd_errors_total"]; !ok {
		t.Error("JSON output missing textinputd_errors_total")
	}
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("textinputd", "")
	r.RegisterCounter("frames_in_total", "frames", nil).Inc()

	srv := httptest.NewServer(r.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %s, want text/plain", ct)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", "application/json")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET json: %v", err)
	}
	defer resp2.Body.Close()
	if ct := resp2.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry("textinputd", "")
	c := r.RegisterCounter("frames_in_total", "frames", nil)
	c.Add(10)
	h := r.RegisterHistogram("frame_bytes", "sizes", nil, SizeBuckets)
	h.Observe(128)

	r.Reset()

	if c.Value() != 0 {
		t.Error("counter should be zero after Reset")
	}
	if h.Count() != 0 || h.Sum() != 0 {
		t.Error("histogram should be zero after Reset")
	}
}

func TestTextinputdMetrics(t *testing.T) {
	m := NewTextinputdMetrics(NewRegistry("textinputd", ""))

	m.RecordAttach()
	m.RecordAttach()
	m.RecordDetach()
	m.RecordFrameIn(256)
	m.RecordFrameOut(128)
	m.RecordClientAction()
	m.RecordStaleDrop()
	m.ClientConnected()
	m.SetKeyboardVisible(true)
	m.RecordAutofillSave()
	m.RecordAutofillFill()
	m.RecordDispatch(2 * time.Millisecond)

	if got := m.AttachesTotal.Value(); got != 2 {
		t.Errorf("AttachesTotal = %d, want 2", got)
	}
	if got := m.ActiveConnections.Value(); got != 1 {
		t.Errorf("ActiveConnections = %d, want 1", got)
	}
	if got := m.FrameBytes.Count(); got != 2 {
		t.Errorf("FrameBytes.Count() = %d, want 2", got)
	}
	if got := m.KeyboardVisible.Value(); got != 1 {
		t.Errorf("KeyboardVisible = %d, want 1", got)
	}

	snap := m.Snapshot()
	if snap["attaches_total"] != uint64(2) {
		t.Errorf("snapshot attaches_total = %v, want 2", snap["attaches_total"])
	}
	if snap["connected_clients"] != int64(1) {
		t.Errorf("snapshot connected_clients = %v, want 1", snap["connected_clients"])
	}

	m.SetKeyboardVisible(false)
	if m.KeyboardVisible.Value() != 0 {
		t.Error("KeyboardVisible should be 0 after hide")
	}
}

func TestGetMetricsLazyInit(t *testing.T) {
	defaultTextinputdMetrics = nil
	m := GetMetrics()
	if m == nil {
		t.Fatal("GetMetrics() returned nil")
	}
	if GetMetrics() != m {
		t.Error("GetMetrics() should return the same instance")
	}
}
