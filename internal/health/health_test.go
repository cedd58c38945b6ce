package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func healthyCheck(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusHealthy, Message: "ok"}
}

func unhealthyCheck(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Message: "down"}
}

func degradedCheck(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusDegraded, Message: "limping"}
}

func TestRegisterAndCheck(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("one", true, healthyCheck)
	c.RegisterFunc("two", false, degradedCheck)

	results := c.Check(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results["one"].Status != StatusHealthy {
		t.Fatalf("one = %s", results["one"].Status)
	}
	if results["one"].LastChecked.IsZero() {
		t.Fatal("LastChecked not stamped")
	}

	remembered := c.Results()
	if remembered["two"].Status != StatusDegraded {
		t.Fatalf("remembered two = %s", remembered["two"].Status)
	}
}

func TestOverallStatus(t *testing.T) {
	cases := []struct {
		name     string
		critical bool
		check    Check
		run      bool
		want     Status
	}{
		{"all healthy", true, healthyCheck, true, StatusHealthy},
		{"critical down", true, unhealthyCheck, true, StatusUnhealthy},
		{"non-critical down", false, unhealthyCheck, true, StatusDegraded},
		{"degraded", true, degradedCheck, true, StatusDegraded},
		{"critical unchecked", true, healthyCheck, false, StatusUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterFunc("base", false, healthyCheck)
			c.RegisterFunc("probe", tc.critical, tc.check)
			if tc.run {
				c.Check(context.Background())
			}
			if got := c.OverallStatus(); got != tc.want {
				t.Fatalf("overall = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 30 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	got := results["slow"]
	if got.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", got.Status)
	}
	if got.Message != "check timed out" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestCheckPanic(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("bad", true, func(ctx context.Context) CheckResult {
		panic("probe exploded")
	})

	results := c.Check(context.Background())
	got := results["bad"]
	if got.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", got.Status)
	}
	if got.Message != "check panicked" {
		t.Fatalf("message = %q", got.Message)
	}
	if got.Error != "probe exploded" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestLivenessHandler(t *testing.T) {
	c := NewChecker()
	rr := httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/livez", nil))
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "alive" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("core", true, healthyCheck)
	c.Check(context.Background())

	rr := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != 503 {
		t.Fatalf("not-ready status = %d, want 503", rr.Code)
	}

	c.SetReady(true)
	rr = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready status = %d, want 200", rr.Code)
	}

	c.RegisterFunc("broken", true, unhealthyCheck)
	c.Check(context.Background())
	rr = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != 503 {
		t.Fatalf("unhealthy status = %d, want 503", rr.Code)
	}
}

func TestHandlerFull(t *testing.T) {
	c := NewChecker()
	c.SetReady(true)
	c.RegisterFunc("core", true, healthyCheck)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz?full=true", nil))
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusHealthy || !resp.Ready {
		t.Fatalf("response = %+v", resp)
	}
	if _, ok := resp.Components["core"]; !ok {
		t.Fatal("components missing core")
	}
}

func TestBackendCheck(t *testing.T) {
	running := false
	check := BackendCheck(func() string { return "null" }, func() bool { return running })

	if got := check(context.Background()); got.Status != StatusUnhealthy {
		t.Fatalf("stopped backend = %s", got.Status)
	}
	running = true
	got := check(context.Background())
	if got.Status != StatusHealthy {
		t.Fatalf("running backend = %s", got.Status)
	}
	if got.Details["backend"] != "null" {
		t.Fatalf("details = %v", got.Details)
	}
}

func TestStoreCheck(t *testing.T) {
	check := StoreCheck(func() (int64, error) { return 7, nil })
	got := check(context.Background())
	if got.Status != StatusHealthy {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Details["entries"] != int64(7) {
		t.Fatalf("details = %v", got.Details)
	}

	check = StoreCheck(func() (int64, error) { return 0, errors.New("locked") })
	if got := check(context.Background()); got.Status != StatusUnhealthy {
		t.Fatalf("failing store = %s", got.Status)
	}
}

func TestSocketCheck(t *testing.T) {
	dir, err := os.MkdirTemp("", "tid")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "d.sock")
	if got := SocketCheck(path)(context.Background()); got.Status != StatusUnhealthy {
		t.Fatalf("missing socket = %s", got.Status)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if got := SocketCheck(path)(context.Background()); got.Status != StatusHealthy {
		t.Fatalf("live socket = %s: %s", got.Status, got.Message)
	}

	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	got := SocketCheck(file)(context.Background())
	if got.Status != StatusUnhealthy || got.Message != "path is not a socket" {
		t.Fatalf("plain file = %s %q", got.Status, got.Message)
	}
}

func TestDiskSpaceCheck(t *testing.T) {
	dir := t.TempDir()

	got := DiskSpaceCheck(dir, 1)(context.Background())
	if got.Status == StatusUnknown {
		t.Skip("disk space probe not supported here")
	}
	if got.Status != StatusHealthy {
		t.Fatalf("status = %s: %s", got.Status, got.Error)
	}

	got = DiskSpaceCheck(dir, ^uint64(0))(context.Background())
	if got.Status != StatusDegraded {
		t.Fatalf("full-disk threshold = %s, want degraded", got.Status)
	}
}
