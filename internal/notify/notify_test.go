package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/sink"
)

func testSnapshot() *sink.Snapshot {
	return &sink.Snapshot{
		ID:        "cycle-42",
		Timestamp: time.Date(2025, 11, 14, 10, 0, 0, 0, time.UTC),
		ElapsedMs: 1500,
		Total:     10,
		Failed:    9,
	}
}

func TestFormatDegradedMessage(t *testing.T) {
	errs := []string{"a: timeout", "b: timeout", "c: timeout", "d: timeout"}
	msg := FormatDegradedMessage(testSnapshot(), errs)

	for _, want := range []string{"Cycle: cycle-42", "Failed: 9 (90%)", "- a: timeout", "... and 1 more errors"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "- d: timeout") {
		t.Errorf("message should list at most 3 errors:\n%s", msg)
	}
}

func TestFormatRecoveredMessage(t *testing.T) {
	msg := FormatRecoveredMessage(testSnapshot(), 90*time.Second)
	if !strings.Contains(msg, "Degraded for: 1m30s") {
		t.Errorf("unexpected message:\n%s", msg)
	}
}

func TestClientSendDegraded(t *testing.T) {
	var gotPath, gotTitle, gotPriority, gotTags, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		gotTags = r.Header.Get("Tags")
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &Config{
		Enabled:  true,
		Server:   srv.URL + "/",
		Topic:    "cockpit",
		Priority: "default",
		Tags:     "airplane",
		Token:    "tk_123",
		Host:     "simpc",
	}
	c := NewClient(cfg, zap.NewNop())

	if err := c.SendDegraded(context.Background(), testSnapshot(), nil); err != nil {
		t.Fatalf("SendDegraded failed: %v", err)
	}

	if gotPath != "/cockpit" {
		t.Errorf("expected path /cockpit, got %s", gotPath)
	}
	if gotTitle != "Sim link degraded: simpc" {
		t.Errorf("unexpected title %q", gotTitle)
	}
	if gotPriority != "high" {
		t.Errorf("expected high priority, got %s", gotPriority)
	}
	if gotTags != "airplane,warning" {
		t.Errorf("unexpected tags %q", gotTags)
	}
	if gotAuth != "Bearer tk_123" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if !strings.Contains(gotBody, "Variables: 10") {
		t.Errorf("unexpected body %q", gotBody)
	}
}

func TestDegradedCooldown(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "t", Cooldown: time.Hour}, zap.NewNop())
	for i := 0; i < 3; i++ {
		if err := c.SendDegraded(context.Background(), testSnapshot(), nil); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 degraded alert inside cooldown, got %d", calls)
	}

	if err := c.SendRecovered(context.Background(), testSnapshot(), time.Minute); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("recovered alerts are not rate limited, got %d calls", calls)
	}
}

func TestClientReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := &Config{Enabled: true, Server: srv.URL, Topic: "t", Priority: "default"}
	if err := NewClient(cfg, zap.NewNop()).SendRecovered(context.Background(), testSnapshot(), time.Minute); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestDisabledClientSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(&Config{Server: srv.URL, Topic: "t"}, zap.NewNop())
	if err := c.SendDegraded(context.Background(), testSnapshot(), nil); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("disabled client should not send")
	}
}

func TestNewPicksImplementation(t *testing.T) {
	if _, ok := New(&Config{}, zap.NewNop()).(*NoopNotifier); !ok {
		t.Error("expected NoopNotifier when disabled")
	}
	if _, ok := New(&Config{Enabled: true, Topic: "t"}, zap.NewNop()).(*Client); !ok {
		t.Error("expected Client when enabled")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"missing topic", Config{Enabled: true, Priority: "default"}, true},
		{"bad priority", Config{Enabled: true, Topic: "t", Priority: "loud"}, true},
		{"valid", Config{Enabled: true, Topic: "t", Priority: "urgent"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("NTFY_ENABLED", "true")
	t.Setenv("NTFY_TOPIC", "cockpit")
	t.Setenv("NTFY_HOST", "simpc")

	cfg := LoadConfig()
	if !cfg.Enabled || cfg.Topic != "cockpit" || cfg.Host != "simpc" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Server != "https://ntfy.sh" || cfg.Tags != "airplane" || cfg.Cooldown != 15*time.Minute {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
