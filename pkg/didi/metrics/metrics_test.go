package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveTurn("chat", "success")
	m.ObserveDispatch("command")
	m.ObserveCommand("apod")
	m.ObservePost("success")
	m.SetScheduledGuilds(3)
	m.ObserveProvider("gemini", time.Second)
}

func TestInstrumentsCount(t *testing.T) {
	t.Parallel()

	m := New("didi")
	m.ObserveTurn("chat", "success")
	m.ObserveTurn("chat", "success")
	m.ObserveTurn("ephemeral", "overloaded")
	m.SetScheduledGuilds(2)

	if got := testutil.ToFloat64(m.Turns.WithLabelValues("chat", "success")); got != 2 {
		t.Errorf("chat/success = %v", got)
	}
	if got := testutil.ToFloat64(m.Turns.WithLabelValues("ephemeral", "overloaded")); got != 1 {
		t.Errorf("ephemeral/overloaded = %v", got)
	}
	if got := testutil.ToFloat64(m.ScheduledGuilds); got != 2 {
		t.Errorf("scheduled guilds = %v", got)
	}

	// Separate registries keep instances independent.
	other := New("didi")
	if got := testutil.ToFloat64(other.Turns.WithLabelValues("chat", "success")); got != 0 {
		t.Errorf("fresh instance = %v", got)
	}
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	m := New("didi")
	m.ObserveCommand("neko")
	var connected atomic.Bool
	connected.Store(true)
	s := NewServer(DefaultConfig(), m, func() channels.HealthStatus {
		return channels.HealthStatus{Connected: connected.Load(), Guilds: 4}
	}, nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health healthResponse
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !health.Connected || health.Guilds != 4 {
		t.Errorf("healthz = %d %+v", resp.StatusCode, health)
	}

	connected.Store(false)
	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("disconnected healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `didi_commands_total{command="neko"} 1`) {
		t.Errorf("metrics output missing command counter:\n%s", body)
	}
}
