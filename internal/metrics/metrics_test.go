package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/gamenet/internal/util"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestScrapeExposesEvents(t *testing.T) {
	m := New("gamenet")

	m.Login(LoginAccepted)
	m.Login(LoginAccepted)
	m.Login(LoginRejected)
	m.Disconnect()
	m.SetPlayers(3)
	m.ObserveRTT(20 * time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`gamenet_logins_total{result="accepted"} 2`,
		`gamenet_logins_total{result="rejected"} 1`,
		`gamenet_disconnects_total 1`,
		`gamenet_players 3`,
		`gamenet_rtt_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestScrapeReadsTrafficStats(t *testing.T) {
	m := New("gamenet")

	util.Stats.AddRecv(1000)
	t.Cleanup(func() { util.Stats.BytesRecv.Add(-1000) })

	const name = "gamenet_bytes_received_total "
	for _, line := range strings.Split(scrape(t, m), "\n") {
		if strings.HasPrefix(line, name) {
			if strings.TrimPrefix(line, name) == "0" {
				t.Errorf("bytes counter not read from stats: %q", line)
			}
			return
		}
	}
	t.Error("gamenet_bytes_received_total not exposed")
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New("gamenet"), New("gamenet")
	a.Disconnect()
	if strings.Contains(scrape(t, b), "gamenet_disconnects_total 1") {
		t.Error("instances share collectors")
	}
}
