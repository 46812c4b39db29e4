package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	m.Record(25*time.Millisecond, http.MethodGet, "Channel message", 200)

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var foundCounter, foundHistogram bool
	for _, f := range families {
		switch f.GetName() {
		case "discord_proxy_requests_total":
			foundCounter = true
		case "discord_proxy_request_duration_seconds":
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					foundHistogram = true
				}
			}
		}
	}
	if !foundCounter {
		t.Error("expected discord_proxy_requests_total in gathered metrics")
	}
	if !foundHistogram {
		t.Error("expected discord_proxy_request_duration_seconds with at least one sample")
	}
}

func TestRecord_Accumulates(t *testing.T) {
	m := New()

	const n = 5
	for i := 0; i < n; i++ {
		m.Record(time.Millisecond, http.MethodGet, "Gateway", 200)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != "discord_proxy_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "Gateway" && labels["status"] == "200" {
				if v := metric.GetCounter().GetValue(); v != n {
					t.Errorf("counter value = %v, want %d", v, n)
				}
				return
			}
		}
	}
	t.Error("expected discord_proxy_requests_total with route=Gateway, status=200")
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.Record(time.Millisecond, http.MethodGet, "Channel", 200)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read exposition body: %v", err)
	}
	if !strings.Contains(string(body), "discord_proxy_requests_total") {
		t.Error("exposition output missing discord_proxy_requests_total")
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"X-CUSTOM", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}
