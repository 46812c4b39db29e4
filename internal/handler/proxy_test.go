package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"discord-proxy-go/internal/client"
	"discord-proxy-go/internal/config"
	"discord-proxy-go/internal/metrics"
	"discord-proxy-go/internal/route"
	"discord-proxy-go/internal/service"
)

func newTestHandler(t *testing.T, upstreamURL string) (*ProxyHandler, *metrics.Metrics) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			BodyMaxBytes:  1024 * 1024,
			VersionPrefix: "/api/v6",
		},
		Discord: config.DiscordConfig{Token: "test-token"},
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	c := client.NewDiscordClient(cfg, logger, m)

	svc, err := service.NewProxyService(c, cfg, route.NewClassifier(cfg.Server.VersionPrefix), logger, m)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return NewProxyHandler(svc, logger), m
}

func TestProxyHandler_EndToEnd_UserGuilds(t *testing.T) {
	const guilds = `[{"id":"41771983423143937","name":"test"}]`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me/guilds" {
			t.Errorf("upstream path = %q, want %q", r.URL.Path, "/users/@me/guilds")
		}
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bot test-token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(guilds))
	}))
	defer upstream.Close()

	h, m := newTestHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v6/users/@me/guilds", http.NoBody)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != guilds {
		t.Errorf("body = %q, want identical upstream body", rec.Body.String())
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "discord_proxy_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == "GET" && labels["route"] == "User in guild" && labels["status"] == "200" {
				found = true
				if v := metric.GetCounter().GetValue(); v != 1 {
					t.Errorf("sample count = %v, want 1", v)
				}
			}
		}
	}
	if !found {
		t.Error(`expected one sample for (GET, "User in guild", 200)`)
	}
}

func TestProxyHandler_PreservesEscapedPath(t *testing.T) {
	const escaped = "/channels/123/messages/456/reactions/a%2Fb/@me"

	var seen string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	h, m := newTestHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/api/v6"+escaped, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	// The encoded slash must reach the upstream intact; decoding it would
	// change the resource by splitting the emoji segment.
	if seen != escaped {
		t.Errorf("upstream path = %q, want %q", seen, escaped)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "discord_proxy_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "Message reaction for user" && labels["status"] == "204" {
				found = true
			}
		}
	}
	if !found {
		t.Error(`expected one sample for (PUT, "Message reaction for user", 204)`)
	}
}

func TestProxyHandler_StripsHopByHopResponseHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("Proxy-Authenticate", "Basic")
		w.Header().Set("X-RateLimit-Bucket", "abcd")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v6/gateway", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	for _, name := range []string{"Keep-Alive", "Proxy-Authenticate"} {
		if got := rec.Header().Get(name); got != "" {
			t.Errorf("%s = %q, want stripped", name, got)
		}
	}
	if got := rec.Header().Get("X-RateLimit-Bucket"); got != "abcd" {
		t.Errorf("X-RateLimit-Bucket = %q, want relayed", got)
	}
}

func TestProxyHandler_RelaysHeadersAndStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Bucket", "abcd")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":250}`))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v6/channels/123/messages", strings.NewReader(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// Upstream error statuses pass through untouched, body and headers included.
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("X-RateLimit-Bucket"); got != "abcd" {
		t.Errorf("X-RateLimit-Bucket = %q, want %q", got, "abcd")
	}
	if !strings.Contains(rec.Body.String(), "rate limited") {
		t.Errorf("body = %q, want upstream body verbatim", rec.Body.String())
	}
}

func TestProxyHandler_ForwardErrorResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	h, _ := newTestHandler(t, url)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v6/gateway", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message in response")
	}
}

func TestProxyHandler_NoHeadOfLineBlocking(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/guilds/") {
			<-release // slow route blocks until told otherwise
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t, upstream.URL)
	e := echo.New()
	e.Any("/*", h.Handle)
	srv := httptest.NewServer(e)
	defer srv.Close()

	slowDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(slowDone)
		resp, err := http.Get(srv.URL + "/api/v6/guilds/123")
		if err != nil {
			t.Errorf("slow request: %v", err)
			return
		}
		_ = resp.Body.Close()
	}()

	// The fast request to a different route must complete while the slow one
	// is still held by the upstream.
	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		resp, err := http.Get(srv.URL + "/api/v6/gateway")
		if err != nil {
			t.Errorf("fast request: %v", err)
			return
		}
		_ = resp.Body.Close()
	}()

	select {
	case <-fastDone:
		// fast finished while slow is blocked
	case <-slowDone:
		t.Error("slow request finished first; expected independent progress")
	case <-time.After(5 * time.Second):
		t.Fatal("fast request did not complete while slow request was in flight")
	}

	close(release)
	wg.Wait()
}
