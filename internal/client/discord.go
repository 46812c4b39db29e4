// Package client provides the rate-limited upstream HTTP client for the
// Discord API. It owns connection pooling, the bot-token credential, and
// token-bucket pacing; the proxy pipeline only invokes it.
package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"discord-proxy-go/internal/config"
	"discord-proxy-go/internal/metrics"
	"discord-proxy-go/internal/model"
)

const burst = 1

// DiscordClient sends requests to the upstream Discord API.
//
// Rate limiting is two-level: a global bucket shared by all requests and one
// bucket per route label. The label space is bounded by the route table, so
// the limiter map stays bounded too.
type DiscordClient struct {
	httpClient *http.Client
	token      string
	logger     *slog.Logger
	metrics    *metrics.Metrics

	global    *rate.Limiter
	routeRate rate.Limit

	mu     sync.Mutex
	routes map[string]*rate.Limiter
}

// NewDiscordClient creates a DiscordClient with connection pooling, timeouts
// and rate limiting from config. The metrics parameter is optional; pass nil
// to disable upstream metrics recording.
func NewDiscordClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *DiscordClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	globalRate := rate.Limit(cfg.Upstream.GlobalPerSecond)
	if globalRate <= 0 {
		globalRate = rate.Inf
	}
	routeRate := rate.Limit(cfg.Upstream.PerRoutePerSecond)
	if routeRate <= 0 {
		routeRate = rate.Inf
	}

	return &DiscordClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		token:     BotToken(cfg.Discord.Token),
		logger:    logger.With("component", "discord_client"),
		metrics:   m,
		global:    rate.NewLimiter(globalRate, burst),
		routeRate: routeRate,
		routes:    make(map[string]*rate.Limiter),
	}
}

// BotToken normalizes a raw token to the Authorization header form the
// Discord API expects. Tokens already carrying an auth scheme are kept as-is.
func BotToken(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "Bot ") || strings.HasPrefix(trimmed, "Bearer ") {
		return trimmed
	}
	return "Bot " + trimmed
}

// Do executes a request against the upstream on behalf of the given route
// label and returns the raw upstream response. The caller is responsible for
// closing the response body. The context controls both the rate-limit wait
// and the request itself: when it is canceled (e.g. client disconnect), a
// queued request never goes out.
func (c *DiscordClient) Do(ctx context.Context, routeLabel, method, url string, header http.Header, body []byte) (*model.UpstreamResponse, error) {
	if err := c.wait(ctx, routeLabel); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("Authorization", c.token)

	c.logger.Debug("upstream request",
		"method", method,
		"route", routeLabel,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	normalized := metrics.NormalizeMethod(method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(normalized).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(normalized).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(normalized, status).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// wait blocks until both the global and the per-route bucket permit one
// request, or the context is done.
func (c *DiscordClient) wait(ctx context.Context, routeLabel string) error {
	if err := c.global.Wait(ctx); err != nil {
		return err
	}
	return c.routeLimiter(routeLabel).Wait(ctx)
}

func (c *DiscordClient) routeLimiter(label string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.routes[label]
	if !ok {
		l = rate.NewLimiter(c.routeRate, burst)
		c.routes[label] = l
	}
	return l
}
