// Package service implements the proxy pipeline: read body, classify, build
// the outbound request, forward, build the response, record the outcome.
// Stages run strictly in order per request; a stage failure short-circuits
// the rest and surfaces as a typed StageError. Each request is handled
// independently; the only shared state is the outbound client and the
// metrics recorder, both safe for concurrent use.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"discord-proxy-go/internal/client"
	"discord-proxy-go/internal/config"
	"discord-proxy-go/internal/metrics"
	"discord-proxy-go/internal/model"
	"discord-proxy-go/internal/route"
)

// ProxyService runs the forwarding pipeline for one request at a time per
// call; many calls run concurrently.
type ProxyService struct {
	client     *client.DiscordClient
	classifier *route.Classifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	baseURL    string
	bodyMax    int64
}

// NewProxyService creates a ProxyService. The upstream base URL is resolved
// once at startup; an invalid URL is a fatal construction error.
func NewProxyService(c *client.DiscordClient, cfg *config.Config, cl *route.Classifier, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q has no host", cfg.Upstream.BaseURL)
	}

	return &ProxyService{
		client:     c,
		classifier: cl,
		metrics:    m,
		logger:     logger.With("component", "proxy_service"),
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		bodyMax:    cfg.Server.BodyMaxBytes,
	}, nil
}

// Handle runs the full pipeline for one request and records exactly one
// metric sample and one log line per terminal outcome, success or failure.
// The returned response carries the upstream status, headers and body
// verbatim; the returned error, when non-nil, is always a *StageError.
func (s *ProxyService) Handle(pr *model.ProxyRequest) (*model.ProxyResponse, *StageError) {
	start := time.Now()

	ident, resp, serr := s.run(pr)

	var status int
	if serr != nil {
		status = serr.Status()
	} else {
		status = resp.StatusCode
	}
	elapsed := time.Since(start)

	s.metrics.Record(elapsed, pr.Method, ident.Label, status)
	s.logger.Info("request",
		"method", pr.Method,
		"route", ident.Label,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	)

	return resp, serr
}

// run executes stages 1–5. The returned identity is always valid: when a
// failure precedes classification it is the Unknown sentinel.
func (s *ProxyService) run(pr *model.ProxyRequest) (route.Identity, *model.ProxyResponse, *StageError) {
	ident := route.Identity{Label: route.UnknownLabel}

	// Stage 0: a request line we cannot interpret at all never forwards.
	if pr.Method == "" || !strings.HasPrefix(pr.Path, "/") {
		return ident, nil, stageErr(KindUnroutable, fmt.Errorf("invalid request line: method=%q path=%q", pr.Method, pr.Path))
	}

	// Stage 1: buffer the body under the configured bound.
	body, err := s.readBody(pr.Body)
	if err != nil {
		return ident, nil, stageErr(KindBodyRead, err)
	}

	// Stage 2: classification is total; an unmatched path is still forwarded
	// under the Unknown label.
	ident = s.classifier.Classify(pr.Method, pr.Path)

	// Stage 3: outbound request. Method, headers and body pass through
	// verbatim; only the path is rewritten to the normalized upstream form.
	// The path is still percent-encoded, so the outbound URL carries the
	// caller's escapes byte-for-byte.
	upstreamURL := s.baseURL + ident.Path
	if pr.RawQuery != "" {
		upstreamURL += "?" + pr.RawQuery
	}

	// Stage 4: forward. An upstream error status is a normal response and is
	// relayed as-is; only a failure to reach the upstream is a forward error.
	up, err := s.client.Do(pr.Ctx, ident.Label, pr.Method, upstreamURL, pr.Header, body)
	if err != nil {
		return ident, nil, stageErr(KindForward, err)
	}
	defer func() { _ = up.Body.Close() }()

	// Stage 5: build the caller-facing response byte-for-byte.
	respBody, err := io.ReadAll(up.Body)
	if err != nil {
		return ident, nil, stageErr(KindResponseBuild, fmt.Errorf("read upstream body: %w", err))
	}

	return ident, &model.ProxyResponse{
		StatusCode: up.StatusCode,
		Header:     up.Header,
		Body:       respBody,
	}, nil
}

// readBody consumes the inbound body into memory, failing when it exceeds
// the configured maximum.
func (s *ProxyService) readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}

	limit := io.LimitReader(r, s.bodyMax+1)
	body, err := io.ReadAll(limit)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > s.bodyMax {
		return nil, fmt.Errorf("request body exceeds %d bytes", s.bodyMax)
	}
	return body, nil
}
