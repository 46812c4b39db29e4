package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"discord-proxy-go/internal/middleware"
	"discord-proxy-go/internal/model"
	"discord-proxy-go/internal/service"
)

// ProxyHandler forwards API requests to the upstream Discord API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle runs the pipeline for one request and relays the upstream response
// verbatim. Pipeline failures map to local error responses; an upstream
// error status is not a failure and passes through untouched.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// The escaped path keeps percent-encoded reserved characters intact; the
	// decoded form would turn an encoded slash into a segment boundary.
	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	resp, serr := h.service.Handle(pr)
	if serr != nil {
		return h.writeError(c, serr)
	}

	for key, vals := range resp.Header {
		if middleware.IsHopByHop(key) {
			continue
		}
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already on the wire; a write failure here means the
	// caller went away and there is nothing left to relay.
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.EscapedPath(),
		)
	}

	return nil
}

// writeError translates a pipeline stage error into a local JSON error
// response. These bodies are only ever produced for requests the upstream
// never answered.
func (h *ProxyHandler) writeError(c echo.Context, serr *service.StageError) error {
	h.logger.Error("proxy error",
		"kind", serr.Kind.String(),
		"err", serr.Err,
		"path", c.Request().URL.EscapedPath(),
	)

	return c.JSON(serr.Status(), map[string]string{
		"error": serr.Message(),
	})
}
