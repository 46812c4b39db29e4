// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request entering the pipeline. Path is
// the escaped (still percent-encoded) request path, so encoded reserved
// characters never change segmentation. Body is the raw inbound stream; the
// pipeline buffers it under the configured bound.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
}

// UpstreamResponse is the raw upstream result as produced by the client.
// The caller is responsible for closing Body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ProxyResponse is the fully built caller-facing response. Status, headers
// and body are carried verbatim from the upstream.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
