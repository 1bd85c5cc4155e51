package handlers

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
)

// GTMProxyHandler forwards the gin API's read-only GTM query routes to the
// worker process that actually owns the reid.Manager instance. The Global
// Track Manager is an in-memory, single-process component (see DESIGN.md);
// the worker process is the only one with a handle to it, so the gin API
// reverse-proxies rather than duplicating the query logic.
type GTMProxyHandler struct {
	proxy *httputil.ReverseProxy
}

// NewGTMProxyHandler builds a proxy to a worker's metrics/query listener,
// e.g. "http://vision-worker:8082".
func NewGTMProxyHandler(workerURL string) (*GTMProxyHandler, error) {
	target, err := url.Parse(workerURL)
	if err != nil {
		return nil, err
	}
	return &GTMProxyHandler{proxy: httputil.NewSingleHostReverseProxy(target)}, nil
}

func (h *GTMProxyHandler) ServeHTTP(c *gin.Context) {
	h.proxy.ServeHTTP(c.Writer, c.Request)
}

// Unavailable responds when no worker query endpoint has been configured.
func Unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gtm query endpoint not configured"})
}
