// Package router is a tiny method-aware HTTP mux with "*" path segments and
// colored request logging. Routes match in registration order, so specific
// patterns must be registered before generic ones.
package router

import (
	"log"
	"net/http"
	"strings"
	"time"
)

// --- ANSI color codes ---
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

type route struct {
	method   string
	segments []string
	handler  HandlerFunc
}

type Router struct {
	routes []route
}

func New() *Router {
	return &Router{}
}

// Handle registers a handler for method + pattern. A "*" segment matches any
// single path segment.
func (r *Router) Handle(method, pattern string, handler HandlerFunc) {
	r.routes = append(r.routes, route{
		method:   method,
		segments: splitPath(pattern),
		handler:  handler,
	})
}

func (r *Router) GET(pattern string, h HandlerFunc)    { r.Handle(http.MethodGet, pattern, h) }
func (r *Router) POST(pattern string, h HandlerFunc)   { r.Handle(http.MethodPost, pattern, h) }
func (r *Router) PUT(pattern string, h HandlerFunc)    { r.Handle(http.MethodPut, pattern, h) }
func (r *Router) PATCH(pattern string, h HandlerFunc)  { r.Handle(http.MethodPatch, pattern, h) }
func (r *Router) DELETE(pattern string, h HandlerFunc) { r.Handle(http.MethodDelete, pattern, h) }

// ServeHTTP dispatches to the first matching route and logs every request
// with its status and duration.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	segments := splitPath(req.URL.Path)
	matched, pathKnown := false, false
	for _, rt := range r.routes {
		if !matchSegments(segments, rt.segments) {
			continue
		}
		pathKnown = true
		if rt.method != req.Method {
			continue
		}
		rt.handler(lrw, req)
		matched = true
		break
	}
	if !matched {
		if pathKnown {
			http.Error(lrw, "Method Not Allowed", http.StatusMethodNotAllowed)
		} else {
			http.Error(lrw, "Not Found", http.StatusNotFound)
		}
	}

	duration := time.Since(start)
	log.Printf("%s[%s]%s %s%s%s %s %s%d%s %s(%v)%s",
		colorCyan, start.Format("2006-01-02 15:04:05"), colorReset,
		methodColor(req.Method), req.Method, colorReset,
		req.URL.Path,
		statusColor(lrw.statusCode), lrw.statusCode, colorReset,
		colorBlue, duration, colorReset,
	)
}

// Start runs the HTTP server on addr. It only returns on server failure.
func (r *Router) Start(addr string) error {
	log.Printf("🚀 Server started on %shttp://localhost%s%s", colorGreen, addr, colorReset)
	return http.ListenAndServe(addr, r)
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

func matchSegments(request, pattern []string) bool {
	if len(request) != len(pattern) {
		return false
	}
	for i, seg := range pattern {
		if seg != "*" && seg != request[i] {
			return false
		}
	}
	return true
}

// --- Logging response writer to capture status codes ---
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// --- Color helpers ---
func statusColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return colorGreen
	case code >= 300 && code < 400:
		return colorCyan
	case code >= 400 && code < 500:
		return colorYellow
	default:
		return colorRed
	}
}

func methodColor(method string) string {
	switch method {
	case http.MethodGet:
		return colorGreen
	case http.MethodPost:
		return colorBlue
	case http.MethodPut, http.MethodPatch:
		return colorYellow
	case http.MethodDelete:
		return colorRed
	default:
		return colorCyan
	}
}
