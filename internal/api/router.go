// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package api

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/classhub/classhub/internal/auth"
	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/metrics"
)

// maxBodyBytes bounds command request bodies.
const maxBodyBytes = 1 << 20

// TokenVerifier validates bearer credentials for protected commands.
type TokenVerifier interface {
	VerifyAccess(tokenString string) (*auth.AccessClaims, error)
}

// RouterConfig carries the transport-level knobs.
type RouterConfig struct {
	CORSOrigins []string

	RateLimitReqs     int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// Router wires the command table, the realtime gateway, and the
// operational endpoints into one chi handler.
type Router struct {
	commands CommandTable
	verifier TokenVerifier

	// ws serves the websocket upgrade. Nil disables /ws.
	ws http.HandlerFunc

	metricsHandler http.Handler
	cfg            RouterConfig
	startTime      time.Time
}

// NewRouter creates a router. ws and metricsHandler may be nil.
func NewRouter(commands CommandTable, verifier TokenVerifier, ws http.HandlerFunc, metricsHandler http.Handler, cfg RouterConfig) *Router {
	return &Router{
		commands:       commands,
		verifier:       verifier,
		ws:             ws,
		metricsHandler: metricsHandler,
		cfg:            cfg,
		startTime:      time.Now(),
	}
}

// Handler builds the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", rt.handleHealth)
	if rt.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", rt.metricsHandler)
	}
	if rt.ws != nil {
		r.Get("/ws", rt.ws)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(rt.rateLimit())
		r.Use(requestMetrics)
		r.HandleFunc("/{action}", rt.handleAuthAction)
	})

	return r
}

// handleAuthAction dispatches /api/auth/{action} through the command
// table. An unregistered action is terminal: 404, never a fall-through
// to another handler.
func (rt *Router) handleAuthAction(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	action := chi.URLParam(r, "action")
	cmd, ok := rt.commands[action]
	if !ok {
		rw.Fail(http.StatusNotFound, ErrCodeUnknownAction, "unknown action: "+action)
		return
	}
	if r.Method != cmd.Method {
		w.Header().Set("Allow", cmd.Method)
		rw.Fail(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed for action: "+action)
		return
	}

	req := &CommandRequest{
		Device: auth.NewDeviceContext(clientIP(r), r.UserAgent()),
	}

	if !cmd.Public {
		token := bearerToken(r)
		if token == "" {
			rw.Unauthorized("missing bearer token")
			return
		}
		claims, err := rt.verifier.VerifyAccess(token)
		if err != nil {
			rw.Unauthorized("invalid credential")
			return
		}
		req.Claims = claims
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}
	req.Body = body

	out, err := cmd.Handle(r.Context(), req)
	if err != nil {
		logging.Debug().
			Err(err).
			Str("action", action).
			Str("ip", req.Device.IP).
			Msg("auth command failed")
		writeCommandError(rw, err)
		return
	}

	rw.Success(out)
}

// handleHealth answers liveness probes.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(rt.startTime).Seconds()),
	})
}

// rateLimit builds the per-IP limiter for the auth actions. Limit hits
// are counted and answered with the standard envelope.
func (rt *Router) rateLimit() func(http.Handler) http.Handler {
	if rt.cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}

	reqs := rt.cfg.RateLimitReqs
	if reqs <= 0 {
		reqs = 100
	}
	window := rt.cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(reqs, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.APIRateLimitHits.WithLabelValues(r.URL.Path).Inc()
			NewResponseWriter(w, r).Fail(http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "rate limit exceeded")
		}),
	)
}

// requestMetrics records request counts, latencies, and the in-flight
// gauge, labeled by the chi route pattern rather than the raw path.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// clientIP strips the port from the remote address. RealIP middleware
// has already folded in X-Forwarded-For upstream.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken extracts the Authorization bearer value, or "".
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
