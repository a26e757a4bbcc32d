// Package server exposes the control API: status snapshots and lifecycle
// verbs over HTTP. It only operates on names present in the registry; the
// service table is immutable for the lifetime of the run.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haelod/conductr/internal/metrics"
	"github.com/haelod/conductr/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the control API.
// Endpoints:
//
//	GET  /api/status                      all service snapshots
//	GET  /api/status/:name                one snapshot
//	POST /api/services/:name/start
//	POST /api/services/:name/stop
//	POST /api/services/:name/restart
//	POST /api/start                       tiered start of every service
//	POST /api/stop                        reverse-tier stop of every service
//	GET  /healthz
//	GET  /metrics                         Prometheus exposition
type Router struct {
	sup *supervisor.Supervisor
	log *slog.Logger
}

func NewRouter(sup *supervisor.Supervisor, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{sup: sup, log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	api := g.Group("/api")
	api.GET("/status", r.handleStatusAll)
	api.GET("/status/:name", r.handleStatus)
	api.POST("/services/:name/start", r.verb(r.sup.Start))
	api.POST("/services/:name/stop", r.verb(r.sup.Stop))
	api.POST("/services/:name/restart", r.verb(r.sup.Restart))
	api.POST("/start", r.handleStartAll)
	api.POST("/stop", r.handleStopAll)

	g.GET("/healthz", func(c *gin.Context) {
		writeJSON(c, http.StatusOK, okResp{OK: true})
	})
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with http.Server's Shutdown or Close.
func NewServer(addr string, sup *supervisor.Supervisor, log *slog.Logger) *http.Server {
	r := NewRouter(sup, log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("control api server failed", "addr", addr, "error", err)
			}
		}
	}()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// lookup validates :name against the registry. Invalid names never reach
// the supervisor: 400 for malformed, 404 for unregistered.
func (r *Router) lookup(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name: allowed [A-Za-z0-9._-]"})
		return "", false
	}
	if r.sup.Registry().Get(name) == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service " + name})
		return "", false
	}
	return name, true
}

func (r *Router) handleStatusAll(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.StatusAll())
}

func (r *Router) handleStatus(c *gin.Context) {
	name, ok := r.lookup(c)
	if !ok {
		return
	}
	st, err := r.sup.Status(name)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

// verb adapts a single-service lifecycle operation into a handler with
// the shared validation and error mapping.
func (r *Router) verb(op func(ctx context.Context, name string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := r.lookup(c)
		if !ok {
			return
		}
		if err := op(c.Request.Context(), name); err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleStartAll(c *gin.Context) {
	failed := 0
	for _, res := range r.sup.StartAll(c.Request.Context()) {
		if res.Err != nil {
			failed++
			r.log.Warn("start-all: service did not come up", "service", res.Service, "error", res.Err)
		}
	}
	if failed > 0 {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "start-all: services failed readiness"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	r.sup.StopAll(c.Request.Context())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
