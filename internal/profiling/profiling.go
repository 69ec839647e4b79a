// Package profiling serves pprof endpoints on a separate, usually loopback,
// listener.
package profiling

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tos-network/kale-analytics/internal/config"
	"github.com/tos-network/kale-analytics/internal/util"
)

// profiles served through pprof.Handler
var namedProfiles = []string{"goroutine", "heap", "allocs", "threadcreate", "block", "mutex"}

// Server provides pprof profiling endpoints
type Server struct {
	cfg    *config.ProfilingConfig
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new profiling server
func NewServer(cfg *config.ProfilingConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	debug := router.Group("/debug/pprof")
	debug.GET("/", gin.WrapF(pprof.Index))
	debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	debug.GET("/profile", gin.WrapF(pprof.Profile))
	debug.GET("/symbol", gin.WrapF(pprof.Symbol))
	debug.POST("/symbol", gin.WrapF(pprof.Symbol))
	debug.GET("/trace", gin.WrapF(pprof.Trace))
	for _, name := range namedProfiles {
		debug.GET("/"+name, gin.WrapH(pprof.Handler(name)))
	}

	return &Server{
		cfg:    cfg,
		router: router,
	}
}

// Handler returns the pprof router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins the profiling server
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	s.server = &http.Server{
		Addr:              s.cfg.Bind,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	util.Infof("pprof profiling server listening on %s", s.cfg.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("Profiling server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the profiling server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	util.Info("Stopping profiling server")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
