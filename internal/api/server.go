// Package api provides the REST API server.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tos-network/kale-analytics/internal/analytics"
	"github.com/tos-network/kale-analytics/internal/auth"
	"github.com/tos-network/kale-analytics/internal/config"
	"github.com/tos-network/kale-analytics/internal/events"
	"github.com/tos-network/kale-analytics/internal/newrelic"
	"github.com/tos-network/kale-analytics/internal/policy"
	"github.com/tos-network/kale-analytics/internal/storage"
	"github.com/tos-network/kale-analytics/internal/util"
)

// DefaultLeaderboardLimit is used when no limit is given
const DefaultLeaderboardLimit = 10

// Info describes the running deployment
type Info struct {
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	Driver   string          `json:"driver"`
	Features map[string]bool `json:"features"`
}

// Deps are the collaborators the server routes to. Only Engine and Tokens
// are required.
type Deps struct {
	Engine *analytics.Engine
	Tokens *auth.TokenService
	Policy *policy.PolicyServer
	Hub    *events.Hub
	Agent  *newrelic.Agent
	Info   Info
}

// Server is the API server
type Server struct {
	cfg    *config.APIConfig
	deps   Deps
	router *gin.Engine
	server *http.Server

	// Cache. Writes bump summaryGen so a read that started before a write
	// cannot put its result back.
	summaryCacheMu   sync.RWMutex
	summaryCache     *analytics.Summary
	summaryCacheTime time.Time
	summaryGen       uint64
}

// SessionRequest is the POST /api/sessions body. Farmer defaults to the
// token subject.
type SessionRequest struct {
	Farmer  string      `json:"farmer"`
	Stake   util.Amount `json:"stake"`
	Success bool        `json:"success"`
	Reward  util.Amount `json:"reward"`
}

// InitializeRequest is the POST /admin/initialize body. Admin defaults to
// the token subject.
type InitializeRequest struct {
	Admin string `json:"admin"`
}

// EmissionRateRequest is the PUT /admin/emission-rate body
type EmissionRateRequest struct {
	Admin string  `json:"admin"`
	Rate  *uint32 `json:"rate"`
}

// LeaderboardResponse is the /api/leaderboard response
type LeaderboardResponse struct {
	Farmers   []*storage.FarmerData `json:"farmers"`
	Limit     uint32                `json:"limit"`
	Supported bool                  `json:"supported"`
}

// NewServer creates a new API server
func NewServer(cfg *config.APIConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if deps.Info.Features == nil {
		deps.Info.Features = map[string]bool{}
	}
	deps.Info.Features["leaderboard"] = false
	deps.Info.Features["events"] = deps.Hub != nil

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: router,
	}

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures API endpoints
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware())
	if s.deps.Agent != nil {
		s.router.Use(s.apmMiddleware())
	}
	if s.deps.Policy != nil {
		s.router.Use(s.policyMiddleware())
	}

	api := s.router.Group("/api")
	{
		api.GET("/info", s.handleInfo)
		api.GET("/network", s.handleNetwork)
		api.GET("/summary", s.handleSummary)
		api.GET("/farmers/:address", s.handleFarmer)
		api.GET("/leaderboard", s.handleLeaderboard)
		api.GET("/scores/opportunity", s.handleOpportunityScore)
		api.GET("/scores/optimal-stake", s.handleOptimalStake)
		api.GET("/scores/optimal-time", s.handleOptimalTime)
		api.GET("/scores/health", s.handleHealthScore)
		api.GET("/scores/predict", s.handlePredictReward)
		api.GET("/activity/estimate", s.handleActivityEstimate)
		api.GET("/analysis", s.handleAnalysis)
		api.POST("/sessions", s.bearerAuthMiddleware(), s.handleRecordSession)

		if s.deps.Hub != nil {
			api.GET("/events", gin.WrapH(s.deps.Hub))
		}
	}

	admin := s.router.Group("/admin")
	admin.Use(s.bearerAuthMiddleware())
	{
		admin.POST("/initialize", s.handleInitialize)
		admin.PUT("/emission-rate", s.handleEmissionRate)
	}

	// Health check
	s.router.GET("/health", s.handleHealth)
}

// Start begins the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Bind,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	util.Infof("API server listening on %s", s.cfg.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.deps.Engine.Ping(c.Request.Context()); err != nil {
		util.Warnf("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Info)
}

// handleNetwork returns the raw network aggregate
func (s *Server) handleNetwork(c *gin.Context) {
	stats, err := s.deps.Engine.GetNetworkStats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleSummary returns the network with its derived scores, cached briefly
func (s *Server) handleSummary(c *gin.Context) {
	// Check cache
	s.summaryCacheMu.RLock()
	if s.summaryCache != nil && time.Since(s.summaryCacheTime) < s.cfg.SummaryCache {
		cache := s.summaryCache
		s.summaryCacheMu.RUnlock()
		c.JSON(http.StatusOK, cache)
		return
	}
	gen := s.summaryGen
	s.summaryCacheMu.RUnlock()

	summary, err := s.deps.Engine.Summary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	s.cacheSummary(gen, summary)
	c.JSON(http.StatusOK, summary)
}

// cacheSummary stores summary unless a write happened since gen was read
func (s *Server) cacheSummary(gen uint64, summary *analytics.Summary) bool {
	s.summaryCacheMu.Lock()
	defer s.summaryCacheMu.Unlock()
	if gen != s.summaryGen {
		return false
	}
	s.summaryCache = summary
	s.summaryCacheTime = time.Now()
	return true
}

// invalidateSummary drops the cached summary after a write
func (s *Server) invalidateSummary() {
	s.summaryCacheMu.Lock()
	s.summaryCache = nil
	s.summaryGen++
	s.summaryCacheMu.Unlock()
}

// handleFarmer returns one farmer's record
func (s *Server) handleFarmer(c *gin.Context) {
	address := c.Param("address")

	if !util.ValidateAddress(address) {
		s.malformed(c, "Invalid address")
		return
	}

	farmer, err := s.deps.Engine.GetFarmer(c.Request.Context(), address)
	if err != nil {
		s.fail(c, err)
		return
	}

	if farmer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Farmer not found"})
		return
	}

	c.JSON(http.StatusOK, farmer)
}

// handleLeaderboard reports that ranking is not supported
func (s *Server) handleLeaderboard(c *gin.Context) {
	limit := uint32(DefaultLeaderboardLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			s.malformed(c, "Invalid limit")
			return
		}
		limit = uint32(n)
	}

	farmers, err := s.deps.Engine.GetLeaderboard(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, LeaderboardResponse{
		Farmers:   farmers,
		Limit:     limit,
		Supported: false,
	})
}

func (s *Server) handleOpportunityScore(c *gin.Context) {
	stake, ok := s.stakeParam(c)
	if !ok {
		return
	}
	score, err := s.deps.Engine.OpportunityScore(c.Request.Context(), stake)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stake": stake, "opportunity_score": score})
}

func (s *Server) handleOptimalStake(c *gin.Context) {
	stake, err := s.deps.Engine.OptimalStake(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optimal_stake": stake})
}

func (s *Server) handleOptimalTime(c *gin.Context) {
	optimal, err := s.deps.Engine.IsOptimalTime(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_optimal_time": optimal})
}

func (s *Server) handleHealthScore(c *gin.Context) {
	score, err := s.deps.Engine.HealthScore(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"health_score": score})
}

func (s *Server) handlePredictReward(c *gin.Context) {
	stake, ok := s.stakeParam(c)
	if !ok {
		return
	}
	reward, err := s.deps.Engine.PredictReward(c.Request.Context(), stake)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stake": stake, "predicted_reward": reward})
}

func (s *Server) handleActivityEstimate(c *gin.Context) {
	estimate, err := s.deps.Engine.RecentActivityEstimate(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recent_activity_estimate": estimate})
}

func (s *Server) handleAnalysis(c *gin.Context) {
	stake, ok := s.stakeParam(c)
	if !ok {
		return
	}
	analysis, err := s.deps.Engine.Analyze(c.Request.Context(), stake)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// handleRecordSession records one farming session for the token subject
func (s *Server) handleRecordSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.malformed(c, "Invalid request body")
		return
	}
	if req.Farmer == "" {
		req.Farmer, _ = auth.CallerFrom(c.Request.Context())
	}

	farmer, err := s.deps.Engine.RecordSession(c.Request.Context(), analytics.Session{
		Farmer:  req.Farmer,
		Stake:   req.Stake,
		Success: req.Success,
		Reward:  req.Reward,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	s.invalidateSummary()
	c.JSON(http.StatusOK, farmer)
}

// handleInitialize creates the network state
func (s *Server) handleInitialize(c *gin.Context) {
	var req InitializeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.malformed(c, "Invalid request body")
			return
		}
	}
	if req.Admin == "" {
		req.Admin, _ = auth.CallerFrom(c.Request.Context())
	}

	stats, err := s.deps.Engine.Initialize(c.Request.Context(), req.Admin)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.invalidateSummary()
	c.JSON(http.StatusCreated, stats)
}

// handleEmissionRate overwrites the emission rate
func (s *Server) handleEmissionRate(c *gin.Context) {
	var req EmissionRateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Rate == nil {
		s.malformed(c, "Invalid request body")
		return
	}
	if req.Admin == "" {
		req.Admin, _ = auth.CallerFrom(c.Request.Context())
	}

	stats, err := s.deps.Engine.UpdateEmissionRate(c.Request.Context(), req.Admin, *req.Rate)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.invalidateSummary()
	c.JSON(http.StatusOK, stats)
}

// stakeParam parses the required ?stake= query parameter
func (s *Server) stakeParam(c *gin.Context) (util.Amount, bool) {
	raw := c.Query("stake")
	if raw == "" {
		s.malformed(c, "stake is required")
		return util.Amount{}, false
	}
	stake, err := util.ParseAmount(raw)
	if err != nil || stake.Sign() < 0 {
		s.malformed(c, "Invalid stake")
		return util.Amount{}, false
	}
	return stake, true
}

// malformed rejects a bad request and charges the client for it
func (s *Server) malformed(c *gin.Context, msg string) {
	if s.deps.Policy != nil {
		s.deps.Policy.ApplyMalformed(c.ClientIP())
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// fail maps an engine error to an HTTP status
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.Errorf("API %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		if s.deps.Agent != nil {
			s.deps.Agent.NoticeError(s.deps.Agent.FromContext(c.Request.Context()), err)
		}
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}
	if status == http.StatusForbidden && s.deps.Policy != nil {
		s.deps.Policy.ApplyAuthFailure(c.ClientIP())
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, analytics.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, analytics.ErrNotInitialized), errors.Is(err, analytics.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, analytics.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, analytics.ErrInvalidAmount), errors.Is(err, analytics.ErrInvalidAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
