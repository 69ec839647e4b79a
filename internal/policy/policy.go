// Package policy implements the API abuse policy: every client IP carries a
// score that requests add to, and an IP whose score reaches the limit is
// temporarily banned.
package policy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/kale-analytics/internal/util"
)

// Config holds policy configuration
type Config struct {
	Enabled        bool
	MaxScore       int32         // Score at which an IP is temporarily banned
	ScoreResetTime time.Duration // How often scores decay to zero
	TempBanTime    time.Duration // How long a temporary ban lasts

	// Action costs (added to score)
	CostRequest     int32 // Any read request
	CostWrite       int32 // Session or admin write
	CostMalformed   int32 // Unparseable body or parameter
	CostAuthFailure int32 // Missing, invalid or mismatched token

	Whitelist []string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxScore:        300,
		ScoreResetTime:  time.Minute,
		TempBanTime:     5 * time.Minute,
		CostRequest:     1,
		CostWrite:       2,
		CostMalformed:   25,
		CostAuthFailure: 20,
	}
}

// IPStats tracks per-IP statistics
type IPStats struct {
	mu             sync.Mutex
	LastBeat       int64 // Unix millis of last request
	BannedAt       int64 // Unix millis when banned (0 = not banned)
	Banned         int32 // 1 = banned, 0 = not banned
	Score          int32
	LastScoreReset int64 // Unix seconds
}

// PolicyServer manages per-IP scores and bans
type PolicyServer struct {
	config *Config

	statsMu sync.RWMutex
	stats   map[string]*IPStats

	whitelist map[string]struct{}

	now func() time.Time

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPolicyServer creates a new policy server
func NewPolicyServer(cfg *Config) *PolicyServer {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		whitelist[ip] = struct{}{}
	}

	return &PolicyServer{
		config:    cfg,
		stats:     make(map[string]*IPStats),
		whitelist: whitelist,
		now:       time.Now,
		quit:      make(chan struct{}),
	}
}

// Start begins the background reset loop
func (p *PolicyServer) Start() {
	if !p.config.Enabled {
		util.Info("API policy disabled")
		return
	}

	p.wg.Add(1)
	go p.resetLoop()

	util.Infof("API policy started: max score %d, temp ban %v", p.config.MaxScore, p.config.TempBanTime)
}

// Stop shuts down the policy server
func (p *PolicyServer) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		util.Info("API policy stopped")
	})
}

// resetLoop periodically lifts expired bans and drops idle IPs
func (p *PolicyServer) resetLoop() {
	defer p.wg.Done()

	interval := p.config.ScoreResetTime
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.resetStats()
		}
	}
}

// resetStats clears expired bans and stale entries
func (p *PolicyServer) resetStats() {
	now := p.now().UnixMilli()
	staleTimeout := (2 * p.config.ScoreResetTime).Milliseconds()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	removed, unbanned := 0, 0
	for ip, stats := range p.stats {
		stats.mu.Lock()
		if p.liftExpiredBan(ip, stats, now) {
			unbanned++
		}
		stale := now-stats.LastBeat >= staleTimeout && atomic.LoadInt32(&stats.Banned) == 0
		stats.mu.Unlock()

		if stale {
			delete(p.stats, ip)
			removed++
		}
	}

	if removed > 0 || unbanned > 0 {
		util.Debugf("Policy stats reset: removed %d stale, unbanned %d IPs", removed, unbanned)
	}
}

// liftExpiredBan must be called with stats.mu held
func (p *PolicyServer) liftExpiredBan(ip string, stats *IPStats, nowMillis int64) bool {
	if stats.BannedAt == 0 || nowMillis-stats.BannedAt < p.config.TempBanTime.Milliseconds() {
		return false
	}
	stats.BannedAt = 0
	if atomic.CompareAndSwapInt32(&stats.Banned, 1, 0) {
		util.Infof("Ban expired for %s", ip)
		return true
	}
	return false
}

// getStats gets or creates stats for an IP
func (p *PolicyServer) getStats(ip string) *IPStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	now := p.now().UnixMilli()
	stats, ok := p.stats[ip]
	if !ok {
		stats = &IPStats{LastBeat: now, LastScoreReset: p.now().Unix()}
		p.stats[ip] = stats
	} else {
		stats.LastBeat = now
	}
	return stats
}

// IsBanned checks if an IP is currently banned
func (p *PolicyServer) IsBanned(ip string) bool {
	if !p.config.Enabled || p.IsWhitelisted(ip) {
		return false
	}

	stats := p.getStats(ip)
	stats.mu.Lock()
	p.liftExpiredBan(ip, stats, p.now().UnixMilli())
	stats.mu.Unlock()
	return atomic.LoadInt32(&stats.Banned) > 0
}

// AddScore adds to an IP's score and returns false once the IP is banned
func (p *PolicyServer) AddScore(ip string, cost int32) bool {
	if !p.config.Enabled || p.IsWhitelisted(ip) {
		return true
	}

	stats := p.getStats(ip)
	stats.mu.Lock()
	defer stats.mu.Unlock()

	now := p.now()
	if now.Unix()-stats.LastScoreReset >= int64(p.config.ScoreResetTime.Seconds()) {
		stats.Score = 0
		stats.LastScoreReset = now.Unix()
	}

	stats.Score += cost
	if stats.Score >= p.config.MaxScore {
		util.Warnf("Score limit exceeded for %s: %d >= %d", ip, stats.Score, p.config.MaxScore)
		stats.Score = 0
		if p.config.TempBanTime > 0 {
			stats.BannedAt = now.UnixMilli()
			atomic.StoreInt32(&stats.Banned, 1)
		}
		return false
	}
	return true
}

// GetScore returns current score for an IP
func (p *PolicyServer) GetScore(ip string) int32 {
	stats := p.getStats(ip)
	stats.mu.Lock()
	defer stats.mu.Unlock()
	return stats.Score
}

// ApplyRequest charges a request; writes cost more than reads
func (p *PolicyServer) ApplyRequest(ip string, write bool) bool {
	if write {
		return p.AddScore(ip, p.config.CostWrite)
	}
	return p.AddScore(ip, p.config.CostRequest)
}

// ApplyMalformed charges an unparseable request
func (p *PolicyServer) ApplyMalformed(ip string) bool {
	return p.AddScore(ip, p.config.CostMalformed)
}

// ApplyAuthFailure charges a failed authentication
func (p *PolicyServer) ApplyAuthFailure(ip string) bool {
	return p.AddScore(ip, p.config.CostAuthFailure)
}

// IsWhitelisted checks if an IP is exempt from the policy
func (p *PolicyServer) IsWhitelisted(ip string) bool {
	_, ok := p.whitelist[ip]
	return ok
}

// GetStats returns tracked and banned IP counts
func (p *PolicyServer) GetStats() (total, banned int) {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()

	total = len(p.stats)
	for _, stats := range p.stats {
		if atomic.LoadInt32(&stats.Banned) > 0 {
			banned++
		}
	}
	return
}
