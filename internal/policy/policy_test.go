package policy

import (
	"sync"
	"testing"
	"time"
)

// testServer returns a policy server with a controllable clock
func testServer(cfg *Config) (*PolicyServer, *time.Time) {
	ps := NewPolicyServer(cfg)
	now := time.Unix(1_700_000_000, 0)
	ps.now = func() time.Time { return now }
	return ps, &now
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Enabled should be true by default")
	}
	if cfg.MaxScore != 300 {
		t.Errorf("MaxScore = %d, want 300", cfg.MaxScore)
	}
	if cfg.TempBanTime != 5*time.Minute {
		t.Errorf("TempBanTime = %v, want 5m", cfg.TempBanTime)
	}
	if cfg.CostWrite <= cfg.CostRequest {
		t.Errorf("CostWrite = %d should exceed CostRequest = %d", cfg.CostWrite, cfg.CostRequest)
	}
}

func TestNewPolicyServerNilConfig(t *testing.T) {
	ps := NewPolicyServer(nil)
	if ps.config == nil {
		t.Fatal("PolicyServer.config should not be nil")
	}
}

func TestAddScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 50
	cfg.ScoreResetTime = time.Hour
	ps, _ := testServer(cfg)

	ip := "192.168.1.100"

	if !ps.AddScore(ip, 25) {
		t.Error("Score 25 should be allowed (below max 50)")
	}
	if ps.GetScore(ip) != 25 {
		t.Errorf("Score = %d, want 25", ps.GetScore(ip))
	}

	if ps.AddScore(ip, 30) {
		t.Error("Score 55 should exceed max 50")
	}
	if ps.GetScore(ip) != 0 {
		t.Errorf("Score should be reset to 0 after ban, got %d", ps.GetScore(ip))
	}
	if !ps.IsBanned(ip) {
		t.Error("IP should be banned after exceeding the score")
	}
}

func TestScoreDecays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 50
	cfg.ScoreResetTime = time.Minute
	ps, now := testServer(cfg)

	ip := "10.0.0.1"
	ps.AddScore(ip, 40)

	*now = now.Add(2 * time.Minute)
	if !ps.AddScore(ip, 40) {
		t.Error("score should have decayed before the second charge")
	}
	if got := ps.GetScore(ip); got != 40 {
		t.Errorf("Score = %d, want 40", got)
	}
}

func TestTempBanExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 10
	cfg.TempBanTime = 5 * time.Minute
	ps, now := testServer(cfg)

	ip := "10.0.0.2"
	ps.AddScore(ip, 10)
	if !ps.IsBanned(ip) {
		t.Fatal("IP should be banned")
	}

	*now = now.Add(4 * time.Minute)
	if !ps.IsBanned(ip) {
		t.Error("IP should still be banned before the ban time elapses")
	}

	*now = now.Add(2 * time.Minute)
	if ps.IsBanned(ip) {
		t.Error("ban should have expired")
	}
}

func TestDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.MaxScore = 1
	ps, _ := testServer(cfg)

	ip := "192.168.1.100"
	for i := 0; i < 100; i++ {
		if !ps.ApplyMalformed(ip) {
			t.Fatal("disabled policy should allow everything")
		}
	}
	if ps.IsBanned(ip) {
		t.Error("disabled policy should never ban")
	}
}

func TestWhitelist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 1
	cfg.Whitelist = []string{"127.0.0.1"}
	ps, _ := testServer(cfg)

	if !ps.IsWhitelisted("127.0.0.1") || ps.IsWhitelisted("127.0.0.2") {
		t.Error("IsWhitelisted() mismatch")
	}
	if !ps.ApplyAuthFailure("127.0.0.1") {
		t.Error("whitelisted IP should never be limited")
	}
	if ps.IsBanned("127.0.0.1") {
		t.Error("whitelisted IP should never be banned")
	}
}

func TestActionCosts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 1000
	cfg.ScoreResetTime = time.Hour
	ps, _ := testServer(cfg)

	tests := []struct {
		name  string
		apply func(string) bool
		want  int32
	}{
		{"read", func(ip string) bool { return ps.ApplyRequest(ip, false) }, cfg.CostRequest},
		{"write", func(ip string) bool { return ps.ApplyRequest(ip, true) }, cfg.CostWrite},
		{"malformed", ps.ApplyMalformed, cfg.CostMalformed},
		{"auth failure", ps.ApplyAuthFailure, cfg.CostAuthFailure},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := "10.1.0." + string(rune('1'+i))
			if !tt.apply(ip) {
				t.Fatal("single charge should be allowed")
			}
			if got := ps.GetScore(ip); got != tt.want {
				t.Errorf("Score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResetStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 5
	cfg.ScoreResetTime = time.Minute
	cfg.TempBanTime = 10 * time.Minute
	ps, now := testServer(cfg)

	ps.AddScore("10.0.0.1", 1) // idle, will be dropped
	ps.AddScore("10.0.0.2", 5) // banned, kept while the ban lasts

	*now = now.Add(3 * time.Minute)
	ps.resetStats()

	total, banned := ps.GetStats()
	if total != 1 || banned != 1 {
		t.Errorf("GetStats() = (%d, %d), want (1, 1)", total, banned)
	}

	*now = now.Add(10 * time.Minute)
	ps.resetStats()

	total, banned = ps.GetStats()
	if total != 0 || banned != 0 {
		t.Errorf("GetStats() = (%d, %d), want (0, 0) after ban expiry", total, banned)
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreResetTime = 10 * time.Millisecond
	ps := NewPolicyServer(cfg)
	ps.Start()
	time.Sleep(30 * time.Millisecond)
	ps.Stop()
	ps.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	ps := NewPolicyServer(DefaultConfig())

	var wg sync.WaitGroup
	ips := []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := ips[id%len(ips)]
			for j := 0; j < 100; j++ {
				ps.IsBanned(ip)
				ps.ApplyRequest(ip, j%2 == 0)
				ps.GetScore(ip)
			}
		}(i)
	}
	wg.Wait()

	total, _ := ps.GetStats()
	if total != len(ips) {
		t.Errorf("total = %d, want %d", total, len(ips))
	}
}

func BenchmarkApplyRequest(b *testing.B) {
	cfg := DefaultConfig()
	cfg.MaxScore = 1 << 30
	ps := NewPolicyServer(cfg)
	ip := "192.168.1.100"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ps.ApplyRequest(ip, false)
	}
}
