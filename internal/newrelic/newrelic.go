// Package newrelic reports analytics events and network metrics to New Relic APM.
package newrelic

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/tos-network/kale-analytics/internal/analytics"
	"github.com/tos-network/kale-analytics/internal/config"
	"github.com/tos-network/kale-analytics/internal/events"
	"github.com/tos-network/kale-analytics/internal/util"
)

// recorder is the part of the New Relic application events and metrics go through
type recorder interface {
	RecordCustomEvent(eventType string, params map[string]interface{})
	RecordCustomMetric(name string, value float64)
}

// Agent reports to New Relic once started. Until then, or when APM is
// disabled, every call is a no-op.
type Agent struct {
	cfg *config.NewRelicConfig

	mu  sync.RWMutex
	app *newrelic.Application
	rec recorder
}

// NewAgent creates an agent; call Start to connect
func NewAgent(cfg *config.NewRelicConfig) *Agent {
	return &Agent{cfg: cfg}
}

// Start connects to New Relic when enabled and licensed
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("New Relic APM disabled")
		return nil
	}
	if a.cfg.LicenseKey == "" {
		util.Warn("New Relic license key not configured, APM disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}

	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("New Relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.rec = app
	a.mu.Unlock()

	util.Infof("New Relic APM enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop flushes pending data and shuts the agent down
func (a *Agent) Stop() {
	a.mu.Lock()
	app := a.app
	a.app, a.rec = nil, nil
	a.mu.Unlock()

	if app != nil {
		util.Info("Shutting down New Relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// IsEnabled reports whether the agent is reporting
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec != nil
}

// StartTransaction starts a web transaction, or returns nil when not started
func (a *Agent) StartTransaction(name string) *newrelic.Transaction {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app == nil {
		return nil
	}
	return app.StartTransaction(name)
}

func (a *Agent) sink() recorder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec
}

// RecordCustomEvent records a custom event
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	if rec := a.sink(); rec != nil {
		rec.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric
func (a *Agent) RecordCustomMetric(name string, value float64) {
	if rec := a.sink(); rec != nil {
		rec.RecordCustomMetric(name, value)
	}
}

// NoticeError attaches err to txn
func (a *Agent) NoticeError(txn *newrelic.Transaction, err error) {
	if txn != nil && err != nil {
		txn.NoticeError(err)
	}
}

// NewContext carries txn on ctx
func (a *Agent) NewContext(ctx context.Context, txn *newrelic.Transaction) context.Context {
	if txn == nil {
		return ctx
	}
	return newrelic.NewContext(ctx, txn)
}

// FromContext returns the transaction on ctx, if any
func (a *Agent) FromContext(ctx context.Context) *newrelic.Transaction {
	return newrelic.FromContext(ctx)
}

// Publish records an analytics event as a New Relic custom event
func (a *Agent) Publish(ctx context.Context, ev events.Event) {
	if eventType, params, ok := customEvent(ev); ok {
		a.RecordCustomEvent(eventType, params)
	}
}

// customEvent maps an analytics event to a custom event type and attributes
func customEvent(ev events.Event) (string, map[string]interface{}, bool) {
	params := map[string]interface{}{
		"sequence":  ev.Sequence,
		"timestamp": ev.Timestamp,
	}

	var eventType string
	switch p := ev.Payload.(type) {
	case events.SessionPayload:
		eventType = "FarmingSession"
		params["farmer"] = p.Farmer
		params["success"] = p.Success
		params["reward"] = p.Reward.String()
	case events.InitPayload:
		eventType = "AnalyticsInitialized"
		params["admin"] = p.Admin
		params["emissionRate"] = p.EmissionRate
		params["difficulty"] = p.Difficulty
	case events.EmissionPayload:
		eventType = "EmissionRateUpdated"
		params["admin"] = p.Admin
		params["rate"] = p.Rate
	default:
		return "", nil, false
	}
	return eventType, params, true
}

// UpdateNetworkMetrics records the network aggregate and its derived scores
func (a *Agent) UpdateNetworkMetrics(s *analytics.Summary) {
	if s == nil || s.Network == nil {
		return
	}
	n := s.Network

	a.RecordCustomMetric("Custom/Network/Farmers", float64(n.TotalFarmers))
	a.RecordCustomMetric("Custom/Network/Difficulty", float64(n.FarmingDifficulty))
	a.RecordCustomMetric("Custom/Network/EmissionRate", float64(n.CurrentEmissionRate))
	a.RecordCustomMetric("Custom/Network/TotalStaked", tokens(n.TotalStaked))
	a.RecordCustomMetric("Custom/Network/TotalRewards", tokens(n.TotalRewardsDistributed))
	a.RecordCustomMetric("Custom/Network/HealthScore", float64(s.HealthScore))
	a.RecordCustomMetric("Custom/Network/RecentActivity", float64(s.RecentActivity))
	a.RecordCustomMetric("Custom/Network/OptimalStake", tokens(s.OptimalStake))
}

// tokens converts base units to whole tokens for metric display
func tokens(v util.Amount) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v.Big()), big.NewFloat(float64(util.AmountUnit))).Float64()
	return f
}
