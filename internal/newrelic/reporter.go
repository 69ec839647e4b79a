package newrelic

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tos-network/kale-analytics/internal/analytics"
	"github.com/tos-network/kale-analytics/internal/config"
	"github.com/tos-network/kale-analytics/internal/util"
)

// SummarySource produces the current network summary
type SummarySource interface {
	Summary(ctx context.Context) (*analytics.Summary, error)
}

// MetricsSink receives network summaries
type MetricsSink interface {
	UpdateNetworkMetrics(s *analytics.Summary)
}

// Reporter periodically pushes the network summary to a metrics sink
type Reporter struct {
	source   SummarySource
	sink     MetricsSink
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewReporter schedules a report on a cron expression with a leading seconds field
func NewReporter(source SummarySource, sink MetricsSink, schedule string) (*Reporter, error) {
	logger := cronLogger{}
	r := &Reporter{
		source:   source,
		sink:     sink,
		schedule: schedule,
		timeout:  10 * time.Second,
		cron:     cron.New(cron.WithParser(config.CronParser), cron.WithChain(cron.Recover(logger))),
	}

	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Report(ctx); err != nil {
			util.Warnf("Metrics report failed: %v", err)
		}
	}); err != nil {
		return nil, err
	}

	return r, nil
}

// Start runs the schedule in the background
func (r *Reporter) Start() {
	r.cron.Start()
	util.Infof("Metrics reporter started: %s", r.schedule)
}

// Stop halts the schedule and waits for a running report
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report pushes one summary. An uninitialized network is not an error.
func (r *Reporter) Report(ctx context.Context) error {
	s, err := r.source.Summary(ctx)
	if errors.Is(err, analytics.ErrNotInitialized) {
		util.Debug("Metrics report skipped: network not initialized")
		return nil
	}
	if err != nil {
		return err
	}

	r.sink.UpdateNetworkMetrics(s)
	util.Debugf("Metrics reported: farmers=%d difficulty=%d health=%d",
		s.Network.TotalFarmers, s.Network.FarmingDifficulty, s.HealthScore)
	return nil
}

// cronLogger routes scheduler logs through the service logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	util.Named("cron").Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	util.Named("cron").Errorw(msg, append(keysAndValues, "error", err)...)
}
