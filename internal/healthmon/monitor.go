package healthmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quailyquaily/livia/internal/dedup"
)

const (
	DefaultInterval   = 300 * time.Second
	DefaultStaleAfter = 120 * time.Second
	probeTimeout      = 15 * time.Second
)

// Prober checks that the chat platform accepts the bot's credentials.
type Prober interface {
	Probe(ctx context.Context) error
}

type Options struct {
	Table      dedup.Table
	Prober     Prober
	Interval   time.Duration
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Status is the outcome of the most recent check.
type Status struct {
	Checks      int       `json:"checks"`
	LastCheck   time.Time `json:"last_check,omitempty"`
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSwept   int       `json:"last_swept"`
	TotalSwept  int       `json:"total_swept"`
	Interval    string    `json:"interval"`
	StaleAfter  string    `json:"stale_after"`
	FailedSince time.Time `json:"failed_since,omitempty"`
}

type Monitor struct {
	table      dedup.Table
	prober     Prober
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.RWMutex
	status Status
}

func New(opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		table:      opts.Table,
		prober:     opts.Prober,
		interval:   interval,
		staleAfter: staleAfter,
		now:        now,
		logger:     logger,
		status: Status{
			Healthy:    true,
			Interval:   interval.String(),
			StaleAfter: staleAfter.String(),
		},
	}
}

// Run checks once per interval until ctx is done. A failed check is only
// logged; the loop keeps going.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("health_monitor_start", "interval", m.interval.String(), "stale_after", m.staleAfter.String())
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health_monitor_stop")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check sweeps stale dedup entries and probes the platform.
func (m *Monitor) Check(ctx context.Context) Status {
	swept := 0
	var sweepErr error
	if m.table != nil {
		swept, sweepErr = m.table.Sweep(ctx, m.staleAfter)
		if sweepErr != nil {
			m.logger.Warn("health_sweep_error", "error", sweepErr.Error())
		} else if swept > 0 {
			m.logger.Info("health_sweep", "removed", swept)
		}
	}

	var probeErr error
	if m.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		probeErr = m.prober.Probe(pctx)
		cancel()
	}

	at := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Checks++
	m.status.LastCheck = at
	m.status.LastSwept = swept
	m.status.TotalSwept += swept
	if probeErr != nil {
		if m.status.Healthy {
			m.status.FailedSince = at
		}
		m.status.Healthy = false
		m.status.LastError = probeErr.Error()
		m.logger.Error("health_probe_failed", "error", probeErr.Error(), "failed_since", m.status.FailedSince)
	} else {
		if !m.status.Healthy {
			m.logger.Info("health_probe_recovered", "down_for", at.Sub(m.status.FailedSince).String())
		}
		m.status.Healthy = true
		m.status.LastError = ""
		m.status.FailedSince = time.Time{}
		m.logger.Debug("health_probe_ok")
	}
	return m.status
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
