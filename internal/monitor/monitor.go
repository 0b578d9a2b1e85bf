// Package monitor watches process resources and relieves pressure by
// pruning stores or requesting a collector restart.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// Usage is one resource sample, in percentages.
type Usage struct {
	MemoryPct float64
	DiskPct   float64
}

// Sampler reads current resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// SystemSampler reads host memory and disk usage via gopsutil.
type SystemSampler struct {
	DiskPath string
}

// Sample reads the current memory and disk usage.
func (s SystemSampler) Sample(ctx context.Context) (Usage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("sample memory: %w", err)
	}
	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Usage{}, fmt.Errorf("sample disk: %w", err)
	}
	return Usage{MemoryPct: vm.UsedPercent, DiskPct: du.UsedPercent}, nil
}

// Restarter accepts non-blocking restart requests.
type Restarter interface {
	RequestRestart(trigger string)
}

// Config sets thresholds and retention for the monitor.
type Config struct {
	Interval         time.Duration
	MemoryWarnPct    float64
	MemoryCritical   float64
	DiskWarnPct      float64
	Retention        time.Duration
	MaxItemsPerStage int
}

// Monitor samples resources on an interval. Warn-level pressure prunes
// the item stores; critical memory pressure additionally requests a
// collector restart. It never blocks the collector or the pipeline.
type Monitor struct {
	sampler   Sampler
	items     feed.ItemStore
	restarter Restarter
	clock     feed.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a monitor.
func New(sampler Sampler, items feed.ItemStore, restarter Restarter, clock feed.Clock, cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Monitor{
		sampler:   sampler,
		items:     items,
		restarter: restarter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run samples until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs one sample and reacts to pressure. Sampling or prune
// failures are logged, never propagated.
func (m *Monitor) Check(ctx context.Context) {
	usage, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Warn("resource sampling failed", zap.Error(err))
		return
	}

	warn := usage.MemoryPct >= m.cfg.MemoryWarnPct || usage.DiskPct >= m.cfg.DiskWarnPct
	critical := m.cfg.MemoryCritical > 0 && usage.MemoryPct >= m.cfg.MemoryCritical

	if !warn && !critical {
		return
	}

	severity := "warn"
	if critical {
		severity = "critical"
	}
	metrics.ObserveResourcePressure(severity)
	m.logger.Warn("resource pressure detected",
		zap.String("severity", severity),
		zap.Float64("memory_pct", usage.MemoryPct),
		zap.Float64("disk_pct", usage.DiskPct),
	)

	m.prune(ctx)
	if critical && m.restarter != nil {
		m.restarter.RequestRestart("memory_critical")
	}
}

func (m *Monitor) prune(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.cfg.Retention)
	for _, stage := range feed.Stages {
		removed, err := m.items.Prune(ctx, stage, cutoff, m.cfg.MaxItemsPerStage)
		if err != nil {
			m.logger.Warn("pruning stage failed",
				zap.String("stage", string(stage)), zap.Error(err))
			continue
		}
		if removed > 0 {
			metrics.ObservePruned(string(stage), removed)
			m.logger.Info("pruned stage",
				zap.String("stage", string(stage)), zap.Int("removed", removed))
		}
	}
}
