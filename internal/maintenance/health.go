package maintenance

import (
	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/types"
)

// Health is the maintenance loop's pressure reading (spec §4.9): a Tier-1
// record count, the fraction of configured capacity it represents, and
// the tri-state status that reading maps to.
type Health struct {
	RecordCount int
	FillPercent float64
	Status      types.HealthStatus
}

// ComputeHealth maps a Tier-1 record count to a Health reading per
// cfg's capacity and fill thresholds: healthy below low_fill_threshold,
// degraded below high_fill_threshold, critical at or above it.
func ComputeHealth(recordCount int, cfg config.MaintenanceConfig) Health {
	var fillPercent float64
	if cfg.Capacity > 0 {
		fillPercent = float64(recordCount) / float64(cfg.Capacity)
	}

	status := types.HealthHealthy
	switch {
	case fillPercent >= cfg.HighFillThreshold:
		status = types.HealthCritical
	case fillPercent >= cfg.LowFillThreshold:
		status = types.HealthDegraded
	}

	return Health{RecordCount: recordCount, FillPercent: fillPercent, Status: status}
}
