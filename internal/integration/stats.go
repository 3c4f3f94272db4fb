package integration

import (
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/telemetry"
)

type MechanicStats struct {
	ID       string                    `json:"id"`
	Version  string                    `json:"version"`
	Category mechanics.Category        `json:"category"`
	Priority int                       `json:"priority"`
	State    mechanics.State           `json:"state"`
	Metrics  mechanics.MetricsSnapshot `json:"metrics"`
}

type Stats struct {
	TelemetryEnabled bool                  `json:"telemetryEnabled"`
	Metrics          map[string]float64    `json:"metrics"`
	Aggregates       []telemetry.Aggregate `json:"aggregates"`
	Tuners           []telemetry.TunerInfo `json:"tuners"`
	Mechanics        []MechanicStats       `json:"mechanics"`
}

// Stats summarises telemetry and per-mechanic performance.
func (s *System) Stats() Stats {
	out := Stats{
		TelemetryEnabled: s.telemetry.Enabled(),
		Metrics:          s.telemetry.Metrics(),
		Aggregates:       s.telemetry.Aggregates(),
		Tuners:           s.telemetry.Tuners(),
	}
	for _, m := range s.registry.Mechanics() {
		out.Mechanics = append(out.Mechanics, MechanicStats{
			ID:       m.ID().String(),
			Version:  m.Version(),
			Category: m.Category(),
			Priority: m.Priority(),
			State:    m.State(),
			Metrics:  m.Metrics(),
		})
	}
	return out
}
