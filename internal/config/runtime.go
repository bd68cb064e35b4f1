package config

import "sync"

// RuntimeSettings are the search/staleness knobs adjustable at runtime via
// the configure tool. They are read on every search, so updates go through
// the Runtime wrapper's lock.
type RuntimeSettings struct {
	MinScore                float64            `yaml:"min_score" json:"min_score"`
	Verbose                 bool               `yaml:"verbose" json:"verbose"`
	RecencyBoost            bool               `yaml:"recency_boost" json:"recency_boost"`
	RecencyHalfLifeDays     float64            `yaml:"recency_half_life_days" json:"recency_half_life_days"`
	TopKRetrieve            int                `yaml:"top_k_retrieve" json:"top_k_retrieve"`
	TopKRerank              int                `yaml:"top_k_rerank" json:"top_k_rerank"`
	TypeBoost               bool               `yaml:"type_boost" json:"type_boost"`
	TypeMultipliers         map[string]float64 `yaml:"type_multipliers" json:"type_multipliers"`
	StalenessCheckEnabled   bool               `yaml:"staleness_check_enabled" json:"staleness_check_enabled"`
	StalenessCheckLimit     int                `yaml:"staleness_check_limit" json:"staleness_check_limit"`
	StalenessThresholdDays  int                `yaml:"staleness_time_threshold_days" json:"staleness_time_threshold_days"`
	VeryStaleThresholdDays  int                `yaml:"staleness_very_stale_threshold_days" json:"staleness_very_stale_threshold_days"`
}

// Retrieval bounds: in-memory work per search is capped regardless of
// configured values.
const (
	MaxTopKRetrieve = 200
	MaxTopKRerank   = 50
)

// DefaultRuntimeSettings returns the runtime defaults.
func DefaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		MinScore:            0.05,
		RecencyBoost:        true,
		RecencyHalfLifeDays: 30,
		TopKRetrieve:        100,
		TopKRerank:          30,
		TypeBoost:           true,
		TypeMultipliers: map[string]float64{
			"insight":         2.0,
			"note":            1.5,
			"session_summary": 1.5,
			"entry_point":     1.4,
			"file_metadata":   1.3,
			"data_contract":   1.3,
			"tech_stack":      1.2,
		},
		StalenessCheckEnabled:  true,
		StalenessCheckLimit:    5,
		StalenessThresholdDays: 30,
		VeryStaleThresholdDays: 90,
	}
}

// clamped applies the hard retrieval bounds.
func (s RuntimeSettings) clamped() RuntimeSettings {
	if s.TopKRetrieve <= 0 || s.TopKRetrieve > MaxTopKRetrieve {
		s.TopKRetrieve = min(MaxTopKRetrieve, DefaultRuntimeSettings().TopKRetrieve)
	}
	if s.TopKRerank <= 0 || s.TopKRerank > MaxTopKRerank {
		s.TopKRerank = min(MaxTopKRerank, DefaultRuntimeSettings().TopKRerank)
	}
	return s
}

// Runtime guards RuntimeSettings for concurrent readers and rare writers.
type Runtime struct {
	mu       sync.RWMutex
	settings RuntimeSettings
}

// NewRuntime wraps settings in a Runtime handle.
func NewRuntime(settings RuntimeSettings) *Runtime {
	return &Runtime{settings: settings.clamped()}
}

// Snapshot returns a copy of the current settings.
func (r *Runtime) Snapshot() RuntimeSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.settings
	multipliers := make(map[string]float64, len(s.TypeMultipliers))
	for k, v := range s.TypeMultipliers {
		multipliers[k] = v
	}
	s.TypeMultipliers = multipliers
	return s
}

// Update applies fn to a copy of the settings and publishes the result.
func (r *Runtime) Update(fn func(*RuntimeSettings)) RuntimeSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.settings
	fn(&s)
	r.settings = s.clamped()
	return r.settings
}
