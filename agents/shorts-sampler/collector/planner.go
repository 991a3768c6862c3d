// Package collector drives stratified sampling of Shorts: it plans search
// units per tier, filters what comes back and checkpoints progress after
// every iteration.
package collector

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"shorts-sampler/shared/config"
)

// SearchUnit is one planned search: a tier, a keyword and a lookback window.
type SearchUnit struct {
	Tier    config.TierConfig
	Keyword string
	Window  config.TimeWindowConfig
}

// Key identifies the unit in the exhausted set: tier|keyword|days_back.
func (u SearchUnit) Key() string {
	return unitKey(u.Tier.Name, u.Keyword, u.Window.DaysBack)
}

// PublishedAfter is the start of the unit's window relative to now.
func (u SearchUnit) PublishedAfter(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -u.Window.DaysBack)
}

func unitKey(tier, keyword string, daysBack int) string {
	return fmt.Sprintf("%s|%s|%d", tier, keyword, daysBack)
}

// ProgressView is the part of the progress store the planner reads.
type ProgressView interface {
	TierCount(tier string) int
	IsExhausted(unitKey string) bool
}

// Planner picks the next search unit from the configured tiers, windows and
// keywords. It keeps no state of its own beyond the random source; everything
// it decides on comes from the progress view.
type Planner struct {
	tiers    []config.TierConfig
	windows  []config.TimeWindowConfig
	keywords []string
	priority string
	progress ProgressView
	rng      *rand.Rand
}

// NewRand returns a PCG source. Seed 0 derives a seed from the clock.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func NewPlanner(cfg config.SamplerConfig, progress ProgressView, rng *rand.Rand) *Planner {
	if rng == nil {
		rng = NewRand(cfg.Seed)
	}
	return &Planner{
		tiers:    cfg.Tiers,
		windows:  cfg.TimeWindows,
		keywords: cfg.Keywords,
		priority: cfg.TierPriority,
		progress: progress,
		rng:      rng,
	}
}

// Deficit is how many more records the tier needs. Zero or less means the
// target is met.
func (p *Planner) Deficit(tier config.TierConfig) int {
	return tier.TargetCount - p.progress.TierCount(tier.Name)
}

// Next returns the next unit to search, or nil when every tier has met its
// target or has no unexhausted unit left.
func (p *Planner) Next() *SearchUnit {
	for _, tier := range p.orderedTiers() {
		if p.Deficit(tier) <= 0 {
			continue
		}

		eligible := p.eligibleWindows(tier)
		if len(eligible) == 0 {
			continue
		}

		window := p.pickWindow(eligible)
		keywords := p.openKeywords(tier, window)
		keyword := keywords[p.rng.IntN(len(keywords))]

		return &SearchUnit{Tier: tier, Keyword: keyword, Window: window}
	}
	return nil
}

func (p *Planner) orderedTiers() []config.TierConfig {
	if p.priority != config.PriorityDeficit {
		return p.tiers
	}
	tiers := append([]config.TierConfig(nil), p.tiers...)
	sort.SliceStable(tiers, func(i, j int) bool {
		return p.Deficit(tiers[i]) > p.Deficit(tiers[j])
	})
	return tiers
}

// eligibleWindows returns the windows the tier may use that still have at
// least one unexhausted keyword.
func (p *Planner) eligibleWindows(tier config.TierConfig) []config.TimeWindowConfig {
	var out []config.TimeWindowConfig
	for _, w := range p.windows {
		if !tier.AllowsWindow(w.DaysBack) {
			continue
		}
		if len(p.openKeywords(tier, w)) > 0 {
			out = append(out, w)
		}
	}
	return out
}

func (p *Planner) openKeywords(tier config.TierConfig, window config.TimeWindowConfig) []string {
	var out []string
	for _, k := range p.keywords {
		if !p.progress.IsExhausted(unitKey(tier.Name, k, window.DaysBack)) {
			out = append(out, k)
		}
	}
	return out
}

// pickWindow draws a window with probability proportional to its weight. If
// every weight is zero the draw is uniform.
func (p *Planner) pickWindow(windows []config.TimeWindowConfig) config.TimeWindowConfig {
	total := 0.0
	for _, w := range windows {
		total += w.Weight
	}
	if total <= 0 {
		return windows[p.rng.IntN(len(windows))]
	}

	r := p.rng.Float64() * total
	for _, w := range windows {
		if w.Weight <= 0 {
			continue
		}
		if r < w.Weight {
			return w
		}
		r -= w.Weight
	}
	// Rounding can leave r just above the last weight.
	for i := len(windows) - 1; i >= 0; i-- {
		if windows[i].Weight > 0 {
			return windows[i]
		}
	}
	return windows[len(windows)-1]
}
