package config

func int64Ptr(v int64) *int64 { return &v }

// DefaultTiers is the virality ladder used when the config file has no tiers.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "mega_viral", MinViews: 100_000, TargetCount: 300, SearchOrder: "viewCount", TimeWindows: []int{365}},
		{Name: "highly_viral", MinViews: 50_000, MaxViews: int64Ptr(100_000), TargetCount: 200},
		{Name: "moderate", MinViews: 10_000, MaxViews: int64Ptr(50_000), TargetCount: 200},
		{Name: "low", MinViews: 1_000, MaxViews: int64Ptr(10_000), TargetCount: 200, SearchOrder: "date", TimeWindows: []int{30}},
		{Name: "very_low", MinViews: 100, MaxViews: int64Ptr(1_000), TargetCount: 100, SearchOrder: "date", TimeWindows: []int{30}},
	}
}

func DefaultTimeWindows() []TimeWindowConfig {
	return []TimeWindowConfig{
		{DaysBack: 365, Weight: 0.5},
		{DaysBack: 730, Weight: 0.3},
		{DaysBack: 30, Weight: 0.2},
	}
}

func DefaultKeywords() []string {
	return []string{
		"space", "NASA", "ISS", "JWST", "James Webb", "SpaceX",
		"astronomy", "cosmos", "galaxy", "nebula", "black hole",
		"mars", "moon", "asteroid", "comet", "telescope", "universe", "jupiter",
		"star", "planet", "celestial", "rocket", "space facts", "space 4k",
		"space edit", "earth from space", "stars", "intergalactic", "astronaut",
		"interstellar", "space shorts", "NASA space", "International Space Station",
		"blackhole", "sun", "solar", "lunar", "cosmos universe", "astrophysics",
		"Solar system", "space size comparison", "space zoom", "webb telescope new images",
		"space compilation", "space timelapse", "hubble images",
		"space discoveries 2024", "space discoveries 2025", "universe size", "how big is space", "space comparison",
		"science facts", "amazing facts", "mind blowing space",
		"space didyouknow", "space mindblowing", "space amazing facts",
		"cosmos facts", "universe facts", "astronomy facts",
		"space documentary", "space education", "learn space",
		"viral space", "best space moments",
		"kurzgesagt space", "vsauce space", "veritasium space",
		"space explained", "space in 60 seconds", "quick space facts",
	}
}
