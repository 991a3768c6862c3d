package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"shorts-sampler/internal/models"
)

const progressVersion = 1

// ProgressStore is the durable record of what has been collected: every video
// ID recorded so far, per-tier counts, and the search units that stopped
// producing new videos.
type ProgressStore struct {
	filePath   string
	collected  map[string]struct{}
	tierCounts map[string]int
	exhausted  map[string]struct{}
	updatedAt  time.Time
	mu         sync.RWMutex
}

// progressFile is the on-disk layout of progress.json.
type progressFile struct {
	Version        int            `json:"version"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CollectedIDs   []string       `json:"collected_ids"`
	TierCounts     map[string]int `json:"tier_counts"`
	ExhaustedUnits []string       `json:"exhausted_units"`
}

// NewProgressStore returns an empty store backed by dataDir/progress.json.
// Call Load to pick up state from a previous run.
func NewProgressStore(dataDir string) *ProgressStore {
	return &ProgressStore{
		filePath:   filepath.Join(dataDir, "progress.json"),
		collected:  make(map[string]struct{}),
		tierCounts: make(map[string]int),
		exhausted:  make(map[string]struct{}),
	}
}

func (ps *ProgressStore) Path() string {
	return ps.filePath
}

// Load replaces the in-memory state with the persisted one. A missing file is
// a first run and leaves the store empty.
func (ps *ProgressStore) Load() error {
	var pf progressFile
	found, err := ReadJSON(ps.filePath, &pf)
	if err != nil {
		return fmt.Errorf("failed to load progress: %w", err)
	}

	collected := make(map[string]struct{}, len(pf.CollectedIDs))
	tierCounts := make(map[string]int, len(pf.TierCounts))
	exhausted := make(map[string]struct{}, len(pf.ExhaustedUnits))

	if found {
		for _, id := range pf.CollectedIDs {
			if _, dup := collected[id]; dup {
				return fmt.Errorf("%w: %s lists video %s twice", ErrCorruptCheckpoint, ps.filePath, id)
			}
			collected[id] = struct{}{}
		}
		total := 0
		for tier, n := range pf.TierCounts {
			if n < 0 {
				return fmt.Errorf("%w: %s has negative count for tier %s", ErrCorruptCheckpoint, ps.filePath, tier)
			}
			tierCounts[tier] = n
			total += n
		}
		if total != len(collected) {
			return fmt.Errorf("%w: %s tier counts sum to %d but %d ids are recorded",
				ErrCorruptCheckpoint, ps.filePath, total, len(collected))
		}
		for _, key := range pf.ExhaustedUnits {
			exhausted[key] = struct{}{}
		}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.collected = collected
	ps.tierCounts = tierCounts
	ps.exhausted = exhausted
	ps.updatedAt = pf.UpdatedAt
	return nil
}

// Save writes the current state atomically.
func (ps *ProgressStore) Save() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	pf := progressFile{
		Version:        progressVersion,
		UpdatedAt:      time.Now().UTC(),
		CollectedIDs:   sortedKeys(ps.collected),
		TierCounts:     make(map[string]int, len(ps.tierCounts)),
		ExhaustedUnits: sortedKeys(ps.exhausted),
	}
	for tier, n := range ps.tierCounts {
		pf.TierCounts[tier] = n
	}

	if err := WriteJSONAtomic(ps.filePath, pf); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	ps.updatedAt = pf.UpdatedAt
	return nil
}

// IsDuplicate reports whether the video ID has already been recorded.
func (ps *ProgressStore) IsDuplicate(videoID string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.collected[videoID]
	return ok
}

func (ps *ProgressStore) IsExhausted(unitKey string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.exhausted[unitKey]
	return ok
}

// Record adds the record's ID and bumps its tier count. It does not persist;
// the caller checkpoints with Save.
func (ps *ProgressStore) Record(rec *models.VideoRecord) error {
	if rec == nil || rec.VideoID == "" {
		return fmt.Errorf("record requires a video ID")
	}
	if rec.Tier == "" {
		return fmt.Errorf("record %s has no tier", rec.VideoID)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.collected[rec.VideoID]; ok {
		return fmt.Errorf("record %s: %w", rec.VideoID, ErrAlreadyRecorded)
	}
	ps.collected[rec.VideoID] = struct{}{}
	ps.tierCounts[rec.Tier]++
	return nil
}

func (ps *ProgressStore) MarkExhausted(unitKey string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.exhausted[unitKey] = struct{}{}
}

func (ps *ProgressStore) TierCount(tier string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.tierCounts[tier]
}

func (ps *ProgressStore) CollectedCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.collected)
}

func (ps *ProgressStore) ExhaustedCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.exhausted)
}

// CollectedIDs returns a sorted copy of every recorded ID.
func (ps *ProgressStore) CollectedIDs() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return sortedKeys(ps.collected)
}

// UpdatedAt is the time of the last successful Save (or of the loaded file).
func (ps *ProgressStore) UpdatedAt() time.Time {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.updatedAt
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
