// Package quota tracks the daily YouTube Data API budget.
package quota

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"shorts-sampler/shared/logger"
	"shorts-sampler/shared/storage"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// ErrQuotaExceeded is returned by Debit when the cost does not fit into the
// remaining budget, and wraps API rejections for a spent daily quota. It ends
// a run; it is not retried.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// IsQuotaExceeded returns true if the error is an ErrQuotaExceeded error.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// State is the persisted quota_status.json.
type State struct {
	Date      string `json:"date"`
	UnitsUsed int    `json:"units_used"`
}

// Tracker accounts API cost against a daily limit. The accounting day is
// evaluated in a fixed time zone so it lines up with the API's own reset, and
// state is written to disk after every change.
type Tracker struct {
	filePath   string
	dailyLimit int
	reserve    int
	location   *time.Location
	now        func() time.Time
	state      State
	mu         sync.Mutex
}

// NewTracker creates a tracker backed by dataDir/quota_status.json. reserve
// units are never handed out.
func NewTracker(dataDir string, dailyLimit, reserve int, loc *time.Location) *Tracker {
	if dailyLimit <= 0 {
		dailyLimit = 10000 // YouTube API v3 default
	}
	if reserve < 0 || reserve >= dailyLimit {
		reserve = 0
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		filePath:   filepath.Join(dataDir, "quota_status.json"),
		dailyLimit: dailyLimit,
		reserve:    reserve,
		location:   loc,
		now:        time.Now,
	}
}

// SetClock overrides the wall clock, for tests and simulations.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *Tracker) Path() string {
	return t.filePath
}

// Load reads the persisted state and applies a day rollover if the stored day
// is not today. Usage above the daily limit is clamped to the limit.
func (t *Tracker) Load() error {
	var st State
	found, err := storage.ReadJSON(t.filePath, &st)
	if err != nil {
		return fmt.Errorf("failed to load quota status: %w", err)
	}
	if found {
		if _, perr := time.Parse(dateLayout, st.Date); perr != nil {
			return fmt.Errorf("%w: %s has invalid date %q", storage.ErrCorruptCheckpoint, t.filePath, st.Date)
		}
		if st.UnitsUsed < 0 {
			return fmt.Errorf("%w: %s has negative units_used", storage.ErrCorruptCheckpoint, t.filePath)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if found {
		t.state = st
	} else {
		t.state = State{Date: t.today()}
	}
	rolled, err := t.rollover()
	if err != nil || rolled {
		return err
	}
	if t.state.UnitsUsed > t.dailyLimit {
		// usually a daily_limit lowered since the file was written
		logger.Log.Warn("persisted quota usage exceeds the daily limit, clamping",
			zap.String("date", t.state.Date),
			zap.Int("units_used", t.state.UnitsUsed),
			zap.Int("daily_limit", t.dailyLimit))
		t.state.UnitsUsed = t.dailyLimit
		return t.save()
	}
	return nil
}

// RolloverIfNewDay resets usage when the accounting day has changed since the
// state was last written. It reports whether a reset happened.
func (t *Tracker) RolloverIfNewDay() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollover()
}

func (t *Tracker) rollover() (bool, error) {
	today := t.today()
	if t.state.Date == today {
		return false, nil
	}
	logger.Log.Info("quota day rolled over",
		zap.String("previous_date", t.state.Date),
		zap.String("date", today),
		zap.Int("previous_units_used", t.state.UnitsUsed))
	t.state = State{Date: today}
	return true, t.save()
}

// Remaining is the number of units that may still be spent today.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining()
}

func (t *Tracker) remaining() int {
	r := t.dailyLimit - t.reserve - t.state.UnitsUsed
	if r < 0 {
		return 0
	}
	return r
}

func (t *Tracker) CanAfford(cost int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cost <= t.remaining()
}

// Debit charges cost against today's budget and persists the new total before
// returning.
func (t *Tracker) Debit(cost int, operation string) error {
	if cost < 0 {
		return fmt.Errorf("negative quota cost %d", cost)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.rollover(); err != nil {
		return err
	}
	if cost > t.remaining() {
		return fmt.Errorf("%w: need %d for %s, %d remaining (used %d/%d, reserve %d)",
			ErrQuotaExceeded, cost, operation, t.remaining(), t.state.UnitsUsed, t.dailyLimit, t.reserve)
	}

	t.state.UnitsUsed += cost
	if err := t.save(); err != nil {
		return err
	}

	logger.Log.Debug("quota debited",
		zap.String("operation", operation),
		zap.Int("cost", cost),
		zap.Int("used", t.state.UnitsUsed),
		zap.Int("limit", t.dailyLimit),
		zap.Float64("percent", float64(t.state.UnitsUsed)/float64(t.dailyLimit)*100))
	return nil
}

// Save persists the current state.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save()
}

func (t *Tracker) save() error {
	if err := storage.WriteJSONAtomic(t.filePath, t.state); err != nil {
		return fmt.Errorf("failed to save quota status: %w", err)
	}
	return nil
}

func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.UnitsUsed
}

func (t *Tracker) Date() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Date
}

func (t *Tracker) Limit() int {
	return t.dailyLimit
}

func (t *Tracker) Reserve() int {
	return t.reserve
}

// UsagePercentage is the share of the daily limit spent today.
func (t *Tracker) UsagePercentage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.state.UnitsUsed) / float64(t.dailyLimit) * 100
}

// NextReset is the start of the next accounting day.
func (t *Tracker) NextReset() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().In(t.location)
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.location)
}

func (t *Tracker) today() string {
	return t.now().In(t.location).Format(dateLayout)
}
