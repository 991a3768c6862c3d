package collector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"shorts-sampler/internal/models"
	"shorts-sampler/shared/config"
	"shorts-sampler/shared/features"
	"shorts-sampler/shared/logger"
	"shorts-sampler/shared/quota"
	"shorts-sampler/shared/storage"

	"go.uber.org/zap"
)

// maxDetailBatch is the most IDs videos.list accepts in one call.
const maxDetailBatch = 50

// Client is the YouTube API surface the engine needs.
type Client interface {
	Search(ctx context.Context, query models.SearchQuery) ([]models.SearchResult, error)
	GetDetails(ctx context.Context, videoIDs []string) ([]*models.VideoDetail, error)
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeDone           Outcome = "DONE"
	OutcomeQuotaExhausted Outcome = "QUOTA_EXHAUSTED"
	OutcomeFailed         Outcome = "FAILED"
	OutcomeCancelled      Outcome = "CANCELLED"
)

// State is the engine's position inside an iteration.
type State string

const (
	StateRunning       State = "RUNNING"
	StatePlanning      State = "PLANNING"
	StateSearching     State = "SEARCHING"
	StateFiltering     State = "FILTERING"
	StateDetailFetch   State = "DETAIL_FETCH"
	StateRecording     State = "RECORDING"
	StateCheckpointing State = "CHECKPOINTING"
)

// Rejection reasons reported to the observer.
const (
	RejectOutOfRange  = "out_of_range"
	RejectNotShort    = "not_short"
	RejectUnavailable = "unavailable"
	RejectTierFull    = "tier_full"
)

// Observer receives engine events. Implementations must not block.
type Observer interface {
	StateChanged(state State)
	SearchCompleted(unit SearchUnit, returned, fresh int)
	DetailsFetched(count int)
	RecordAccepted(rec *models.VideoRecord)
	CandidateRejected(tier, reason string)
	UnitExhausted(unit SearchUnit)
	QuotaChanged(used, limit int)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State) {}
func (nopObserver) SearchCompleted(SearchUnit, int, int) {}
func (nopObserver) DetailsFetched(int) {}
func (nopObserver) RecordAccepted(*models.VideoRecord) {}
func (nopObserver) CandidateRejected(string, string) {}
func (nopObserver) UnitExhausted(SearchUnit) {}
func (nopObserver) QuotaChanged(int, int) {}

// Stats counts what a single run did.
type Stats struct {
	Searches       int
	DetailsFetched int
	Recorded       int
	Duplicates     int
	Rejected       int
	UnitsExhausted int
	QuotaSpent     int
}

// Result is the summary of a finished run.
type Result struct {
	Outcome  Outcome
	Err      error
	Stats    Stats
	Duration time.Duration
}

// Options tune an Engine. Zero values are fine.
type Options struct {
	Observer Observer
	Rand     *rand.Rand
	Now      func() time.Time
}

// Engine runs the collection loop. It is single-threaded: one API call is
// outstanding at a time and state is checkpointed at the end of every
// iteration, so a process stopped between iterations resumes cleanly.
type Engine struct {
	cfg      config.SamplerConfig
	client   Client
	quota    *quota.Tracker
	progress *storage.ProgressStore
	archive  *storage.RecordArchive
	planner  *Planner
	observer Observer
	now      func() time.Time

	records  []*models.VideoRecord
	rejected map[string]map[string]struct{}
	stats    Stats
}

func NewEngine(cfg config.SamplerConfig, client Client, tracker *quota.Tracker,
	progress *storage.ProgressStore, archive *storage.RecordArchive, opts Options) *Engine {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		client:   client,
		quota:    tracker,
		progress: progress,
		archive:  archive,
		planner:  NewPlanner(cfg, progress, opts.Rand),
		observer: opts.Observer,
		now:      opts.Now,
		rejected: make(map[string]map[string]struct{}),
	}
}

// Open loads the checkpoints and reconciles the record archive with the
// progress file. Progress is authoritative: archived records it does not
// list are pruned.
func (e *Engine) Open(ctx context.Context) error {
	if err := e.progress.Load(); err != nil {
		return err
	}
	if err := e.quota.Load(); err != nil {
		return err
	}

	pruned, err := e.archive.Prune(ctx, e.progress.IsDuplicate)
	if err != nil {
		return fmt.Errorf("failed to reconcile record archive: %w", err)
	}
	if pruned > 0 {
		logger.Log.Warn("pruned archived records missing from progress",
			zap.Int("pruned", pruned))
	}

	records, err := e.archive.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read record archive: %w", err)
	}
	e.records = records

	if missing := e.progress.CollectedCount() - len(records); missing > 0 {
		logger.Log.Warn("collected videos missing from record archive; they will not be exported",
			zap.Int("missing", missing))
	}

	logger.Log.Info("collection state loaded",
		zap.Int("collected", e.progress.CollectedCount()),
		zap.Int("exhausted_units", e.progress.ExhaustedCount()),
		zap.String("quota_date", e.quota.Date()),
		zap.Int("quota_used", e.quota.Used()),
		zap.Int("quota_remaining", e.quota.Remaining()))
	e.observer.QuotaChanged(e.quota.Used(), e.quota.Limit())
	return nil
}

// Records returns every record collected so far, across runs.
func (e *Engine) Records() []*models.VideoRecord {
	return append([]*models.VideoRecord(nil), e.records...)
}

func (e *Engine) Planner() *Planner {
	return e.planner
}

// Run loops until the planner runs out of work, the quota is spent, a call
// fails or ctx is cancelled. The returned error is non-nil only for FAILED.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := e.now()
	e.stats = Stats{}
	usedAtStart := e.quota.Used()

	finish := func(outcome Outcome, err error) (Result, error) {
		e.stats.QuotaSpent = e.quota.Used() - usedAtStart
		if e.stats.QuotaSpent < 0 {
			// the day rolled over during the run
			e.stats.QuotaSpent = e.quota.Used()
		}
		res := Result{Outcome: outcome, Err: err, Stats: e.stats, Duration: e.now().Sub(start)}
		if outcome == OutcomeFailed {
			return res, err
		}
		return res, nil
	}

	for {
		e.setState(StateRunning)
		if err := ctx.Err(); err != nil {
			return finish(OutcomeCancelled, err)
		}

		e.setState(StatePlanning)
		unit := e.planner.Next()
		if unit == nil {
			logger.Log.Info("no search units left")
			return finish(OutcomeDone, nil)
		}

		if _, err := e.quota.RolloverIfNewDay(); err != nil {
			return finish(OutcomeFailed, err)
		}
		if !e.quota.CanAfford(e.cfg.Quota.SearchCost) {
			logger.Log.Info("not enough quota for another search",
				zap.Int("remaining", e.quota.Remaining()),
				zap.Int("search_cost", e.cfg.Quota.SearchCost))
			return finish(OutcomeQuotaExhausted, quota.ErrQuotaExceeded)
		}

		outcome, err := e.iterate(ctx, *unit)
		if outcome != "" {
			return finish(outcome, err)
		}
	}
}

// iterate runs one search unit through search, filtering, details, recording
// and checkpointing. An empty outcome means the loop continues.
func (e *Engine) iterate(ctx context.Context, unit SearchUnit) (Outcome, error) {
	log := logger.Log.With(
		zap.String("tier", unit.Tier.Name),
		zap.String("keyword", unit.Keyword),
		zap.Int("days_back", unit.Window.DaysBack))

	// SEARCHING: the search cost is persisted before the call is made.
	e.setState(StateSearching)
	if err := e.debit(e.cfg.Quota.SearchCost, CallSearch); err != nil {
		return e.quotaOrFail(err)
	}
	now := e.now()
	results, err := e.client.Search(ctx, models.SearchQuery{
		Keyword:           unit.Keyword,
		PublishedAfter:    unit.PublishedAfter(now),
		PublishedBefore:   now.UTC(),
		Order:             unit.Tier.SearchOrder,
		MaxResults:        int64(e.cfg.MaxResultsPerSearch),
		RelevanceLanguage: e.cfg.RelevanceLanguage,
	})
	e.stats.Searches++
	if err != nil {
		if quota.IsQuotaExceeded(err) {
			log.Info("API reports the daily quota is spent", zap.Error(err))
			return e.checkpointThen(ctx, nil, OutcomeQuotaExhausted, err)
		}
		return e.callFailed(ctx, CallSearch, unit, err)
	}

	// FILTERING
	e.setState(StateFiltering)
	fresh, dropped := FilterNew(e.progress, results)
	e.stats.Duplicates += dropped
	candidates := e.withoutRejected(unit.Tier.Name, fresh)
	if e.cfg.MaxDetailsPerSearch > 0 && len(candidates) > e.cfg.MaxDetailsPerSearch {
		candidates = candidates[:e.cfg.MaxDetailsPerSearch]
	}
	e.observer.SearchCompleted(unit, len(results), len(candidates))
	log.Info("search completed",
		zap.Int("results", len(results)),
		zap.Int("duplicates", dropped),
		zap.Int("candidates", len(candidates)))

	if len(candidates) == 0 {
		e.markExhausted(unit)
		return e.checkpoint(ctx, nil)
	}

	// DETAIL_FETCH
	e.setState(StateDetailFetch)
	quotaShort := false
	if cost := e.cfg.Quota.DetailCost; cost > 0 {
		affordable := e.quota.Remaining() / cost
		if affordable == 0 {
			log.Info("no quota left for video details")
			return e.checkpointThen(ctx, nil, OutcomeQuotaExhausted, quota.ErrQuotaExceeded)
		}
		if affordable < len(candidates) {
			log.Info("quota covers only part of the candidates",
				zap.Int("affordable", affordable),
				zap.Int("candidates", len(candidates)))
			candidates = candidates[:affordable]
			quotaShort = true
		}
	}

	details, err := e.fetchDetails(ctx, unit, candidates)
	if err != nil {
		if quota.IsQuotaExceeded(err) {
			log.Info("quota spent before details were fetched", zap.Error(err))
			return e.checkpointThen(ctx, nil, OutcomeQuotaExhausted, err)
		}
		return e.callFailed(ctx, CallDetails, unit, err)
	}

	// RECORDING
	e.setState(StateRecording)
	accepted, err := e.accept(unit, candidates, details, now)
	if err != nil {
		return OutcomeFailed, err
	}
	log.Info("candidates processed",
		zap.Int("details", len(details)),
		zap.Int("recorded", len(accepted)),
		zap.Int("tier_count", e.progress.TierCount(unit.Tier.Name)),
		zap.Int("tier_target", unit.Tier.TargetCount))

	if len(accepted) == 0 && !quotaShort {
		e.markExhausted(unit)
	}

	if quotaShort {
		return e.checkpointThen(ctx, accepted, OutcomeQuotaExhausted, quota.ErrQuotaExceeded)
	}
	return e.checkpoint(ctx, accepted)
}

func (e *Engine) fetchDetails(ctx context.Context, unit SearchUnit, candidates []models.SearchResult) ([]*models.VideoDetail, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.VideoID
	}

	var details []*models.VideoDetail
	for startIdx := 0; startIdx < len(ids); startIdx += maxDetailBatch {
		end := min(startIdx+maxDetailBatch, len(ids))
		batch := ids[startIdx:end]

		if err := e.debit(e.cfg.Quota.DetailCost*len(batch), CallDetails); err != nil {
			return nil, err
		}
		got, err := e.client.GetDetails(ctx, batch)
		if err != nil {
			return nil, err
		}
		details = append(details, got...)
	}

	e.stats.DetailsFetched += len(details)
	e.observer.DetailsFetched(len(details))
	return details, nil
}

// accept applies the Shorts and tier filters to the fetched details and
// records what passes. Candidates are processed in search order.
func (e *Engine) accept(unit SearchUnit, candidates []models.SearchResult, details []*models.VideoDetail, now time.Time) ([]*models.VideoRecord, error) {
	byID := make(map[string]*models.VideoDetail, len(details))
	for _, d := range details {
		if d != nil {
			byID[d.ID] = d
		}
	}

	var accepted []*models.VideoRecord
	for _, c := range candidates {
		d, ok := byID[c.VideoID]
		if !ok {
			e.reject(unit.Tier.Name, c.VideoID, RejectUnavailable)
			continue
		}
		if !e.isShort(d) {
			e.reject(unit.Tier.Name, d.ID, RejectNotShort)
			continue
		}

		tier, ok := e.assignTier(unit.Tier, d.ViewCount)
		if !ok {
			e.reject(unit.Tier.Name, d.ID, RejectOutOfRange)
			continue
		}
		if e.planner.Deficit(tier) <= 0 {
			e.observer.CandidateRejected(tier.Name, RejectTierFull)
			continue
		}

		rec := features.BuildRecord(d, tier.Name, unit.Keyword, now)
		if err := e.progress.Record(rec); err != nil {
			return accepted, fmt.Errorf("failed to record video %s: %w", d.ID, err)
		}
		accepted = append(accepted, rec)
		e.stats.Recorded++
		e.observer.RecordAccepted(rec)
	}
	return accepted, nil
}

func (e *Engine) isShort(d *models.VideoDetail) bool {
	if e.cfg.MaxDurationSeconds <= 0 {
		return true
	}
	return d.DurationSeconds > 0 && d.DurationSeconds <= e.cfg.MaxDurationSeconds
}

// assignTier returns the tier a candidate with views belongs to. Normally
// that is the active tier or nothing; with cross-tier assignment an
// out-of-range candidate goes to the first configured tier whose range
// matches and which still needs records.
func (e *Engine) assignTier(active config.TierConfig, views int64) (config.TierConfig, bool) {
	if active.Contains(views) {
		return active, true
	}
	if !e.cfg.CrossTierAssignment {
		return config.TierConfig{}, false
	}
	for _, t := range e.cfg.Tiers {
		if t.Contains(views) && e.planner.Deficit(t) > 0 {
			return t, true
		}
	}
	return config.TierConfig{}, false
}

func (e *Engine) reject(tier, videoID, reason string) {
	set, ok := e.rejected[tier]
	if !ok {
		set = make(map[string]struct{})
		e.rejected[tier] = set
	}
	set[videoID] = struct{}{}
	e.stats.Rejected++
	e.observer.CandidateRejected(tier, reason)
}

// withoutRejected drops videos already rejected for tier during this process.
func (e *Engine) withoutRejected(tier string, results []models.SearchResult) []models.SearchResult {
	set := e.rejected[tier]
	if len(set) == 0 {
		return results
	}
	out := results[:0:0]
	for _, r := range results {
		if _, ok := set[r.VideoID]; ok {
			e.stats.Duplicates++
			continue
		}
		out = append(out, r)
	}
	return out
}

func (e *Engine) markExhausted(unit SearchUnit) {
	e.progress.MarkExhausted(unit.Key())
	e.stats.UnitsExhausted++
	e.observer.UnitExhausted(unit)
	logger.Log.Debug("search unit exhausted", zap.String("unit", unit.Key()))
}

func (e *Engine) debit(cost int, operation string) error {
	if err := e.quota.Debit(cost, operation); err != nil {
		return err
	}
	e.observer.QuotaChanged(e.quota.Used(), e.quota.Limit())
	return nil
}

// checkpoint archives new records, then saves progress and quota, in that
// order. An archive row without a progress entry is pruned on the next Open.
func (e *Engine) checkpoint(ctx context.Context, accepted []*models.VideoRecord) (Outcome, error) {
	e.setState(StateCheckpointing)
	// The archive write must not be abandoned halfway through a cancelled
	// context; the iteration is already committed in memory.
	if err := e.archive.Append(context.WithoutCancel(ctx), accepted); err != nil {
		return OutcomeFailed, fmt.Errorf("checkpoint failed: %w", err)
	}
	if err := e.progress.Save(); err != nil {
		return OutcomeFailed, fmt.Errorf("checkpoint failed: %w", err)
	}
	if err := e.quota.Save(); err != nil {
		return OutcomeFailed, fmt.Errorf("checkpoint failed: %w", err)
	}
	e.records = append(e.records, accepted...)
	return "", nil
}

func (e *Engine) checkpointThen(ctx context.Context, accepted []*models.VideoRecord, outcome Outcome, cause error) (Outcome, error) {
	if o, err := e.checkpoint(ctx, accepted); o != "" {
		return o, err
	}
	return outcome, cause
}

func (e *Engine) quotaOrFail(err error) (Outcome, error) {
	if quota.IsQuotaExceeded(err) {
		return OutcomeQuotaExhausted, err
	}
	return OutcomeFailed, err
}

func (e *Engine) callFailed(ctx context.Context, call string, unit SearchUnit, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeCancelled, ctx.Err()
	}
	callErr := &ExternalCallError{Call: call, Unit: unit, Err: err}
	logger.Log.Error("external call failed",
		zap.String("call", call),
		zap.String("unit", unit.Key()),
		zap.Error(err))
	return OutcomeFailed, callErr
}

func (e *Engine) setState(s State) {
	e.observer.StateChanged(s)
}
