package collector

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"shorts-sampler/internal/models"
	"shorts-sampler/shared/config"
	"shorts-sampler/shared/quota"
	"shorts-sampler/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type searchResponse struct {
	ids []string
	err error
}

// fakeClient replays canned search responses in order and serves details
// from a fixed catalogue. Searches past the end of the script return nothing.
type fakeClient struct {
	searches   []searchResponse
	catalogue  map[string]*models.VideoDetail
	detailErr  error
	queries    []models.SearchQuery
	detailReqs [][]string
}

func (f *fakeClient) Search(_ context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	call := len(f.queries)
	f.queries = append(f.queries, q)
	if call >= len(f.searches) {
		return nil, nil
	}
	resp := f.searches[call]
	if resp.err != nil {
		return nil, resp.err
	}
	results := make([]models.SearchResult, len(resp.ids))
	for i, id := range resp.ids {
		results[i] = models.SearchResult{VideoID: id, Title: "title " + id}
	}
	return results, nil
}

func (f *fakeClient) GetDetails(_ context.Context, ids []string) ([]*models.VideoDetail, error) {
	f.detailReqs = append(f.detailReqs, append([]string(nil), ids...))
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	var out []*models.VideoDetail
	for _, id := range ids {
		if d, ok := f.catalogue[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func short(id string, views int64) *models.VideoDetail {
	return &models.VideoDetail{
		ID:              id,
		Title:           "Video " + id,
		PublishedAt:     testNow.Add(-72 * time.Hour),
		DurationSeconds: 30,
		ViewCount:       views,
	}
}

func catalogue(details ...*models.VideoDetail) map[string]*models.VideoDetail {
	m := make(map[string]*models.VideoDetail, len(details))
	for _, d := range details {
		m[d.ID] = d
	}
	return m
}

func int64Ptr(v int64) *int64 { return &v }

func lowTier(target int) config.TierConfig {
	return config.TierConfig{Name: "low", MinViews: 1000, MaxViews: int64Ptr(10000), TargetCount: target, SearchOrder: "date"}
}

func testConfig(tiers ...config.TierConfig) config.SamplerConfig {
	return config.SamplerConfig{
		Tiers:       tiers,
		TimeWindows: []config.TimeWindowConfig{{DaysBack: 30, Weight: 1}},
		Keywords:    []string{"mars"},
		Quota: config.QuotaConfig{
			DailyLimit: 10000,
			SearchCost: 100,
			DetailCost: 1,
			Timezone:   "UTC",
		},
		MaxResultsPerSearch: 50,
		MaxDetailsPerSearch: 20,
		MaxDurationSeconds:  60,
		RelevanceLanguage:   "en",
		TierPriority:        config.PriorityDeclaration,
	}
}

type testEnv struct {
	dir      string
	tracker  *quota.Tracker
	progress *storage.ProgressStore
	archive  *storage.RecordArchive
	engine   *Engine
}

func openEnv(t *testing.T, dir string, cfg config.SamplerConfig, client Client, now time.Time) *testEnv {
	t.Helper()
	clock := func() time.Time { return now }

	tracker := quota.NewTracker(dir, cfg.Quota.DailyLimit, cfg.Quota.Reserve, time.UTC)
	tracker.SetClock(clock)
	progress := storage.NewProgressStore(dir)
	archive, err := storage.OpenArchive(dir)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	engine := NewEngine(cfg, client, tracker, progress, archive, Options{
		Rand: rand.New(rand.NewPCG(1, 2)),
		Now:  clock,
	})
	require.NoError(t, engine.Open(context.Background()))

	return &testEnv{dir: dir, tracker: tracker, progress: progress, archive: archive, engine: engine}
}

func writeQuota(t *testing.T, dir, date string, used int) {
	t.Helper()
	require.NoError(t, storage.WriteJSONAtomic(filepath.Join(dir, "quota_status.json"),
		quota.State{Date: date, UnitsUsed: used}))
}

func reloadProgress(t *testing.T, dir string) *storage.ProgressStore {
	t.Helper()
	ps := storage.NewProgressStore(dir)
	require.NoError(t, ps.Load())
	return ps
}

func recordIDs(records []*models.VideoRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.VideoID
	}
	sort.Strings(ids)
	return ids
}

func TestEngineReachesTargetIgnoringDuplicates(t *testing.T) {
	client := &fakeClient{
		searches: []searchResponse{{ids: []string{"a", "b", "a", "c", "d", "b", "e", "c"}}},
		catalogue: catalogue(
			short("a", 1500), short("b", 2000), short("c", 3000), short("d", 4000), short("e", 5000),
		),
	}
	env := openEnv(t, t.TempDir(), testConfig(lowTier(5)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 1, res.Stats.Searches)
	assert.Equal(t, 5, res.Stats.Recorded)
	assert.Equal(t, 3, res.Stats.Duplicates)
	assert.Equal(t, 105, res.Stats.QuotaSpent)

	assert.Equal(t, 5, env.progress.TierCount("low"))
	require.Len(t, client.detailReqs, 1)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, client.detailReqs[0])
	assert.Nil(t, env.engine.Planner().Next(), "a full tier yields no more units")

	ps := reloadProgress(t, env.dir)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ps.CollectedIDs())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, recordIDs(env.engine.Records()))
}

func TestEngineSearchQuery(t *testing.T) {
	client := &fakeClient{}
	env := openEnv(t, t.TempDir(), testConfig(lowTier(5)), client, testNow)

	_, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, client.queries, 1)
	q := client.queries[0]
	assert.Equal(t, "mars", q.Keyword)
	assert.Equal(t, "date", q.Order)
	assert.Equal(t, int64(50), q.MaxResults)
	assert.Equal(t, "en", q.RelevanceLanguage)
	assert.Equal(t, testNow.AddDate(0, 0, -30), q.PublishedAfter)
	assert.Equal(t, testNow, q.PublishedBefore)
}

func TestEngineDiscardsOutOfRange(t *testing.T) {
	client := &fakeClient{
		searches: []searchResponse{
			{ids: []string{"x", "y", "z"}},
			{ids: []string{"x", "y"}},
		},
		catalogue: catalogue(short("x", 500), short("y", 50000), short("z", 2000)),
	}
	env := openEnv(t, t.TempDir(), testConfig(lowTier(5)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome, "the only unit ends up exhausted")
	assert.Equal(t, 2, res.Stats.Rejected)
	assert.Equal(t, 1, res.Stats.UnitsExhausted)

	ps := reloadProgress(t, env.dir)
	assert.Equal(t, 1, ps.TierCount("low"))
	assert.True(t, ps.IsDuplicate("z"))
	assert.False(t, ps.IsDuplicate("x"), "out-of-range videos are not recorded")
	assert.False(t, ps.IsDuplicate("y"))
	assert.True(t, ps.IsExhausted("low|mars|30"))

	assert.Len(t, client.detailReqs, 1, "rejected videos are not fetched twice in one run")
}

func TestEngineDiscardsLongVideos(t *testing.T) {
	long := short("long", 2000)
	long.DurationSeconds = 180
	unknown := short("unknown", 2000)
	unknown.DurationSeconds = 0

	client := &fakeClient{
		searches:  []searchResponse{{ids: []string{"long", "unknown", "ok"}}},
		catalogue: catalogue(long, unknown, short("ok", 2000)),
	}
	env := openEnv(t, t.TempDir(), testConfig(lowTier(5)), client, testNow)

	_, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, env.progress.TierCount("low"))
	assert.True(t, env.progress.IsDuplicate("ok"))
	assert.False(t, env.progress.IsDuplicate("long"))
	assert.False(t, env.progress.IsDuplicate("unknown"))
}

func TestEngineCrossTierAssignment(t *testing.T) {
	high := config.TierConfig{Name: "high", MinViews: 10000, TargetCount: 1}
	cfg := testConfig(lowTier(1), high)
	cfg.CrossTierAssignment = true

	client := &fakeClient{
		searches:  []searchResponse{{ids: []string{"big", "small"}}},
		catalogue: catalogue(short("big", 50000), short("small", 2000)),
	}
	env := openEnv(t, t.TempDir(), cfg, client, testNow)

	res, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 1, res.Stats.Searches)
	assert.Equal(t, 1, env.progress.TierCount("low"))
	assert.Equal(t, 1, env.progress.TierCount("high"))

	tiers := map[string]string{}
	for _, r := range env.engine.Records() {
		tiers[r.VideoID] = r.Tier
	}
	assert.Equal(t, map[string]string{"big": "high", "small": "low"}, tiers)
}

func TestEngineQuotaExhaustedBeforeSearch(t *testing.T) {
	dir := t.TempDir()
	writeQuota(t, dir, "2025-06-01", 9950)
	client := &fakeClient{}
	env := openEnv(t, dir, testConfig(lowTier(5)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuotaExhausted, res.Outcome)
	assert.True(t, quota.IsQuotaExceeded(res.Err))
	assert.Empty(t, client.queries, "nothing is spent when a search is unaffordable")
	assert.Equal(t, 9950, env.tracker.Used())
}

func TestEngineQuotaExhaustedDuringDetails(t *testing.T) {
	dir := t.TempDir()
	writeQuota(t, dir, "2025-06-01", 9895)

	ids := []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8"}
	var details []*models.VideoDetail
	for _, id := range ids {
		details = append(details, short(id, 2000))
	}
	client := &fakeClient{
		searches:  []searchResponse{{ids: ids}},
		catalogue: catalogue(details...),
	}
	env := openEnv(t, dir, testConfig(lowTier(10)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuotaExhausted, res.Outcome)

	require.Len(t, client.detailReqs, 1)
	assert.Equal(t, ids[:5], client.detailReqs[0])
	assert.Equal(t, 10000, env.tracker.Used())
	assert.LessOrEqual(t, env.tracker.Used(), env.tracker.Limit())

	ps := reloadProgress(t, dir)
	assert.Equal(t, 5, ps.TierCount("low"), "what was fetched is recorded and checkpointed")
	assert.False(t, ps.IsExhausted("low|mars|30"))
}

func TestEngineSearchFailurePreservesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	apiErr := errors.New("403 forbidden")
	client := &fakeClient{
		searches: []searchResponse{
			{ids: []string{"a", "b"}},
			{err: apiErr},
		},
		catalogue: catalogue(short("a", 2000), short("b", 3000)),
	}
	env := openEnv(t, dir, testConfig(lowTier(5)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, IsExternalCallFailure(err))
	assert.ErrorIs(t, err, apiErr)

	var callErr *ExternalCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, CallSearch, callErr.Call)
	assert.Equal(t, "low|mars|30", callErr.Unit.Key())

	ps := reloadProgress(t, dir)
	assert.Equal(t, []string{"a", "b"}, ps.CollectedIDs())

	var st quota.State
	_, err = storage.ReadJSON(filepath.Join(dir, "quota_status.json"), &st)
	require.NoError(t, err)
	assert.Equal(t, 202, st.UnitsUsed, "the failed search was still charged")
}

func TestEngineDetailFailure(t *testing.T) {
	client := &fakeClient{
		searches:  []searchResponse{{ids: []string{"a"}}},
		detailErr: errors.New("backend error"),
	}
	env := openEnv(t, t.TempDir(), testConfig(lowTier(5)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	var callErr *ExternalCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, CallDetails, callErr.Call)
	assert.Equal(t, 0, env.progress.CollectedCount())
}

func apiQuotaError() error {
	apiErr := &googleapi.Error{
		Code:   403,
		Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}},
	}
	return fmt.Errorf("%w: %w", quota.ErrQuotaExceeded, apiErr)
}

func TestEngineAPIQuotaExceededOnSearch(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{
		searches: []searchResponse{
			{ids: []string{"a"}},
			{err: apiQuotaError()},
		},
		catalogue: catalogue(short("a", 2000)),
	}
	env := openEnv(t, dir, testConfig(lowTier(5)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuotaExhausted, res.Outcome)
	assert.True(t, quota.IsQuotaExceeded(res.Err))
	assert.False(t, IsExternalCallFailure(res.Err))

	var apiErr *googleapi.Error
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Equal(t, 403, apiErr.Code)

	ps := reloadProgress(t, dir)
	assert.Equal(t, []string{"a"}, ps.CollectedIDs())
	assert.False(t, ps.IsExhausted("low|mars|30"), "the unit is retried after the reset")
}

func TestEngineAPIQuotaExceededOnDetails(t *testing.T) {
	client := &fakeClient{
		searches:  []searchResponse{{ids: []string{"a"}}},
		detailErr: apiQuotaError(),
	}
	env := openEnv(t, t.TempDir(), testConfig(lowTier(5)), client, testNow)

	res, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuotaExhausted, res.Outcome)
	assert.Equal(t, 0, env.progress.CollectedCount())
	assert.False(t, env.progress.IsExhausted("low|mars|30"))
}

func TestEngineCancelled(t *testing.T) {
	client := &fakeClient{}
	env := openEnv(t, t.TempDir(), testConfig(lowTier(5)), client, testNow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Empty(t, client.queries)
}

func TestEngineResumesAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(lowTier(6))
	cfg.Quota.DailyLimit = 250

	day1 := &fakeClient{
		searches: []searchResponse{
			{ids: []string{"a", "b", "c"}},
			{ids: []string{"c", "d"}},
		},
		catalogue: catalogue(short("a", 2000), short("b", 2000), short("c", 2000), short("d", 2000)),
	}
	first := openEnv(t, dir, cfg, day1, testNow)
	res, err := first.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuotaExhausted, res.Outcome)
	assert.Equal(t, 204, first.tracker.Used())
	require.NoError(t, first.archive.Close())

	day2 := &fakeClient{
		searches: []searchResponse{
			{ids: []string{"a", "b", "e", "f", "g"}},
		},
		catalogue: catalogue(short("e", 2000), short("f", 2000), short("g", 2000)),
	}
	second := openEnv(t, dir, cfg, day2, testNow.Add(24*time.Hour))
	assert.Equal(t, 0, second.tracker.Used(), "a new day starts with a fresh budget")
	assert.Equal(t, 4, second.progress.CollectedCount())

	res, err = second.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 2, res.Stats.Duplicates)

	ids := reloadProgress(t, dir).CollectedIDs()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids)
	assert.Equal(t, ids, recordIDs(second.engine.Records()))

	archived, err := second.archive.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids, recordIDs(archived))
}

func TestEngineOpenPrunesOrphanedArchiveRows(t *testing.T) {
	dir := t.TempDir()
	archive, err := storage.OpenArchive(dir)
	require.NoError(t, err)
	require.NoError(t, archive.Append(context.Background(), []*models.VideoRecord{
		{VideoID: "orphan", Tier: "low"},
	}))
	require.NoError(t, archive.Close())

	env := openEnv(t, dir, testConfig(lowTier(5)), &fakeClient{}, testNow)
	assert.Empty(t, env.engine.Records())

	n, err := env.archive.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngineOpenCorruptProgress(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, storage.WriteJSONAtomic(filepath.Join(dir, "progress.json"),
		map[string]any{"collected_ids": []string{"a"}, "tier_counts": map[string]int{}}))

	tracker := quota.NewTracker(dir, 10000, 0, time.UTC)
	archive, err := storage.OpenArchive(dir)
	require.NoError(t, err)
	defer archive.Close()

	engine := NewEngine(testConfig(lowTier(5)), &fakeClient{}, tracker, storage.NewProgressStore(dir), archive, Options{})
	err = engine.Open(context.Background())
	require.Error(t, err)
	assert.True(t, storage.IsCorruptCheckpoint(err))
}
