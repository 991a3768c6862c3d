package shortssampler

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shorts-sampler/agents/shorts-sampler/collector"
	"shorts-sampler/internal/models"
	"shorts-sampler/shared/config"
	"shorts-sampler/shared/monitoring"
	"shorts-sampler/shared/quota"
	"shorts-sampler/shared/scheduler"
	"shorts-sampler/shared/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClient struct {
	ids       []string
	views     map[string]int64
	searchErr error
	searches  int
}

func (f *fakeClient) Search(_ context.Context, _ models.SearchQuery) ([]models.SearchResult, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	results := make([]models.SearchResult, len(f.ids))
	for i, id := range f.ids {
		results[i] = models.SearchResult{VideoID: id}
	}
	return results, nil
}

func (f *fakeClient) GetDetails(_ context.Context, ids []string) ([]*models.VideoDetail, error) {
	out := make([]*models.VideoDetail, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.VideoDetail{
			ID:              id,
			Title:           "Is this " + id + "? 🚀",
			PublishedAt:     testNow.Add(-48 * time.Hour),
			DurationSeconds: 40,
			ViewCount:       f.views[id],
		})
	}
	return out, nil
}

const testConfigYAML = `
sampler:
  tiers:
    - name: low
      min_views: 1000
      max_views: 10000
      target_count: 3
  time_windows:
    - days_back: 30
      weight: 1
  keywords: [mars]
  quota:
    timezone: UTC
`

type recordedEvents struct {
	successes []string
	partials  []error
	criticals []error
}

func (r *recordedEvents) events() *scheduler.AgentEvents {
	return &scheduler.AgentEvents{
		OnSuccess: func(m scheduler.Metrics, _ time.Duration) {
			r.successes = append(r.successes, m.GetSummary())
		},
		OnPartialFailure: func(err error, _ time.Duration) {
			r.partials = append(r.partials, err)
		},
		OnCriticalFailure: func(err error, _ time.Duration) {
			r.criticals = append(r.criticals, err)
		},
	}
}

func newTestAgent(t *testing.T, client collector.Client, metrics *monitoring.Metrics) (*SamplerAgent, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfigYAML))
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Sampler.DataDir = filepath.Join(dir, "data")
	cfg.Sampler.ExportDir = filepath.Join(dir, "export")
	cfg.Sampler.DatasetName = "shorts"

	var out bytes.Buffer
	agent := NewSamplerAgent(cfg, metrics)
	agent.client = client
	agent.out = &out
	agent.now = func() time.Time { return testNow }
	return agent, &out
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunMetricsGetSummary(t *testing.T) {
	m := RunMetrics{
		Outcome:      collector.OutcomeQuotaExhausted,
		Recorded:     12,
		TotalRecords: 40,
		TotalTarget:  1000,
		QuotaUsed:    9800,
		QuotaLimit:   10000,
	}
	assert.Equal(t, "QUOTA_EXHAUSTED: 12 new videos, 40/1000 collected, quota 9800/10000", m.GetSummary())
}

func TestNewSamplerAgent(t *testing.T) {
	agent, _ := newTestAgent(t, nil, nil)
	assert.Equal(t, "Shorts Sampler", agent.Name())
	assert.Nil(t, agent.LastResult())
}

func TestRunOnceUninitialized(t *testing.T) {
	agent, _ := newTestAgent(t, nil, nil)
	agent.client = nil
	assert.Error(t, agent.RunOnce(context.Background(), nil))
}

func TestRunOnceCollectsAndExports(t *testing.T) {
	client := &fakeClient{
		ids:   []string{"a", "b", "c", "d", "e"},
		views: map[string]int64{"a": 1500, "b": 50, "c": 2500, "d": 3500, "e": 4500},
	}
	metrics := monitoring.NewMetrics()
	agent, out := newTestAgent(t, client, metrics)
	rec := &recordedEvents{}

	require.NoError(t, agent.RunOnce(context.Background(), rec.events()))

	res := agent.LastResult()
	require.NotNil(t, res)
	assert.Equal(t, collector.OutcomeDone, res.Outcome)
	assert.Equal(t, 3, res.Stats.Recorded)

	require.Len(t, rec.successes, 1)
	assert.Contains(t, rec.successes[0], "DONE: 3 new videos, 3/3 collected")
	assert.Empty(t, rec.criticals)

	rows := readCSV(t, filepath.Join(agent.config.Sampler.ExportDir, "shorts.csv"))
	require.Len(t, rows, 4, "header plus three records")
	assert.Equal(t, "video_id", rows[0][0])

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Recorded.WithLabelValues("low")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.TierCollected.WithLabelValues("low")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.TierTarget.WithLabelValues("low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Searches.WithLabelValues("low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rejected.WithLabelValues("low", collector.RejectOutOfRange)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("DONE")))

	summary := out.String()
	assert.Contains(t, summary, "Outcome: DONE")
	assert.Contains(t, summary, "View range: 1500 to 3500")
	assert.Contains(t, summary, "Titles with a question: 100.0%")
}

func TestRunOnceQuotaExhausted(t *testing.T) {
	client := &fakeClient{ids: []string{"a"}, views: map[string]int64{"a": 1500}}
	agent, _ := newTestAgent(t, client, nil)
	require.NoError(t, os.MkdirAll(agent.config.Sampler.DataDir, 0755))
	require.NoError(t, storage.WriteJSONAtomic(
		filepath.Join(agent.config.Sampler.DataDir, "quota_status.json"),
		quota.State{Date: "2025-06-01", UnitsUsed: 9750}))
	rec := &recordedEvents{}

	require.NoError(t, agent.RunOnce(context.Background(), rec.events()))
	assert.Equal(t, collector.OutcomeQuotaExhausted, agent.LastResult().Outcome)
	assert.Zero(t, client.searches, "no search is issued without budget")
	assert.Len(t, rec.successes, 1)
}

func TestRunOnceSearchFailure(t *testing.T) {
	client := &fakeClient{searchErr: errors.New("backend unavailable")}
	agent, _ := newTestAgent(t, client, nil)
	rec := &recordedEvents{}

	err := agent.RunOnce(context.Background(), rec.events())
	require.Error(t, err)
	assert.True(t, collector.IsExternalCallFailure(err))
	assert.Equal(t, collector.OutcomeFailed, agent.LastResult().Outcome)
	assert.Len(t, rec.criticals, 1)
	assert.Empty(t, rec.successes)

	rows := readCSV(t, filepath.Join(agent.config.Sampler.ExportDir, "shorts.csv"))
	assert.Len(t, rows, 1, "the export is rewritten even when the run fails")
}

func TestRunOnceCancelled(t *testing.T) {
	client := &fakeClient{ids: []string{"a"}, views: map[string]int64{"a": 1500}}
	agent, _ := newTestAgent(t, client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, agent.RunOnce(ctx, nil))
	assert.Equal(t, collector.OutcomeCancelled, agent.LastResult().Outcome)
	assert.Zero(t, client.searches)
}

func TestRunOnceCorruptProgress(t *testing.T) {
	agent, _ := newTestAgent(t, &fakeClient{}, nil)
	require.NoError(t, os.MkdirAll(agent.config.Sampler.DataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(agent.config.Sampler.DataDir, "progress.json"), []byte("{"), 0644))
	rec := &recordedEvents{}

	err := agent.RunOnce(context.Background(), rec.events())
	require.Error(t, err)
	assert.True(t, storage.IsCorruptCheckpoint(err))
	assert.Equal(t, collector.OutcomeFailed, agent.LastResult().Outcome)
	assert.Len(t, rec.criticals, 1)
}

type refreshingClient struct {
	fakeClient
	refreshErr error
	refreshes  int
}

func (c *refreshingClient) RefreshToken() error {
	c.refreshes++
	return c.refreshErr
}

func TestRunOnceRefreshesCredentials(t *testing.T) {
	client := &refreshingClient{fakeClient: fakeClient{
		ids:   []string{"a"},
		views: map[string]int64{"a": 1500},
	}}
	agent, _ := newTestAgent(t, client, nil)

	require.NoError(t, agent.RunOnce(context.Background(), nil))
	assert.Equal(t, 1, client.refreshes)
	assert.Equal(t, collector.OutcomeDone, agent.LastResult().Outcome)
}

func TestRunOnceRefreshFailure(t *testing.T) {
	client := &refreshingClient{refreshErr: errors.New("token revoked")}
	agent, _ := newTestAgent(t, client, nil)
	rec := &recordedEvents{}

	err := agent.RunOnce(context.Background(), rec.events())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token revoked")
	assert.Equal(t, collector.OutcomeFailed, agent.LastResult().Outcome)
	assert.Zero(t, client.searches, "no API call is made with stale credentials")
	assert.Len(t, rec.criticals, 1)
}

func TestRunOnceAPIQuotaExhausted(t *testing.T) {
	client := &fakeClient{searchErr: fmt.Errorf("%w: 403 quotaExceeded", quota.ErrQuotaExceeded)}
	agent, _ := newTestAgent(t, client, nil)
	rec := &recordedEvents{}

	require.NoError(t, agent.RunOnce(context.Background(), rec.events()))
	assert.Equal(t, collector.OutcomeQuotaExhausted, agent.LastResult().Outcome)
	assert.Len(t, rec.successes, 1)
	assert.Empty(t, rec.criticals)
}

func TestStatusAndExportOnly(t *testing.T) {
	client := &fakeClient{
		ids:   []string{"a", "b"},
		views: map[string]int64{"a": 1500, "b": 2500},
	}
	agent, _ := newTestAgent(t, client, nil)
	require.NoError(t, agent.RunOnce(context.Background(), nil))
	searches := client.searches

	var status bytes.Buffer
	require.NoError(t, agent.Status(context.Background(), &status))
	assert.Contains(t, status.String(), "low")
	assert.Contains(t, status.String(), "Quota 2025-06-01: 202/10000 units used (2.0%)")

	require.NoError(t, os.RemoveAll(agent.config.Sampler.ExportDir))
	path, n, err := agent.ExportOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, readCSV(t, path), 3)

	assert.Equal(t, searches, client.searches, "status and export do not call the API")
}
