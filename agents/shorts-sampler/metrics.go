package shortssampler

import (
	"fmt"

	"shorts-sampler/agents/shorts-sampler/collector"
	"shorts-sampler/internal/models"
	"shorts-sampler/shared/monitoring"
)

// RunMetrics implements the scheduler.Metrics interface
type RunMetrics struct {
	Outcome      collector.Outcome
	Recorded     int
	TotalRecords int
	TotalTarget  int
	QuotaUsed    int
	QuotaLimit   int
}

func (m RunMetrics) GetSummary() string {
	return fmt.Sprintf("%s: %d new videos, %d/%d collected, quota %d/%d",
		m.Outcome, m.Recorded, m.TotalRecords, m.TotalTarget, m.QuotaUsed, m.QuotaLimit)
}

var engineStates = []string{
	string(collector.StateRunning),
	string(collector.StatePlanning),
	string(collector.StateSearching),
	string(collector.StateFiltering),
	string(collector.StateDetailFetch),
	string(collector.StateRecording),
	string(collector.StateCheckpointing),
}

// promObserver feeds engine events into the Prometheus collectors.
type promObserver struct {
	m *monitoring.Metrics
}

func (o promObserver) StateChanged(state collector.State) {
	o.m.SetState(string(state), engineStates)
}

func (o promObserver) SearchCompleted(unit collector.SearchUnit, returned, fresh int) {
	o.m.Searches.WithLabelValues(unit.Tier.Name).Inc()
	o.m.SearchResults.WithLabelValues(unit.Tier.Name, "returned").Add(float64(returned))
	o.m.SearchResults.WithLabelValues(unit.Tier.Name, "fresh").Add(float64(fresh))
}

func (o promObserver) DetailsFetched(count int) {
	o.m.DetailsFetched.Add(float64(count))
}

func (o promObserver) RecordAccepted(rec *models.VideoRecord) {
	o.m.Recorded.WithLabelValues(rec.Tier).Inc()
	o.m.TierCollected.WithLabelValues(rec.Tier).Inc()
}

func (o promObserver) CandidateRejected(tier, reason string) {
	o.m.Rejected.WithLabelValues(tier, reason).Inc()
}

func (o promObserver) UnitExhausted(unit collector.SearchUnit) {
	o.m.UnitsExhausted.WithLabelValues(unit.Tier.Name).Inc()
}

func (o promObserver) QuotaChanged(used, limit int) {
	o.m.QuotaUsed.Set(float64(used))
	o.m.QuotaLimit.Set(float64(limit))
}
