// Package shortssampler wires the collection engine into a scheduled agent.
package shortssampler

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"shorts-sampler/agents/shorts-sampler/collector"
	"shorts-sampler/agents/shorts-sampler/youtube"
	"shorts-sampler/internal/models"
	"shorts-sampler/shared/config"
	"shorts-sampler/shared/email"
	"shorts-sampler/shared/export"
	"shorts-sampler/shared/logger"
	"shorts-sampler/shared/monitoring"
	"shorts-sampler/shared/quota"
	"shorts-sampler/shared/scheduler"
	"shorts-sampler/shared/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SamplerAgent implements the scheduler.Agent interface
type SamplerAgent struct {
	config      *config.Config
	client      collector.Client
	emailSender *email.Sender
	metrics     *monitoring.Metrics
	out         io.Writer
	now         func() time.Time
	lastResult  *collector.Result
}

// tokenRefresher is implemented by clients whose credentials expire between
// scheduled runs.
type tokenRefresher interface {
	RefreshToken() error
}

// NewSamplerAgent creates the agent. metrics may be nil.
func NewSamplerAgent(cfg *config.Config, metrics *monitoring.Metrics) *SamplerAgent {
	return &SamplerAgent{
		config:  cfg,
		metrics: metrics,
		out:     os.Stdout,
		now:     time.Now,
	}
}

func (a *SamplerAgent) Name() string {
	return "Shorts Sampler"
}

func (a *SamplerAgent) Initialize() error {
	logger.Log.Info("initializing agent", zap.String("agent", a.Name()))

	if a.client == nil {
		client, err := youtube.NewClient(context.Background(), &a.config.YouTube)
		if err != nil {
			return fmt.Errorf("failed to create YouTube client: %w", err)
		}
		a.client = client
		logger.Log.Info("YouTube client initialized")
	}

	if a.emailSender == nil && a.config.Email.Enabled {
		a.emailSender = email.NewSender(&a.config.Email)
		logger.Log.Info("email sender initialized", zap.String("to", a.config.Email.ToEmail))
	}

	s := a.config.Sampler
	logger.Log.Info("sampling plan",
		zap.Int("tiers", len(s.Tiers)),
		zap.Int("time_windows", len(s.TimeWindows)),
		zap.Int("keywords", len(s.Keywords)),
		zap.Int("target", s.TotalTarget()),
		zap.String("data_dir", s.DataDir))
	return nil
}

// LastResult is the result of the most recent RunOnce, or nil before the
// first run.
func (a *SamplerAgent) LastResult() *collector.Result {
	return a.lastResult
}

func (a *SamplerAgent) RunOnce(ctx context.Context, events *scheduler.AgentEvents) error {
	startTime := a.now()
	runID := uuid.NewString()
	log := logger.Log.With(zap.String("run_id", runID))

	if a.client == nil {
		return fmt.Errorf("agent is not initialized")
	}

	if r, ok := a.client.(tokenRefresher); ok {
		if err := r.RefreshToken(); err != nil {
			err = fmt.Errorf("failed to refresh YouTube credentials: %w", err)
			a.lastResult = &collector.Result{Outcome: collector.OutcomeFailed, Err: err}
			notifyCritical(events, err, a.now().Sub(startTime))
			return err
		}
	}

	log.Info("collection run starting")
	// loading local state always completes; cancellation is handled by Run
	sess, err := a.open(context.WithoutCancel(ctx), a.client, a.observer())
	if err != nil {
		err = fmt.Errorf("failed to load collection state: %w", err)
		a.lastResult = &collector.Result{Outcome: collector.OutcomeFailed, Err: err}
		notifyCritical(events, err, a.now().Sub(startTime))
		return err
	}
	defer sess.close()
	a.publishTiers(sess.progress)

	res, runErr := sess.engine.Run(ctx)
	a.lastResult = &res

	records := sess.engine.Records()
	exportPath := export.Path(a.config.Sampler.ExportDir, a.config.Sampler.DatasetName)
	if err := export.WriteCSV(exportPath, records); err != nil {
		log.Error("export failed", zap.Error(err))
		notifyPartial(events, err, a.now().Sub(startTime))
		exportPath = ""
	}

	report := a.buildReport(runID, res, sess, len(records), exportPath)
	writeSummary(a.out, report, records)

	if a.metrics != nil {
		a.metrics.Runs.WithLabelValues(string(res.Outcome)).Inc()
		a.metrics.RunDuration.Observe(res.Duration.Seconds())
	}

	if a.emailSender != nil {
		if err := a.emailSender.SendRunReport(report); err != nil {
			log.Warn("failed to send run report", zap.Error(err))
			notifyPartial(events, fmt.Errorf("failed to send run report: %w", err), a.now().Sub(startTime))
		} else {
			log.Info("run report sent")
		}
	}

	duration := a.now().Sub(startTime)
	switch res.Outcome {
	case collector.OutcomeFailed:
		err := fmt.Errorf("collection run failed: %w", runErr)
		notifyCritical(events, err, duration)
		return err
	case collector.OutcomeCancelled:
		log.Warn("collection run cancelled, progress is saved",
			zap.Int("recorded", res.Stats.Recorded))
		return nil
	case collector.OutcomeQuotaExhausted:
		log.Info("daily quota exhausted, collection resumes after the reset",
			zap.Time("next_reset", sess.tracker.NextReset()),
			zap.Int("recorded", res.Stats.Recorded))
	default:
		log.Info("collection complete",
			zap.Int("recorded", res.Stats.Recorded),
			zap.Int("total", len(records)))
	}

	if events != nil && events.OnSuccess != nil {
		events.OnSuccess(RunMetrics{
			Outcome:      res.Outcome,
			Recorded:     res.Stats.Recorded,
			TotalRecords: sess.progress.CollectedCount(),
			TotalTarget:  a.config.Sampler.TotalTarget(),
			QuotaUsed:    sess.tracker.Used(),
			QuotaLimit:   sess.tracker.Limit(),
		}, duration)
	}
	return nil
}

// Status prints progress and quota without calling the API.
func (a *SamplerAgent) Status(ctx context.Context, w io.Writer) error {
	sess, err := a.open(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer sess.close()

	writeStatus(w, a.config.Sampler, sess.progress, sess.tracker)
	return nil
}

// ExportOnly rewrites the CSV from the archive without calling the API. It
// returns the export path and the number of rows written.
func (a *SamplerAgent) ExportOnly(ctx context.Context) (string, int, error) {
	sess, err := a.open(ctx, nil, nil)
	if err != nil {
		return "", 0, err
	}
	defer sess.close()

	records := sess.engine.Records()
	path := export.Path(a.config.Sampler.ExportDir, a.config.Sampler.DatasetName)
	if err := export.WriteCSV(path, records); err != nil {
		return "", 0, err
	}
	return path, len(records), nil
}

type session struct {
	engine   *collector.Engine
	tracker  *quota.Tracker
	progress *storage.ProgressStore
	archive  *storage.RecordArchive
}

func (s *session) close() {
	if err := s.archive.Close(); err != nil {
		logger.Log.Warn("failed to close record archive", zap.Error(err))
	}
}

func (a *SamplerAgent) open(ctx context.Context, client collector.Client, observer collector.Observer) (*session, error) {
	s := a.config.Sampler
	loc, err := s.Quota.Location()
	if err != nil {
		return nil, err
	}

	tracker := quota.NewTracker(s.DataDir, s.Quota.DailyLimit, s.Quota.Reserve, loc)
	tracker.SetClock(a.now)
	progress := storage.NewProgressStore(s.DataDir)
	archive, err := storage.OpenArchive(s.DataDir)
	if err != nil {
		return nil, err
	}

	engine := collector.NewEngine(s, client, tracker, progress, archive, collector.Options{
		Observer: observer,
		Rand:     collector.NewRand(s.Seed),
		Now:      a.now,
	})
	if err := engine.Open(ctx); err != nil {
		archive.Close()
		return nil, err
	}
	return &session{engine: engine, tracker: tracker, progress: progress, archive: archive}, nil
}

func (a *SamplerAgent) observer() collector.Observer {
	if a.metrics == nil {
		return nil
	}
	return promObserver{m: a.metrics}
}

func (a *SamplerAgent) publishTiers(progress *storage.ProgressStore) {
	if a.metrics == nil {
		return
	}
	for _, t := range a.config.Sampler.Tiers {
		a.metrics.TierTarget.WithLabelValues(t.Name).Set(float64(t.TargetCount))
		a.metrics.TierCollected.WithLabelValues(t.Name).Set(float64(progress.TierCount(t.Name)))
	}
}

func (a *SamplerAgent) buildReport(runID string, res collector.Result, sess *session, total int, exportPath string) *models.RunReport {
	report := &models.RunReport{
		RunID:          runID,
		Date:           a.now(),
		Outcome:        string(res.Outcome),
		Duration:       res.Duration,
		Searches:       res.Stats.Searches,
		DetailsFetched: res.Stats.DetailsFetched,
		Recorded:       res.Stats.Recorded,
		Duplicates:     res.Stats.Duplicates,
		Rejected:       res.Stats.Rejected,
		QuotaUsed:      sess.tracker.Used(),
		QuotaLimit:     sess.tracker.Limit(),
		TotalRecords:   total,
		ExportPath:     exportPath,
	}
	if res.Err != nil && res.Outcome == collector.OutcomeFailed {
		report.Error = res.Err.Error()
	}
	for _, t := range a.config.Sampler.Tiers {
		report.Tiers = append(report.Tiers, models.TierProgress{
			Name:      t.Name,
			Collected: sess.progress.TierCount(t.Name),
			Target:    t.TargetCount,
		})
	}
	return report
}

func notifyCritical(events *scheduler.AgentEvents, err error, d time.Duration) {
	if events != nil && events.OnCriticalFailure != nil {
		events.OnCriticalFailure(err, d)
	}
}

func notifyPartial(events *scheduler.AgentEvents, err error, d time.Duration) {
	if events != nil && events.OnPartialFailure != nil {
		events.OnPartialFailure(err, d)
	}
}
