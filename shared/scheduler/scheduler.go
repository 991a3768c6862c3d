package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"shorts-sampler/shared/config"
	"shorts-sampler/shared/logger"
	"shorts-sampler/shared/monitoring"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Metrics defines the common interface for agent metrics
type Metrics interface {
	// GetSummary returns a human-readable summary of the run
	GetSummary() string
}

// AgentEvents provides callbacks for monitoring agent execution
type AgentEvents struct {
	OnSuccess         func(metrics Metrics, duration time.Duration)
	OnPartialFailure  func(err error, duration time.Duration)
	OnCriticalFailure func(err error, duration time.Duration)
}

// Agent defines the interface that all agents must implement
type Agent interface {
	Name() string
	RunOnce(ctx context.Context, events *AgentEvents) error
	Initialize() error
}

// Scheduler runs an agent on a cron schedule evaluated in the quota time
// zone, so "0 10 0 * * *" means ten minutes after the quota resets.
type Scheduler struct {
	config  *config.Config
	monitor *monitoring.Monitor
	metrics *monitoring.Metrics
	agent   Agent
	cron    *cron.Cron
}

func New(cfg *config.Config, agent Agent, metrics *monitoring.Metrics) (*Scheduler, error) {
	loc, err := cfg.Sampler.Quota.Location()
	if err != nil {
		return nil, err
	}

	cl := cronLogger{logger.Log.Sugar()}
	return &Scheduler{
		config:  cfg,
		monitor: monitoring.NewMonitor(),
		metrics: metrics,
		agent:   agent,
		// Prevent overlapping runs
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

func (s *Scheduler) Monitor() *monitoring.Monitor {
	return s.monitor
}

func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.agent.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			logger.Log.Error("scheduled run failed",
				zap.String("agent", s.agent.Name()),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	healthServer := monitoring.NewHealthServer(s.monitor, s.metrics, strconv.Itoa(s.config.Monitoring.HealthPort))
	healthServer.Start()

	logger.Log.Info("scheduler started",
		zap.String("agent", s.agent.Name()),
		zap.String("schedule", s.config.Schedule),
		zap.String("timezone", s.config.Sampler.Quota.Timezone))
	s.cron.Start()

	<-ctx.Done()
	logger.Log.Info("scheduler stopping", zap.String("agent", s.agent.Name()))

	// wait for a run in progress to checkpoint and return
	<-s.cron.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("health server shutdown failed", zap.Error(err))
	}
	return ctx.Err()
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	startTime := time.Now()
	agentName := s.agent.Name()

	logger.Log.Info("starting run", zap.String("agent", agentName))

	events := &AgentEvents{
		OnSuccess: func(metrics Metrics, duration time.Duration) {
			s.monitor.RecordSuccess(metrics.GetSummary(), duration)
		},
		OnPartialFailure: func(err error, duration time.Duration) {
			s.monitor.RecordPartialFailure(fmt.Errorf("%s partial failure: %w", agentName, err), duration)
		},
		OnCriticalFailure: func(err error, duration time.Duration) {
			s.monitor.RecordCriticalFailure(fmt.Errorf("%s critical failure: %w", agentName, err), duration)
		},
	}

	if err := s.agent.RunOnce(ctx, events); err != nil {
		duration := time.Since(startTime)
		s.monitor.RecordCriticalFailure(fmt.Errorf("%s failed: %w", agentName, err), duration)
		return fmt.Errorf("%s run failed: %w", agentName, err)
	}

	return nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
