package cronrunner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FeatureGate reports runtime feature switches.
type FeatureGate interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

// Job is one scheduled task. An empty Spec leaves the job unscheduled. When
// Feature is set the job is skipped while that switch is off.
type Job struct {
	Name    string
	Spec    string
	Feature string
	Run     func(ctx context.Context) error
}

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
	gate    FeatureGate
}

func New(logger *zap.Logger, baseCtx context.Context, gate FeatureGate) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := zapCronLogger{s: logger.Sugar()}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		baseCtx: baseCtx,
		gate:    gate,
	}
}

func (r *Runner) Add(job Job) (cron.EntryID, error) {
	spec := strings.TrimSpace(job.Spec)
	if spec == "" || job.Run == nil {
		r.logger.Info("cron job not scheduled", zap.String("job", job.Name))
		return 0, nil
	}
	return r.cron.AddFunc(spec, func() { r.run(job) })
}

func (r *Runner) run(job Job) {
	ctx := r.baseCtx
	if ctx.Err() != nil {
		return
	}
	if job.Feature != "" && r.gate != nil && !r.gate.IsEnabled(ctx, job.Feature, true) {
		return
	}
	started := time.Now()
	err := job.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("cron job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("cron job done", zap.String("job", job.Name), zap.Duration("duration", time.Since(started)))
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop waits for running jobs to return.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
