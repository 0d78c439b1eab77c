package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/bazarr-autotranslate/internal/bazarr"
	"github.com/MimeLyc/bazarr-autotranslate/internal/config"
	"github.com/MimeLyc/bazarr-autotranslate/internal/metrics"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/icron"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

const (
	SkipDisabled        = "auto translate disabled"
	SkipHeartbeatFresh  = "heartbeat is fresh"
	SkipCycleInProgress = "another cycle is running"
)

// TransService gates and runs translation cycles, once or on a cron schedule.
type TransService struct {
	cfg       config.Config
	driver    *Driver
	heartbeat *Heartbeat
	recorder  metrics.Recorder
	gatherer  prometheus.Gatherer
	cron      *cron.Cron
	now       func() time.Time
}

type ServiceOption func(*TransService)

// WithMetrics records cycle metrics and, when METRICS_TEXTFILE is set, dumps
// gatherer there after every cycle.
func WithMetrics(recorder metrics.Recorder, gatherer prometheus.Gatherer) ServiceOption {
	return func(s *TransService) {
		if recorder != nil {
			s.recorder = recorder
		}
		s.gatherer = gatherer
	}
}

func WithCron(c *cron.Cron) ServiceOption {
	return func(s *TransService) {
		s.cron = c
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *TransService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRunnableTransService(cfg config.Config, driver *Driver, opts ...ServiceOption) *TransService {
	s := &TransService{
		cfg:       cfg,
		driver:    driver,
		heartbeat: NewHeartbeat(cfg.Heartbeat.File, cfg.Heartbeat.MaxAge),
		recorder:  metrics.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Heartbeat exposes the liveness marker for health checks.
func (s *TransService) Heartbeat() *Heartbeat {
	return s.heartbeat
}

// RunOnce runs one full cycle unless it is disabled, another process holds
// the cycle lock, or the heartbeat shows a cycle finished recently. A skipped
// cycle returns a report with SkipReason set and no error.
func (s *TransService) RunOnce(ctx context.Context) (CycleReport, error) {
	report := CycleReport{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
	}

	if !s.cfg.Translate.AutoTranslate {
		log.Info("Auto translate is disabled, skipping cycle")
		report.SkipReason = SkipDisabled
		return report, nil
	}

	if path := strings.TrimSpace(s.cfg.Translate.LockFile); path != "" {
		lock := flock.New(path)
		locked, err := lock.TryLock()
		if err != nil {
			return report, NewErrorWithCause(ErrLock, "acquire cycle lock", err).WithContext("path", path)
		}
		if !locked {
			log.Info("Another cycle holds %s, skipping", path)
			report.SkipReason = SkipCycleInProgress
			return report, nil
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.Warn("Failed to release cycle lock %s: %v", path, err)
			}
		}()
	}

	if s.heartbeat.Enabled() && s.heartbeat.Fresh(report.StartedAt) {
		log.Info("Last cycle finished less than %s ago, skipping", s.cfg.Heartbeat.MaxAge)
		report.SkipReason = SkipHeartbeatFresh
		return report, nil
	}

	log.Info("Starting translation cycle %s", report.ID)
	report.Pipelines = s.driver.Run(ctx, report.ID)
	finishedAt := s.now()
	report.Duration = finishedAt.Sub(report.StartedAt)

	// Neither an interrupted cycle nor one that never reached Bazarr counts
	// as completed, so the heartbeat stays untouched and the next run retries.
	if err := ctx.Err(); err != nil {
		cycleErr := WrapError(err, ErrUnknown, "translation cycle interrupted").WithContext("cycle", report.ID)
		return report, errors.Join(cycleErr, s.exportMetrics())
	}
	if err := backlogFailure(report.Pipelines); err != nil {
		return report, errors.Join(err.WithContext("cycle", report.ID), s.exportMetrics())
	}

	s.recorder.RecordCycle(report.Duration, finishedAt)
	log.Info("Finished translation cycle %s in %s", report.ID, report.Duration.Round(time.Millisecond))

	var errs []error
	if s.heartbeat.Enabled() {
		log.Info("Writing TRANSLATION-BEAT to %s", s.cfg.Heartbeat.File)
		if err := s.heartbeat.Write(finishedAt); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.exportMetrics(); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

func (s *TransService) exportMetrics() error {
	path := s.cfg.Metrics.Textfile
	if path == "" || s.gatherer == nil {
		return nil
	}
	if err := metrics.WriteTextfile(path, s.gatherer); err != nil {
		return WrapError(err, ErrMetrics, "export metrics").WithContext("path", path)
	}
	return nil
}

// backlogFailure reports an error when no pipeline could fetch its backlog.
// Status errors mean Bazarr answered; anything else is a connectivity problem.
func backlogFailure(pipelines []PipelineReport) *Error {
	if len(pipelines) == 0 {
		return nil
	}
	errs := make([]error, 0, len(pipelines))
	for _, p := range pipelines {
		if !p.WantedFailed {
			return nil
		}
		errs = append(errs, p.WantedErr)
	}

	cause := errors.Join(errs...)
	errType := ErrNetwork
	var statusErr *bazarr.StatusError
	if errors.As(cause, &statusErr) {
		errType = ErrAPI
	}
	return WrapError(cause, errType, "bazarr backlog unavailable")
}

var singleflightGroup singleflight.Group

// Schedule registers the cycle on the cron scheduler. Triggers that fire
// while a cycle is still running join it instead of starting another.
func (s *TransService) Schedule(ctx context.Context) error {
	if s.cron == nil {
		return NewError(ErrConfig, "no cron scheduler configured")
	}
	log.Info("Scheduling translation cycles with %q", s.cfg.Translate.CronExpr)

	handler := NewDefaultErrorHandler()
	runFunc := func() {
		_, _, _ = singleflightGroup.Do("run", func() (any, error) {
			if _, err := s.RunOnce(ctx); err != nil {
				handler.Handle(err)
			}
			return nil, nil
		})
	}
	if _, err := s.cron.AddFunc(s.cfg.Translate.CronExpr, runFunc); err != nil {
		return WrapError(err, ErrConfig, "register cron job").WithContext("cron_expr", s.cfg.Translate.CronExpr)
	}

	if info, err := icron.GetTriggerInfo(s.cfg.Translate.CronExpr, s.now()); err == nil {
		if !info.Last.IsZero() {
			log.Info("Previous trigger was at %s (%s ago)", info.Last.Format(time.DateTime), info.TimeSinceLast.Round(time.Second))
		}
		log.Info("Next translation cycle at %s (in %s)", info.Next.Format(time.DateTime), info.TimeUntilNext.Round(time.Second))
	}
	return nil
}
