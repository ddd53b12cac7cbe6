package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/netdoctor/internal/lease"
	"github.com/talkincode/netdoctor/internal/queue"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// initJob registers the housekeeping jobs. The scheduler is started by
// StartBackgroundJobs.
func (a *Application) initJob() error {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	if _, err := a.sched.AddFunc("@every 1s", a.SchedQueueTask); err != nil {
		return err
	}
	if _, err := a.sched.AddFunc("@every 1m", a.SchedLeaseSweepTask); err != nil {
		return err
	}
	if _, err := a.sched.AddFunc("@daily", a.SchedClearExpireData); err != nil {
		return err
	}

	if spec := a.appConfig.Diagnostic.StatusSweep; spec != "" {
		sweep := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
			a.SchedDeviceStatusTask(context.Background())
		}))
		if _, err := a.sched.AddJob(spec, sweep); err != nil {
			zap.S().Errorf("init job error %s", err.Error())
			return err
		}
	}
	return nil
}

// SchedQueueTask promotes due retries and publishes queue depth
func (a *Application) SchedQueueTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch q := a.queue.(type) {
	case *queue.RedisQueue:
		if _, err := q.PromoteDue(ctx); err != nil {
			zap.L().Warn("promote delayed jobs failed", zap.String("namespace", "app"), zap.Error(err))
		}
		ready, processing, delayed, err := q.Depth(ctx)
		if err != nil {
			return
		}
		a.metrics.QueueDepth("ready", ready)
		a.metrics.QueueDepth("processing", processing)
		a.metrics.QueueDepth("delayed", delayed)
	case *queue.MemoryQueue:
		a.metrics.QueueDepth("ready", int64(q.Len()))
		a.metrics.QueueDepth("processing", int64(q.InFlight()))
	}
}

// SchedLeaseSweepTask drops expired in-process leases; redis expires its own.
func (a *Application) SchedLeaseSweepTask() {
	if m, ok := a.leaser.(*lease.MemoryLeaser); ok {
		if n := m.Sweep(); n > 0 {
			zap.L().Debug("expired leases swept", zap.String("namespace", "app"), zap.Int("leases", n))
		}
	}
}

// SchedClearExpireData applies diagnostic log retention
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	days := a.appConfig.Diagnostic.RetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Hour * 24 * time.Duration(days))
	n, err := a.logs.DeleteBefore(context.Background(), cutoff)
	if err != nil {
		zap.L().Error("diagnostic log retention failed", zap.String("namespace", "app"), zap.Error(err))
		return
	}
	a.metrics.LogsPruned(n)
	if n > 0 {
		zap.L().Info("expired diagnostic logs removed", zap.String("namespace", "app"),
			zap.Int64("logs", n), zap.Time("cutoff", cutoff))
	}
}
