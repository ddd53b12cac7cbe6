package app

import (
	"context"
	"sync"
	"time"

	"github.com/talkincode/netdoctor/internal/domain"
	"go.uber.org/zap"
)

const defaultSweepWorkers = 50

// SchedDeviceStatusTask probes every addressed device, records up/down and
// queues a diagnostic for each device that was up on the previous sweep and
// is down now. Devices seen for the first time only get their status stored.
func (a *Application) SchedDeviceStatusTask(ctx context.Context) {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	var devices []domain.NetDevice
	err := a.gormDB.WithContext(ctx).Where("ipaddr <> ?", "").Order("id").Find(&devices).Error
	if err != nil {
		zap.L().Error("status sweep: list devices failed", zap.String("namespace", "app"), zap.Error(err))
		return
	}

	// Parallelize probes with a semaphore to limit concurrent goroutines
	sem := make(chan struct{}, defaultSweepWorkers)
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		sem <- struct{}{}
		go func(d domain.NetDevice) {
			defer wg.Done()
			defer func() { <-sem }()
			a.sweepDevice(ctx, d)
		}(dev)
	}
	wg.Wait()
	zap.L().Debug("status sweep finished", zap.String("namespace", "app"), zap.Int("devices", len(devices)))
}

func (a *Application) sweepDevice(ctx context.Context, d domain.NetDevice) {
	res, err := a.prober.Probe(ctx, &d)
	if err != nil {
		zap.L().Debug("status sweep: probe skipped", zap.String("namespace", "app"),
			zap.String("device", d.ID), zap.Error(err))
		return
	}
	status := domain.DeviceDown
	if res.Reachable {
		status = domain.DeviceUp
	}
	if status == d.Status {
		return
	}

	if err := a.gormDB.WithContext(ctx).Model(&domain.NetDevice{}).Where("id = ?", d.ID).
		Update("status", status).Error; err != nil {
		zap.L().Error("status sweep: failed to update device status", zap.String("namespace", "app"),
			zap.String("device", d.ID), zap.Error(err))
		return
	}
	if d.Status != domain.DeviceUp || status != domain.DeviceDown {
		return
	}

	a.metrics.DeviceWentDown()
	job := domain.NewDiagnosticJob(d.ID, domain.TargetDevice, nil, time.Now())
	if err := a.queue.Enqueue(ctx, job); err != nil {
		zap.L().Error("status sweep: failed to queue diagnostic", zap.String("namespace", "app"),
			zap.String("device", d.ID), zap.Error(err))
		return
	}
	zap.L().Info("device went down, diagnostic queued", zap.String("namespace", "app"),
		zap.String("device", d.ID), zap.String("ip", d.Ipaddr))
}
