package diagnostic

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/metrics"
	"github.com/talkincode/netdoctor/internal/queue"
	"go.uber.org/zap"
)

// DeviceEvent inbound device status transition from monitoring
type DeviceEvent struct {
	DeviceID string `json:"deviceId"`
	Status   string `json:"status"`
	APIKey   string `json:"apiKey"`
}

// Ingestor turns DOWN transitions into diagnostic jobs. It does not
// deduplicate; repeated events for a target are absorbed by the lease.
type Ingestor struct {
	secret  string
	queue   queue.Queue
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewIngestor(secret string, q queue.Queue, m *metrics.Metrics) *Ingestor {
	return &Ingestor{secret: secret, queue: q, metrics: m, now: time.Now}
}

// HandleDeviceEvent reports whether a job was enqueued. The key is checked
// before the payload fields.
func (i *Ingestor) HandleDeviceEvent(ctx context.Context, ev DeviceEvent) (bool, error) {
	if i.secret == "" || subtle.ConstantTimeCompare([]byte(ev.APIKey), []byte(i.secret)) != 1 {
		i.metrics.WebhookEvent("unauthorized")
		return false, ErrUnauthorized
	}
	deviceID := strings.TrimSpace(ev.DeviceID)
	status := strings.TrimSpace(ev.Status)
	if deviceID == "" || status == "" {
		i.metrics.WebhookEvent("bad_request")
		return false, fmt.Errorf("%w: deviceId and status are required", ErrBadRequest)
	}

	if !strings.EqualFold(status, "DOWN") {
		i.metrics.WebhookEvent("ignored")
		zap.L().Debug("device event ignored",
			zap.String("namespace", "webhook"),
			zap.String("device_id", deviceID),
			zap.String("status", status))
		return false, nil
	}

	job := domain.NewDiagnosticJob(deviceID, domain.TargetDevice, nil, i.now())
	if err := i.queue.Enqueue(ctx, job); err != nil {
		i.metrics.WebhookEvent("enqueue_failed")
		return false, fmt.Errorf("enqueue diagnostic for %s: %w", deviceID, err)
	}
	i.metrics.WebhookEvent("enqueued")
	zap.L().Info("device down, diagnostic queued",
		zap.String("namespace", "webhook"),
		zap.String("device_id", deviceID))
	return true, nil
}
