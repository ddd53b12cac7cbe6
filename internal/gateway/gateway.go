package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
)

var (
	// ErrNotFound the device or account does not exist
	ErrNotFound = errors.New("gateway: not found")
	// ErrUnavailable the inventory backing the gateway could not be reached
	ErrUnavailable = errors.New("gateway: unavailable")
)

// AccountInfo billing status of a subscriber account
type AccountInfo struct {
	AccountID  string
	Username   string
	Status     domain.AccountStatus
	ExpireTime *time.Time
}

// PingResult outcome of a reachability probe
type PingResult struct {
	DeviceID  string
	Address   string
	Reachable bool
	Method    string
	Latency   time.Duration
	Identity  string
	Uptime    string // RouterOS uptime, when probed over the API
	Message   string // why each method failed, set when unreachable
}

// Gateway is the device/account capability set consumed by the diagnostic engine.
// Neighbor listings exclude the queried device and keep a stable order.
type Gateway interface {
	GetDeviceByID(ctx context.Context, id string) (*domain.NetDevice, error)
	GetAccountStatus(ctx context.Context, accountID string) (*AccountInfo, error)
	PingTarget(ctx context.Context, deviceID string) (*PingResult, error)
	ListStations(ctx context.Context, accessPointID string) ([]domain.NetDevice, error)
	ListStationNeighbors(ctx context.Context, stationID string) ([]domain.NetDevice, error)
	ListApartmentNeighbors(ctx context.Context, deviceID string) ([]domain.NetDevice, error)
}

// Prober checks live reachability of a single device
type Prober interface {
	Probe(ctx context.Context, dev *domain.NetDevice) (*PingResult, error)
}
