package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormGateway serves the Gateway capabilities from the network inventory tables
// and probes devices live through a Prober.
type GormGateway struct {
	db     *gorm.DB
	prober Prober
	now    func() time.Time
}

func NewGormGateway(db *gorm.DB, prober Prober) *GormGateway {
	return &GormGateway{db: db, prober: prober, now: time.Now}
}

func (g *GormGateway) GetDeviceByID(ctx context.Context, id string) (*domain.NetDevice, error) {
	var dev domain.NetDevice
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&dev).Error
	if err != nil {
		return nil, translate(err, "device", id)
	}
	return &dev, nil
}

func (g *GormGateway) GetAccountStatus(ctx context.Context, accountID string) (*AccountInfo, error) {
	var sub domain.NetSubscriber
	err := g.db.WithContext(ctx).Where("id = ?", accountID).First(&sub).Error
	if err != nil {
		return nil, translate(err, "account", accountID)
	}
	info := &AccountInfo{
		AccountID: sub.ID,
		Username:  sub.Username,
		Status:    sub.AccountStatusAt(g.now()),
	}
	if !sub.ExpireTime.IsZero() {
		expire := sub.ExpireTime
		info.ExpireTime = &expire
	}
	return info, nil
}

func (g *GormGateway) PingTarget(ctx context.Context, deviceID string) (*PingResult, error) {
	dev, err := g.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	result, err := g.prober.Probe(ctx, dev)
	if err != nil {
		return nil, errors.Wrapf(err, "probe device %s", deviceID)
	}
	zap.L().Debug("device probed",
		zap.String("namespace", "gateway"),
		zap.String("device_id", deviceID),
		zap.Bool("reachable", result.Reachable),
		zap.String("method", result.Method),
		zap.Duration("latency", result.Latency))
	return result, nil
}

func (g *GormGateway) ListStations(ctx context.Context, accessPointID string) ([]domain.NetDevice, error) {
	var stations []domain.NetDevice
	err := g.db.WithContext(ctx).
		Where("role = ? AND access_point_id = ?", domain.RoleStation, accessPointID).
		Order("id ASC").
		Find(&stations).Error
	if err != nil {
		return nil, translate(err, "stations of", accessPointID)
	}
	return stations, nil
}

func (g *GormGateway) ListStationNeighbors(ctx context.Context, stationID string) ([]domain.NetDevice, error) {
	station, err := g.GetDeviceByID(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station.AccessPointId == "" {
		return []domain.NetDevice{}, nil
	}
	var siblings []domain.NetDevice
	err = g.db.WithContext(ctx).
		Where("role = ? AND access_point_id = ? AND id <> ?", domain.RoleStation, station.AccessPointId, station.ID).
		Order("id ASC").
		Find(&siblings).Error
	if err != nil {
		return nil, translate(err, "station neighbors of", stationID)
	}
	return siblings, nil
}

func (g *GormGateway) ListApartmentNeighbors(ctx context.Context, deviceID string) ([]domain.NetDevice, error) {
	dev, err := g.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.NodeId == "" {
		return []domain.NetDevice{}, nil
	}
	var units []domain.NetDevice
	err = g.db.WithContext(ctx).
		Where("role = ? AND node_id = ? AND id <> ?", domain.RoleAccessPoint, dev.NodeId, dev.ID).
		Order("id ASC").
		Find(&units).Error
	if err != nil {
		return nil, translate(err, "apartment neighbors of", deviceID)
	}
	return units, nil
}

func translate(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(ErrNotFound, "%s %s", what, id)
	}
	return errors.Wrapf(ErrUnavailable, "%s %s: %v", what, id, err)
}
