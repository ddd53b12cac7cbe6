package diagnostic

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/gateway"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeGateway in-memory topology. Maps are filled before use and only read
// afterwards; hooks may be called concurrently.
type fakeGateway struct {
	devices   map[string]*domain.NetDevice
	accounts  map[string]*gateway.AccountInfo
	reachable map[string]bool
	// block makes PingTarget wait for ctx on these device ids
	block map[string]bool

	deviceErr   error
	neighborErr error
	pingDelay   time.Duration
	panicOn     string

	onResolve func(id string)

	mu       sync.Mutex
	inflight int
	maxPings int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		devices:   map[string]*domain.NetDevice{},
		accounts:  map[string]*gateway.AccountInfo{},
		reachable: map[string]bool{},
		block:     map[string]bool{},
	}
}

func (f *fakeGateway) addDevice(d domain.NetDevice, online bool) {
	if d.Ipaddr == "" {
		d.Ipaddr = "10.9.0." + d.ID
	}
	f.devices[d.ID] = &d
	f.reachable[d.ID] = online
}

func (f *fakeGateway) addAccount(id string, status domain.AccountStatus) {
	f.accounts[id] = &gateway.AccountInfo{AccountID: id, Username: "user-" + id, Status: status}
}

func (f *fakeGateway) GetDeviceByID(_ context.Context, id string) (*domain.NetDevice, error) {
	if f.onResolve != nil {
		f.onResolve(id)
	}
	if f.deviceErr != nil {
		return nil, f.deviceErr
	}
	d, ok := f.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, gateway.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeGateway) GetAccountStatus(_ context.Context, id string) (*gateway.AccountInfo, error) {
	if f.panicOn != "" && id == f.panicOn {
		panic("corrupt billing record")
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, gateway.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeGateway) PingTarget(ctx context.Context, id string) (*gateway.PingResult, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxPings {
		f.maxPings = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.block[id] {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	if f.pingDelay > 0 {
		time.Sleep(f.pingDelay)
	}
	d, ok := f.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, gateway.ErrNotFound)
	}
	res := &gateway.PingResult{DeviceID: id, Address: d.Ipaddr, Reachable: f.reachable[id]}
	if res.Reachable {
		res.Method, res.Latency = gateway.MethodICMP, 2*time.Millisecond
		if d.Role == domain.RoleRouter {
			res.Method, res.Uptime = gateway.MethodRouterOS, "3d04:00:00"
		}
	} else {
		res.Message = "icmp: no reply; tcp: connection refused"
	}
	return res, nil
}

func (f *fakeGateway) maxConcurrentPings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPings
}

func (f *fakeGateway) ListStations(_ context.Context, apID string) ([]domain.NetDevice, error) {
	return f.filter(func(d *domain.NetDevice) bool {
		return d.Role == domain.RoleStation && d.AccessPointId == apID
	}), nil
}

func (f *fakeGateway) ListStationNeighbors(_ context.Context, id string) ([]domain.NetDevice, error) {
	if f.neighborErr != nil {
		return nil, f.neighborErr
	}
	self := f.devices[id]
	return f.filter(func(d *domain.NetDevice) bool {
		return d.Role == domain.RoleStation && d.ID != id && self.AccessPointId != "" && d.AccessPointId == self.AccessPointId
	}), nil
}

func (f *fakeGateway) ListApartmentNeighbors(_ context.Context, id string) ([]domain.NetDevice, error) {
	if f.neighborErr != nil {
		return nil, f.neighborErr
	}
	self := f.devices[id]
	return f.filter(func(d *domain.NetDevice) bool {
		return d.Role == domain.RoleAccessPoint && d.ID != id && self.NodeId != "" && d.NodeId == self.NodeId
	}), nil
}

// filter returns matches ordered by id
func (f *fakeGateway) filter(match func(*domain.NetDevice) bool) []domain.NetDevice {
	out := []domain.NetDevice{}
	for _, d := range f.devices {
		if match(d) {
			out = append(out, *d)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(domain.Tables...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestPipeline(t *testing.T, gw gateway.Gateway, runTimeout time.Duration) *Pipeline {
	t.Helper()
	na, err := NewNeighborAnalyzer(gw, 4)
	require.NoError(t, err)
	t.Cleanup(na.Release)
	return NewPipeline(gw, na, runTimeout, nil)
}

func newTestRepo(t *testing.T) *GormLogRepository {
	t.Helper()
	repo, err := NewGormLogRepository(newTestDB(t), 1)
	require.NoError(t, err)
	return repo
}

func stepNames(steps []domain.DiagnosticStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}

func findStep(steps []domain.DiagnosticStep, name string) *domain.DiagnosticStep {
	for i := range steps {
		if steps[i].Name == name {
			return &steps[i]
		}
	}
	return nil
}

// stationTopology router r1, access point ap1 in building b1, and station st1
// with siblings st2, st3.
func stationTopology(routerOnline bool) *fakeGateway {
	gw := newFakeGateway()
	gw.addDevice(domain.NetDevice{ID: "r1", Role: domain.RoleRouter}, routerOnline)
	gw.addDevice(domain.NetDevice{ID: "ap1", Role: domain.RoleAccessPoint, RouterId: "r1", NodeId: "b1"}, true)
	gw.addDevice(domain.NetDevice{ID: "st1", Role: domain.RoleStation, RouterId: "r1", AccessPointId: "ap1", SubscriberId: "u1"}, true)
	gw.addDevice(domain.NetDevice{ID: "st2", Role: domain.RoleStation, RouterId: "r1", AccessPointId: "ap1"}, true)
	gw.addDevice(domain.NetDevice{ID: "st3", Role: domain.RoleStation, RouterId: "r1", AccessPointId: "ap1"}, false)
	gw.addAccount("u1", domain.AccountActive)
	return gw
}
