package diagnostic

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/gateway"
	"go.uber.org/zap"
)

// NeighborAnalyzer fans device checks out over a fixed-size pool shared by
// all runs, which caps the load any number of diagnostics put on the gateway.
type NeighborAnalyzer struct {
	gw   gateway.Gateway
	pool *ants.Pool
}

func NewNeighborAnalyzer(gw gateway.Gateway, poolSize int) (*NeighborAnalyzer, error) {
	if poolSize <= 0 {
		poolSize = 10
	}
	pool, err := ants.NewPool(poolSize, ants.WithPanicHandler(func(v interface{}) {
		zap.L().Error("neighbor task panic", zap.String("namespace", "diagnostic"), zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create neighbor pool: %w", err)
	}
	return &NeighborAnalyzer{gw: gw, pool: pool}, nil
}

// Release stops the worker pool.
func (n *NeighborAnalyzer) Release() {
	n.pool.Release()
}

// fanOut calls fn for every index in [0, count) on the pool and waits for all
// of them. Callers write results by index, which keeps input order.
func (n *NeighborAnalyzer) fanOut(count int, fn func(i int)) error {
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		i := i
		wg.Add(1)
		err := n.pool.Submit(func() {
			defer wg.Done()
			fn(i)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}

// Analyze compares the device against its station siblings or building units.
func (n *NeighborAnalyzer) Analyze(ctx context.Context, dev *domain.NetDevice, mode domain.NeighborMode) outcome {
	var (
		neighbors []domain.NetDevice
		err       error
	)
	if mode == domain.NeighborStationBased {
		neighbors, err = n.gw.ListStationNeighbors(ctx, dev.ID)
	} else {
		neighbors, err = n.gw.ListApartmentNeighbors(ctx, dev.ID)
	}
	if err != nil {
		return failure(fmt.Sprintf("Could not list neighbors: %v", err), domain.NeighborDetails{Mode: mode, Neighbors: []domain.NeighborRecord{}})
	}

	details := domain.NeighborDetails{Mode: mode, Neighbors: make([]domain.NeighborRecord, len(neighbors))}
	if len(neighbors) == 0 {
		return success("No neighbors found", details)
	}
	// entries the pool never runs keep this placeholder
	for i, dev := range neighbors {
		details.Neighbors[i] = newNeighborRecord(dev)
		details.Neighbors[i].Reason = "not probed: neighbor analysis aborted"
	}

	err = n.fanOut(len(neighbors), func(i int) {
		details.Neighbors[i] = n.inspect(ctx, neighbors[i])
	})
	if err != nil {
		return failure(fmt.Sprintf("Neighbor analysis aborted: %v", err), details)
	}

	online := 0
	for _, rec := range details.Neighbors {
		if rec.IsOnline {
			online++
		}
	}
	offline := len(neighbors) - online
	if online == 0 {
		return warning(fmt.Sprintf("All %d neighbors are offline; likely a shared outage", len(neighbors)), details)
	}
	return success(fmt.Sprintf("%d neighbors: %d online, %d offline", len(neighbors), online, offline), details)
}

func newNeighborRecord(dev domain.NetDevice) domain.NeighborRecord {
	rec := domain.NeighborRecord{DeviceID: dev.ID, Name: dev.Name, AccountStatus: domain.AccountUnknown}
	if rec.Name == "" {
		rec.Name = dev.ID
	}
	return rec
}

// inspect never fails: problems with one neighbor end up in its Reason.
func (n *NeighborAnalyzer) inspect(ctx context.Context, dev domain.NetDevice) (rec domain.NeighborRecord) {
	rec = newNeighborRecord(dev)
	var reasons []string
	defer func() {
		if r := recover(); r != nil {
			reasons = append(reasons, fmt.Sprintf("check panicked: %v", r))
		}
		rec.Reason = strings.Join(reasons, "; ")
	}()

	res, err := n.gw.PingTarget(ctx, dev.ID)
	switch {
	case err != nil:
		reasons = append(reasons, fmt.Sprintf("probe failed: %v", err))
	case res.Reachable:
		rec.IsOnline = true
	default:
		reasons = append(reasons, "device unreachable")
	}

	if dev.SubscriberId == "" {
		return rec
	}
	acct, err := n.gw.GetAccountStatus(ctx, dev.SubscriberId)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		reasons = append(reasons, "billing record not found")
	case err != nil:
		reasons = append(reasons, fmt.Sprintf("account lookup failed: %v", err))
	default:
		rec.AccountStatus = acct.Status
		switch acct.Status {
		case domain.AccountExpired:
			reasons = append(reasons, "account expired")
		case domain.AccountSuspended:
			reasons = append(reasons, "account suspended")
		}
	}
	return rec
}

// PingStations probes every station attached to the access point.
func (n *NeighborAnalyzer) PingStations(ctx context.Context, accessPointID string) outcome {
	stations, err := n.gw.ListStations(ctx, accessPointID)
	if err != nil {
		return failure(fmt.Sprintf("Could not list stations: %v", err), nil)
	}
	details := domain.StationPingDetails{AccessPointID: accessPointID, Total: len(stations), Unreachable: []string{}}
	if len(stations) == 0 {
		return success("No stations attached to the access point", details)
	}

	reachable := make([]bool, len(stations))
	err = n.fanOut(len(stations), func(i int) {
		res, err := n.gw.PingTarget(ctx, stations[i].ID)
		reachable[i] = err == nil && res.Reachable
	})
	if err != nil {
		return failure(fmt.Sprintf("Station probing aborted: %v", err), details)
	}
	for i, ok := range reachable {
		if ok {
			details.Reachable++
		} else {
			details.Unreachable = append(details.Unreachable, stations[i].ID)
		}
	}

	switch {
	case details.Reachable == details.Total:
		return success(fmt.Sprintf("All %d stations reachable", details.Total), details)
	case details.Reachable == 0:
		return failure(fmt.Sprintf("None of %d stations reachable", details.Total), details)
	default:
		return warning(fmt.Sprintf("%d of %d stations unreachable", len(details.Unreachable), details.Total), details)
	}
}
