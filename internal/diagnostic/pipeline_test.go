package diagnostic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/gateway"
)

func execute(t *testing.T, p *Pipeline, job *domain.DiagnosticJob) (*Target, []domain.DiagnosticStep) {
	t.Helper()
	target, steps, err := p.Execute(context.Background(), job)
	require.NoError(t, err)
	return target, steps
}

func deviceJob(id string) *domain.DiagnosticJob {
	return domain.NewDiagnosticJob(id, domain.TargetDevice, nil, time.Now())
}

func TestStationRouterFailureSkipsDependentChecks(t *testing.T) {
	gw := stationTopology(false)
	p := newTestPipeline(t, gw, 5*time.Second)

	_, steps := execute(t, p, deviceJob("st1"))

	assert.Equal(t, []string{
		domain.StepBillingCheck,
		domain.StepRouterCheck,
		domain.StepCPECheck,
		domain.StepAPCheck,
		domain.StepNeighborStationBased,
	}, stepNames(steps))
	assert.Equal(t, domain.StepSuccess, steps[0].Status)
	assert.Equal(t, domain.StepFailure, steps[1].Status)
	assert.Equal(t, domain.StepSkipped, steps[2].Status)
	assert.Equal(t, domain.StepSkipped, steps[3].Status)
	assert.Contains(t, steps[2].Summary, domain.StepRouterCheck)
	assert.Nil(t, steps[2].Details)
	assert.Contains(t, steps[1].Summary, "connection refused", "failure reason is surfaced")
	assert.Equal(t, "icmp: no reply; tcp: connection refused", steps[1].Details.(domain.PingDetails).Message)
	// neighbor analysis does not need router access
	assert.NotEqual(t, domain.StepSkipped, steps[4].Status)

	conclusion := Conclude(steps)
	assert.True(t, strings.HasPrefix(conclusion, "Root cause: Mikrotik Router Check failed"), conclusion)
	assert.Contains(t, conclusion, "**Recommendation:**")
}

func TestStationHealthyRun(t *testing.T) {
	gw := stationTopology(true)
	p := newTestPipeline(t, gw, 5*time.Second)

	target, steps := execute(t, p, domain.NewDiagnosticJob("st1", domain.TargetUnknown, nil, time.Now()))
	assert.Equal(t, domain.TargetDevice, target.Type)
	require.Len(t, steps, 5)
	router := steps[1].Details.(domain.PingDetails)
	assert.Equal(t, "3d04:00:00", router.Uptime)
	assert.Empty(t, router.Message)
	assert.Contains(t, steps[1].Summary, "up 3d04:00:00")
	for _, s := range steps {
		assert.Equal(t, domain.StepSuccess, s.Status, s.Name)
	}

	ap := findStep(steps, domain.StepAPCheck).Details.(domain.PingDetails)
	assert.Equal(t, "ap1", ap.DeviceID)
	assert.True(t, ap.Reachable)

	nd := findStep(steps, domain.StepNeighborStationBased).Details.(domain.NeighborDetails)
	require.Len(t, nd.Neighbors, 2)
	assert.Equal(t, "st2", nd.Neighbors[0].DeviceID)
	assert.Equal(t, "st3", nd.Neighbors[1].DeviceID)
	assert.False(t, nd.Neighbors[1].IsOnline)
	assert.Equal(t, "device unreachable", nd.Neighbors[1].Reason)
	assert.Equal(t, domain.AccountUnknown, nd.Neighbors[1].AccountStatus)
}

func TestAccessPointApartmentNeighbors(t *testing.T) {
	gw := newFakeGateway()
	gw.addDevice(domain.NetDevice{ID: "r1", Role: domain.RoleRouter}, true)
	gw.addDevice(domain.NetDevice{ID: "ap1", Role: domain.RoleAccessPoint, RouterId: "r1", NodeId: "b1"}, false)
	gw.addDevice(domain.NetDevice{ID: "ap2", Name: "Unit 2", Role: domain.RoleAccessPoint, NodeId: "b1", SubscriberId: "u2"}, true)
	gw.addDevice(domain.NetDevice{ID: "ap3", Name: "Unit 3", Role: domain.RoleAccessPoint, NodeId: "b1", SubscriberId: "u3"}, true)
	gw.addDevice(domain.NetDevice{ID: "ap4", Name: "Unit 4", Role: domain.RoleAccessPoint, NodeId: "b1", SubscriberId: "u4"}, false)
	gw.addDevice(domain.NetDevice{ID: "ap9", Role: domain.RoleAccessPoint, NodeId: "b9"}, true)
	gw.addAccount("u2", domain.AccountActive)
	gw.addAccount("u3", domain.AccountActive)
	gw.addAccount("u4", domain.AccountExpired)
	p := newTestPipeline(t, gw, 5*time.Second)

	_, steps := execute(t, p, deviceJob("ap1"))
	assert.Equal(t, []string{
		domain.StepBillingCheck,
		domain.StepRouterCheck,
		domain.StepPingInitialDevice,
		domain.StepPingStation,
		domain.StepNeighborApartment,
	}, stepNames(steps))
	assert.Equal(t, domain.StepSkipped, steps[0].Status, "no billing owner")

	neighbor := steps[4]
	assert.Equal(t, domain.StepSuccess, neighbor.Status)
	nd, ok := neighbor.Details.(domain.NeighborDetails)
	require.True(t, ok)
	assert.Equal(t, domain.NeighborApartmentBased, nd.Mode)
	require.Len(t, nd.Neighbors, 3)

	assert.Equal(t, []string{"ap2", "ap3", "ap4"}, []string{nd.Neighbors[0].DeviceID, nd.Neighbors[1].DeviceID, nd.Neighbors[2].DeviceID})
	for _, rec := range nd.Neighbors[:2] {
		assert.True(t, rec.IsOnline)
		assert.Equal(t, domain.AccountActive, rec.AccountStatus)
		assert.Empty(t, rec.Reason)
	}
	offline := nd.Neighbors[2]
	assert.False(t, offline.IsOnline)
	assert.Equal(t, domain.AccountExpired, offline.AccountStatus)
	assert.NotEmpty(t, offline.Reason)
	assert.Contains(t, offline.Reason, "account expired")
}

func TestDeadlineKeepsCompletedSteps(t *testing.T) {
	gw := stationTopology(true)
	gw.block["st1"] = true
	p := newTestPipeline(t, gw, 150*time.Millisecond)

	started := time.Now()
	_, steps := execute(t, p, deviceJob("st1"))
	assert.Less(t, time.Since(started), 3*time.Second)

	require.Len(t, steps, 3)
	assert.Equal(t, domain.StepBillingCheck, steps[0].Name)
	assert.Equal(t, domain.StepRouterCheck, steps[1].Name)
	last := steps[2]
	assert.Equal(t, domain.StepDiagnosticTimeout, last.Name)
	assert.Equal(t, domain.StepFailure, last.Status)
	assert.Equal(t, "diagnostic timed out", last.Summary)
}

func TestCallerCancellationAbortsRun(t *testing.T) {
	gw := stationTopology(true)
	gw.block["st1"] = true
	p := newTestPipeline(t, gw, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, steps, err := p.Execute(ctx, deviceJob("st1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, steps, 2)
}

func TestUserTargets(t *testing.T) {
	gw := newFakeGateway()
	gw.addAccount("u1", domain.AccountSuspended)
	p := newTestPipeline(t, gw, time.Second)

	_, steps := execute(t, p, domain.NewDiagnosticJob("u1", domain.TargetUser, nil, time.Now()))
	require.Equal(t, []string{domain.StepUserStatus}, stepNames(steps))
	assert.Equal(t, domain.StepFailure, steps[0].Status)
	details := steps[0].Details.(domain.UserStatusDetails)
	assert.Equal(t, domain.AccountSuspended, details.AccountStatus)

	_, steps = execute(t, p, domain.NewDiagnosticJob("u1", domain.TargetUser, []string{domain.StepBillingCheck}, time.Now()))
	assert.Equal(t, []string{domain.StepUserStatus, domain.StepBillingCheck}, stepNames(steps))
	assert.IsType(t, domain.BillingDetails{}, steps[1].Details)
}

func TestUnknownTargetFallsBackToUser(t *testing.T) {
	gw := newFakeGateway()
	gw.addAccount("u7", domain.AccountActive)
	p := newTestPipeline(t, gw, time.Second)

	target, steps := execute(t, p, domain.NewDiagnosticJob("u7", domain.TargetUnknown, nil, time.Now()))
	assert.Equal(t, domain.TargetUser, target.Type)
	assert.Equal(t, []string{domain.StepUserStatus}, stepNames(steps))
	assert.Equal(t, domain.StepSuccess, steps[0].Status)
}

func TestMissingDeviceRecordsLookupFailure(t *testing.T) {
	p := newTestPipeline(t, newFakeGateway(), time.Second)
	_, steps := execute(t, p, deviceJob("ghost"))
	require.Len(t, steps, 1)
	assert.Equal(t, domain.StepTargetLookup, steps[0].Name)
	assert.Equal(t, domain.StepFailure, steps[0].Status)
}

func TestGatewayOutageIsInfrastructureFault(t *testing.T) {
	gw := stationTopology(true)
	gw.deviceErr = errors.New("connection refused")
	p := newTestPipeline(t, gw, time.Second)

	_, _, err := p.Execute(context.Background(), deviceJob("st1"))
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "connection refused")
}

func TestRouterNotRecordedDoesNotBlockDependents(t *testing.T) {
	gw := newFakeGateway()
	gw.addDevice(domain.NetDevice{ID: "c1", Role: domain.RoleCPE}, true)
	p := newTestPipeline(t, gw, time.Second)

	_, steps := execute(t, p, deviceJob("c1"))
	assert.Equal(t, []string{domain.StepBillingCheck, domain.StepRouterCheck, domain.StepCPECheck}, stepNames(steps))
	assert.Equal(t, domain.StepSkipped, steps[1].Status)
	assert.Equal(t, domain.StepSuccess, steps[2].Status)
	assert.Equal(t, "No issues detected: 1 checks passed, 2 skipped.", Conclude(steps))
}

func TestPingStepSkipReasonNamesMissingLink(t *testing.T) {
	gw := newFakeGateway()
	gw.addDevice(domain.NetDevice{ID: "r1", Role: domain.RoleRouter}, true)
	gw.addDevice(domain.NetDevice{ID: "st9", Role: domain.RoleStation, RouterId: "r1"}, true)
	p := newTestPipeline(t, gw, time.Second)

	_, steps := execute(t, p, deviceJob("st9"))
	ap := findStep(steps, domain.StepAPCheck)
	require.NotNil(t, ap)
	assert.Equal(t, domain.StepSkipped, ap.Status)
	assert.Equal(t, "Skipped: no upstream access point recorded", ap.Summary)
	cpe := findStep(steps, domain.StepCPECheck)
	require.NotNil(t, cpe)
	assert.Equal(t, domain.StepSuccess, cpe.Status)
}

func TestStepPanicBecomesFailure(t *testing.T) {
	gw := stationTopology(true)
	gw.panicOn = "u1"
	p := newTestPipeline(t, gw, 5*time.Second)

	_, steps := execute(t, p, deviceJob("st1"))
	require.Len(t, steps, 5)
	assert.Equal(t, domain.StepFailure, steps[0].Status)
	assert.Contains(t, steps[0].Summary, "corrupt billing record")
	assert.Equal(t, domain.StepSuccess, steps[1].Status, "later steps still run")
}

func TestPingStationCountsUnreachable(t *testing.T) {
	gw := stationTopology(true)
	p := newTestPipeline(t, gw, 5*time.Second)

	_, steps := execute(t, p, deviceJob("ap1"))
	ps := findStep(steps, domain.StepPingStation)
	require.NotNil(t, ps)
	assert.Equal(t, domain.StepWarning, ps.Status)
	d := ps.Details.(domain.StationPingDetails)
	assert.Equal(t, 3, d.Total)
	assert.Equal(t, 2, d.Reachable)
	assert.Equal(t, []string{"st3"}, d.Unreachable)
	assert.True(t, strings.HasPrefix(Conclude(steps), "Degraded but functioning: Ping Station"))
}

func TestNeighborAnalysisEdgeCases(t *testing.T) {
	t.Run("zero neighbors", func(t *testing.T) {
		gw := newFakeGateway()
		gw.addDevice(domain.NetDevice{ID: "st1", Role: domain.RoleStation, AccessPointId: "ap1"}, true)
		na, err := NewNeighborAnalyzer(gw, 2)
		require.NoError(t, err)
		defer na.Release()

		res := na.Analyze(context.Background(), gw.devices["st1"], domain.NeighborStationBased)
		assert.Equal(t, domain.StepSuccess, res.status)
		assert.Equal(t, "No neighbors found", res.summary)
		nd := res.details.(domain.NeighborDetails)
		assert.NotNil(t, nd.Neighbors)
		assert.Empty(t, nd.Neighbors)
	})

	t.Run("listing error", func(t *testing.T) {
		gw := stationTopology(true)
		gw.neighborErr = gateway.ErrUnavailable
		na, err := NewNeighborAnalyzer(gw, 2)
		require.NoError(t, err)
		defer na.Release()

		res := na.Analyze(context.Background(), gw.devices["st1"], domain.NeighborStationBased)
		assert.Equal(t, domain.StepFailure, res.status)
	})

	t.Run("all offline", func(t *testing.T) {
		gw := stationTopology(true)
		gw.reachable["st2"] = false
		na, err := NewNeighborAnalyzer(gw, 2)
		require.NoError(t, err)
		defer na.Release()

		res := na.Analyze(context.Background(), gw.devices["st1"], domain.NeighborStationBased)
		assert.Equal(t, domain.StepWarning, res.status)
		assert.Len(t, res.details.(domain.NeighborDetails).Neighbors, 2)
	})
}

func TestNeighborAnalysisKeepsUnprobedNeighbors(t *testing.T) {
	gw := stationTopology(true)
	na, err := NewNeighborAnalyzer(gw, 2)
	require.NoError(t, err)
	na.Release()

	res := na.Analyze(context.Background(), gw.devices["st1"], domain.NeighborStationBased)
	assert.Equal(t, domain.StepFailure, res.status)
	nd := res.details.(domain.NeighborDetails)
	require.Len(t, nd.Neighbors, 2)
	for _, rec := range nd.Neighbors {
		assert.NotEmpty(t, rec.DeviceID)
		assert.Equal(t, rec.DeviceID, rec.Name)
		assert.Equal(t, domain.AccountUnknown, rec.AccountStatus)
		assert.Contains(t, rec.Reason, "not probed")
	}
}

func TestNeighborFanOutIsBounded(t *testing.T) {
	gw := newFakeGateway()
	gw.pingDelay = 20 * time.Millisecond
	gw.addDevice(domain.NetDevice{ID: "ap0", Role: domain.RoleAccessPoint, NodeId: "b1"}, true)
	for _, id := range []string{"ap1", "ap2", "ap3", "ap4", "ap5", "ap6", "ap7", "ap8"} {
		gw.addDevice(domain.NetDevice{ID: id, Role: domain.RoleAccessPoint, NodeId: "b1"}, true)
	}
	na, err := NewNeighborAnalyzer(gw, 3)
	require.NoError(t, err)
	defer na.Release()

	res := na.Analyze(context.Background(), gw.devices["ap0"], domain.NeighborApartmentBased)
	nd := res.details.(domain.NeighborDetails)
	require.Len(t, nd.Neighbors, 8)
	for i, rec := range nd.Neighbors {
		assert.Equal(t, "ap"+string(rune('1'+i)), rec.DeviceID, "gateway order is kept")
	}
	assert.LessOrEqual(t, gw.maxConcurrentPings(), 3)
	assert.Greater(t, gw.maxConcurrentPings(), 1)
}
