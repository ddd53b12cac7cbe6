package diagnostic

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/gateway"
)

// UserChecks optional checks a manual trigger may add to a user run.
// User Status always runs.
var UserChecks = []string{domain.StepBillingCheck}

// ValidUserCheck reports whether name can be requested for a user target.
func ValidUserCheck(name string) bool {
	for _, c := range UserChecks {
		if c == name {
			return true
		}
	}
	return name == domain.StepUserStatus
}

func (p *Pipeline) plan(t *Target) []stepDef {
	if t.NotFound {
		return []stepDef{p.lookupStep()}
	}
	if t.Type == domain.TargetUser {
		return p.userPlan(t)
	}

	dev := t.Device
	router := []string{domain.StepRouterCheck}
	steps := []stepDef{p.billingStep(), p.routerStep()}
	self := func(d *domain.NetDevice) string { return d.ID }
	switch {
	case dev.IsStation():
		steps = append(steps,
			p.pingStep(domain.StepCPECheck, router, self, "Skipped: no device recorded"),
			p.pingStep(domain.StepAPCheck, router, func(d *domain.NetDevice) string { return d.AccessPointId },
				"Skipped: no upstream access point recorded"),
			p.neighborStep(domain.StepNeighborStationBased, domain.NeighborStationBased),
		)
	case dev.IsAccessPoint():
		steps = append(steps,
			p.pingStep(domain.StepPingInitialDevice, router, self, "Skipped: no device recorded"),
			p.stationsStep(router),
			p.neighborStep(domain.StepNeighborApartment, domain.NeighborApartmentBased),
		)
	default:
		steps = append(steps, p.pingStep(domain.StepCPECheck, router, self, "Skipped: no device recorded"))
	}
	return steps
}

func (p *Pipeline) userPlan(t *Target) []stepDef {
	steps := []stepDef{p.userStatusStep()}
	for _, name := range UserChecks {
		if !contains(t.UserChecks, name) {
			continue
		}
		if name == domain.StepBillingCheck {
			steps = append(steps, p.userBillingStep())
		}
	}
	return steps
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (p *Pipeline) lookupStep() stepDef {
	return stepDef{
		name: domain.StepTargetLookup,
		kind: domain.KindFault,
		run: func(_ context.Context, t *Target) outcome {
			return failure(fmt.Sprintf("Device %s is not registered in the network inventory", t.ID),
				domain.FaultDetails{Error: gateway.ErrNotFound.Error()})
		},
	}
}

func (p *Pipeline) billingStep() stepDef {
	return stepDef{
		name: domain.StepBillingCheck,
		kind: domain.KindBilling,
		run: func(ctx context.Context, t *Target) outcome {
			if t.Device.SubscriberId == "" {
				return skipped("Skipped: device has no billing owner")
			}
			return p.accountOutcome(ctx, t.Device.SubscriberId, func(info *gateway.AccountInfo) domain.StepDetails {
				return domain.BillingDetails{AccountID: info.AccountID, AccountStatus: info.Status, ExpireTime: info.ExpireTime}
			})
		},
	}
}

func (p *Pipeline) userBillingStep() stepDef {
	return stepDef{
		name: domain.StepBillingCheck,
		kind: domain.KindBilling,
		run: func(ctx context.Context, t *Target) outcome {
			return p.accountOutcome(ctx, t.ID, func(info *gateway.AccountInfo) domain.StepDetails {
				return domain.BillingDetails{AccountID: info.AccountID, AccountStatus: info.Status, ExpireTime: info.ExpireTime}
			})
		},
	}
}

func (p *Pipeline) userStatusStep() stepDef {
	return stepDef{
		name: domain.StepUserStatus,
		kind: domain.KindUserStatus,
		run: func(ctx context.Context, t *Target) outcome {
			return p.accountOutcome(ctx, t.ID, func(info *gateway.AccountInfo) domain.StepDetails {
				return domain.UserStatusDetails{UserID: info.AccountID, Username: info.Username, AccountStatus: info.Status, ExpireTime: info.ExpireTime}
			})
		},
	}
}

func (p *Pipeline) accountOutcome(ctx context.Context, accountID string, details func(*gateway.AccountInfo) domain.StepDetails) outcome {
	info, err := p.gw.GetAccountStatus(ctx, accountID)
	if errors.Is(err, gateway.ErrNotFound) {
		return failure(fmt.Sprintf("Billing record not found for account %s", accountID), nil)
	}
	if err != nil {
		return failure(fmt.Sprintf("Account lookup failed: %v", err), nil)
	}
	d := details(info)
	name := info.Username
	if name == "" {
		name = info.AccountID
	}
	switch info.Status {
	case domain.AccountActive:
		return success(fmt.Sprintf("Account %s is active", name), d)
	case domain.AccountExpired:
		if info.ExpireTime != nil {
			return failure(fmt.Sprintf("Account %s expired on %s", name, info.ExpireTime.Format("2006-01-02")), d)
		}
		return failure(fmt.Sprintf("Account %s has expired", name), d)
	case domain.AccountSuspended:
		return failure(fmt.Sprintf("Account %s is suspended", name), d)
	default:
		return warning(fmt.Sprintf("Account %s has an unknown billing status", name), d)
	}
}

func (p *Pipeline) routerStep() stepDef {
	return stepDef{
		name: domain.StepRouterCheck,
		kind: domain.KindPing,
		run: func(ctx context.Context, t *Target) outcome {
			if t.Device.RouterId == "" {
				return skipped("Skipped: no managing router recorded")
			}
			return p.ping(ctx, "Router", t.Device.RouterId)
		},
	}
}

// pingStep probes the device pick returns. An empty id skips the step with
// skipReason.
func (p *Pipeline) pingStep(name string, requires []string, pick func(*domain.NetDevice) string, skipReason string) stepDef {
	return stepDef{
		name:     name,
		kind:     domain.KindPing,
		requires: requires,
		run: func(ctx context.Context, t *Target) outcome {
			id := pick(t.Device)
			if id == "" {
				return skipped(skipReason)
			}
			return p.ping(ctx, "Device", id)
		},
	}
}

func (p *Pipeline) ping(ctx context.Context, label, deviceID string) outcome {
	res, err := p.gw.PingTarget(ctx, deviceID)
	if errors.Is(err, gateway.ErrNotFound) {
		return failure(fmt.Sprintf("%s %s is not registered in the network inventory", label, deviceID), nil)
	}
	if err != nil {
		return failure(fmt.Sprintf("%s %s could not be probed: %v", label, deviceID, err), nil)
	}
	d := domain.PingDetails{
		DeviceID:  res.DeviceID,
		Address:   res.Address,
		Reachable: res.Reachable,
		Method:    res.Method,
		LatencyMs: res.Latency.Milliseconds(),
		Identity:  res.Identity,
		Uptime:    res.Uptime,
	}
	if !res.Reachable {
		d.Message = res.Message
		if res.Message != "" {
			return failure(fmt.Sprintf("%s %s (%s) is unreachable: %s", label, deviceID, res.Address, res.Message), d)
		}
		return failure(fmt.Sprintf("%s %s (%s) is unreachable", label, deviceID, res.Address), d)
	}
	if res.Uptime != "" {
		return success(fmt.Sprintf("%s %s reachable via %s in %dms, up %s", label, deviceID, res.Method, d.LatencyMs, res.Uptime), d)
	}
	return success(fmt.Sprintf("%s %s reachable via %s in %dms", label, deviceID, res.Method, d.LatencyMs), d)
}

func (p *Pipeline) stationsStep(requires []string) stepDef {
	return stepDef{
		name:     domain.StepPingStation,
		kind:     domain.KindStationPing,
		requires: requires,
		run: func(ctx context.Context, t *Target) outcome {
			return p.neighbors.PingStations(ctx, t.Device.ID)
		},
	}
}

func (p *Pipeline) neighborStep(name string, mode domain.NeighborMode) stepDef {
	return stepDef{
		name: name,
		kind: domain.KindNeighbor,
		run: func(ctx context.Context, t *Target) outcome {
			return p.neighbors.Analyze(ctx, t.Device, mode)
		},
	}
}
