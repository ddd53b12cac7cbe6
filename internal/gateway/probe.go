package gateway

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	pinglib "github.com/go-ping/ping"
	"github.com/gosnmp/gosnmp"
	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"go.uber.org/zap"
)

const (
	MethodICMP     = "icmp"
	MethodRouterOS = "routeros"
	MethodSNMP     = "snmp"
	MethodTCP      = "tcp"

	oidSysUpTime = ".1.3.6.1.2.1.1.3.0"
)

// NetProber probes a device with ICMP first, then the RouterOS API for Mikrotik
// devices, then SNMP, then plain TCP connects. The first method that answers wins.
// ICMP gets half of Timeout; every later method gets its own Timeout, so a host
// that drops ICMP is still reached by the fallbacks.
type NetProber struct {
	Timeout  time.Duration
	TCPPorts []int

	// pingICMP replaces the ICMP stage in tests
	pingICMP func(ctx context.Context, ip string, timeout time.Duration) (time.Duration, error)
}

func NewNetProber(timeout time.Duration) *NetProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NetProber{Timeout: timeout, TCPPorts: []int{80, 443, 22, 8291}}
}

func (p *NetProber) Probe(ctx context.Context, dev *domain.NetDevice) (*PingResult, error) {
	if dev == nil || dev.Ipaddr == "" {
		return nil, errors.New("device has no address")
	}
	result := &PingResult{DeviceID: dev.ID, Address: dev.Ipaddr}
	var reasons []string

	ping := p.icmp
	if p.pingICMP != nil {
		ping = p.pingICMP
	}
	icmpTimeout := p.Timeout / 2
	icmpCtx, cancel := context.WithTimeout(ctx, icmpTimeout)
	rtt, err := ping(icmpCtx, dev.Ipaddr, icmpTimeout)
	cancel()
	if err == nil {
		result.Reachable, result.Method, result.Latency = true, MethodICMP, rtt
		return result, nil
	}
	// raw ICMP is often unavailable without privileges; fall through quietly
	zap.L().Debug("icmp probe failed", zap.String("namespace", "gateway"), zap.String("ip", dev.Ipaddr), zap.Error(err))
	reasons = append(reasons, "icmp: "+err.Error())

	if dev.VendorCode == domain.VendorMikrotik && dev.ApiEnabled() && ctx.Err() == nil {
		info, rtt, err := p.routerOS(dev)
		if err == nil {
			result.Reachable, result.Method, result.Latency = true, MethodRouterOS, rtt
			result.Identity, result.Uptime = info.identity, info.uptime
			return result, nil
		}
		reasons = append(reasons, "routeros: "+err.Error())
	}

	if dev.SnmpEnabled() && ctx.Err() == nil {
		sctx, cancel := context.WithTimeout(ctx, p.Timeout)
		rtt, err := p.snmp(sctx, dev)
		cancel()
		if err == nil {
			result.Reachable, result.Method, result.Latency = true, MethodSNMP, rtt
			return result, nil
		}
		reasons = append(reasons, "snmp: "+err.Error())
	}

	tctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	rtt, err = p.tcp(tctx, dev)
	if err == nil {
		result.Reachable, result.Method, result.Latency = true, MethodTCP, rtt
		return result, nil
	}
	reasons = append(reasons, "tcp: "+err.Error())

	result.Message = strings.Join(reasons, "; ")
	return result, nil
}

func (p *NetProber) icmp(ctx context.Context, ip string, timeout time.Duration) (time.Duration, error) {
	pinger, err := pinglib.NewPinger(ip)
	if err != nil {
		return 0, err
	}
	pinger.Count = 2
	pinger.Timeout = timeout
	// unprivileged (UDP) mode so the service can run without root
	pinger.SetPrivileged(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("no icmp reply from %s", ip)
	}
	return stats.AvgRtt, nil
}

type routerInfo struct {
	identity string
	uptime   string
}

func (p *NetProber) routerOS(dev *domain.NetDevice) (routerInfo, time.Duration, error) {
	start := time.Now()
	client, err := NewMikrotikClient(dev.Ipaddr, dev.Username, dev.Password, dev.ApiPort, p.Timeout)
	if err != nil {
		return routerInfo{}, 0, err
	}
	defer client.Close()
	identity, err := client.Identity()
	if err != nil {
		return routerInfo{}, 0, err
	}
	rtt := time.Since(start)
	uptime, err := client.Uptime()
	if err != nil {
		// identity already proves the router answers
		zap.L().Debug("routeros uptime failed", zap.String("namespace", "gateway"), zap.String("ip", dev.Ipaddr), zap.Error(err))
	}
	return routerInfo{identity: identity, uptime: uptime}, rtt, nil
}

func (p *NetProber) snmp(ctx context.Context, dev *domain.NetDevice) (time.Duration, error) {
	params := &gosnmp.GoSNMP{
		Target:    dev.Ipaddr,
		Port:      uint16(dev.SnmpPort), //nolint:gosec // G115: port fits in uint16
		Community: dev.SnmpCommunity,
		Version:   gosnmp.Version2c,
		Timeout:   p.Timeout,
		Retries:   1,
		Context:   ctx,
	}
	if params.Port == 0 {
		params.Port = 161
	}
	start := time.Now()
	if err := params.Connect(); err != nil {
		return 0, errors.Wrap(err, "snmp connect")
	}
	defer params.Conn.Close()

	result, err := params.Get([]string{oidSysUpTime})
	if err != nil {
		return 0, errors.Wrap(err, "snmp get sysUpTime")
	}
	if result == nil || len(result.Variables) == 0 {
		return 0, errors.New("empty SNMP result")
	}
	return time.Since(start), nil
}

func (p *NetProber) tcp(ctx context.Context, dev *domain.NetDevice) (time.Duration, error) {
	ports := []int{}
	if dev.ApiPort > 0 && dev.ApiState == "enabled" {
		ports = append(ports, dev.ApiPort)
	}
	ports = append(ports, p.TCPPorts...)

	dialer := &net.Dialer{Timeout: 2 * time.Second}
	var lastErr error
	for _, port := range ports {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(dev.Ipaddr, strconv.Itoa(port)))
		if err == nil {
			_ = conn.Close()
			return time.Since(start), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no tcp ports to probe")
	}
	return 0, lastErr
}
