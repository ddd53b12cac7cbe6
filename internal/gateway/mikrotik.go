package gateway

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MikrotikClient thin RouterOS API session used for router health probes
type MikrotikClient struct {
	client *routeros.Client
	host   string
}

// NewMikrotikClient dials the RouterOS API.
// Port defaults to 8728 (unencrypted API).
func NewMikrotikClient(host, username, password string, port int, timeout time.Duration) (*MikrotikClient, error) {
	if port <= 0 {
		port = 8728
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	client, err := routeros.DialTimeout(addr, username, password, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "mikrotik connection to %s failed", addr)
	}
	return &MikrotikClient{client: client, host: host}, nil
}

// Identity returns /system/identity name of the router.
func (c *MikrotikClient) Identity() (string, error) {
	reply, err := c.client.Run("/system/identity/print")
	if err != nil {
		return "", errors.Wrap(err, "identity print")
	}
	if len(reply.Re) == 0 {
		return "", fmt.Errorf("empty identity reply from %s", c.host)
	}
	return reply.Re[0].Map["name"], nil
}

// Uptime returns the raw uptime string from /system/resource.
func (c *MikrotikClient) Uptime() (string, error) {
	reply, err := c.client.Run("/system/resource/print")
	if err != nil {
		return "", errors.Wrap(err, "resource print")
	}
	if len(reply.Re) == 0 {
		return "", fmt.Errorf("empty resource reply from %s", c.host)
	}
	return reply.Re[0].Map["uptime"], nil
}

// Close closes the API session
func (c *MikrotikClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	zap.L().Debug("Mikrotik connection closed", zap.String("namespace", "gateway"), zap.String("host", c.host))
	return err
}
