package discovery

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kbukum/catalogwatch/version"
)

// ServiceInfo describes the local process as a service instance.
type ServiceInfo struct {
	ID       string
	Name     string
	Address  string
	Port     int
	Tags     []string
	Metadata map[string]string
	Check    *HTTPCheck
}

// HTTPCheck is the health check the coordination service runs against the
// registered instance.
type HTTPCheck struct {
	ID              string
	Name            string
	URL             string
	Interval        time.Duration
	Timeout         time.Duration
	DeregisterAfter time.Duration
}

// Registry is the write side of the coordination service.
type Registry interface {
	// Register registers a service instance with the discovery backend.
	Register(ctx context.Context, service *ServiceInfo) error

	// Deregister removes a service instance from the discovery backend.
	Deregister(ctx context.Context, serviceID string) error
}

// DefaultServiceID derives a stable instance id from the advertised
// address: the hex MD5 of "host:port".
func DefaultServiceID(host string, port int) string {
	sum := md5.Sum([]byte(host + ":" + strconv.Itoa(port)))
	return hex.EncodeToString(sum[:])
}

// BuildServiceInfo computes the registration descriptor from cfg. The
// address falls back to the first external IPv4 address of the host and
// the build version is merged into the metadata.
func BuildServiceInfo(cfg RegistrationConfig) (*ServiceInfo, error) {
	cfg.ApplyDefaults()
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("registration.service_name is required")
	}

	addr := cfg.ServiceAddress
	if addr == "" {
		ip, err := LocalIPv4()
		if err != nil {
			return nil, fmt.Errorf("resolve local address: %w", err)
		}
		addr = ip
	}

	id := cfg.ServiceID
	if id == "" {
		id = DefaultServiceID(addr, cfg.ServicePort)
	}

	meta := version.Get().Metadata()
	for k, v := range cfg.Metadata {
		meta[k] = v
	}

	return &ServiceInfo{
		ID:       id,
		Name:     cfg.ServiceName,
		Address:  addr,
		Port:     cfg.ServicePort,
		Tags:     append([]string(nil), cfg.Tags...),
		Metadata: meta,
		Check: &HTTPCheck{
			ID:              "api",
			Name:            fmt.Sprintf("HTTP API on port %d", cfg.ServicePort),
			URL:             fmt.Sprintf("http://%s%s", net.JoinHostPort(addr, strconv.Itoa(cfg.ServicePort)), cfg.HealthCheckPath),
			Interval:        cfg.HealthCheckInterval,
			Timeout:         cfg.HealthCheckTimeout,
			DeregisterAfter: cfg.DeregisterAfter,
		},
	}, nil
}

// ErrNoLocalAddress is returned by LocalIPv4 when no interface has a usable
// IPv4 address. Set registration.service_address in that case.
var ErrNoLocalAddress = errors.New("no non-loopback IPv4 address found")

// LocalIPv4 returns the first IPv4 address of an up, non-loopback
// interface.
func LocalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	return localIPv4(ifaces)
}

func localIPv4(ifaces []net.Interface) (string, error) {
	if ip := firstIPv4(ifaces); ip != "" {
		return ip, nil
	}
	return "", ErrNoLocalAddress
}

func firstIPv4(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String()
			}
		}
	}
	return ""
}
