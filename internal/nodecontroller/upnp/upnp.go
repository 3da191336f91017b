// Package upnp maps the node's HTTP port on the internet gateway so peers
// behind other NATs can reach it.
package upnp

import (
	"fmt"
	"net"

	"github.com/huin/goupnp/dcps/internetgateway1"

	"github.com/gridmesh/gridmesh/pkg/logging"
)

const (
	// MinPublicPort and MaxPublicPort bound the external port scan
	MinPublicPort = 50000
	MaxPublicPort = 51000

	// LeaseDuration is the mapping lifetime in seconds; nodes are expected
	// to restart (and so re-map) within a day
	LeaseDuration = 86400

	protocol = "TCP"
)

// igdConn is the WANIPConnection surface the mapper needs; the goupnp
// client satisfies it
type igdConn interface {
	GetExternalIPAddress() (string, error)
	AddPortMapping(remoteHost string, externalPort uint16, protocol string, internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32) error
	DeletePortMapping(remoteHost string, externalPort uint16, protocol string) error
	GetGenericPortMappingEntry(index uint16) (remoteHost string, externalPort uint16, protocol string, internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32, err error)
}

// Mapper drives port mappings on a discovered internet gateway
type Mapper struct {
	conn   igdConn
	logger logging.Logger
}

// Discover finds the first WANIPConnection endpoint on the local network
func Discover(logger logging.Logger) (*Mapper, error) {
	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil {
		return nil, fmt.Errorf("failed to discover internet gateway: %w", err)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no internet gateway found")
	}
	logger.Info("Internet gateway discovered")
	return &Mapper{conn: clients[0], logger: logger}, nil
}

// NewMapper wraps an existing connection; tests inject fakes here
func NewMapper(conn igdConn, logger logging.Logger) *Mapper {
	return &Mapper{conn: conn, logger: logger}
}

// ExternalIP returns the gateway's public address
func (m *Mapper) ExternalIP() (string, error) {
	ip, err := m.conn.GetExternalIPAddress()
	if err != nil {
		return "", fmt.Errorf("failed to get external IP: %w", err)
	}
	return ip, nil
}

// LocalIP returns the address of the interface that routes to the internet
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("failed to determine local IP: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// usedPorts walks the gateway's mapping table. The gateway answers with an
// error once the index runs past the last entry.
func (m *Mapper) usedPorts() map[int]bool {
	used := make(map[int]bool)
	for i := 0; ; i++ {
		_, externalPort, _, _, _, _, _, _, err := m.conn.GetGenericPortMappingEntry(uint16(i))
		if err != nil {
			break
		}
		used[int(externalPort)] = true
	}
	return used
}

// FreePublicPort returns the first unmapped external port in the scan range
func (m *Mapper) FreePublicPort() (int, error) {
	used := m.usedPorts()
	for port := MinPublicPort; port < MaxPublicPort; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free public port in [%d,%d)", MinPublicPort, MaxPublicPort)
}

// Map creates a TCP mapping publicPort -> localIP:localPort
func (m *Mapper) Map(localIP string, localPort, publicPort int, description string) error {
	err := m.conn.AddPortMapping("", uint16(publicPort), protocol, uint16(localPort), localIP, true, description, LeaseDuration)
	if err != nil {
		return fmt.Errorf("failed to add port mapping: %w", err)
	}
	m.logger.WithFields(logging.Fields{
		"local":  fmt.Sprintf("%s:%d", localIP, localPort),
		"public": publicPort,
	}).Info("Port mapping created")
	return nil
}

// Unmap removes the TCP mapping for publicPort
func (m *Mapper) Unmap(publicPort int) error {
	if err := m.conn.DeletePortMapping("", uint16(publicPort), protocol); err != nil {
		return fmt.Errorf("failed to delete port mapping: %w", err)
	}
	m.logger.WithField("public", publicPort).Info("Port mapping removed")
	return nil
}
