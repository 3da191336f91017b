// Package nodecontroller wires a node into the fabric: identity, public
// endpoint discovery, registry enrolment and liveness.
package nodecontroller

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridmesh/gridmesh/pkg/config"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// PortMapper is the gateway surface bootstrap needs; the upnp package
// provides the real one
type PortMapper interface {
	ExternalIP() (string, error)
	FreePublicPort() (int, error)
	Map(localIP string, localPort, publicPort int, description string) error
	Unmap(publicPort int) error
}

// RolePort resolves the local port a node advertises to the fabric. A peer
// is reached through the API matching its role: registries expose the node
// API itself, executors their subtask API, creators their task API. Every
// role router serves GET /ping, so liveness probes work against any of them.
func RolePort(role models.NodeRole, nodePort int) int {
	switch role {
	case models.NodeRoleExecutor:
		return config.GetEnvInt("TASK_EXECUTOR_PORT", 8003)
	case models.NodeRoleCreator:
		return config.GetEnvInt("TASK_CONTROLLER_PORT", 8004)
	default:
		return nodePort
	}
}

// PeerClient is the node client surface bootstrap needs
type PeerClient interface {
	Handshake(ctx context.Context, baseURL string, self models.Node) (*models.Node, error)
	Enable(ctx context.Context, baseURL, nodeUID, ip string, port int) error
}

// PeerStore is the store surface bootstrap needs
type PeerStore interface {
	Upsert(ctx context.Context, n models.Node) error
	List(ctx context.Context) ([]models.Node, error)
}

// Bootstrap brings the node online and advertises it to the fabric
type Bootstrap struct {
	identity     *config.Identity
	identityPath string
	localPort    int
	store        PeerStore
	client       PeerClient
	mapper       PortMapper
	localIP      func() (string, error)
	logger       logging.Logger

	mappedPort int
}

// NewBootstrap creates a bootstrap for the given identity. mapper may be
// nil when the identity opts out of UPnP; the public endpoint then must
// already be present in the identity file.
func NewBootstrap(identity *config.Identity, identityPath string, localPort int, s PeerStore, c PeerClient, mapper PortMapper, localIP func() (string, error), logger logging.Logger) *Bootstrap {
	return &Bootstrap{
		identity:     identity,
		identityPath: identityPath,
		localPort:    localPort,
		store:        s,
		client:       c,
		mapper:       mapper,
		localIP:      localIP,
		logger:       logger,
	}
}

// Setup discovers the public endpoint, persists it, enrols with the
// bootstrap registries and announces this node as enabled.
func (b *Bootstrap) Setup(ctx context.Context) error {
	if err := b.resolveEndpoint(); err != nil {
		return err
	}
	b.enrollRegistries(ctx)
	b.notifyEnabled(ctx)
	return nil
}

// Teardown removes the port mapping created during Setup, if any
func (b *Bootstrap) Teardown() {
	if b.mappedPort == 0 || b.mapper == nil {
		return
	}
	if err := b.mapper.Unmap(b.mappedPort); err != nil {
		b.logger.WithError(err).Warn("Failed to remove port mapping")
	}
}

// Self returns the node's own identity as currently advertised
func (b *Bootstrap) Self() models.Node {
	return models.Node{
		NodeUID:     b.identity.NodeUID,
		IPv4Address: b.identity.PublicIP,
		Port:        b.identity.PublicPort,
		Role:        models.NodeRole(b.identity.Role),
		Status:      models.NodeStatusActive,
		LastPing:    time.Now().UTC(),
	}
}

func (b *Bootstrap) resolveEndpoint() error {
	if !b.identity.UseUPnP {
		if b.identity.PublicIP == "" || b.identity.PublicPort == 0 {
			return fmt.Errorf("upnp disabled and no public endpoint configured")
		}
		b.logger.WithFields(logging.Fields{
			"ip":   b.identity.PublicIP,
			"port": b.identity.PublicPort,
		}).Info("Using configured public endpoint")
		return nil
	}

	if b.mapper == nil {
		return fmt.Errorf("upnp enabled but no gateway available")
	}

	externalIP, err := b.mapper.ExternalIP()
	if err != nil {
		return err
	}
	publicPort, err := b.mapper.FreePublicPort()
	if err != nil {
		return err
	}
	localIP, err := b.localIP()
	if err != nil {
		return err
	}

	description := fmt.Sprintf("gridmesh %s node %s", b.identity.Role, b.identity.NodeUID)
	if err := b.mapper.Map(localIP, b.localPort, publicPort, description); err != nil {
		return err
	}
	b.mappedPort = publicPort

	b.identity.PublicIP = externalIP
	b.identity.PublicPort = publicPort
	if err := config.SaveIdentity(b.identityPath, b.identity); err != nil {
		return err
	}
	return nil
}

// enrollRegistries handshakes with every bootstrap registry. An unreachable
// registry is skipped; a node with no reachable registry runs standalone.
func (b *Bootstrap) enrollRegistries(ctx context.Context) {
	if len(b.identity.Registries) == 0 {
		b.logger.Info("No bootstrap registries configured, running standalone")
		return
	}

	self := b.Self()
	for _, registryURL := range b.identity.Registries {
		registry, err := b.client.Handshake(ctx, registryURL, self)
		if err != nil {
			b.logger.WithError(err).WithField("registry", registryURL).Warn("Registry handshake failed")
			continue
		}
		if err := b.store.Upsert(ctx, *registry); err != nil {
			b.logger.WithError(err).WithField("registry", registryURL).Error("Failed to record registry")
			continue
		}
		b.logger.WithField("registry", registryURL).Info("Registry handshake successful")
	}
}

// notifyEnabled announces this node as active at every known registry
func (b *Bootstrap) notifyEnabled(ctx context.Context) {
	nodes, err := b.store.List(ctx)
	if err != nil {
		b.logger.WithError(err).Error("Failed to list nodes")
		return
	}

	var registries []models.Node
	for _, n := range nodes {
		if n.Role == models.NodeRoleRegistry {
			registries = append(registries, n)
		}
	}
	if len(registries) == 0 {
		return
	}

	self := b.Self()
	var g errgroup.Group
	for _, registry := range registries {
		g.Go(func() error {
			if err := b.client.Enable(ctx, registry.BaseURL(), self.NodeUID, self.IPv4Address, self.Port); err != nil {
				b.logger.WithError(err).WithField("registry", registry.NodeUID).Warn("Enable notification failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	b.logger.WithField("registries", len(registries)).Info("Enable notifications sent")
}
