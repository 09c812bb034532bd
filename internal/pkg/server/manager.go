package server

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/pathrunner/pkg/log"
)

var errBrokerDown = errors.New("mqtt broker not connected")

// Server defines the common interface for all sub-servers (grpc, mqtt, http).
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of all protocol servers.
type Manager struct {
	servers []Server
}

func NewManager(servers ...Server) *Manager {
	return &Manager{servers: servers}
}

// Start launches all servers in parallel and waits for termination. The
// first failure stops the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
