// Package executor assembles the trajectory executor: the store, the
// correlation registry, the lifecycle controller and its ingress servers.
package executor

import (
	"context"
	"time"

	"github.com/autopeer-io/pathrunner/internal/executor/lifecycle"
	"github.com/autopeer-io/pathrunner/internal/executor/store"
	"github.com/autopeer-io/pathrunner/internal/executor/waiter"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/pkg/server"
	"github.com/autopeer-io/pathrunner/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type Executor struct {
	store      *store.Store
	controller *lifecycle.Controller
	registry   *waiter.Registry[protocol.Message]
	manager    *server.Manager
}

// Store returns the executor's store.
func (e *Executor) Store() *store.Store { return e.store }

// Controller returns the lifecycle controller.
func (e *Executor) Controller() *lifecycle.Controller { return e.controller }

// Run serves until ctx is done, then interrupts live executions and closes
// the store.
func (e *Executor) Run(ctx context.Context) error {
	log.Info("Starting pathrunner executor...")

	err := e.manager.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := e.controller.Shutdown(shutdownCtx); serr != nil {
		log.Error(serr, "Executions did not stop in time", "pending", e.registry.Len())
	}
	if cerr := e.store.Close(); cerr != nil {
		log.Error(cerr, "Failed to close store")
	}

	log.Info("Executor stopped")
	return err
}
