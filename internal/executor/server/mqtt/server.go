package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/pathrunner/internal/executor/core"
	"github.com/autopeer-io/pathrunner/internal/executor/waiter"
	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/pkg/log"
	pkgmqtt "github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

// Starter begins an execution. Implemented by lifecycle.Controller.
type Starter interface {
	Start(ctx context.Context, executionID, robotID string) error
}

// Server implements the MQTT ingress layer of the executor.
type Server struct {
	client   pkgmqtt.Client
	topics   *topic.Builder
	registry *waiter.Registry[protocol.Message]
	events   core.EventRepository
	starter  Starter
	log      log.Logger
}

// NewServer creates the ingress. When topics carries a shared-subscription
// group, several executors split the inbound load.
func NewServer(client pkgmqtt.Client, topics *topic.Builder, registry *waiter.Registry[protocol.Message], events core.EventRepository, starter Starter) *Server {
	return &Server{
		client:   client,
		topics:   topics,
		registry: registry,
		events:   events,
		starter:  starter,
		log:      log.WithName("ingress"),
	}
}

// Start connects to the broker, subscribes and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	defer func() {
		s.log.Info("Disconnecting MQTT client...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.client.Disconnect(shutdownCtx)
		metrics.BrokerConnected.Set(0)
	}()

	s.log.Info("Waiting for MQTT connection...")
	if err := s.client.AwaitConnection(ctx); err != nil {
		return err
	}
	metrics.BrokerConnected.Set(1)
	s.log.Info("MQTT Connected")

	if err := s.Subscribe(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// Subscribe registers every inbound handler.
func (s *Server) Subscribe(ctx context.Context) error {
	subscriptions := map[string]struct {
		qos     int
		handler pkgmqtt.MessageHandler
	}{
		s.topics.BuildWildcard(topic.SegmentAck):       {pkgmqtt.AtLeastOnce, s.handleInbound},
		s.topics.BuildWildcard(topic.SegmentEvents):    {pkgmqtt.AtLeastOnce, s.handleInbound},
		s.topics.BuildWildcard(topic.SegmentTelemetry): {pkgmqtt.AtMostOnce, s.handleInbound},
		s.topics.Filter(s.topics.ExecutorStart()):      {pkgmqtt.AtLeastOnce, s.handleStart},
	}

	for filter, sub := range subscriptions {
		if err := s.client.Subscribe(ctx, filter, sub.qos, sub.handler); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", filter, err)
		}
	}
	return nil
}
