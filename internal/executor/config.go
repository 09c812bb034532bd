package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/autopeer-io/pathrunner/internal/executor/archive"
	"github.com/autopeer-io/pathrunner/internal/executor/lifecycle"
	"github.com/autopeer-io/pathrunner/internal/executor/server/grpc"
	"github.com/autopeer-io/pathrunner/internal/executor/server/http"
	ingress "github.com/autopeer-io/pathrunner/internal/executor/server/mqtt"
	"github.com/autopeer-io/pathrunner/internal/executor/store"
	"github.com/autopeer-io/pathrunner/internal/executor/stream"
	"github.com/autopeer-io/pathrunner/internal/executor/waiter"
	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/pkg/server"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

type Config struct {
	MqttOptions     *options.MqttOptions
	HttpOptions     *options.HttpOptions
	GrpcOptions     *options.GrpcOptions
	StoreOptions    *options.StoreOptions
	S3Options       *options.S3Options
	ExecutorOptions *options.ExecutorOptions
}

// NewExecutor opens the store and wires every component. client may be nil,
// in which case a broker client is built from MqttOptions.
func (cfg *Config) NewExecutor(ctx context.Context, client mqtt.Client) (*Executor, error) {
	if client == nil {
		var err error
		if client, err = cfg.newMQTTClient(); err != nil {
			return nil, err
		}
	}

	db, err := store.Open(ctx, cfg.StoreOptions.Driver, cfg.StoreOptions.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	topics := cfg.MqttOptions.Topics()
	registry := waiter.New[protocol.Message](waiter.WithPendingGauge(metrics.PendingWaiters))

	eo := cfg.ExecutorOptions
	streamer := stream.New(stream.Config{
		AckTimeout:           eo.AckTimeout,
		Attempts:             eo.AckRetries,
		StrictWaitForReached: eo.StrictWaitForReached,
		StrictTimeout:        eo.EffectiveStrictTimeout(),
		PollInterval:         eo.PollInterval,
		SendInterval:         eo.SendInterval,
	}, client, topics, registry, db)

	var (
		controllerOpts []lifecycle.Option
		reports        http.ReportLinker
	)
	if cfg.S3Options != nil && cfg.S3Options.Enabled() {
		archiver, err := archive.NewMinIOArchiver(cfg.S3Options)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init report archive: %w", err)
		}
		if err := archiver.CheckBucket(ctx); err != nil {
			// reports are best effort; the executor still runs
			log.Error(err, "Report bucket unavailable", "bucket", cfg.S3Options.BucketName)
		}
		controllerOpts = append(controllerOpts, lifecycle.WithArchiver(archiver, db))
		reports = archiver
	}
	controller := lifecycle.NewController(db, streamer, controllerOpts...)

	servers := []server.Server{
		ingress.NewServer(client, topics, registry, db, controller),
		http.NewServer(cfg.HttpOptions, http.Deps{
			Executions: db,
			Runner:     controller,
			Reports:    reports,
			Ready:      []server.ReadinessCheck{db.Ping, server.BrokerCheck(client.IsConnected)},
		}),
	}
	if cfg.GrpcOptions != nil && cfg.GrpcOptions.Addr != "" {
		servers = append(servers, grpc.NewServer(cfg.GrpcOptions, client.IsConnected))
	}

	return &Executor{
		store:      db,
		controller: controller,
		registry:   registry,
		manager:    server.NewManager(servers...),
	}, nil
}

func (cfg *Config) newMQTTClient() (mqtt.Client, error) {
	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = "executor-" + uuid.NewString()
	}

	client, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		log.Error(err, "failed to new mqtt client")
		return nil, err
	}
	return client, nil
}
