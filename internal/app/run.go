package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bmayton/chainpost/internal/bridge"
	"github.com/bmayton/chainpost/internal/config"
	"github.com/bmayton/chainpost/internal/httpapi"
	"github.com/bmayton/chainpost/internal/metrics"
	"github.com/bmayton/chainpost/internal/mqtt"
	"github.com/bmayton/chainpost/internal/types"
	"github.com/bmayton/chainpost/pkg/chainpost"
	"github.com/bmayton/chainpost/pkg/hal"
)

// NewClient builds the HAL client for cfg.
func NewClient(cfg config.Config, version string, logger *slog.Logger) (*hal.Client, error) {
	client, err := hal.New(
		hal.WithTimeout(cfg.HTTPTimeout),
		hal.WithCacheSize(cfg.CacheSize),
		hal.WithLogger(logger),
		hal.WithUserAgent("chainpost/"+version),
	)
	if err != nil {
		return nil, fmt.Errorf("hal client: %w", err)
	}
	return client, nil
}

// NewPoster connects a Poster to the configured site. A failed first connect is
// not fatal.
func NewPoster(ctx context.Context, cfg config.Config, client *hal.Client, logger *slog.Logger) *chainpost.Poster {
	return chainpost.Open(ctx, cfg.SiteURL, client,
		chainpost.WithAuth(cfg.Credentials()),
		chainpost.WithLogger(logger),
	)
}

// Run bridges MQTT telemetry to the Chain site and serves /healthz and /metrics
// until ctx is done.
func Run(ctx context.Context, cfg config.Config, version string) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"siteURL", cfg.SiteURL,
		"httpTimeout", cfg.HTTPTimeout,
		"cacheSize", cfg.CacheSize,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)

	client, err := NewClient(cfg, version, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	poster := NewPoster(ctx, cfg, client, logger)
	m := metrics.New()
	br := bridge.New(poster, m, logger)

	// The handler must be set before Connect: the broker may deliver queued
	// messages right after CONNACK.
	subscriber := mqtt.NewSubscriber(cfg, logger)
	subscriber.SetMessageHandler(func(t types.Telemetry) error {
		return br.Handle(ctx, t)
	})

	go connectLoop(ctx, subscriber, logger)

	srv := httpapi.NewServer(cfg, httpapi.NewMux(br, m.Handler()), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		subscriber.Disconnect()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("mqtt disconnecting")
	subscriber.Disconnect()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// connectLoop retries the initial broker connection so that the HTTP surface is
// up while the broker is not. Once connected, paho reconnects on its own.
func connectLoop(ctx context.Context, s *mqtt.Subscriber, logger *slog.Logger) {
	const retry = 10 * time.Second
	for {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.Connect(connectCtx)
		cancel()
		if err == nil || errors.Is(err, mqtt.ErrStopped) || ctx.Err() != nil {
			return
		}
		logger.Warn("mqtt connection failed (continuing, will retry)", "error", err, "retry_in", retry)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
