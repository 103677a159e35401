package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nerrad567/locshare-core/internal/backend"
	"github.com/nerrad567/locshare-core/internal/infrastructure/config"
	"github.com/nerrad567/locshare-core/internal/infrastructure/logging"
	"github.com/nerrad567/locshare-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/locshare-core/internal/platform/bridge"
	"github.com/nerrad567/locshare-core/internal/reporter"
)

// reporterClientSuffix keeps the child's MQTT session apart from the daemon's.
const reporterClientSuffix = "-reporter"

// runReport is the background reporting service. It is launched by the
// daemon's supervisor with the session token and backend URL in the
// environment and runs until SIGTERM.
func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	userID := fs.String("user", os.Getenv(reporter.EnvUserID), "user id to report for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("report: %w", reporter.ErrNoUser)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version).With("component", "reporter", "user_id", *userID)
	log.Info("reporting service starting", "pid", os.Getpid())

	mqttCfg := cfg.MQTT
	mqttCfg.Broker.ClientID += reporterClientSuffix
	mqttClient, err := mqtt.Connect(mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	qos := byte(cfg.MQTT.QoS)

	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer influxClient.Close() //nolint:errcheck // best-effort flush on exit
	}

	osBridge := bridge.New(mqttClient, cfg.Device.ID, qos)
	osBridge.SetLogger(log)
	if err := osBridge.Start(); err != nil {
		return fmt.Errorf("starting platform bridge: %w", err)
	}
	defer osBridge.Stop()

	runnerCfg := reporter.RunnerConfig{
		UserID: *userID,
		Source: osBridge,
		Uploader: backend.New(backend.Config{
			BaseURL:           cfg.Backend.BaseURL,
			Token:             cfg.Session.Token,
			Timeout:           cfg.Backend.Timeout,
			RequestsPerSecond: cfg.Backend.RequestsPerSecond,
			Burst:             cfg.Backend.Burst,
		}),
		Publisher:        mqttClient,
		Topic:            mqtt.Topics{}.PresenceLocation(*userID),
		QoS:              qos,
		Interval:         cfg.Reporter.Interval,
		FixTimeout:       cfg.Reporter.FixTimeout,
		UploadsPerMinute: cfg.Reporter.UploadsPerMinute,
	}
	if influxClient != nil {
		runnerCfg.Telemetry = influxClient
	}
	runner := reporter.NewRunner(runnerCfg)
	runner.SetLogger(log)

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("reporting: %w", err)
	}
	log.Info("reporting service stopped", "uploads", runner.Uploads())
	return nil
}
