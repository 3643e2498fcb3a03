package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"pms-to-mqtt/adapters"
	"pms-to-mqtt/application"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagShowSecrets,
	FlagStorageDir,
	FlagSerialDevice,
	FlagSerialBaud,
	FlagNetwork,
	FlagWifiInterface,
	FlagRegistrationURL,
	FlagRegistrationTimeout,
	FlagMQTTConnectTimeout,
	FlagMQTTPublishTimeout,
	FlagPayloadFormat,
	FlagPortalListen,
	FlagLoopInterval,
}

func module(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("module", name).Logger()
}

func openStorage(ctx *cli.Context, logger zerolog.Logger) (application.StorageMedium, error) {
	dir := ctx.String(FlagStorageDir.Name)
	if dir == "" {
		logger.Warn().Msg("no storage dir, config will not survive restart")
		return adapters.NewMemoryEEPROM(adapters.DefaultEEPROMSize), nil
	}
	return adapters.OpenFileEEPROM(adapters.FileEEPROMParams{
		Dir: dir,
		Log: module(logger, "eeprom"),
	})
}

type transports struct {
	mqtt      application.MQTTClient
	joiner    application.NetworkJoiner
	registrar application.Registrar
}

func newTransports(ctx *cli.Context, logger zerolog.Logger) (transports, error) {
	if !ctx.Bool(FlagNetwork.Name) {
		logger.Warn().Msg("networking disabled, registration and mqtt are stubbed")
		return transports{
			mqtt:      &adapters.StubMQTTClient{Log: module(logger, "mqtt-stub")},
			joiner:    &adapters.StubJoiner{Log: module(logger, "wifi-stub")},
			registrar: &adapters.StubRegistrar{Log: module(logger, "registrar-stub")},
		}, nil
	}

	registrar, err := adapters.NewHTTPRegistrar(adapters.HTTPRegistrarParams{
		URL: ctx.String(FlagRegistrationURL.Name),
		Log: module(logger, "registrar"),
	})
	if err != nil {
		return transports{}, err
	}
	return transports{
		mqtt: adapters.NewMQTTClient(adapters.MQTTClientParams{
			ConnectTimeout: ctx.Duration(FlagMQTTConnectTimeout.Name),
			PublishTimeout: ctx.Duration(FlagMQTTPublishTimeout.Name),
			Log:            module(logger, "mqtt-client"),
		}),
		joiner: adapters.NewNMCLIJoiner(adapters.NMCLIJoinerParams{
			Interface: ctx.String(FlagWifiInterface.Name),
			Log:       module(logger, "wifi"),
		}),
		registrar: registrar,
	}, nil
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "pms-to-mqtt",
		Version: "v0.0.1",
		Usage:   "PMS5003 air quality node: setup portal, sensor decoding, mqtt telemetry",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "pms-to-mqtt").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			showSecrets := ctx.Bool(FlagShowSecrets.Name)
			payloadFormat, err := application.ParsePayloadFormat(ctx.String(FlagPayloadFormat.Name))
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			metrics := adapters.NewPromMetrics(registry)

			medium, err := openStorage(ctx, logger)
			if err != nil {
				return err
			}
			store, err := application.NewConfigStore(application.ConfigStoreParams{
				Medium:      medium,
				ShowSecrets: showSecrets,
				Log:         module(logger, "config-store"),
				Metrics:     metrics,
			})
			if err != nil {
				return err
			}

			tr, err := newTransports(ctx, logger)
			if err != nil {
				return err
			}

			network, err := application.NewConnectionSupervisor(application.ConnectionSupervisorParams{
				Link:    application.NewNetworkLink(tr.joiner),
				Log:     module(logger, "wifi-supervisor"),
				Metrics: metrics,
			})
			if err != nil {
				return err
			}
			broker, err := application.NewConnectionSupervisor(application.ConnectionSupervisorParams{
				Link:           application.NewBrokerLink(tr.mqtt),
				DependsOn:      network,
				AttemptTimeout: ctx.Duration(FlagMQTTConnectTimeout.Name),
				Log:            module(logger, "mqtt-supervisor"),
				Metrics:        metrics,
			})
			if err != nil {
				return err
			}

			provisioning, err := application.NewProvisioningFlow(application.ProvisioningFlowParams{
				Store:     store,
				Registrar: tr.registrar,
				OnSubmit:  application.Relink(network, broker, time.Now),
				Timeout:   ctx.Duration(FlagRegistrationTimeout.Name),
				Log:       module(logger, "provisioning"),
				Metrics:   metrics,
			})
			if err != nil {
				return err
			}

			var sensor application.SensorLink
			if device := ctx.String(FlagSerialDevice.Name); device != "" {
				link, err := adapters.OpenSerialLink(adapters.SerialLinkParams{
					Device: device,
					Baud:   ctx.Int(FlagSerialBaud.Name),
					Log:    module(logger, "serial"),
				})
				if err != nil {
					// the portal stays useful without the sensor
					logger.Error().Err(err).Msg("sensor serial unavailable")
				} else {
					defer link.Close()
					sensor = link
				}
			}

			decoder := application.NewFrameDecoder(application.FrameDecoderParams{
				Log:     module(logger, "frame-decoder"),
				Metrics: metrics,
			})
			publisher := application.NewTelemetryPublisher(application.TelemetryPublisherParams{
				Format: payloadFormat,
				Log:    module(logger, "publisher"),
			})

			node, err := application.NewNodeService(application.NodeServiceParams{
				Store:        store,
				Provisioning: provisioning,
				Decoder:      decoder,
				Sensor:       sensor,
				Network:      network,
				Broker:       broker,
				Publisher:    publisher,
				MQTTClient:   tr.mqtt,
				LoopInterval: ctx.Duration(FlagLoopInterval.Name),
				Log:          module(logger, "node"),
				Metrics:      metrics,
			})
			if err != nil {
				return err
			}

			portal, err := adapters.NewPortal(adapters.PortalParams{
				Listen:      ctx.String(FlagPortalListen.Name),
				Node:        node,
				Gatherer:    registry,
				ShowSecrets: showSecrets,
				Log:         module(logger, "portal"),
			})
			if err != nil {
				return err
			}

			logger.Info().Msg("service started")
			g, gctx := errgroup.WithContext(appCtx)
			g.Go(func() error {
				return node.Run(gctx)
			})
			g.Go(func() error {
				return portal.Serve(gctx)
			})

			err = g.Wait()
			if errors.Is(err, application.ErrRebootRequested) {
				logger.Warn().Msg("restart requested from portal")
				return nil
			}
			if err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
		Authors: []*cli.Author{
			{
				Name:  "Marcin Gorzynski",
				Email: "marcin@gorzynski.me",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}
