// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main implements capturectl: a receiving endpoint and a simulated capture client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/codec"
	"github.com/siderolabs/go-capture/endpoint"
	"github.com/siderolabs/go-capture/httpsink"
	"github.com/siderolabs/go-capture/internal/config"
	"github.com/siderolabs/go-capture/internal/session"
	"github.com/siderolabs/go-capture/mqttsink"
	"github.com/siderolabs/go-capture/store"
	"github.com/siderolabs/go-capture/store/filestore"
	"github.com/siderolabs/go-capture/store/pebblestore"
	"github.com/siderolabs/go-capture/zstd"
)

var errNotSaved = errors.New("session not saved")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "capturectl",
		Short:        "Chunked capture client and receiving endpoint",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, toml or json); CAPTURE_* environment variables override it")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}

		logger, err := cfg.Logging.NewLogger()
		if err != nil {
			return nil, nil, err
		}

		return cfg, logger, nil
	}

	rootCmd.AddCommand(newServeCmd(load), newRecordCmd(load))

	return rootCmd
}

type loader func() (*config.Config, *zap.Logger, error)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the endpoint receiving chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			defer logger.Sync() //nolint:errcheck

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	compressor, err := zstd.NewCompressor()
	if err != nil {
		return err
	}

	defer compressor.Close() //nolint:errcheck

	var st store.Store

	switch cfg.Server.Store {
	case "pebble":
		st, err = pebblestore.Open(cfg.Server.DataDir, pebblestore.Options{Logger: logger})
	default:
		opts := []filestore.Option{filestore.WithLogger(logger)}

		if cfg.Server.CompressAtRest {
			opts = append(opts, filestore.WithCompressor(compressor))
		}

		st, err = filestore.New(cfg.Server.DataDir, opts...)
	}

	if err != nil {
		return err
	}

	defer st.Close() //nolint:errcheck

	srv := endpoint.New(st, endpoint.Options{
		Logger:        logger,
		Decompressors: map[string]capture.Compressor{compressor.Encoding(): compressor},
		ChunkSize:     cfg.Capture.ChunkSize,
		MaxBodySize:   cfg.Server.MaxBodySize,
	})

	logger.Info("serving", zap.String("listen", cfg.Server.Listen), zap.String("store", cfg.Server.Store), zap.String("data_dir", cfg.Server.DataDir))

	return srv.ListenAndServe(ctx, cfg.Server.Listen)
}

func newRecordCmd(load loader) *cobra.Command {
	var (
		sessionID   string
		samples     int64
		rewindEvery int64
		rewindBy    int64
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run a simulated capture session and deliver it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			defer logger.Sync() //nolint:errcheck

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			if err = store.ValidateSession(sessionID); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger = logger.With(zap.String("session", sessionID))

			sender, closeSender, err := newSender(ctx, cfg, sessionID, logger)
			if err != nil {
				return err
			}

			defer closeSender()

			report, err := session.Run(ctx, sender, session.Params{
				Logger:  logger,
				Rate:    cfg.Capture.Rate,
				Samples: samples,
				RingOptions: []capture.OptionFunc{
					capture.WithChunkSize(cfg.Capture.ChunkSize),
					capture.WithNumChunks(cfg.Capture.NumChunks),
				},
				PumpOptions: []capture.PumpOptionFunc[float64]{
					capture.WithSendTimeout[float64](cfg.Delivery.SendTimeout),
					capture.WithMaxInFlight[float64](cfg.Delivery.MaxInFlight),
				},
				RewindEvery:  rewindEvery,
				RewindBy:     rewindBy,
				DrainTimeout: cfg.Delivery.DrainTimeout,
			})
			if err != nil {
				return err
			}

			logger.Info("session finished",
				zap.Bool("saved", report.Saved),
				zap.Int64("written", report.Written),
				zap.Int64("rewinds", report.Rewinds),
				zap.Int64("delivered", report.Pump.Delivered),
				zap.Int64("failed", report.Pump.Failed),
				zap.Duration("elapsed", report.Elapsed),
			)

			if !report.Saved {
				return errNotSaved
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (random if not set)")
	cmd.Flags().Int64Var(&samples, "samples", 600, "number of positions to capture")
	cmd.Flags().Int64Var(&rewindEvery, "rewind-every", 0, "rewind once every N positions (0 disables)")
	cmd.Flags().Int64Var(&rewindBy, "rewind-by", 5, "number of positions to rewind by")

	return cmd
}

func newSender(ctx context.Context, cfg *config.Config, sessionID string, logger *zap.Logger) (capture.Sender[float64], func(), error) {
	c, err := codec.ByName(cfg.Delivery.Codec)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Delivery.Transport {
	case "mqtt":
		client, err := mqttsink.Connect(ctx, cfg.Delivery.MQTT.Broker, "capturectl-"+sessionID, logger)
		if err != nil {
			return nil, nil, err
		}

		sender, err := mqttsink.NewSender[float64](client, sessionID, mqttsink.Options{
			Codec:       c,
			Logger:      logger,
			TopicPrefix: cfg.Delivery.MQTT.TopicPrefix,
			QoS:         byte(cfg.Delivery.MQTT.QoS),
		})
		if err != nil {
			client.Disconnect(250)

			return nil, nil, err
		}

		return sender, func() { client.Disconnect(250) }, nil
	default:
		opts := []httpsink.OptionFunc{
			httpsink.WithCodec(c),
			httpsink.WithLogger(logger),
		}

		closeFn := func() {}

		if cfg.Delivery.Compress {
			compressor, err := zstd.NewCompressor()
			if err != nil {
				return nil, nil, err
			}

			opts = append(opts, httpsink.WithCompressor(compressor))
			closeFn = func() { compressor.Close() } //nolint:errcheck
		}

		sender, err := httpsink.NewSender[float64](cfg.Delivery.Endpoint, sessionID, opts...)
		if err != nil {
			closeFn()

			return nil, nil, fmt.Errorf("failed to create sender: %w", err)
		}

		return sender, closeFn, nil
	}
}
