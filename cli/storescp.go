package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomstore/config"
	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/metrics"
	"github.com/caio-sobreiro/dicomstore/server"
	"github.com/caio-sobreiro/dicomstore/storage"
)

func buildStoreSCPCommand(opts *rootOptions) *cobra.Command {
	var (
		address    string
		aeTitle    string
		storageDir string
	)

	cmd := &cobra.Command{
		Use:   "storescp",
		Short: "Receive DICOM objects into a directory",
		Long: `Run a storage SCP that accepts C-STORE and C-ECHO requests and writes every
received object as a Part 10 file below the storage directory.

Stops gracefully on SIGINT or SIGTERM once in-flight associations end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("address") {
					cfg.SCP.Address = address
				}
				if cmd.Flags().Changed("ae-title") {
					cfg.SCP.AETitle = aeTitle
				}
				if cmd.Flags().Changed("storage-dir") {
					cfg.SCP.StorageDir = storageDir
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStoreSCP(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default from config, :11112)")
	cmd.Flags().StringVar(&aeTitle, "ae-title", "", "AE title of this SCP")
	cmd.Flags().StringVarP(&storageDir, "storage-dir", "d", "", "Directory received objects are written to")
	return cmd
}

// runStoreSCP serves until ctx is done and every association has ended.
func runStoreSCP(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var storeOpts []storage.DirectoryOption
	if cfg.SCP.PathStrategy == config.PathStrategyFlat {
		storeOpts = append(storeOpts, storage.WithPathStrategy(storage.FlatPathStrategy{}))
	} else {
		storeOpts = append(storeOpts, storage.WithPathStrategy(storage.HierarchicalPathStrategy{}))
	}
	if cfg.SCP.IndexPath != "" {
		index, err := storage.OpenIndex(cfg.SCP.IndexPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := index.Close(); err != nil {
				logger.Warn("Failed to close index", "error", err)
			}
		}()
		storeOpts = append(storeOpts, storage.WithIndex(index))
	}
	storeOpts = append(storeOpts,
		storage.WithSourceAETitle(cfg.SCP.AETitle),
		storage.WithStoreLogger(logger))

	store, err := storage.NewDirectoryStore(cfg.SCP.StorageDir, storeOpts...)
	if err != nil {
		return err
	}

	tlsConfig, err := cfg.TLS.Server()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		shutdownMetrics := serveMetrics(cfg.Metrics.Address, registry, logger)
		defer shutdownMetrics()
	}

	received := interfaces.ReceivedObjectHandlerFunc(func(ctx context.Context, filePath, transferSyntaxUID, callingAETitle string) error {
		logger.DebugContext(ctx, "Object written",
			"path", filePath,
			"transfer_syntax", transferSyntaxUID,
			"calling_ae", callingAETitle)
		return nil
	})

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeouts(cfg.SCP.Timeouts()),
		server.WithPolicy(cfg.SCP.Policy()),
		server.WithMaxAssociations(cfg.SCP.MaxAssociations),
		server.WithMaxPDULength(cfg.SCP.MaxPDULength),
		server.WithTLSConfig(tlsConfig),
		server.WithMetrics(collector),
	}
	if cfg.SCP.StrictAETitle {
		serverOpts = append(serverOpts, server.WithStrictAETitle())
	}

	dispatcher := server.NewStorageDispatcher(cfg.SCP.AETitle, cfg.SCP.Address, store, received, serverOpts...)
	logger.Info("Starting storage SCP",
		"address", cfg.SCP.Address,
		"storage_dir", store.Root(),
		"tls", tlsConfig != nil)
	if err := dispatcher.Run(ctx); err != nil {
		return fmt.Errorf("storage SCP: %w", err)
	}
	logger.Info("Storage SCP stopped")
	return nil
}

// serveMetrics exposes /metrics on address and returns a function that stops
// the server.
func serveMetrics(address string, gatherer prometheus.Gatherer, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server started", "address", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
}
