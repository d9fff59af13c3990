package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/metrics"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Run the /metrics and /health HTTP endpoints standalone",
	RunE:  runServeMetrics,
}

var finalizeServeMetricsConfig func() error

func init() {
	finalizeServeMetricsConfig = bindConfig(serveMetricsCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	if err := finalizeServeMetricsConfig(); err != nil {
		return err
	}
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("serve-metrics: metrics.enabled is false")
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	checker := newMetricsHealthChecker()
	checker.SetComponent("archiver", true, "serve-metrics started")

	srv := metrics.NewServer(cfg.Metrics.Addr, checker)
	log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))

	if err := srv.ListenAndServe(cmd.Context()); err != nil {
		return fmt.Errorf("serve-metrics: %w", err)
	}
	return nil
}
