package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// metricsServer 在后台暴露 /metrics
type metricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

func startMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	m := &metricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With(zap.String("component", "metrics_server")),
	}

	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	m.logger.Info("metrics server started", zap.String("addr", addr))
	return m
}

func (m *metricsServer) Shutdown(ctx context.Context) {
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}
