package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shorts-sampler/shared/logger"

	"go.uber.org/zap"
)

type HealthServer struct {
	monitor *Monitor
	metrics *Metrics
	server  *http.Server
}

// NewHealthServer serves /health and /status, plus /metrics when metrics is
// not nil.
func NewHealthServer(monitor *Monitor, metrics *Metrics, port string) *HealthServer {
	if port == "" {
		port = "8080"
	}
	h := &HealthServer{monitor: monitor, metrics: metrics}
	h.server = &http.Server{
		Addr:              ":" + port,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/status", h.statusHandler)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
	return mux
}

func (h *HealthServer) Start() {
	logger.Log.Info("health server starting", zap.String("addr", h.server.Addr))
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("health server error", zap.Error(err))
		}
	}()
}

func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if h.monitor.IsHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK - %s", h.monitor.GetStatusSummary())
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Service unhealthy - %s", h.monitor.GetStatusSummary())
	}
}

func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s", h.monitor.GetStatusSummary())
}
