package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	devicehttp "envsurveillance/internal/devices/interfaces/http"
	"envsurveillance/internal/observability/logger"
	telemetryhttp "envsurveillance/internal/telemetry/interfaces/http"
	"envsurveillance/internal/telemetry/interfaces/stream"
	uplinkhttp "envsurveillance/internal/uplinks/interfaces/http"
)

func newRouter(cfg config, log *zap.Logger, comps *components) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)

	telemetryHandler, err := telemetryhttp.NewHandler(comps.telemetry, log, cfg.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	telemetryHandler.Register(r)

	deviceHandler, err := devicehttp.NewHandler(comps.devices, log, cfg.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	deviceHandler.Register(r)

	uplinkHandler, err := uplinkhttp.NewHandler(comps.uplinks, comps.devices, log)
	if err != nil {
		return nil, err
	}
	uplinkHandler.Register(r)

	if comps.hub != nil {
		streamHandler, err := stream.NewHandler(comps.hub, log, cfg.StreamOrigins)
		if err != nil {
			return nil, err
		}
		streamHandler.Register(r)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r, nil
}
