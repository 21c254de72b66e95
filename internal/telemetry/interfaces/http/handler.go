package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apihttp "envsurveillance/internal/api/http"
	devices "envsurveillance/internal/devices/domain"
	"envsurveillance/internal/observability/metrics"
	"envsurveillance/internal/telemetry/application"
	telemetry "envsurveillance/internal/telemetry/domain"
	"envsurveillance/internal/telemetry/interfaces/export"
	"envsurveillance/internal/telemetry/payload"
)

// Handler serves ingestion and query endpoints.
type Handler struct {
	service      *application.Service
	logger       *zap.Logger
	maxBodyBytes int64
	now          func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, logger *zap.Logger, maxBodyBytes int64) (*Handler, error) {
	if service == nil {
		return nil, errors.New("telemetry handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, maxBodyBytes: maxBodyBytes, now: time.Now}, nil
}

// Register mounts ingestion and query routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/uplink", h.handleUplink)
	r.Post("/v1/join", h.handleJoin)
	r.Post("/v1/telemetry", h.handleDirect)
	r.Get("/v1/devices/{eui}/latest", h.handleLatest)
	r.Get("/v1/devices/{eui}/history", h.handleHistory)
	r.Get("/v1/devices/{eui}/history.xlsx", h.handleHistoryXLSX)
	r.Get("/v1/devices/{eui}/history.pdf", h.handleHistoryPDF)
}

type pointResponse struct {
	TS          int64    `json:"ts"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Temperature *float64 `json:"temp"`
	Battery     *float64 `json:"battery"`
	RSSI        *float64 `json:"rssi"`
	SNR         *float64 `json:"snr"`
}

type latestResponse struct {
	DeviceEUI string `json:"device_eui"`
	pointResponse
}

type historyResponse struct {
	DeviceEUI string          `json:"device_eui"`
	Count     int             `json:"count"`
	History   []pointResponse `json:"history"`
}

func toPointResponse(p telemetry.Point) pointResponse {
	return pointResponse{
		TS:          p.TS.Unix(),
		Lat:         p.Lat,
		Lng:         p.Lng,
		Temperature: p.Temperature,
		Battery:     p.Battery,
		RSSI:        p.RSSI,
		SNR:         p.SNR,
	}
}

func (h *Handler) handleUplink(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, ok := h.readBody(w, r, metrics.SourceWebhook)
	if !ok {
		metrics.ObserveIngest(metrics.SourceWebhook, metrics.ResultRejected, time.Since(start))
		return
	}
	result, err := h.service.IngestUplink(r.Context(), body)
	if err != nil {
		status, message, reason := ingestFailure(err)
		h.logIngestFailure("telemetry uplink", status, err)
		metrics.IncIngestError(metrics.SourceWebhook, reason)
		metrics.ObserveIngest(metrics.SourceWebhook, resultFor(status), time.Since(start))
		apihttp.WriteError(w, status, message)
		return
	}
	h.logger.Debug("telemetry uplink: accepted",
		zap.String("device_eui", result.Device.EUI),
		zap.Bool("device_created", result.DeviceCreated),
		zap.Bool("point_stored", result.Point != nil),
	)
	metrics.ObserveIngest(metrics.SourceWebhook, metrics.ResultSuccess, time.Since(start))
	apihttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	body, err := apihttp.ReadBody(r, h.maxBodyBytes)
	if err != nil {
		h.logger.Warn("telemetry join: read failed", zap.Error(err))
	} else {
		fields := []zap.Field{zap.Int("bytes", len(body))}
		if root, err := payload.Parse(body); err == nil {
			if eui, ok := root.Path("end_device_ids", "dev_eui").Text(); ok {
				fields = append(fields, zap.String("device_eui", eui))
			}
		}
		h.logger.Info("telemetry join: received", fields...)
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "join received"})
}

func (h *Handler) handleDirect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, ok := h.readBody(w, r, metrics.SourceDirect)
	if !ok {
		metrics.ObserveIngest(metrics.SourceDirect, metrics.ResultRejected, time.Since(start))
		return
	}
	point, err := h.service.IngestDirect(r.Context(), body)
	if err != nil {
		status, message, reason := ingestFailure(err)
		h.logIngestFailure("telemetry direct", status, err)
		metrics.IncIngestError(metrics.SourceDirect, reason)
		metrics.ObserveIngest(metrics.SourceDirect, resultFor(status), time.Since(start))
		apihttp.WriteError(w, status, message)
		return
	}
	h.logger.Debug("telemetry direct: stored", zap.String("device_eui", point.DeviceEUI), zap.Int64("id", point.ID))
	metrics.ObserveIngest(metrics.SourceDirect, metrics.ResultSuccess, time.Since(start))
	apihttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, source string) ([]byte, bool) {
	body, err := apihttp.ReadBody(r, h.maxBodyBytes)
	if err == nil {
		return body, true
	}
	if errors.Is(err, apihttp.ErrBodyTooLarge) {
		metrics.IncIngestError(source, "too_large")
		apihttp.WriteError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return nil, false
	}
	h.logger.Warn("telemetry ingest: read failed", zap.String("source", source), zap.Error(err))
	metrics.IncIngestError(source, "read")
	apihttp.WriteError(w, http.StatusBadRequest, "Invalid body")
	return nil, false
}

func ingestFailure(err error) (status int, message, reason string) {
	switch {
	case errors.Is(err, telemetry.ErrInvalidFormat):
		return http.StatusBadRequest, "Invalid JSON", "invalid_format"
	case errors.Is(err, telemetry.ErrMissingIdentifier):
		return http.StatusBadRequest, "Missing device_eui", "missing_identifier"
	case errors.Is(err, telemetry.ErrMissingCoordinate):
		return http.StatusBadRequest, "Missing lat/lng", "missing_coordinate"
	default:
		return http.StatusInternalServerError, "ingest error", "storage"
	}
}

func resultFor(status int) string {
	if status >= http.StatusInternalServerError {
		return metrics.ResultError
	}
	return metrics.ResultRejected
}

func (h *Handler) logIngestFailure(component string, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(component+": ingest failed", zap.Error(err))
		return
	}
	h.logger.Warn(component+": rejected", zap.Error(err))
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	eui := chi.URLParam(r, "eui")
	point, err := h.service.Latest(r.Context(), eui)
	if err != nil {
		h.writeQueryError(w, "telemetry latest", eui, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, latestResponse{DeviceEUI: point.DeviceEUI, pointResponse: toPointResponse(point)})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q, points, ok := h.history(w, r)
	if !ok {
		return
	}
	out := make([]pointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, toPointResponse(p))
	}
	apihttp.WriteJSON(w, http.StatusOK, historyResponse{DeviceEUI: q.DeviceEUI, Count: len(out), History: out})
}

func (h *Handler) handleHistoryXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.BuildHistoryXLSX)
}

func (h *Handler) handleHistoryPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "pdf", "application/pdf", export.BuildHistoryPDF)
}

type renderFunc func(deviceEUI string, points []telemetry.Point, generated time.Time) ([]byte, error)

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format, contentType string, render renderFunc) {
	start := time.Now()
	q, points, ok := h.history(w, r)
	if !ok {
		metrics.ObserveExport(format, metrics.ResultRejected, time.Since(start))
		return
	}
	data, err := render(q.DeviceEUI, points, h.now())
	if err != nil {
		h.logger.Error("telemetry export: render failed", zap.String("format", format), zap.String("device_eui", q.DeviceEUI), zap.Error(err))
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		apihttp.WriteError(w, http.StatusInternalServerError, "export error")
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+q.DeviceEUI+`-history.`+format+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// history parses limit/fromTs/toTs and runs the query, writing any error response.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) (telemetry.HistoryQuery, []telemetry.Point, bool) {
	eui := chi.URLParam(r, "eui")
	from, err := apihttp.ParseEpochQuery(r, "fromTs")
	if err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
		return telemetry.HistoryQuery{}, nil, false
	}
	to, err := apihttp.ParseEpochQuery(r, "toTs")
	if err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
		return telemetry.HistoryQuery{}, nil, false
	}
	q := telemetry.HistoryQuery{
		DeviceEUI: eui,
		Limit:     telemetry.ParseLimit(r.URL.Query().Get("limit")),
		From:      from,
		To:        to,
	}
	points, err := h.service.History(r.Context(), q)
	if err != nil {
		h.writeQueryError(w, "telemetry history", eui, err)
		return telemetry.HistoryQuery{}, nil, false
	}
	if normalized, err := devices.NormalizeEUI(eui); err == nil {
		q.DeviceEUI = normalized
	}
	return q, points, true
}

func (h *Handler) writeQueryError(w http.ResponseWriter, component, eui string, err error) {
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		apihttp.WriteError(w, http.StatusNotFound, "Device not found")
	case errors.Is(err, telemetry.ErrNoTelemetry):
		apihttp.WriteError(w, http.StatusNotFound, "No telemetry for device")
	default:
		h.logger.Error(component+": query failed", zap.String("device_eui", eui), zap.Error(err))
		apihttp.WriteError(w, http.StatusInternalServerError, "query error")
	}
}
