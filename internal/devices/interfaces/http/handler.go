package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apihttp "envsurveillance/internal/api/http"
	deviceapp "envsurveillance/internal/devices/application"
	devices "envsurveillance/internal/devices/domain"
)

// Handler serves the device directory endpoints.
type Handler struct {
	service      *deviceapp.Service
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewHandler constructs a handler.
func NewHandler(service *deviceapp.Service, logger *zap.Logger, maxBodyBytes int64) (*Handler, error) {
	if service == nil {
		return nil, errors.New("devices handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, maxBodyBytes: maxBodyBytes}, nil
}

// Register mounts the routes under /v1/devices.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/devices", h.handleList)
	r.Post("/v1/devices", h.handleCreate)
	r.Post("/v1/devices/{eui}", h.handleUpdate)
	r.Patch("/v1/devices/{eui}", h.handleUpdate)
	r.Delete("/v1/devices/{eui}", h.handleDelete)
}

type deviceResponse struct {
	DeviceEUI string `json:"device_eui"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

func toResponse(device devices.Device) deviceResponse {
	return deviceResponse{
		DeviceEUI: device.EUI,
		Name:      device.Name,
		IsActive:  device.IsActive,
		CreatedAt: device.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("devices list: query failed", zap.Error(err))
		apihttp.WriteError(w, http.StatusInternalServerError, "list error")
		return
	}
	out := make([]deviceResponse, 0, len(list))
	for _, device := range list {
		out = append(out, toResponse(device))
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"devices": out})
}

type createRequest struct {
	DeviceEUI string `json:"device_eui"`
	Name      string `json:"name"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	device, err := h.service.Create(r.Context(), deviceapp.CreateInput{EUI: req.DeviceEUI, Name: req.Name})
	if err != nil {
		h.writeServiceError(w, "devices create", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{
		"status":     "created",
		"device_eui": device.EUI,
		"name":       device.Name,
		"created_at": device.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

type updateRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	device, err := h.service.Update(r.Context(), chi.URLParam(r, "eui"), deviceapp.UpdateInput{
		Name:     req.Name,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.writeServiceError(w, "devices update", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "updated",
		"device_eui": device.EUI,
		"name":       device.Name,
		"is_active":  device.IsActive,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "eui")); err != nil {
		h.writeServiceError(w, "devices delete", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := apihttp.ReadBody(r, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, apihttp.ErrBodyTooLarge) {
			apihttp.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
			return false
		}
		apihttp.WriteError(w, http.StatusBadRequest, "read body error")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.logger.Warn("devices: decode error", zap.Error(err))
		apihttp.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		apihttp.WriteError(w, http.StatusNotFound, "Device not found")
	case errors.Is(err, devices.ErrDeviceExists):
		apihttp.WriteError(w, http.StatusConflict, "Device already exists")
	case errors.Is(err, devices.ErrEmptyName):
		apihttp.WriteError(w, http.StatusBadRequest, "Missing name")
	case errors.Is(err, devices.ErrInvalidEUI):
		apihttp.WriteError(w, http.StatusBadRequest, "Invalid device_eui")
	case errors.Is(err, devices.ErrEUIExhausted):
		h.logger.Error(op+": eui generation exhausted", zap.Error(err))
		apihttp.WriteError(w, http.StatusServiceUnavailable, "could not allocate device_eui")
	default:
		h.logger.Error(op+": failed", zap.Error(err))
		apihttp.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
