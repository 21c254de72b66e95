package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apihttp "envsurveillance/internal/api/http"
	uplinks "envsurveillance/internal/uplinks/domain"
)

// DeviceNamer supplies names for the devices on a listing page.
type DeviceNamer interface {
	Names(ctx context.Context, euis []string) (map[string]string, error)
}

// Handler serves the uplink log endpoints.
type Handler struct {
	log     uplinks.Log
	devices DeviceNamer
	logger  *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(log uplinks.Log, deviceNamer DeviceNamer, logger *zap.Logger) (*Handler, error) {
	if log == nil {
		return nil, errors.New("uplinks handler: nil log")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{log: log, devices: deviceNamer, logger: logger}, nil
}

// Register mounts the routes under /v1/uplinks.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/uplinks", h.handleList)
	r.Delete("/v1/uplinks/{id}", h.handleDelete)
}

type uplinkResponse struct {
	ID             int64           `json:"id"`
	DeviceEUI      string          `json:"device_eui"`
	DeviceName     *string         `json:"device_name"`
	ApplicationID  string          `json:"application_id"`
	DecodedPayload json.RawMessage `json:"decoded_payload"`
	RSSI           *float64        `json:"rssi"`
	SNR            *float64        `json:"snr"`
	FPort          *int            `json:"f_port"`
	ReceivedAt     string          `json:"received_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	items, err := h.log.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("uplinks list: query failed", zap.Error(err))
		apihttp.WriteError(w, http.StatusInternalServerError, "list error")
		return
	}
	names := h.deviceNames(r.Context(), items)

	out := make([]uplinkResponse, 0, len(items))
	for _, item := range items {
		resp := uplinkResponse{
			ID:             item.ID,
			DeviceEUI:      item.DeviceEUI,
			ApplicationID:  item.ApplicationID,
			DecodedPayload: item.DecodedPayload,
			RSSI:           item.RSSI,
			SNR:            item.SNR,
			FPort:          item.FPort,
			ReceivedAt:     item.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}
		if name, ok := names[item.DeviceEUI]; ok {
			resp.DeviceName = &name
		}
		if len(resp.DecodedPayload) == 0 {
			resp.DecodedPayload = json.RawMessage("null")
		}
		out = append(out, resp)
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"ttn_uplinks": out})
}

func (h *Handler) deviceNames(ctx context.Context, items []uplinks.RawUplink) map[string]string {
	if h.devices == nil || len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	euis := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.DeviceEUI]; ok {
			continue
		}
		seen[item.DeviceEUI] = struct{}{}
		euis = append(euis, item.DeviceEUI)
	}
	names, err := h.devices.Names(ctx, euis)
	if err != nil {
		h.logger.Warn("uplinks list: device lookup failed", zap.Error(err))
		return nil
	}
	return names
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apihttp.WriteError(w, http.StatusNotFound, "Uplink not found")
		return
	}
	if err := h.log.Delete(r.Context(), id); err != nil {
		if errors.Is(err, uplinks.ErrUplinkNotFound) {
			apihttp.WriteError(w, http.StatusNotFound, "Uplink not found")
			return
		}
		h.logger.Error("uplinks delete: failed", zap.Int64("id", id), zap.Error(err))
		apihttp.WriteError(w, http.StatusInternalServerError, "delete error")
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
