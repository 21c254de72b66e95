package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apihttp "envsurveillance/internal/api/http"
	devices "envsurveillance/internal/devices/domain"
)

// Handler upgrades HTTP requests to live telemetry subscriptions.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler constructs a stream handler. allowedOrigins empty accepts any origin.
func NewHandler(hub *Hub, logger *zap.Logger, allowedOrigins []string) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("stream handler: nil hub")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}, nil
}

// Register mounts the stream route.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/stream", h.ServeWS)
}

// ServeWS handles GET /v1/stream[?device_eui=...].
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var filter string
	if raw := r.URL.Query().Get("device_eui"); raw != "" {
		eui, err := devices.NormalizeEUI(raw)
		if err != nil {
			apihttp.WriteError(w, http.StatusBadRequest, "Invalid device_eui")
			return
		}
		filter = eui
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}
	client := &Client{
		hub:       h.hub,
		conn:      conn,
		send:      make(chan []byte, clientSendBuffer),
		deviceEUI: filter,
		remote:    conn.RemoteAddr().String(),
		logger:    h.logger,
	}
	if !h.hub.attach(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
