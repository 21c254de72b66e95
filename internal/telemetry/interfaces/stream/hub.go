package stream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"envsurveillance/internal/observability/metrics"
	telemetry "envsurveillance/internal/telemetry/domain"
)

const (
	defaultBroadcastBuffer = 256
	clientSendBuffer       = 64
)

// Message is the frame written to subscribers for every appended point.
type Message struct {
	Type    string       `json:"type"`
	Payload PointMessage `json:"payload"`
}

// PointMessage mirrors the latest-point response.
type PointMessage struct {
	DeviceEUI   string   `json:"device_eui"`
	TS          int64    `json:"ts"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Temperature *float64 `json:"temp"`
	Battery     *float64 `json:"battery"`
	RSSI        *float64 `json:"rssi"`
	SNR         *float64 `json:"snr"`
}

type envelope struct {
	deviceEUI string
	frame     []byte
}

// Hub fans appended points out to websocket subscribers.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger

	connected atomic.Int64

	mu      sync.RWMutex
	running bool
}

// NewHub constructs a hub. Run must be started before clients connect.
func NewHub(logger *zap.Logger, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultBroadcastBuffer
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan envelope, buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.connected.Store(int64(len(h.clients)))
			metrics.SetStreamClients(len(h.clients))
			h.logger.Debug("stream client registered", zap.String("remote", client.remote), zap.String("device_eui", client.deviceEUI))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.deviceEUI != "" && client.deviceEUI != msg.deviceEUI {
					continue
				}
				select {
				case client.send <- msg.frame:
				default:
					h.logger.Warn("stream client too slow, disconnecting", zap.String("remote", client.remote))
					metrics.IncStreamDropped()
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.connected.Store(int64(len(h.clients)))
	metrics.SetStreamClients(len(h.clients))
}

// Clients reports the number of registered subscribers.
func (h *Hub) Clients() int {
	return int(h.connected.Load())
}

// Publish queues a point for broadcast without blocking. Points are dropped
// when the broadcast queue is full.
func (h *Hub) Publish(point telemetry.Point) {
	frame, err := json.Marshal(Message{Type: "telemetry", Payload: NewPointMessage(point)})
	if err != nil {
		h.logger.Error("stream encode failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- envelope{deviceEUI: point.DeviceEUI, frame: frame}:
	default:
		metrics.IncStreamDropped()
	}
}

// NewPointMessage converts a stored point to its wire form.
func NewPointMessage(p telemetry.Point) PointMessage {
	return PointMessage{
		DeviceEUI:   p.DeviceEUI,
		TS:          p.TS.Unix(),
		Lat:         p.Lat,
		Lng:         p.Lng,
		Temperature: p.Temperature,
		Battery:     p.Battery,
		RSSI:        p.RSSI,
		SNR:         p.SNR,
	}
}

func (h *Hub) attach(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Wait blocks until Run has returned or the timeout elapses.
func (h *Hub) Wait(timeout time.Duration) bool {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return true
	}
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
