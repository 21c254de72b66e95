package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	devices "envsurveillance/internal/devices/domain"
	devicememory "envsurveillance/internal/devices/infrastructure/memory"
	uplinks "envsurveillance/internal/uplinks/domain"
	"envsurveillance/internal/uplinks/infrastructure/memory"
)

func TestListAndDeleteUplinks(t *testing.T) {
	ctx := context.Background()
	deviceRepo := devicememory.NewDeviceRepository()
	if _, err := deviceRepo.Create(ctx, devices.Device{EUI: "70B3D57ED0000001", Name: "river", IsActive: true}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	log := memory.NewUplinkLog()
	rssi := -97.0
	port := 2
	first, _ := log.Store(ctx, uplinks.RawUplink{
		DeviceEUI:      "70B3D57ED0000001",
		ApplicationID:  "app",
		RawPayload:     json.RawMessage(`{}`),
		DecodedPayload: json.RawMessage(`{"temp":21}`),
		RSSI:           &rssi,
		FPort:          &port,
		ReceivedAt:     time.Unix(100, 0).UTC(),
	})
	_, _ = log.Store(ctx, uplinks.RawUplink{
		DeviceEUI:  "70B3D57ED0000002",
		RawPayload: json.RawMessage(`{}`),
		ReceivedAt: time.Unix(200, 0).UTC(),
	})

	h, err := NewHandler(log, deviceRepo, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	r := chi.NewRouter()
	h.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/uplinks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var body struct {
		Uplinks []map[string]any `json:"ttn_uplinks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Uplinks) != 2 {
		t.Fatalf("uplinks = %v", body.Uplinks)
	}
	newest, oldest := body.Uplinks[0], body.Uplinks[1]
	if newest["device_name"] != nil || newest["decoded_payload"] != nil {
		t.Fatalf("unknown device should have null name and payload: %v", newest)
	}
	decoded, _ := oldest["decoded_payload"].(map[string]any)
	if oldest["device_name"] != "river" || oldest["rssi"] != -97.0 || oldest["f_port"] != 2.0 || decoded["temp"] != 21.0 {
		t.Fatalf("oldest = %v", oldest)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/uplinks?limit=1", nil))
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Uplinks) != 1 {
		t.Fatalf("limited list = %d", len(body.Uplinks))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/uplinks/"+strconv.FormatInt(first.ID, 10), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	for _, path := range []string{"/v1/uplinks/" + strconv.FormatInt(first.ID, 10), "/v1/uplinks/abc"} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

type recordingNamer struct {
	inner DeviceNamer
	calls [][]string
}

func (n *recordingNamer) Names(ctx context.Context, euis []string) (map[string]string, error) {
	n.calls = append(n.calls, append([]string(nil), euis...))
	return n.inner.Names(ctx, euis)
}

func TestListLooksUpOnlyPageDevices(t *testing.T) {
	ctx := context.Background()
	deviceRepo := devicememory.NewDeviceRepository()
	for i, name := range []string{"north", "south", "east"} {
		eui := "70B3D57ED000000" + strconv.Itoa(i+1)
		if _, err := deviceRepo.Create(ctx, devices.Device{EUI: eui, Name: name, IsActive: true}); err != nil {
			t.Fatalf("create device: %v", err)
		}
	}
	log := memory.NewUplinkLog()
	for i, eui := range []string{"70B3D57ED0000001", "70B3D57ED0000002", "70B3D57ED0000002", "70B3D57ED0000003"} {
		if _, err := log.Store(ctx, uplinks.RawUplink{DeviceEUI: eui, RawPayload: json.RawMessage(`{}`), ReceivedAt: time.Unix(int64(100+i), 0).UTC()}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	namer := &recordingNamer{inner: deviceRepo}
	h, err := NewHandler(log, namer, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	r := chi.NewRouter()
	h.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/uplinks?limit=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var body struct {
		Uplinks []map[string]any `json:"ttn_uplinks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Uplinks) != 3 || body.Uplinks[0]["device_name"] != "east" || body.Uplinks[2]["device_name"] != "south" {
		t.Fatalf("uplinks = %v", body.Uplinks)
	}
	if len(namer.calls) != 1 {
		t.Fatalf("name lookups = %d", len(namer.calls))
	}
	got := namer.calls[0]
	if len(got) != 2 || got[0] != "70B3D57ED0000003" || got[1] != "70B3D57ED0000002" {
		t.Fatalf("looked up %v, want only the page's devices", got)
	}
}
