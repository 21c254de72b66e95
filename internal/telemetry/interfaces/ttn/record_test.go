package ttn

import (
	"encoding/json"
	"errors"
	"testing"

	devices "envsurveillance/internal/devices/domain"
	telemetry "envsurveillance/internal/telemetry/domain"
	"envsurveillance/internal/telemetry/payload"
)

const fullUplink = `{
  "end_device_ids": {
    "device_id": "river-probe-1",
    "application_ids": {"application_id": "env-surveillance"},
    "dev_eui": "70b3d57ed0000001"
  },
  "received_at": "2024-05-01T12:00:00Z",
  "uplink_message": {
    "f_port": 2,
    "decoded_payload": {"lat": "45.76 N", "lng": 4.83, "temp": 21.5, "battery_level": 88},
    "rx_metadata": [
      {"gateway_ids": {"gateway_id": "gw-far"}, "rssi": -117, "snr": -3.5},
      {"gateway_ids": {"gateway_id": "gw-near"}, "rssi": -60, "snr": 11}
    ]
  }
}`

func TestBuildFullUplink(t *testing.T) {
	record, err := Build([]byte(fullUplink))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if record.DeviceEUI != "70B3D57ED0000001" {
		t.Fatalf("eui = %s", record.DeviceEUI)
	}
	if record.DeviceName != "river-probe-1" || !record.HasDeviceName() {
		t.Fatalf("name = %s", record.DeviceName)
	}
	if record.ApplicationID != "env-surveillance" {
		t.Fatalf("application = %s", record.ApplicationID)
	}
	if record.FPort == nil || *record.FPort != 2 {
		t.Fatalf("f_port = %v", record.FPort)
	}
	if record.RSSI == nil || *record.RSSI != -117 || record.SNR == nil || *record.SNR != -3.5 {
		t.Fatalf("radio metadata should come from the first gateway: rssi=%v snr=%v", record.RSSI, record.SNR)
	}
	if !record.Decoded.IsObject() {
		t.Fatalf("decoded payload kind = %v", record.Decoded.Kind())
	}
	if string(record.RawBody) != fullUplink {
		t.Fatalf("raw body not preserved")
	}
	var decoded map[string]any
	if err := json.Unmarshal(record.DecodedJSON(), &decoded); err != nil {
		t.Fatalf("decoded json: %v", err)
	}
	if decoded["lng"] != 4.83 {
		t.Fatalf("decoded = %v", decoded)
	}
}

func TestBuildDefaults(t *testing.T) {
	record, err := Build([]byte(`{"end_device_ids": {"dev_eui": "0011223344556677"}}`))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if record.DeviceName != devices.PlaceholderName || record.HasDeviceName() {
		t.Fatalf("name = %s", record.DeviceName)
	}
	if record.ApplicationID != "" || record.FPort != nil || record.RSSI != nil || record.SNR != nil {
		t.Fatalf("optional fields should be empty: %+v", record)
	}
	if record.Decoded.Kind() != payload.KindAbsent || record.DecodedJSON() != nil {
		t.Fatalf("decoded should be absent")
	}
}

func TestBuildTolerantShapes(t *testing.T) {
	record, err := Build([]byte(`{
	  "end_device_ids": {"dev_eui": "0011223344556677", "device_id": 42, "application_ids": "flat"},
	  "uplink_message": {"f_port": "2", "decoded_payload": "opaque", "rx_metadata": [{"rssi": "-80 dBm", "snr": true}]}
	}`))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if record.DeviceName != devices.PlaceholderName || record.ApplicationID != "" {
		t.Fatalf("record = %+v", record)
	}
	if record.FPort != nil {
		t.Fatalf("text f_port should be dropped")
	}
	if record.RSSI == nil || *record.RSSI != -80 || record.SNR != nil {
		t.Fatalf("rssi=%v snr=%v", record.RSSI, record.SNR)
	}
	if record.Decoded.Kind() != payload.KindText {
		t.Fatalf("decoded kind = %v", record.Decoded.Kind())
	}

	record, err = Build([]byte(`{"end_device_ids": {"dev_eui": "0011223344556677"}, "uplink_message": {"rx_metadata": []}}`))
	if err != nil || record.RSSI != nil {
		t.Fatalf("empty rx_metadata: %+v, %v", record, err)
	}
}

func TestBuildRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{name: "not json", body: `dev_eui=1`, want: telemetry.ErrInvalidFormat},
		{name: "truncated", body: `{"end_device_ids": {`, want: telemetry.ErrInvalidFormat},
		{name: "array", body: `[{"end_device_ids": {"dev_eui": "0011223344556677"}}]`, want: telemetry.ErrInvalidFormat},
		{name: "no ids", body: `{"uplink_message": {}}`, want: telemetry.ErrMissingIdentifier},
		{name: "no dev_eui", body: `{"end_device_ids": {"device_id": "x"}}`, want: telemetry.ErrMissingIdentifier},
		{name: "null dev_eui", body: `{"end_device_ids": {"dev_eui": null}}`, want: telemetry.ErrMissingIdentifier},
		{name: "numeric dev_eui", body: `{"end_device_ids": {"dev_eui": 1234}}`, want: telemetry.ErrMissingIdentifier},
		{name: "malformed dev_eui", body: `{"end_device_ids": {"dev_eui": "zz"}}`, want: telemetry.ErrMissingIdentifier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build([]byte(tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}
