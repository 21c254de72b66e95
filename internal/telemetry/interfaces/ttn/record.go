package ttn

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	devices "envsurveillance/internal/devices/domain"
	telemetry "envsurveillance/internal/telemetry/domain"
	"envsurveillance/internal/telemetry/payload"
)

// UplinkRecord is the normalized content of a network-server uplink webhook.
type UplinkRecord struct {
	DeviceEUI     string
	DeviceName    string
	ApplicationID string
	RawBody       []byte
	Decoded       payload.Node
	FPort         *int
	RSSI          *float64
	SNR           *float64
}

// HasDeviceName reports whether the webhook carried its own device name.
func (r UplinkRecord) HasDeviceName() bool {
	return r.DeviceName != devices.PlaceholderName
}

// DecodedJSON re-encodes the decoded payload, or returns nil when absent or null.
func (r UplinkRecord) DecodedJSON() json.RawMessage {
	if !r.Decoded.Present() {
		return nil
	}
	encoded, err := json.Marshal(r.Decoded)
	if err != nil {
		return nil
	}
	return encoded
}

// Build parses a webhook body shaped like
//
//	{end_device_ids: {dev_eui, device_id, application_ids: {application_id}},
//	 uplink_message: {decoded_payload, f_port, rx_metadata: [{rssi, snr}, ...]}}
//
// Only the device EUI is mandatory. Radio metadata comes from the first gateway report.
func Build(body []byte) (UplinkRecord, error) {
	root, err := payload.Parse(body)
	if err != nil {
		return UplinkRecord{}, fmt.Errorf("%w: %v", telemetry.ErrInvalidFormat, err)
	}
	if !root.IsObject() {
		return UplinkRecord{}, fmt.Errorf("%w: body is %s, not an object", telemetry.ErrInvalidFormat, root.Kind())
	}

	ids := root.Get("end_device_ids")
	rawEUI, ok := ids.Get("dev_eui").Text()
	if !ok {
		return UplinkRecord{}, telemetry.ErrMissingIdentifier
	}
	eui, err := devices.NormalizeEUI(rawEUI)
	if err != nil {
		return UplinkRecord{}, fmt.Errorf("%w: %v", telemetry.ErrMissingIdentifier, err)
	}

	record := UplinkRecord{
		DeviceEUI:  eui,
		DeviceName: devices.PlaceholderName,
		RawBody:    append([]byte(nil), body...),
	}
	if name, ok := ids.Get("device_id").Text(); ok {
		if name = devices.NormalizeName(name); name != "" {
			record.DeviceName = name
		}
	}
	if appID, ok := ids.Path("application_ids", "application_id").Text(); ok {
		record.ApplicationID = appID
	}

	uplink := root.Get("uplink_message")
	record.Decoded = uplink.Get("decoded_payload")
	record.FPort = port(uplink.Get("f_port"))

	rx := uplink.Get("rx_metadata")
	if rx.Kind() == payload.KindArray && rx.Len() > 0 {
		first := rx.Index(0)
		record.RSSI = payload.CoercePtr(first.Get("rssi"))
		record.SNR = payload.CoercePtr(first.Get("snr"))
	}
	return record, nil
}

func port(n payload.Node) *int {
	literal, ok := n.Number()
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(string(literal), 10, 64)
	if err != nil || value < 0 || value > math.MaxInt32 {
		return nil
	}
	p := int(value)
	return &p
}
