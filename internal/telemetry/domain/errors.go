package telemetry

import "errors"

var (
	// ErrInvalidFormat marks a body that is not a parseable JSON object.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrMissingIdentifier marks a body without a usable device EUI.
	ErrMissingIdentifier = errors.New("missing device identifier")
	// ErrMissingCoordinate marks a direct ingestion without both coordinates.
	ErrMissingCoordinate = errors.New("missing coordinate")
	// ErrNoTelemetry is returned for a known device that has no points yet.
	ErrNoTelemetry = errors.New("no telemetry for device")
	// ErrInvalidPoint rejects points lacking a device or a finite position.
	ErrInvalidPoint = errors.New("invalid telemetry point")
)
