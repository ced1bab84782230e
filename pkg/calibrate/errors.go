package calibrate

import "errors"

// All failures are terminal for the current session: no automatic retry is
// performed, and partial samples are discarded rather than partially applied.
var (
	// ErrDeviceNotReady is returned when the device session is not open at
	// session start.
	ErrDeviceNotReady = errors.New("device session is not open")

	// ErrSessionAlreadyActive is returned on an overlapping start of the
	// same session object.
	ErrSessionAlreadyActive = errors.New("calibration already in progress on this session")

	// ErrInsufficientSamples is returned when a capture phase produced zero
	// reports.
	ErrInsufficientSamples = errors.New("insufficient samples captured")

	// ErrOffsetOutOfRange is returned when decoding at the fixed offset and
	// width would read past the end of every captured report.
	ErrOffsetOutOfRange = errors.New("offset and width exceed report length")

	// ErrCalibrationFailed is returned when no candidate satisfied the
	// selection constraints.
	ErrCalibrationFailed = errors.New("no candidate satisfied selection constraints")
)
