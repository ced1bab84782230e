package events

import "encoding/json"

// Event name constants
const (
	CalibrationPhase    = "calibration.phase"
	CalibrationProgress = "calibration.progress"
	CalibrationResult   = "calibration.result"
	CalibrationStatus   = "calibration.status"
	DriftWarning        = "drift.warning"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// CalibrationPhaseEvent is the typed payload for calibration.phase.
type CalibrationPhaseEvent struct {
	Phase   string `json:"phase"`
	Axis    string `json:"axis,omitempty"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// CalibrationProgressEvent is the typed payload for calibration.progress.
type CalibrationProgressEvent struct {
	Axis    string `json:"axis,omitempty"`
	Samples int    `json:"samples"`
	Ts      int64  `json:"ts"`
}

// CalibrationResultEvent is the typed payload for calibration.result.
type CalibrationResultEvent struct {
	Axis          string  `json:"axis,omitempty"`
	Offset        int     `json:"offset"`
	Width         int     `json:"width"`
	Score         float64 `json:"score"`
	Center        int     `json:"center,omitempty"`
	HalfRange     int     `json:"halfRange,omitempty"`
	LowConfidence bool    `json:"lowConfidence,omitempty"`
	Error         string  `json:"error,omitempty"`
	Ts            int64   `json:"ts"`
}

// CalibrationStatusEvent is the typed payload for calibration.status.
type CalibrationStatusEvent struct {
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// DriftWarningEvent is the typed payload for drift.warning.
type DriftWarningEvent struct {
	Device   string `json:"device"`
	Expected int    `json:"expected"`
	Observed int    `json:"observed"`
	Message  string `json:"message"`
	Ts       int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type
// T. It ignores the event name and simply unmarshals Data into T. If Data is
// empty, it returns the zero value of T with a nil error.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
