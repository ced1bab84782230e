// Package calibrate implements the HID axis-calibration engine. It contains:
//
//   - Session: the two-phase (baseline -> active) sample-collection state
//     machine, driven by an externally-owned tick
//   - Discriminate / DiscriminateRange: offset and width detection by
//     statistical comparison of the two sampled populations
//   - RangeSession / ComputeRange: the steering center and half-range
//     calibrator that runs after an offset and width have been fixed
//
// The engine never touches the HID transport directly; it reads through the
// DeviceSession interface and reports progress through caller-supplied
// callbacks. It holds no long-term state: a completed, canceled or failed
// session discards its buffers and hands the result to the caller.
package calibrate
