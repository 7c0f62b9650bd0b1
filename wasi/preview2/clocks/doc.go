// Package clocks implements WASI clock interfaces for time operations.
//
// Implements:
//   - wasi:clocks/monotonic-clock@0.2.8 - Monotonic time and timer subscriptions
//   - wasi:clocks/wall-clock@0.2.8 - Wall clock time
//
// Both hosts read the clock configured on the WASI context, so tests can
// drive timers with a mock clock. Subscriptions create a Deadline resource
// owned by the returned pollable; dropping the pollable removes the timer.
package clocks
