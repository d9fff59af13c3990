package orchestrator

import "time"

// Sizer implements the Table Orchestrator's adaptive batch sizing: it
// grows the batch size when fetches run faster than the
// target window, shrinks it when they run slower, and clamps against
// a memory estimate derived from the observed average row size.
//
// The target window has no single fixed threshold ("if below lower
// target... above upper target"); this Sizer reads that
// as a band around TargetWindow (half to double it), floored at
// MinWindow, which is the interpretation recorded in DESIGN.md.
type Sizer struct {
	size int

	min int
	max int

	targetWindow time.Duration
	minWindow    time.Duration

	memoryCapBytes int64

	clamped bool
}

// NewSizer constructs a Sizer starting at initial, bounded to [min,
// max], targeting fetches around targetWindow (never faster than
// minWindow matters, since the batch loop yields diminishing returns
// below it), and never estimating more than memoryCapBytes per batch.
func NewSizer(initial, min, max int, targetWindow, minWindow time.Duration, memoryCapBytes int64) *Sizer {
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}
	return &Sizer{
		size: initial, min: min, max: max,
		targetWindow: targetWindow, minWindow: minWindow,
		memoryCapBytes: memoryCapBytes,
	}
}

// Size returns the batch size the next batch should request.
func (s *Sizer) Size() int { return s.size }

// Clamped reports whether the most recent Observe call hit the
// configured [min, max] bound (the "adaptive batch size clamped"
// warning condition).
func (s *Sizer) Clamped() bool { return s.clamped }

// Observe feeds back one batch's fetch duration and the average
// uncompressed byte size of its rows, adjusting the size for the next
// batch.
func (s *Sizer) Observe(fetchDuration time.Duration, avgRowBytes int64) {
	lower := s.targetWindow / 2
	if lower < s.minWindow {
		lower = s.minWindow
	}
	upper := s.targetWindow * 2

	switch {
	case fetchDuration < lower:
		s.size = int(float64(s.size) * 1.5)
	case fetchDuration > upper:
		s.size = int(float64(s.size) * 0.5)
	}

	s.clamped = false
	if s.size < s.min {
		s.size = s.min
		s.clamped = true
	}
	if s.size > s.max {
		s.size = s.max
		s.clamped = true
	}

	if avgRowBytes <= 0 || s.memoryCapBytes <= 0 {
		return
	}
	for int64(s.size)*avgRowBytes*2 > s.memoryCapBytes && s.size > s.min {
		s.size /= 2
		s.clamped = true
	}
	if s.size < s.min {
		s.size = s.min
	}
}
