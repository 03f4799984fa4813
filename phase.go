package pio

// Phase tables.  Each row is the level of every stepper pin for one step
// index.  Two pins are enough for full steps when an inverter drives the
// other end of each coil; four pins can drive the coils +, - or off, which
// makes half steps possible.
var (
	twoPinPhases = [][]int{
		{1, 1},
		{0, 1},
		{0, 0},
		{1, 0},
	}

	fullStepPhases = [][]int{
		{1, 0, 1, 0},
		{0, 1, 1, 0},
		{0, 1, 0, 1},
		{1, 0, 0, 1},
	}

	halfStepPhases = [][]int{
		{1, 0, 0, 0},
		{1, 0, 1, 0},
		{0, 0, 1, 0},
		{0, 1, 1, 0},
		{0, 1, 0, 0},
		{0, 1, 0, 1},
		{0, 0, 0, 1},
		{1, 0, 0, 1},
	}
)

// PhaseSequencer walks a stepper's cyclic phase table one step at a time.
// It performs no I/O.  The index always stays inside the table: advancing
// wraps in both directions.
type PhaseSequencer struct {
	patterns [][]int
	pins     int
	index    int
}

// NewPhaseSequencer returns a sequencer for a stepper wired with pins pins,
// positioned at index 0.  Valid wirings are two pins (full step only) and
// four pins (full or half step).
func NewPhaseSequencer(pins int, halfStep bool) (*PhaseSequencer, error) {
	var patterns [][]int
	switch {
	case pins == 2 && halfStep:
		return nil, configErr("half_step", halfStep, "two-pin wiring only supports full steps")
	case pins == 2:
		patterns = twoPinPhases
	case pins == 4 && halfStep:
		patterns = halfStepPhases
	case pins == 4:
		patterns = fullStepPhases
	default:
		return nil, configErr("pin count", pins, "must be 2 or 4")
	}
	return &PhaseSequencer{patterns: patterns, pins: pins}, nil
}

// Advance moves one step forward or backward and returns the pattern at the
// new index.  The returned slice is shared and must not be modified.
func (s *PhaseSequencer) Advance(forward bool) []int {
	n := len(s.patterns)
	if forward {
		s.index = (s.index + 1) % n
	} else {
		s.index = (s.index - 1 + n) % n
	}
	return s.patterns[s.index]
}

// Current returns the pattern at the current index.
func (s *PhaseSequencer) Current() []int { return s.patterns[s.index] }

// Index returns the current position in the table.
func (s *PhaseSequencer) Index() int { return s.index }

// Len returns the number of phases in the cycle (4 or 8).
func (s *PhaseSequencer) Len() int { return len(s.patterns) }

// Pins returns the number of pins each pattern drives.
func (s *PhaseSequencer) Pins() int { return s.pins }
