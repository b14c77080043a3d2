package model

// Schedule holds the iteration-dependent parameters of EM routing: the
// inverse temperature Lambda and the margin M. Both ramp up linearly over the
// whole run and are never reset between epochs.
type Schedule struct {
	Lambda float32
	M      float32
}

const (
	initialLambda = 0.001
	initialMargin = 0.2
	maxLambda     = 1.0
	maxMargin     = 0.9
	rampPerEpoch  = 0.2
)

// NewSchedule returns the schedule at the start of a run.
func NewSchedule() Schedule {
	return Schedule{Lambda: initialLambda, M: initialMargin}
}

// Advance moves both parameters by 0.2/steps, clamped at 1.0 and 0.9.
// It is called once per training batch, steps being the number of training
// batches per epoch.
func (s *Schedule) Advance(steps int) {
	if steps <= 0 {
		return
	}
	inc := float32(rampPerEpoch / float64(steps))
	if s.Lambda < maxLambda {
		s.Lambda = min(s.Lambda+inc, maxLambda)
	}
	if s.M < maxMargin {
		s.M = min(s.M+inc, maxMargin)
	}
}
