package optim

import "math"

// ExponentialLR decays the learning rate by gamma every time Step is called:
// lr = base_lr · gamma^epoch.
type ExponentialLR struct {
	optimizer Optimizer
	baseLR    float32
	gamma     float64
	epoch     int
}

// NewExponentialLR attaches an exponential schedule to an optimizer.
func NewExponentialLR(optimizer Optimizer, gamma float64) *ExponentialLR {
	return &ExponentialLR{
		optimizer: optimizer,
		baseLR:    optimizer.GetLR(),
		gamma:     gamma,
	}
}

// Step advances the schedule by one epoch and updates the optimizer.
func (s *ExponentialLR) Step() {
	s.epoch++
	s.optimizer.SetLR(s.LR())
}

// LR returns the learning rate for the current epoch.
func (s *ExponentialLR) LR() float32 {
	return float32(float64(s.baseLR) * math.Pow(s.gamma, float64(s.epoch)))
}

// Epoch returns how many times Step has been called.
func (s *ExponentialLR) Epoch() int {
	return s.epoch
}
