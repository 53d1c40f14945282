package training

import "math"

// PlateauScheduler decays the learning rate when validation loss stops
// improving: after more than patience consecutive validations without a new
// best, the rate is multiplied by factor and floored at minLR. It tracks its
// own best value, independent of the checkpointing accumulator.
type PlateauScheduler struct {
	factor   float64
	patience int
	minLR    float64

	lr   float64
	best float64
	bad  int
}

func NewPlateauScheduler(initial, factor, minLR float64, patience int) *PlateauScheduler {
	return &PlateauScheduler{
		factor:   factor,
		patience: patience,
		minLR:    minLR,
		lr:       initial,
		best:     math.Inf(1),
	}
}

// LR returns the current learning rate.
func (s *PlateauScheduler) LR() float64 {
	return s.lr
}

// Step records a validation loss and returns the learning rate to use from
// now on; reduced reports whether this step changed it.
func (s *PlateauScheduler) Step(valLoss float64) (lr float64, reduced bool) {
	if valLoss < s.best {
		s.best = valLoss
		s.bad = 0
		return s.lr, false
	}
	s.bad++
	if s.bad > s.patience {
		next := s.lr * s.factor
		if next < s.minLR {
			next = s.minLR
		}
		if next < s.lr {
			s.lr = next
			reduced = true
		}
		s.bad = 0
	}
	return s.lr, reduced
}
