package training

import "math"

// LRScheduler computes the learning rate for an outer-loop step as a pure
// function of the step index and base rate.
type LRScheduler interface {
	GetLR(step int, baseLR float64) float64
	GetName() string
}

// WarmupCosineScheduler linearly warms the learning rate up over the first
// tenth of training and then anneals it to zero along a half cosine.
type WarmupCosineScheduler struct {
	WarmupSteps int
	TotalSteps  int
}

// NewWarmupCosineScheduler creates the schedule for a fixed number of outer
// steps, with warmup spanning 10% of them.
func NewWarmupCosineScheduler(totalSteps int) *WarmupCosineScheduler {
	if totalSteps < 1 {
		totalSteps = 1
	}
	return &WarmupCosineScheduler{
		WarmupSteps: totalSteps / 10,
		TotalSteps:  totalSteps,
	}
}

func (s *WarmupCosineScheduler) GetLR(step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		return baseLR * float64(step) / float64(s.WarmupSteps)
	}
	span := s.TotalSteps - s.WarmupSteps
	if span <= 0 {
		return baseLR
	}
	progress := float64(step-s.WarmupSteps) / float64(span)
	if progress >= 1 {
		return 0
	}
	return baseLR * 0.5 * (1 + math.Cos(math.Pi*progress))
}

func (s *WarmupCosineScheduler) GetName() string {
	return "WarmupCosine"
}

// NoOpScheduler keeps the learning rate constant.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(step int, baseLR float64) float64 { return baseLR }

func (s *NoOpScheduler) GetName() string { return "ConstantLR" }
