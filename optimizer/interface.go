// Package optimizer implements the gradient-descent optimizers used by both
// optimization levels of the meta-training loop: a fresh short-lived AdamW
// per inner adaptation and a long-lived AdamW for the shared model.
package optimizer

import "github.com/rajevv/protomaml/tensor"

// Optimizer is the common optimizer contract.
type Optimizer interface {
	// Step applies one update from the parameters' current grad buffers.
	// Parameters with a nil gradient are skipped.
	Step() error

	// ZeroGrad drops all gradient buffers.
	ZeroGrad()

	// StepCount returns how many updates have been applied.
	StepCount() uint64

	// SetLearningRate updates the learning rate (used by LR schedules).
	SetLearningRate(lr float64)

	// LearningRate returns the current learning rate.
	LearningRate() float64
}

// Parameters is the slice of tensors an optimizer instance is bound to.
type Parameters []*tensor.Tensor
