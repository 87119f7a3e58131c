// Package training implements the episodic meta-learning loop: the
// per-task sampler, prototype head initialization, inner-loop fast
// adaptation, outer-loop gradient combination, and the trainer that drives
// them across epochs.
package training

import (
	"fmt"

	"github.com/rajevv/protomaml/tensor"
)

// LossFunc maps logits [B, C] and integral labels [B] to a scalar loss.
type LossFunc func(logits, labels *tensor.Tensor) (*tensor.Tensor, error)

// Task identifies one classification task of the multi-task setup. Tasks are
// fixed at trainer construction; the sampler owns the matching datasets at
// the same index.
type Task struct {
	ID         int
	NumClasses int
	// Loss is the task's loss function; nil selects cross-entropy.
	Loss LossFunc
}

func (t Task) lossFn() LossFunc {
	if t.Loss != nil {
		return t.Loss
	}
	return tensor.CrossEntropy
}

// Accuracy computes mean argmax accuracy of logits against labels.
func Accuracy(logits, labels *tensor.Tensor) (float64, error) {
	preds, err := tensor.Argmax(logits)
	if err != nil {
		return 0, err
	}
	if len(preds) != labels.NumElems {
		return 0, fmt.Errorf("accuracy: %d predictions for %d labels", len(preds), labels.NumElems)
	}
	if len(preds) == 0 {
		return 0, fmt.Errorf("accuracy: empty batch")
	}
	correct := 0
	for i, p := range preds {
		if p == labels.Int(i) {
			correct++
		}
	}
	return float64(correct) / float64(len(preds)), nil
}
