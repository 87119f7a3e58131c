package training

import (
	"errors"
	"fmt"

	"github.com/rajevv/protomaml/model"
	"github.com/rajevv/protomaml/tensor"
)

// ErrEmptyClass marks a class label with zero support examples during
// prototype computation, a fatal configuration error.
var ErrEmptyClass = errors.New("class has no support examples")

// InitPrototypes computes one prototype vector per class from the support
// set and installs the row-normalized prototype matrix as the adapted
// model's head weight. The shared model's encoder embeds the support
// examples, so the matrix carries an autograd graph back into the shared
// encoder; that graph is what later routes outer-loop gradients through the
// committed head.
func InitPrototypes(adapted, shared *model.Classifier, supportSet TaskBatches, task Task) error {
	rows := make([]*tensor.Tensor, task.NumClasses)
	for class := 0; class < task.NumClasses; class++ {
		cs, ok := supportSet[class]
		if !ok || cs.Examples() == 0 {
			return fmt.Errorf("prototype init: task %d, label %d: %w", task.ID, class, ErrEmptyClass)
		}
		var sum *tensor.Tensor
		count := 0
		for _, b := range cs.Batches {
			reps, err := shared.Encoder().Encode(b.InputIDs, b.TokenTypeIDs, b.AttentionMask)
			if err != nil {
				return fmt.Errorf("prototype init: task %d, label %d: %w", task.ID, class, err)
			}
			pooled, err := tensor.FirstToken(reps)
			if err != nil {
				return err
			}
			batchSum, err := tensor.SumRows(pooled)
			if err != nil {
				return err
			}
			if sum == nil {
				sum = batchSum
			} else if sum, err = tensor.Add(sum, batchSum); err != nil {
				return err
			}
			count += b.Size()
		}
		rows[class] = tensor.Scale(sum, 1/float64(count))
	}
	protos, err := tensor.Stack(rows)
	if err != nil {
		return fmt.Errorf("prototype init: %w", err)
	}
	gamma, err := tensor.NormalizeRows(protos)
	if err != nil {
		return fmt.Errorf("prototype init: %w", err)
	}
	return adapted.SetGamma(gamma)
}
