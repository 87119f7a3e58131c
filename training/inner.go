package training

import (
	"fmt"
	"math/rand"

	"github.com/rajevv/protomaml/model"
	"github.com/rajevv/protomaml/optimizer"
	"github.com/rajevv/protomaml/tensor"
)

// innerWeightDecay matches the weight decay of the outer optimizer; both
// levels regularize identically.
const innerWeightDecay = 1e-4

// AdaptConfig parameterizes one inner-loop fast adaptation.
type AdaptConfig struct {
	Steps    int
	LR       float64
	ClipNorm float64
}

// Adapt runs the inner loop on an adapted model copy: the support set is
// combined into one shuffled batch, partitioned into Steps contiguous
// slices, and each slice drives one gradient step of a freshly constructed
// AdamW bound only to the copy's parameters. Exactly Steps optimizer updates
// occur; slices that come up empty (Steps exceeding the example count) skip
// the forward pass but still tick the optimizer.
func Adapt(m *model.Classifier, supportSet TaskBatches, task Task, cfg AdaptConfig, rng *rand.Rand) error {
	if cfg.Steps <= 0 {
		return fmt.Errorf("adapt: steps must be positive, got %d", cfg.Steps)
	}
	combined, err := ExtractBatch(supportSet, rng)
	if err != nil {
		return fmt.Errorf("adapt: %w", err)
	}

	params := optimizer.Parameters(m.TrainableParameters())
	opt, err := optimizer.NewAdamW(optimizer.AdamWConfig{
		LearningRate: cfg.LR,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  innerWeightDecay,
	}, params)
	if err != nil {
		return fmt.Errorf("adapt: %w", err)
	}

	cuts := cutPoints(combined.Size(), cfg.Steps)
	lossFn := task.lossFn()
	for i := 0; i < cfg.Steps; i++ {
		opt.ZeroGrad()
		lo, hi := cuts[i], cuts[i+1]
		if hi > lo {
			slice := SliceBatch(combined, lo, hi)
			logits, err := m.Forward(slice)
			if err != nil {
				return fmt.Errorf("adapt: step %d: %w", i, err)
			}
			loss, err := lossFn(logits, slice.Labels)
			if err != nil {
				return fmt.Errorf("adapt: step %d: %w", i, err)
			}
			if err := tensor.Backward(loss); err != nil {
				return fmt.Errorf("adapt: step %d: %w", i, err)
			}
			optimizer.ClipGradNorm(params, cfg.ClipNorm)
		}
		if err := opt.Step(); err != nil {
			return fmt.Errorf("adapt: step %d: %w", i, err)
		}
	}
	return nil
}
