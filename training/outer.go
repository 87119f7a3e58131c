package training

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/rajevv/protomaml/model"
	"github.com/rajevv/protomaml/tensor"
)

// poolerSkip excludes encoder sub-modules from outer-loop accumulation by
// name convention; pooling heads sit outside the pooled-representation path.
const poolerSkip = "pooler"

// CombineGradients evaluates the adapted model on the query set and
// accumulates the meta-gradient into the shared model: the query loss is
// differentiated once against the adapted copy's encoder parameters and once
// against the shared encoder's, and the per-parameter sum is added into the
// shared gradient buffers. Accumulation is keyed by parameter name, a nil
// contribution counts as zero, and parameters matching the pooler convention
// are skipped. Returns the query loss and accuracy, which are also recorded
// in the outer metrics group.
//
// Summing the through-the-trajectory gradient with the at-current-parameters
// gradient is a first-order approximation of the MAML meta-gradient; no
// second-order pass through the inner optimizer is taken.
func CombineGradients(adapted, shared *model.Classifier, querySet TaskBatches, task Task, metrics *MetricsLog, rng *rand.Rand) (loss, acc float64, err error) {
	batch, err := ExtractBatch(querySet, rng)
	if err != nil {
		return 0, 0, fmt.Errorf("combine: %w", err)
	}
	logits, err := adapted.Forward(batch)
	if err != nil {
		return 0, 0, fmt.Errorf("combine: %w", err)
	}
	lossT, err := task.lossFn()(logits, batch.Labels)
	if err != nil {
		return 0, 0, fmt.Errorf("combine: %w", err)
	}
	acc, err = Accuracy(logits, batch.Labels)
	if err != nil {
		return 0, 0, fmt.Errorf("combine: %w", err)
	}
	loss, err = lossT.Item()
	if err != nil {
		return 0, 0, err
	}
	metrics.RecordOuter(task.ID, loss, acc)

	innerNamed := adapted.EncoderParameters()
	outerNamed := shared.EncoderParameters()

	gradsInner, err := tensor.Grad(lossT, paramsOf(innerNamed), true)
	if err != nil {
		return 0, 0, fmt.Errorf("combine: inner grads: %w", err)
	}
	gradsOuter, err := tensor.Grad(lossT, paramsOf(outerNamed), true)
	if err != nil {
		return 0, 0, fmt.Errorf("combine: outer grads: %w", err)
	}

	innerByName := make(map[string]*tensor.Tensor, len(innerNamed))
	for i, np := range innerNamed {
		innerByName[np.Name] = gradsInner[i]
	}

	for i, np := range outerNamed {
		if strings.Contains(np.Name, poolerSkip) {
			continue
		}
		gInner := innerByName[np.Name]
		gOuter := gradsOuter[i]
		if gInner == nil && gOuter == nil {
			continue
		}
		sum := tensor.Zeros(np.Param.Shape...)
		if gInner != nil {
			for j, v := range gInner.Data {
				sum.Data[j] += v
			}
		}
		if gOuter != nil {
			for j, v := range gOuter.Data {
				sum.Data[j] += v
			}
		}
		if err := np.Param.AccumGrad(sum); err != nil {
			return 0, 0, fmt.Errorf("combine: parameter %s: %w", np.Name, err)
		}
	}
	return loss, acc, nil
}

func paramsOf(named []model.NamedParameter) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(named))
	for i, np := range named {
		out[i] = np.Param
	}
	return out
}
