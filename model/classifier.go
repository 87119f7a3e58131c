package model

import (
	"fmt"

	"github.com/rajevv/protomaml/data"
	"github.com/rajevv/protomaml/tensor"
)

// Classifier is an encoder plus at most one active classification head. The
// shared (outer) model usually carries no head; each episode's adapted copy
// receives a prototype-initialized head that lives only for that episode.
//
// The head has three states:
//   - gamma set: the L2-normalized prototype matrix, a non-leaf tensor whose
//     autograd graph reaches back into the shared encoder;
//   - phi set (InitHead): trainable leaf weight+bias the inner loop adapts;
//   - committed (CommitAdaptedHead): the adapted phi re-expressed so its
//     value is the adapted head but its gradient flows through gamma.
type Classifier struct {
	encoder Encoder

	gamma      *tensor.Tensor // [C, H], non-leaf, prototype matrix
	phiW       *tensor.Tensor // [C, H], leaf
	phiB       *tensor.Tensor // [C], leaf
	committedW *tensor.Tensor // [C, H], non-leaf after CommitAdaptedHead
	committedB *tensor.Tensor
}

// NewClassifier wraps an encoder with an empty head slot.
func NewClassifier(encoder Encoder) *Classifier {
	return &Classifier{encoder: encoder}
}

// Encoder exposes the underlying encoder.
func (c *Classifier) Encoder() Encoder { return c.encoder }

// Gamma returns the installed prototype matrix, nil before installation.
func (c *Classifier) Gamma() *tensor.Tensor { return c.gamma }

// SetGamma installs the prototype matrix as the head's prototype weight.
func (c *Classifier) SetGamma(gamma *tensor.Tensor) error {
	if len(gamma.Shape) != 2 || gamma.Shape[1] != c.encoder.HiddenDim() {
		return fmt.Errorf("set gamma: want [C,%d], got %v", c.encoder.HiddenDim(), gamma.Shape)
	}
	c.gamma = gamma
	return nil
}

// InitHead allocates the head's output parameters (phi) for numClasses,
// discarding any previous adaptation. The weight starts from the detached
// prototype values, the bias at zero. Requires gamma to be installed first.
func (c *Classifier) InitHead(numClasses int) error {
	if c.gamma == nil {
		return fmt.Errorf("init head: no prototype matrix installed")
	}
	if c.gamma.Shape[0] != numClasses {
		return fmt.Errorf("init head: prototype matrix has %d rows, want %d", c.gamma.Shape[0], numClasses)
	}
	c.phiW = tensor.Parameter(c.gamma.Detach().Clone())
	c.phiB = tensor.Parameter(tensor.Zeros(numClasses))
	c.committedW = nil
	c.committedB = nil
	return nil
}

// CommitAdaptedHead finalizes the head before query evaluation:
// committed = detach(phi) - detach(gamma) + gamma. The committed weight
// equals the adapted phi numerically while its gradient flows through gamma
// into the shared encoder.
func (c *Classifier) CommitAdaptedHead() error {
	if c.phiW == nil || c.gamma == nil {
		return fmt.Errorf("commit head: head not initialized")
	}
	diff, err := tensor.Sub(c.phiW.Detach(), c.gamma.Detach())
	if err != nil {
		return fmt.Errorf("commit head: %w", err)
	}
	committed, err := tensor.Add(diff, c.gamma)
	if err != nil {
		return fmt.Errorf("commit head: %w", err)
	}
	c.committedW = committed
	c.committedB = c.phiB
	return nil
}

// Forward encodes the batch, pools the first-token representation and
// projects it through the active head.
func (c *Classifier) Forward(b *data.Batch) (*tensor.Tensor, error) {
	w, bias := c.committedW, c.committedB
	if w == nil {
		w, bias = c.phiW, c.phiB
	}
	if w == nil {
		return nil, fmt.Errorf("forward: classifier has no head")
	}
	reps, err := c.encoder.Encode(b.InputIDs, b.TokenTypeIDs, b.AttentionMask)
	if err != nil {
		return nil, err
	}
	pooled, err := tensor.FirstToken(reps)
	if err != nil {
		return nil, err
	}
	return tensor.Linear(pooled, w, bias)
}

// EncoderParameters returns the encoder's named parameters with the
// "encoder." prefix used for cross-model gradient accumulation.
func (c *Classifier) EncoderParameters() []NamedParameter {
	params := c.encoder.NamedParameters()
	out := make([]NamedParameter, len(params))
	for i, np := range params {
		out[i] = NamedParameter{Name: "encoder." + np.Name, Param: np.Param}
	}
	return out
}

// TrainableParameters returns every leaf the inner-loop optimizer may update:
// the encoder parameters plus, when a head is initialized, phi. Gamma is a
// non-leaf and is never optimized directly.
func (c *Classifier) TrainableParameters() []*tensor.Tensor {
	var out []*tensor.Tensor
	for _, np := range c.encoder.NamedParameters() {
		out = append(out, np.Param)
	}
	if c.phiW != nil {
		out = append(out, c.phiW, c.phiB)
	}
	return out
}

// NamedParameters returns encoder plus head parameters for checkpointing.
func (c *Classifier) NamedParameters() []NamedParameter {
	out := c.EncoderParameters()
	if c.phiW != nil {
		out = append(out,
			NamedParameter{Name: "head.weight", Param: c.phiW},
			NamedParameter{Name: "head.bias", Param: c.phiB},
		)
	}
	return out
}

// Clone deep-copies the classifier. The head is not carried over: a clone is
// a fresh adapted-model candidate whose head state comes from prototype
// initialization.
func (c *Classifier) Clone() *Classifier {
	return &Classifier{encoder: c.encoder.Clone()}
}
