package tensor

import (
	"fmt"
	"math/rand"
)

// Operation is implemented by every autograd node. Backward receives the
// gradient flowing into the node's output and returns one gradient per input
// (nil for inputs that do not require grad).
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) []*Tensor
}

// Tensor is a dense row-major CPU tensor. A tensor produced by one of the
// autograd operations carries a creator node; leaf tensors (parameters,
// inputs) have a nil creator.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float64
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d, requiresGrad=%t)",
		t.Shape, t.NumElems, t.requiresGrad)
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

// New creates a tensor wrapping data. The data slice is owned by the tensor
// afterwards.
func New(shape []int, data []float64) (*Tensor, error) {
	n := calculateNumElements(shape)
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	n := calculateNumElements(shape)
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     make([]float64, n),
		NumElems: n,
	}
}

// Randn creates a tensor with entries drawn from N(0, stddev²) using the
// supplied source. All stochastic initialization in the module flows through
// one seeded generator.
func Randn(rng *rand.Rand, stddev float64, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * stddev
	}
	return t
}

// Parameter marks t as a trainable leaf and returns it.
func Parameter(t *Tensor) *Tensor {
	t.requiresGrad = true
	return t
}

func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

func (t *Tensor) SetRequiresGrad(requires bool) { t.requiresGrad = requires }

// Grad returns the accumulated gradient buffer, nil if none has been written.
func (t *Tensor) Grad() *Tensor { return t.grad }

// ZeroGrad drops the gradient buffer. A nil gradient is treated as zero by
// every consumer.
func (t *Tensor) ZeroGrad() { t.grad = nil }

// AccumGrad adds g into the gradient buffer, allocating it on first use.
func (t *Tensor) AccumGrad(g *Tensor) error {
	if g == nil {
		return nil
	}
	if !shapeEqual(t.Shape, g.Shape) {
		return fmt.Errorf("gradient shape %v does not match parameter shape %v", g.Shape, t.Shape)
	}
	if t.grad == nil {
		t.grad = Zeros(t.Shape...)
	}
	for i, v := range g.Data {
		t.grad.Data[i] += v
	}
	return nil
}

// Clone returns an independent leaf copy of t: fresh data, no creator, no
// gradient. requiresGrad carries over.
func (t *Tensor) Clone() *Tensor {
	c := Zeros(t.Shape...)
	copy(c.Data, t.Data)
	c.requiresGrad = t.requiresGrad
	return c
}

// Detach returns a tensor sharing t's data but cut off from the autograd
// graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  calculateStrides(t.Shape),
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

// Item returns the single element of a scalar tensor.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item called on tensor with %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

// At reads element (i, j) of a 2D tensor.
func (t *Tensor) At(i, j int) float64 {
	return t.Data[i*t.Strides[0]+j*t.Strides[1]]
}

// Int returns element i rounded to the nearest integer. Label and token-id
// tensors store integral values in float64 storage.
func (t *Tensor) Int(i int) int {
	v := t.Data[i]
	if v >= 0 {
		return int(v + 0.5)
	}
	return int(v - 0.5)
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
