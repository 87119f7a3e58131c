package tensor

import (
	"math"
	"math/rand"
	"testing"
)

const gradTol = 1e-6

// numericGrad estimates d loss / d p[idx] by central differences, where
// forward rebuilds the loss from scratch.
func numericGrad(t *testing.T, p *Tensor, idx int, forward func() *Tensor) float64 {
	t.Helper()
	const h = 1e-5
	orig := p.Data[idx]
	p.Data[idx] = orig + h
	up, err := forward().Item()
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	p.Data[idx] = orig - h
	down, err := forward().Item()
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	p.Data[idx] = orig
	return (up - down) / (2 * h)
}

// checkGrads backpropagates loss and compares every entry of p's gradient
// against the numeric estimate.
func checkGrads(t *testing.T, p *Tensor, forward func() *Tensor) {
	t.Helper()
	p.ZeroGrad()
	loss := forward()
	if err := Backward(loss); err != nil {
		t.Fatalf("backward: %v", err)
	}
	if p.Grad() == nil {
		t.Fatal("no gradient accumulated")
	}
	for i := range p.Data {
		want := numericGrad(t, p, i, forward)
		got := p.Grad().Data[i]
		if math.Abs(got-want) > 1e-4*(1+math.Abs(want)) {
			t.Errorf("grad[%d] = %g, numeric estimate %g", i, got, want)
		}
	}
}

// sumAll reduces any tensor to a scalar through the autograd graph so
// individual ops can be grad-checked.
func sumAll(t *testing.T, x *Tensor) *Tensor {
	t.Helper()
	flat, err := Reshape(x, 1, x.NumElems)
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	w := Zeros(1, x.NumElems)
	for i := range w.Data {
		w.Data[i] = float64(i%3) + 0.5
	}
	b := Zeros(1)
	out, err := Linear(flat, w, b)
	if err != nil {
		t.Fatalf("linear: %v", err)
	}
	s, err := Reshape(out, 1)
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	return s
}

func TestMatMulForward(t *testing.T) {
	a, _ := New([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	b, _ := New([]int{3, 2}, []float64{7, 8, 9, 10, 11, 12})
	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("matmul: %v", err)
	}
	want := []float64{58, 64, 139, 154}
	for i, v := range want {
		if math.Abs(out.Data[i]-v) > gradTol {
			t.Errorf("out[%d] = %f, want %f", i, out.Data[i], v)
		}
	}
	if _, err := MatMul(a, a); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := Parameter(Randn(rng, 1.0, 3, 4))
	w := Parameter(Randn(rng, 1.0, 2, 4))
	bias := Parameter(Randn(rng, 1.0, 2))
	for _, p := range []*Tensor{x, w, bias} {
		checkGrads(t, p, func() *Tensor {
			out, err := Linear(x, w, bias)
			if err != nil {
				t.Fatalf("linear: %v", err)
			}
			return sumAll(t, out)
		})
	}
}

func TestTanhGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := Parameter(Randn(rng, 0.5, 2, 3))
	checkGrads(t, x, func() *Tensor {
		return sumAll(t, Tanh(x))
	})
}

func TestEmbeddingGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	table := Parameter(Randn(rng, 1.0, 5, 3))
	ids, _ := New([]int{2, 2}, []float64{0, 3, 3, 4})
	checkGrads(t, table, func() *Tensor {
		out, err := Embedding(table, ids)
		if err != nil {
			t.Fatalf("embedding: %v", err)
		}
		return sumAll(t, out)
	})
}

func TestEmbeddingRejectsOutOfRange(t *testing.T) {
	table := Zeros(4, 2)
	ids, _ := New([]int{1, 1}, []float64{9})
	if _, err := Embedding(table, ids); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestFirstTokenSelectsPosition0(t *testing.T) {
	x, _ := New([]int{2, 2, 2}, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	out, err := FirstToken(x)
	if err != nil {
		t.Fatalf("firsttoken: %v", err)
	}
	want := []float64{1, 2, 5, 6}
	for i, v := range want {
		if out.Data[i] != v {
			t.Errorf("out[%d] = %f, want %f", i, out.Data[i], v)
		}
	}
}

func TestNormalizeRowsUnitNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := Parameter(Randn(rng, 2.0, 3, 5))
	out, err := NormalizeRows(x)
	if err != nil {
		t.Fatalf("normalizerows: %v", err)
	}
	for r := 0; r < 3; r++ {
		var sq float64
		for h := 0; h < 5; h++ {
			sq += out.At(r, h) * out.At(r, h)
		}
		if math.Abs(math.Sqrt(sq)-1.0) > 1e-5 {
			t.Errorf("row %d norm = %f, want 1.0", r, math.Sqrt(sq))
		}
	}
	checkGrads(t, x, func() *Tensor {
		n, err := NormalizeRows(x)
		if err != nil {
			t.Fatalf("normalizerows: %v", err)
		}
		return sumAll(t, n)
	})
}

func TestNormalizeRowsZeroNormGuard(t *testing.T) {
	x := Zeros(2, 3)
	x.Data[3], x.Data[4], x.Data[5] = 3, 0, 4
	out, err := NormalizeRows(x)
	if err != nil {
		t.Fatalf("normalizerows: %v", err)
	}
	// Zero row passes through unnormalized instead of dividing by zero.
	for h := 0; h < 3; h++ {
		if out.At(0, h) != 0 {
			t.Errorf("zero row entry %d = %f, want 0", h, out.At(0, h))
		}
		if math.IsNaN(out.At(0, h)) {
			t.Error("zero row produced NaN")
		}
	}
	if math.Abs(out.At(1, 0)-0.6) > gradTol || math.Abs(out.At(1, 2)-0.8) > gradTol {
		t.Errorf("nonzero row not normalized: %v", out.Data[3:])
	}
}

func TestCrossEntropyForwardAndGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	logits := Parameter(Randn(rng, 1.0, 4, 3))
	labels, _ := New([]int{4}, []float64{0, 2, 1, 1})
	loss, err := CrossEntropy(logits, labels)
	if err != nil {
		t.Fatalf("crossentropy: %v", err)
	}
	v, _ := loss.Item()
	if v <= 0 {
		t.Errorf("expected positive loss, got %f", v)
	}
	checkGrads(t, logits, func() *Tensor {
		l, err := CrossEntropy(logits, labels)
		if err != nil {
			t.Fatalf("crossentropy: %v", err)
		}
		return l
	})
}

func TestCrossEntropyEmptyBatch(t *testing.T) {
	if _, err := CrossEntropy(Zeros(0, 2), Zeros(0)); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestGradAllowUnused(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	used := Parameter(Randn(rng, 1.0, 2, 2))
	unused := Parameter(Randn(rng, 1.0, 2, 2))
	loss := sumAll(t, Scale(used, 3.0))
	grads, err := Grad(loss, []*Tensor{used, unused}, true)
	if err != nil {
		t.Fatalf("grad: %v", err)
	}
	if grads[0] == nil {
		t.Error("used parameter should have a gradient")
	}
	if grads[1] != nil {
		t.Error("unused parameter should yield nil")
	}
	if _, err := Grad(loss, []*Tensor{unused}, false); err == nil {
		t.Error("expected error for unused input without allowUnused")
	}
	if used.Grad() != nil {
		t.Error("Grad must not write grad buffers")
	}
}

func TestGradRepeatable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := Parameter(Randn(rng, 1.0, 2, 2))
	loss := sumAll(t, Tanh(p))
	g1, err := Grad(loss, []*Tensor{p}, false)
	if err != nil {
		t.Fatalf("grad: %v", err)
	}
	g2, err := Grad(loss, []*Tensor{p}, false)
	if err != nil {
		t.Fatalf("second grad: %v", err)
	}
	for i := range g1[0].Data {
		if g1[0].Data[i] != g2[0].Data[i] {
			t.Fatal("repeated Grad on the same root must be identical")
		}
	}
}

func TestBackwardAccumulatesOnLeavesOnly(t *testing.T) {
	a := Parameter(Zeros(2))
	a.Data[0], a.Data[1] = 1, 2
	doubled := Scale(a, 2.0)
	s := sumAll(t, doubled)
	if err := Backward(s); err != nil {
		t.Fatalf("backward: %v", err)
	}
	if a.Grad() == nil {
		t.Fatal("leaf should receive a gradient")
	}
	if doubled.Grad() != nil {
		t.Error("non-leaf must not receive a grad buffer")
	}
}

func TestBackwardRequiresScalarRoot(t *testing.T) {
	a := Parameter(Zeros(2, 2))
	if err := Backward(Scale(a, 1.0)); err == nil {
		t.Error("expected error for non-scalar root")
	}
}

func TestDetachBlocksGradient(t *testing.T) {
	a := Parameter(Zeros(1, 2))
	a.Data[0], a.Data[1] = 1, 2
	b := Parameter(Zeros(1, 2))
	b.Data[0], b.Data[1] = 3, 4
	// committed = detach(a) - detach(b) + b: value of a, gradient to b.
	diff, err := Sub(a.Detach(), b.Detach())
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	committed, err := Add(diff, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := range committed.Data {
		if committed.Data[i] != a.Data[i] {
			t.Errorf("committed[%d] = %f, want %f", i, committed.Data[i], a.Data[i])
		}
	}
	loss := sumAll(t, committed)
	grads, err := Grad(loss, []*Tensor{a, b}, true)
	if err != nil {
		t.Fatalf("grad: %v", err)
	}
	if grads[0] != nil {
		t.Error("gradient must not flow into the detached source")
	}
	if grads[1] == nil {
		t.Error("gradient must flow into the live tensor")
	}
}
