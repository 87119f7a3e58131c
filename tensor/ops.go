package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// opNode is the generic autograd node: recorded inputs plus a closure that
// maps the output gradient to per-input gradients.
type opNode struct {
	inputs   []*Tensor
	backward func(gradOut *Tensor) []*Tensor
}

func (o *opNode) Inputs() []*Tensor                  { return o.inputs }
func (o *opNode) Backward(gradOut *Tensor) []*Tensor { return o.backward(gradOut) }

// tracked reports whether t participates in the autograd graph.
func tracked(t *Tensor) bool {
	return t != nil && (t.requiresGrad || t.creator != nil)
}

// attach wires out to its creator node unless no input is tracked, in which
// case the result stays a plain leaf and the tape stays small.
func attach(out *Tensor, inputs []*Tensor, backward func(gradOut *Tensor) []*Tensor) *Tensor {
	for _, in := range inputs {
		if tracked(in) {
			out.creator = &opNode{inputs: inputs, backward: backward}
			return out
		}
	}
	return out
}

// Add returns a + b, elementwise. Shapes must match.
func Add(a, b *Tensor) (*Tensor, error) {
	if !shapeEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("add: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return attach(out, []*Tensor{a, b}, func(g *Tensor) []*Tensor {
		return []*Tensor{g.Clone(), g.Clone()}
	}), nil
}

// Sub returns a - b, elementwise.
func Sub(a, b *Tensor) (*Tensor, error) {
	if !shapeEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("sub: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] - b.Data[i]
	}
	return attach(out, []*Tensor{a, b}, func(g *Tensor) []*Tensor {
		neg := Zeros(g.Shape...)
		for i, v := range g.Data {
			neg.Data[i] = -v
		}
		return []*Tensor{g.Clone(), neg}
	}), nil
}

// Scale returns s * a.
func Scale(a *Tensor, s float64) *Tensor {
	out := Zeros(a.Shape...)
	for i, v := range a.Data {
		out.Data[i] = s * v
	}
	return attach(out, []*Tensor{a}, func(g *Tensor) []*Tensor {
		ga := Zeros(g.Shape...)
		for i, v := range g.Data {
			ga.Data[i] = s * v
		}
		return []*Tensor{ga}
	})
}

// AddRow adds the vector v [C] to every row of x [R, C].
func AddRow(x, v *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 || len(v.Shape) != 1 || x.Shape[1] != v.Shape[0] {
		return nil, fmt.Errorf("addrow: incompatible shapes %v and %v", x.Shape, v.Shape)
	}
	rows, cols := x.Shape[0], x.Shape[1]
	out := Zeros(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.Data[r*cols+c] = x.Data[r*cols+c] + v.Data[c]
		}
	}
	return attach(out, []*Tensor{x, v}, func(g *Tensor) []*Tensor {
		gv := Zeros(cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				gv.Data[c] += g.Data[r*cols+c]
			}
		}
		return []*Tensor{g.Clone(), gv}
	}), nil
}

// MatMul returns a @ b for 2D tensors, backed by gonum.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 || a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("matmul: incompatible shapes %v and %v", a.Shape, b.Shape)
	}
	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	out := Zeros(m, n)
	dst := mat.NewDense(m, n, out.Data)
	dst.Mul(mat.NewDense(m, k, a.Data), mat.NewDense(k, n, b.Data))
	return attach(out, []*Tensor{a, b}, func(g *Tensor) []*Tensor {
		ga := Zeros(m, k)
		mat.NewDense(m, k, ga.Data).Mul(mat.NewDense(m, n, g.Data), mat.NewDense(k, n, b.Data).T())
		gb := Zeros(k, n)
		mat.NewDense(k, n, gb.Data).Mul(mat.NewDense(m, k, a.Data).T(), mat.NewDense(m, n, g.Data))
		return []*Tensor{ga, gb}
	}), nil
}

// Linear computes x @ wᵀ + b for x [B, H], w [C, H], b [C], the classifier
// head projection.
func Linear(x, w, b *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 || len(w.Shape) != 2 || x.Shape[1] != w.Shape[1] {
		return nil, fmt.Errorf("linear: incompatible shapes x=%v w=%v", x.Shape, w.Shape)
	}
	if len(b.Shape) != 1 || b.Shape[0] != w.Shape[0] {
		return nil, fmt.Errorf("linear: bias shape %v does not match weight %v", b.Shape, w.Shape)
	}
	batch, hidden, classes := x.Shape[0], x.Shape[1], w.Shape[0]
	out := Zeros(batch, classes)
	mat.NewDense(batch, classes, out.Data).Mul(
		mat.NewDense(batch, hidden, x.Data),
		mat.NewDense(classes, hidden, w.Data).T(),
	)
	for r := 0; r < batch; r++ {
		for c := 0; c < classes; c++ {
			out.Data[r*classes+c] += b.Data[c]
		}
	}
	return attach(out, []*Tensor{x, w, b}, func(g *Tensor) []*Tensor {
		gx := Zeros(batch, hidden)
		mat.NewDense(batch, hidden, gx.Data).Mul(
			mat.NewDense(batch, classes, g.Data),
			mat.NewDense(classes, hidden, w.Data),
		)
		gw := Zeros(classes, hidden)
		mat.NewDense(classes, hidden, gw.Data).Mul(
			mat.NewDense(batch, classes, g.Data).T(),
			mat.NewDense(batch, hidden, x.Data),
		)
		gb := Zeros(classes)
		for r := 0; r < batch; r++ {
			for c := 0; c < classes; c++ {
				gb.Data[c] += g.Data[r*classes+c]
			}
		}
		return []*Tensor{gx, gw, gb}
	}), nil
}

// Tanh applies the elementwise hyperbolic tangent.
func Tanh(x *Tensor) *Tensor {
	out := Zeros(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = math.Tanh(v)
	}
	return attach(out, []*Tensor{x}, func(g *Tensor) []*Tensor {
		gx := Zeros(x.Shape...)
		for i := range gx.Data {
			y := out.Data[i]
			gx.Data[i] = g.Data[i] * (1 - y*y)
		}
		return []*Tensor{gx}
	})
}

// Reshape returns a view-copy of x with a new shape of equal element count.
func Reshape(x *Tensor, shape ...int) (*Tensor, error) {
	if calculateNumElements(shape) != x.NumElems {
		return nil, fmt.Errorf("reshape: cannot view %v as %v", x.Shape, shape)
	}
	out := Zeros(shape...)
	copy(out.Data, x.Data)
	return attach(out, []*Tensor{x}, func(g *Tensor) []*Tensor {
		gx := Zeros(x.Shape...)
		copy(gx.Data, g.Data)
		return []*Tensor{gx}
	}), nil
}

// Embedding gathers rows of table [V, H] by the integral ids tensor [B, T],
// producing [B, T, H]. The backward pass scatter-adds into the table.
func Embedding(table, ids *Tensor) (*Tensor, error) {
	if len(table.Shape) != 2 || len(ids.Shape) != 2 {
		return nil, fmt.Errorf("embedding: want table [V,H] and ids [B,T], got %v and %v", table.Shape, ids.Shape)
	}
	vocab, hidden := table.Shape[0], table.Shape[1]
	batch, seq := ids.Shape[0], ids.Shape[1]
	out := Zeros(batch, seq, hidden)
	for i := 0; i < batch*seq; i++ {
		id := ids.Int(i)
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("embedding: id %d out of range [0,%d)", id, vocab)
		}
		copy(out.Data[i*hidden:(i+1)*hidden], table.Data[id*hidden:(id+1)*hidden])
	}
	return attach(out, []*Tensor{table, ids}, func(g *Tensor) []*Tensor {
		gt := Zeros(vocab, hidden)
		for i := 0; i < batch*seq; i++ {
			id := ids.Int(i)
			for h := 0; h < hidden; h++ {
				gt.Data[id*hidden+h] += g.Data[i*hidden+h]
			}
		}
		return []*Tensor{gt, nil}
	}), nil
}

// MulMask scales each token vector of x [B, T, H] by the matching entry of
// mask [B, T]. Padded positions (mask 0) are zeroed.
func MulMask(x, mask *Tensor) (*Tensor, error) {
	if len(x.Shape) != 3 || len(mask.Shape) != 2 || x.Shape[0] != mask.Shape[0] || x.Shape[1] != mask.Shape[1] {
		return nil, fmt.Errorf("mulmask: incompatible shapes %v and %v", x.Shape, mask.Shape)
	}
	hidden := x.Shape[2]
	out := Zeros(x.Shape...)
	for i := 0; i < mask.NumElems; i++ {
		m := mask.Data[i]
		for h := 0; h < hidden; h++ {
			out.Data[i*hidden+h] = x.Data[i*hidden+h] * m
		}
	}
	return attach(out, []*Tensor{x, mask}, func(g *Tensor) []*Tensor {
		gx := Zeros(x.Shape...)
		for i := 0; i < mask.NumElems; i++ {
			m := mask.Data[i]
			for h := 0; h < hidden; h++ {
				gx.Data[i*hidden+h] = g.Data[i*hidden+h] * m
			}
		}
		return []*Tensor{gx, nil}
	}), nil
}

// FirstToken selects position 0 along the sequence axis of x [B, T, H],
// yielding the pooled representation [B, H].
func FirstToken(x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("firsttoken: want [B,T,H], got %v", x.Shape)
	}
	batch, seq, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	out := Zeros(batch, hidden)
	for b := 0; b < batch; b++ {
		copy(out.Data[b*hidden:(b+1)*hidden], x.Data[b*seq*hidden:b*seq*hidden+hidden])
	}
	return attach(out, []*Tensor{x}, func(g *Tensor) []*Tensor {
		gx := Zeros(batch, seq, hidden)
		for b := 0; b < batch; b++ {
			copy(gx.Data[b*seq*hidden:b*seq*hidden+hidden], g.Data[b*hidden:(b+1)*hidden])
		}
		return []*Tensor{gx}
	}), nil
}

// SumRows sums x [B, H] over the batch axis into a vector [H].
func SumRows(x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("sumrows: want [B,H], got %v", x.Shape)
	}
	batch, hidden := x.Shape[0], x.Shape[1]
	out := Zeros(hidden)
	for b := 0; b < batch; b++ {
		for h := 0; h < hidden; h++ {
			out.Data[h] += x.Data[b*hidden+h]
		}
	}
	return attach(out, []*Tensor{x}, func(g *Tensor) []*Tensor {
		gx := Zeros(batch, hidden)
		for b := 0; b < batch; b++ {
			copy(gx.Data[b*hidden:(b+1)*hidden], g.Data)
		}
		return []*Tensor{gx}
	}), nil
}

// Stack stacks equal-length vectors into a matrix [len(rows), H].
func Stack(rows []*Tensor) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("stack: no rows")
	}
	hidden := rows[0].NumElems
	for i, r := range rows {
		if len(r.Shape) != 1 || r.NumElems != hidden {
			return nil, fmt.Errorf("stack: row %d has shape %v, want [%d]", i, r.Shape, hidden)
		}
	}
	out := Zeros(len(rows), hidden)
	for i, r := range rows {
		copy(out.Data[i*hidden:(i+1)*hidden], r.Data)
	}
	inputs := append([]*Tensor(nil), rows...)
	return attach(out, inputs, func(g *Tensor) []*Tensor {
		grads := make([]*Tensor, len(rows))
		for i := range rows {
			gr := Zeros(hidden)
			copy(gr.Data, g.Data[i*hidden:(i+1)*hidden])
			grads[i] = gr
		}
		return grads
	}), nil
}

// normEps is the threshold below which a row norm is treated as numerically
// zero and the row is left unnormalized.
const normEps = 1e-12

// NormalizeRows L2-normalizes each row of x [C, H] independently. Rows with
// numerically zero norm pass through unchanged.
func NormalizeRows(x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("normalizerows: want [C,H], got %v", x.Shape)
	}
	rows, hidden := x.Shape[0], x.Shape[1]
	out := Zeros(rows, hidden)
	norms := make([]float64, rows)
	for r := 0; r < rows; r++ {
		var sq float64
		for h := 0; h < hidden; h++ {
			v := x.Data[r*hidden+h]
			sq += v * v
		}
		norms[r] = math.Sqrt(sq)
		if norms[r] <= normEps {
			copy(out.Data[r*hidden:(r+1)*hidden], x.Data[r*hidden:(r+1)*hidden])
			continue
		}
		for h := 0; h < hidden; h++ {
			out.Data[r*hidden+h] = x.Data[r*hidden+h] / norms[r]
		}
	}
	return attach(out, []*Tensor{x}, func(g *Tensor) []*Tensor {
		gx := Zeros(rows, hidden)
		for r := 0; r < rows; r++ {
			if norms[r] <= normEps {
				copy(gx.Data[r*hidden:(r+1)*hidden], g.Data[r*hidden:(r+1)*hidden])
				continue
			}
			var dot float64
			for h := 0; h < hidden; h++ {
				dot += g.Data[r*hidden+h] * out.Data[r*hidden+h]
			}
			for h := 0; h < hidden; h++ {
				gx.Data[r*hidden+h] = (g.Data[r*hidden+h] - out.Data[r*hidden+h]*dot) / norms[r]
			}
		}
		return []*Tensor{gx}
	}), nil
}

// CrossEntropy computes mean softmax cross-entropy between logits [B, C] and
// the integral labels tensor [B], returning a scalar.
func CrossEntropy(logits, labels *Tensor) (*Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("crossentropy: want logits [B,C], got %v", logits.Shape)
	}
	batch, classes := logits.Shape[0], logits.Shape[1]
	if labels.NumElems != batch {
		return nil, fmt.Errorf("crossentropy: %d labels for batch of %d", labels.NumElems, batch)
	}
	if batch == 0 {
		return nil, fmt.Errorf("crossentropy: empty batch")
	}
	probs := make([]float64, batch*classes)
	var total float64
	for b := 0; b < batch; b++ {
		row := logits.Data[b*classes : (b+1)*classes]
		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float64
		for c, v := range row {
			e := math.Exp(v - maxv)
			probs[b*classes+c] = e
			sum += e
		}
		label := labels.Int(b)
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("crossentropy: label %d out of range [0,%d)", label, classes)
		}
		for c := 0; c < classes; c++ {
			probs[b*classes+c] /= sum
		}
		total += -math.Log(probs[b*classes+label] + 1e-12)
	}
	out := Zeros(1)
	out.Data[0] = total / float64(batch)
	return attach(out, []*Tensor{logits, labels}, func(g *Tensor) []*Tensor {
		scale := g.Data[0] / float64(batch)
		gl := Zeros(batch, classes)
		for b := 0; b < batch; b++ {
			label := labels.Int(b)
			for c := 0; c < classes; c++ {
				gl.Data[b*classes+c] = probs[b*classes+c] * scale
			}
			gl.Data[b*classes+label] -= scale
		}
		return []*Tensor{gl, nil}
	}), nil
}

// Argmax returns the per-row argmax of a 2D tensor.
func Argmax(x *Tensor) ([]int, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("argmax: want 2D tensor, got %v", x.Shape)
	}
	rows, cols := x.Shape[0], x.Shape[1]
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		best := 0
		for c := 1; c < cols; c++ {
			if x.Data[r*cols+c] > x.Data[r*cols+best] {
				best = c
			}
		}
		out[r] = best
	}
	return out, nil
}
