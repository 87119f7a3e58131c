package tensor

import "fmt"

// topoSort collects every tensor reachable from root through creator edges,
// in an order where inputs precede outputs.
func topoSort(root *Tensor) []*Tensor {
	visited := make(map[*Tensor]bool)
	var order []*Tensor
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if t == nil || visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

// propagate runs reverse-mode accumulation from root seeded with seed and
// returns the gradient reaching every tracked tensor in the graph.
func propagate(root, seed *Tensor) map[*Tensor]*Tensor {
	grads := map[*Tensor]*Tensor{root: seed.Clone()}
	order := topoSort(root)
	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		g := grads[t]
		if g == nil || t.creator == nil {
			continue
		}
		inputGrads := t.creator.Backward(g)
		for j, in := range t.creator.Inputs() {
			ig := inputGrads[j]
			if ig == nil || !tracked(in) {
				continue
			}
			if acc, ok := grads[in]; ok {
				for k, v := range ig.Data {
					acc.Data[k] += v
				}
			} else {
				grads[in] = ig
			}
		}
	}
	return grads
}

// Backward runs backpropagation from a scalar root and accumulates gradients
// into the grad buffers of every leaf tensor that requires grad.
func Backward(root *Tensor) error {
	if root.NumElems != 1 {
		return fmt.Errorf("backward: root must be scalar, got shape %v", root.Shape)
	}
	if !tracked(root) {
		return fmt.Errorf("backward: root does not require gradients")
	}
	seed := Zeros(1)
	seed.Data[0] = 1
	grads := propagate(root, seed)
	for t, g := range grads {
		if t.requiresGrad && t.creator == nil {
			if err := t.AccumGrad(g); err != nil {
				return err
			}
		}
	}
	return nil
}

// Grad computes the gradient of a scalar root with respect to each of the
// given tensors, without touching any grad buffer. Tensors the loss graph
// never reached yield a nil entry when allowUnused is set, an error
// otherwise. The graph is left intact, so Grad may be called repeatedly on
// the same root.
func Grad(root *Tensor, inputs []*Tensor, allowUnused bool) ([]*Tensor, error) {
	if root.NumElems != 1 {
		return nil, fmt.Errorf("grad: root must be scalar, got shape %v", root.Shape)
	}
	if !tracked(root) {
		return nil, fmt.Errorf("grad: root does not require gradients")
	}
	seed := Zeros(1)
	seed.Data[0] = 1
	grads := propagate(root, seed)
	out := make([]*Tensor, len(inputs))
	for i, in := range inputs {
		g, ok := grads[in]
		if !ok {
			if !allowUnused {
				return nil, fmt.Errorf("grad: input %d (%s) unused by the graph", i, in)
			}
			continue
		}
		out[i] = g
	}
	return out, nil
}
