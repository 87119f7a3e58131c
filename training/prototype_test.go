package training

import (
	"errors"
	"math"
	"testing"

	"github.com/rajevv/protomaml/tensor"
)

func TestInitPrototypesUnitNormRows(t *testing.T) {
	f := newFixture(t, 8, 8, 4, 4)
	adapted := f.shared.Clone()
	support := f.sampleSupport(t)

	if err := InitPrototypes(adapted, f.shared, support, f.tasks[0]); err != nil {
		t.Fatalf("init prototypes: %v", err)
	}
	gamma := adapted.Gamma()
	if gamma == nil {
		t.Fatal("gamma not installed")
	}
	hidden := f.shared.Encoder().HiddenDim()
	if gamma.Shape[0] != 2 || gamma.Shape[1] != hidden {
		t.Fatalf("gamma shape %v, want [2 %d]", gamma.Shape, hidden)
	}
	for r := 0; r < 2; r++ {
		norm := 0.0
		for c := 0; c < hidden; c++ {
			v := gamma.At(r, c)
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if math.Abs(norm-1) > 1e-9 {
			t.Fatalf("row %d norm %v, want 1", r, norm)
		}
	}
}

func TestInitPrototypesEmptyClass(t *testing.T) {
	f := newFixture(t, 8, 8, 4, 4)
	adapted := f.shared.Clone()
	support := f.sampleSupport(t)
	delete(support, 1)

	err := InitPrototypes(adapted, f.shared, support, f.tasks[0])
	if !errors.Is(err, ErrEmptyClass) {
		t.Fatalf("got %v, want ErrEmptyClass", err)
	}
}

func TestInitPrototypesSpansMultipleBatches(t *testing.T) {
	f := newFixture(t, 8, 8, 2, 2)
	support := f.sampleSupport(t)
	more := f.sampleSupport(t)
	for label, cs := range more {
		merged := support[label]
		merged.Batches = append(merged.Batches, cs.Batches...)
		support[label] = merged
	}
	for _, label := range []int{0, 1} {
		if support[label].Examples() != 4 {
			t.Fatalf("class %d: merged set has %d examples, want 4", label, support[label].Examples())
		}
	}

	adapted := f.shared.Clone()
	if err := InitPrototypes(adapted, f.shared, support, f.tasks[0]); err != nil {
		t.Fatalf("init prototypes over multi-batch sets: %v", err)
	}
	if adapted.Gamma() == nil {
		t.Fatal("gamma not installed")
	}
}

func TestPrototypeGraphReachesSharedEncoder(t *testing.T) {
	f := newFixture(t, 4, 4, 4, 4)
	adapted := f.shared.Clone()
	task := f.tasks[0]
	if err := InitPrototypes(adapted, f.shared, f.sampleSupport(t), task); err != nil {
		t.Fatalf("init prototypes: %v", err)
	}
	if err := adapted.InitHead(task.NumClasses); err != nil {
		t.Fatalf("init head: %v", err)
	}
	if err := adapted.CommitAdaptedHead(); err != nil {
		t.Fatalf("commit head: %v", err)
	}

	query, err := ExtractBatch(f.sampleQuery(t), f.rng)
	if err != nil {
		t.Fatalf("extract query: %v", err)
	}
	logits, err := adapted.Forward(query)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	loss, err := task.lossFn()(logits, query.Labels)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}

	// The committed head routes the query loss through gamma into the shared
	// encoder even though the forward pass ran on the adapted copy.
	sharedParams := paramsOf(f.shared.EncoderParameters())
	grads, err := tensor.Grad(loss, sharedParams, true)
	if err != nil {
		t.Fatalf("grad: %v", err)
	}
	any := false
	for _, g := range grads {
		if g != nil {
			any = true
			break
		}
	}
	if !any {
		t.Fatal("query loss carried no gradient back to the shared encoder")
	}
}
