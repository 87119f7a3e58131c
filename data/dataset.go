package data

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rajevv/protomaml/tensor"
)

// Example is one labeled text (pair) prior to tokenization. TextB is empty
// for single-segment tasks.
type Example struct {
	TextA string
	TextB string
	Label int
}

type encodedExample struct {
	ids     []int
	typeIDs []int
	mask    []int
	label   int
}

// MetaDataset holds one split (support or query) of one task, partitioned by
// class label, with a fixed per-class batch size k. The example order is
// frozen at initialization (shuffled once with the caller's seeded source),
// so re-created loaders replay the same stream.
type MetaDataset struct {
	k       int
	classes []int
	byClass map[int][]encodedExample
}

// Initialize tokenizes and partitions examples into a MetaDataset with
// per-class batches of size k.
func Initialize(examples []Example, k int, tok *HashingTokenizer, rng *rand.Rand) (*MetaDataset, error) {
	if k <= 0 {
		return nil, fmt.Errorf("meta dataset: batch size k must be positive, got %d", k)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("meta dataset: no examples")
	}
	byClass := make(map[int][]encodedExample)
	for _, ex := range examples {
		ids, typeIDs, mask := tok.Encode(ex.TextA, ex.TextB)
		byClass[ex.Label] = append(byClass[ex.Label], encodedExample{
			ids:     ids,
			typeIDs: typeIDs,
			mask:    mask,
			label:   ex.Label,
		})
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	for _, c := range classes {
		exs := byClass[c]
		rng.Shuffle(len(exs), func(i, j int) { exs[i], exs[j] = exs[j], exs[i] })
	}
	return &MetaDataset{k: k, classes: classes, byClass: byClass}, nil
}

// Classes returns the sorted class labels present in the split.
func (d *MetaDataset) Classes() []int {
	return append([]int(nil), d.classes...)
}

// NumClasses returns the number of distinct labels.
func (d *MetaDataset) NumClasses() int { return len(d.classes) }

// Loaders creates one fresh per-class loader per label, in label order. Each
// call restarts iteration from the beginning of the split.
func (d *MetaDataset) Loaders() []*ClassLoader {
	loaders := make([]*ClassLoader, len(d.classes))
	for i, c := range d.classes {
		loaders[i] = &ClassLoader{examples: d.byClass[c], k: d.k, label: c}
	}
	return loaders
}

// ClassLoader yields successive mini-batches of one class until exhausted.
// The final batch may be smaller than k.
type ClassLoader struct {
	examples []encodedExample
	k        int
	label    int
	pos      int
}

// Label returns the class label this loader serves.
func (l *ClassLoader) Label() int { return l.label }

// NumBatches returns how many batches a full pass yields.
func (l *ClassLoader) NumBatches() int {
	return (len(l.examples) + l.k - 1) / l.k
}

// Next returns the next batch, or (nil, false) once the class is exhausted.
func (l *ClassLoader) Next() (*Batch, bool) {
	if l.pos >= len(l.examples) {
		return nil, false
	}
	end := l.pos + l.k
	if end > len(l.examples) {
		end = len(l.examples)
	}
	batch := buildBatch(l.examples[l.pos:end])
	l.pos = end
	return batch, true
}

// buildBatch pads the examples to their maximum length and assembles the
// field tensors.
func buildBatch(exs []encodedExample) *Batch {
	n := len(exs)
	maxLen := 0
	for _, ex := range exs {
		if len(ex.ids) > maxLen {
			maxLen = len(ex.ids)
		}
	}
	ids := tensor.Zeros(n, maxLen)
	typeIDs := tensor.Zeros(n, maxLen)
	mask := tensor.Zeros(n, maxLen)
	labels := tensor.Zeros(n)
	for i, ex := range exs {
		for j := range ex.ids {
			ids.Data[i*maxLen+j] = float64(ex.ids[j])
			typeIDs.Data[i*maxLen+j] = float64(ex.typeIDs[j])
			mask.Data[i*maxLen+j] = float64(ex.mask[j])
		}
		for j := len(ex.ids); j < maxLen; j++ {
			ids.Data[i*maxLen+j] = float64(PadID)
		}
		labels.Data[i] = float64(ex.label)
	}
	return &Batch{InputIDs: ids, TokenTypeIDs: typeIDs, AttentionMask: mask, Labels: labels}
}
