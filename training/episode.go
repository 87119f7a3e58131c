package training

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rajevv/protomaml/data"
	"github.com/rajevv/protomaml/tensor"
)

// padField right-pads a [B, L] field tensor to maxLen with padValue. Id and
// mask tensors are graph-free, so this is a plain data operation.
func padField(t *tensor.Tensor, maxLen int, padValue float64) *tensor.Tensor {
	rows, cols := t.Shape[0], t.Shape[1]
	if cols == maxLen {
		return t
	}
	out := tensor.Zeros(rows, maxLen)
	for r := 0; r < rows; r++ {
		copy(out.Data[r*maxLen:r*maxLen+cols], t.Data[r*cols:(r+1)*cols])
		for c := cols; c < maxLen; c++ {
			out.Data[r*maxLen+c] = padValue
		}
	}
	return out
}

// ExtractBatch combines a class-keyed batch set into one flat batch: every
// sequence field is padded to the maximum length present, the per-class
// batches are concatenated in label order, and a single permutation from rng
// shuffles all fields and labels consistently.
func ExtractBatch(tb TaskBatches, rng *rand.Rand) (*data.Batch, error) {
	labels := make([]int, 0, len(tb))
	for label := range tb {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	var parts []*data.Batch
	maxLen, total := 0, 0
	for _, label := range labels {
		for _, b := range tb[label].Batches {
			if b.Size() == 0 {
				continue
			}
			parts = append(parts, b)
			if b.SeqLen() > maxLen {
				maxLen = b.SeqLen()
			}
			total += b.Size()
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("extract: no examples to combine")
	}

	ids := tensor.Zeros(total, maxLen)
	typeIDs := tensor.Zeros(total, maxLen)
	mask := tensor.Zeros(total, maxLen)
	labelsT := tensor.Zeros(total)
	row := 0
	for _, b := range parts {
		pIDs := padField(b.InputIDs, maxLen, float64(data.PadID))
		pTypes := padField(b.TokenTypeIDs, maxLen, 0)
		pMask := padField(b.AttentionMask, maxLen, 0)
		for r := 0; r < b.Size(); r++ {
			copy(ids.Data[row*maxLen:(row+1)*maxLen], pIDs.Data[r*maxLen:(r+1)*maxLen])
			copy(typeIDs.Data[row*maxLen:(row+1)*maxLen], pTypes.Data[r*maxLen:(r+1)*maxLen])
			copy(mask.Data[row*maxLen:(row+1)*maxLen], pMask.Data[r*maxLen:(r+1)*maxLen])
			labelsT.Data[row] = b.Labels.Data[r]
			row++
		}
	}

	perm := rng.Perm(total)
	shuffled := &data.Batch{
		InputIDs:      tensor.Zeros(total, maxLen),
		TokenTypeIDs:  tensor.Zeros(total, maxLen),
		AttentionMask: tensor.Zeros(total, maxLen),
		Labels:        tensor.Zeros(total),
	}
	for dst, src := range perm {
		copy(shuffled.InputIDs.Data[dst*maxLen:(dst+1)*maxLen], ids.Data[src*maxLen:(src+1)*maxLen])
		copy(shuffled.TokenTypeIDs.Data[dst*maxLen:(dst+1)*maxLen], typeIDs.Data[src*maxLen:(src+1)*maxLen])
		copy(shuffled.AttentionMask.Data[dst*maxLen:(dst+1)*maxLen], mask.Data[src*maxLen:(src+1)*maxLen])
		shuffled.Labels.Data[dst] = labelsT.Data[src]
	}
	return shuffled, nil
}

// SliceBatch returns rows [lo, hi) of a combined batch as a new batch.
func SliceBatch(b *data.Batch, lo, hi int) *data.Batch {
	seq := b.SeqLen()
	n := hi - lo
	out := &data.Batch{
		InputIDs:      tensor.Zeros(n, seq),
		TokenTypeIDs:  tensor.Zeros(n, seq),
		AttentionMask: tensor.Zeros(n, seq),
		Labels:        tensor.Zeros(n),
	}
	copy(out.InputIDs.Data, b.InputIDs.Data[lo*seq:hi*seq])
	copy(out.TokenTypeIDs.Data, b.TokenTypeIDs.Data[lo*seq:hi*seq])
	copy(out.AttentionMask.Data, b.AttentionMask.Data[lo*seq:hi*seq])
	copy(out.Labels.Data, b.Labels.Data[lo:hi])
	return out
}

// cutPoints spaces steps+1 cut indices evenly over [0, n]. Contiguous pairs
// delimit the inner-loop slices; when steps > n some slices are empty.
func cutPoints(n, steps int) []int {
	cuts := make([]int, steps+1)
	for i := 0; i <= steps; i++ {
		cuts[i] = i * n / steps
	}
	return cuts
}
