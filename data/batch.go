// Package data supplies the dataset side of the meta-training loop:
// examples, tokenization, per-class mini-batch loaders and the MetaDataset
// grouping used by the episodic sampler.
package data

import "github.com/rajevv/protomaml/tensor"

// PadID is the reserved padding token id. Sequence fields are padded with it
// whenever batches of different lengths are combined.
const PadID = 0

// Reserved token ids below hashOffset; see HashingTokenizer.
const (
	ClsID = 1
	SepID = 2
)

// Batch is one per-class mini-batch. Every example in a batch shares one
// label. Field tensors have shape [B, T] (ids, type ids, mask) and [B]
// (labels); integral values are stored in float64 tensors.
type Batch struct {
	InputIDs      *tensor.Tensor
	TokenTypeIDs  *tensor.Tensor
	AttentionMask *tensor.Tensor
	Labels        *tensor.Tensor
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	if b.Labels == nil {
		return 0
	}
	return b.Labels.NumElems
}

// SeqLen returns the (uniform) sequence length of the batch.
func (b *Batch) SeqLen() int {
	if b.InputIDs == nil || len(b.InputIDs.Shape) != 2 {
		return 0
	}
	return b.InputIDs.Shape[1]
}

// Label returns the class label shared by the batch's examples.
func (b *Batch) Label() int {
	return b.Labels.Int(0)
}
