// Package model defines the document encoder collaborator and the
// prototype-headed classifier that the meta-training loop adapts per task.
package model

import (
	"fmt"
	"math/rand"

	"github.com/rajevv/protomaml/tensor"
)

// NamedParameter pairs a parameter tensor with its stable name. Gradient
// accumulation across models is keyed by these names.
type NamedParameter struct {
	Name  string
	Param *tensor.Tensor
}

// Encoder turns token id fields into per-token representations [B, T, H].
// The classifier consumes only the first-token position as the pooled
// embedding.
type Encoder interface {
	Encode(inputIDs, tokenTypeIDs, attentionMask *tensor.Tensor) (*tensor.Tensor, error)
	HiddenDim() int
	NamedParameters() []NamedParameter
	Clone() Encoder
}

// EmbedEncoderConfig configures the reference encoder.
type EmbedEncoderConfig struct {
	VocabSize int
	NumTypes  int
	HiddenDim int
}

// DefaultEmbedEncoderConfig returns a small reference configuration.
func DefaultEmbedEncoderConfig() EmbedEncoderConfig {
	return EmbedEncoderConfig{
		VocabSize: 2048,
		NumTypes:  2,
		HiddenDim: 64,
	}
}

// EmbedEncoder is the bundled reference encoder: word + token-type embedding,
// mask, and a tanh projection. It also carries a BERT-style pooler pair that
// the first-token path never touches, so those parameters stay outside the
// loss graph.
type EmbedEncoder struct {
	cfg EmbedEncoderConfig

	wordEmb *tensor.Tensor // [V, H]
	typeEmb *tensor.Tensor // [numTypes, H]
	projW   *tensor.Tensor // [H, H]
	projB   *tensor.Tensor // [H]
	poolerW *tensor.Tensor // [H, H], unused by Encode
	poolerB *tensor.Tensor // [H], unused by Encode
}

// NewEmbedEncoder builds an encoder with N(0, 0.02²) initialized weights
// drawn from rng.
func NewEmbedEncoder(cfg EmbedEncoderConfig, rng *rand.Rand) (*EmbedEncoder, error) {
	if cfg.VocabSize <= 0 || cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("embed encoder: invalid config %+v", cfg)
	}
	if cfg.NumTypes <= 0 {
		cfg.NumTypes = 2
	}
	const initStd = 0.02
	return &EmbedEncoder{
		cfg:     cfg,
		wordEmb: tensor.Parameter(tensor.Randn(rng, initStd, cfg.VocabSize, cfg.HiddenDim)),
		typeEmb: tensor.Parameter(tensor.Randn(rng, initStd, cfg.NumTypes, cfg.HiddenDim)),
		projW:   tensor.Parameter(tensor.Randn(rng, initStd, cfg.HiddenDim, cfg.HiddenDim)),
		projB:   tensor.Parameter(tensor.Zeros(cfg.HiddenDim)),
		poolerW: tensor.Parameter(tensor.Randn(rng, initStd, cfg.HiddenDim, cfg.HiddenDim)),
		poolerB: tensor.Parameter(tensor.Zeros(cfg.HiddenDim)),
	}, nil
}

func (e *EmbedEncoder) HiddenDim() int { return e.cfg.HiddenDim }

// Encode implements the encoder contract.
func (e *EmbedEncoder) Encode(inputIDs, tokenTypeIDs, attentionMask *tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputIDs.Shape) != 2 {
		return nil, fmt.Errorf("encode: input ids must be [B,T], got %v", inputIDs.Shape)
	}
	batch, seq := inputIDs.Shape[0], inputIDs.Shape[1]

	words, err := tensor.Embedding(e.wordEmb, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	types, err := tensor.Embedding(e.typeEmb, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	embedded, err := tensor.Add(words, types)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	embedded, err = tensor.MulMask(embedded, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	flat, err := tensor.Reshape(embedded, batch*seq, e.cfg.HiddenDim)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	hidden, err := tensor.MatMul(flat, e.projW)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	hidden, err = tensor.AddRow(hidden, e.projB)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	hidden = tensor.Tanh(hidden)
	return tensor.Reshape(hidden, batch, seq, e.cfg.HiddenDim)
}

// NamedParameters returns the encoder parameters in a stable order. The
// pooler pair is included so its exclusion-by-name in the outer update is
// exercised, matching encoders that carry a pooling head.
func (e *EmbedEncoder) NamedParameters() []NamedParameter {
	return []NamedParameter{
		{Name: "embeddings.word", Param: e.wordEmb},
		{Name: "embeddings.token_type", Param: e.typeEmb},
		{Name: "projection.weight", Param: e.projW},
		{Name: "projection.bias", Param: e.projB},
		{Name: "pooler.weight", Param: e.poolerW},
		{Name: "pooler.bias", Param: e.poolerB},
	}
}

// Clone deep-copies the encoder: fresh parameter tensors, no shared storage.
func (e *EmbedEncoder) Clone() Encoder {
	return &EmbedEncoder{
		cfg:     e.cfg,
		wordEmb: e.wordEmb.Clone(),
		typeEmb: e.typeEmb.Clone(),
		projW:   e.projW.Clone(),
		projB:   e.projB.Clone(),
		poolerW: e.poolerW.Clone(),
		poolerB: e.poolerB.Clone(),
	}
}
