package data

import (
	"hash/fnv"
	"strings"
)

// hashOffset is the first token id available to hashed vocabulary entries;
// ids below it are reserved (pad, cls, sep).
const hashOffset = 3

// HashingTokenizer maps whitespace-split lowercased tokens into a fixed-size
// id space by hashing. It produces BERT-shaped encodings:
// [CLS] a... [SEP] b... [SEP], with token type 0 for the first segment and 1
// for the second. It carries no learned vocabulary, which keeps dataset
// reading self-contained; a real subword tokenizer can replace it behind the
// same Encode signature.
type HashingTokenizer struct {
	VocabSize int
	MaxLen    int
}

// NewHashingTokenizer validates and builds a tokenizer.
func NewHashingTokenizer(vocabSize, maxLen int) *HashingTokenizer {
	if vocabSize <= hashOffset {
		vocabSize = hashOffset + 1
	}
	if maxLen < 2 {
		maxLen = 2
	}
	return &HashingTokenizer{VocabSize: vocabSize, MaxLen: maxLen}
}

func (t *HashingTokenizer) tokenID(tok string) int {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return hashOffset + int(h.Sum32()%uint32(t.VocabSize-hashOffset))
}

// Encode encodes a text pair (b may be empty for single-segment tasks) into
// ids, token type ids and an attention mask, truncated to MaxLen. No padding
// is applied here; batches pad to their own maximum length.
func (t *HashingTokenizer) Encode(a, b string) (ids, typeIDs, mask []int) {
	ids = []int{ClsID}
	typeIDs = []int{0}
	for _, tok := range strings.Fields(strings.ToLower(a)) {
		ids = append(ids, t.tokenID(tok))
		typeIDs = append(typeIDs, 0)
	}
	ids = append(ids, SepID)
	typeIDs = append(typeIDs, 0)
	if b != "" {
		for _, tok := range strings.Fields(strings.ToLower(b)) {
			ids = append(ids, t.tokenID(tok))
			typeIDs = append(typeIDs, 1)
		}
		ids = append(ids, SepID)
		typeIDs = append(typeIDs, 1)
	}
	if len(ids) > t.MaxLen {
		ids = ids[:t.MaxLen]
		typeIDs = typeIDs[:t.MaxLen]
	}
	mask = make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return ids, typeIDs, mask
}
