package data

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func makeExamples(perClass map[int]int) []Example {
	var out []Example
	for label, n := range perClass {
		for i := 0; i < n; i++ {
			out = append(out, Example{TextA: "some text about things", TextB: "and a second segment", Label: label})
		}
	}
	return out
}

func TestInitializeValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tok := NewHashingTokenizer(100, 16)
	if _, err := Initialize(nil, 4, tok, rng); err == nil {
		t.Error("expected error for empty examples")
	}
	if _, err := Initialize(makeExamples(map[int]int{0: 2}), 0, tok, rng); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestLoaderExhaustion(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	tok := NewHashingTokenizer(100, 16)
	ds, err := Initialize(makeExamples(map[int]int{0: 10, 1: 10}), 4, tok, rng)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := ds.NumClasses(); got != 2 {
		t.Fatalf("expected 2 classes, got %d", got)
	}
	for _, loader := range ds.Loaders() {
		if loader.NumBatches() != 3 {
			t.Errorf("class %d: expected 3 batches for 10 examples at k=4, got %d", loader.Label(), loader.NumBatches())
		}
		sizes := []int{}
		for {
			b, ok := loader.Next()
			if !ok {
				break
			}
			if b.Label() != loader.Label() {
				t.Errorf("batch label %d does not match loader label %d", b.Label(), loader.Label())
			}
			sizes = append(sizes, b.Size())
		}
		if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
			t.Errorf("class %d: batch sizes %v, want [4 4 2]", loader.Label(), sizes)
		}
		if _, ok := loader.Next(); ok {
			t.Error("exhausted loader yielded another batch")
		}
	}
}

func TestBatchFieldsAligned(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tok := NewHashingTokenizer(50, 12)
	examples := []Example{
		{TextA: "short", Label: 0},
		{TextA: "a much longer sentence with many more tokens inside", Label: 0},
	}
	ds, err := Initialize(examples, 2, tok, rng)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	b, ok := ds.Loaders()[0].Next()
	if !ok {
		t.Fatal("expected a batch")
	}
	if b.Size() != 2 {
		t.Fatalf("expected batch of 2, got %d", b.Size())
	}
	seq := b.SeqLen()
	for _, field := range []struct {
		name string
		rows []int
	}{
		{"input_ids", b.InputIDs.Shape},
		{"token_type_ids", b.TokenTypeIDs.Shape},
		{"attention_mask", b.AttentionMask.Shape},
	} {
		if field.rows[0] != 2 || field.rows[1] != seq {
			t.Errorf("%s shape %v, want [2 %d]", field.name, field.rows, seq)
		}
	}
	// The short example must be padded with PadID and mask 0.
	for i := 0; i < 2; i++ {
		masked := false
		for j := 0; j < seq; j++ {
			if b.AttentionMask.At(i, j) == 0 {
				masked = true
				if b.InputIDs.At(i, j) != float64(PadID) {
					t.Errorf("padded position (%d,%d) has id %f, want pad", i, j, b.InputIDs.At(i, j))
				}
			}
		}
		_ = masked
	}
}

func TestTokenizerEncodePair(t *testing.T) {
	tok := NewHashingTokenizer(1000, 32)
	ids, typeIDs, mask := tok.Encode("alpha beta", "gamma")
	if ids[0] != ClsID {
		t.Errorf("first token %d, want CLS", ids[0])
	}
	seps := 0
	for _, id := range ids {
		if id == SepID {
			seps++
		}
		if id == PadID {
			t.Error("encode must not emit pad ids")
		}
	}
	if seps != 2 {
		t.Errorf("expected 2 separators, got %d", seps)
	}
	sawSecond := false
	for i := range typeIDs {
		if typeIDs[i] == 1 {
			sawSecond = true
		}
		if mask[i] != 1 {
			t.Error("mask must be all ones before padding")
		}
	}
	if !sawSecond {
		t.Error("second segment should carry token type 1")
	}
	// Same token hashes to the same id.
	a, _, _ := tok.Encode("repeat", "")
	b, _, _ := tok.Encode("repeat", "")
	if a[1] != b[1] {
		t.Error("hashing must be deterministic")
	}
}

func TestTokenizerTruncates(t *testing.T) {
	tok := NewHashingTokenizer(100, 4)
	ids, typeIDs, mask := tok.Encode("one two three four five six", "")
	if len(ids) != 4 || len(typeIDs) != 4 || len(mask) != 4 {
		t.Errorf("expected truncation to 4, got %d/%d/%d", len(ids), len(typeIDs), len(mask))
	}
}

func TestReadTSVAndSplit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.tsv")
	content := "0\tfirst text\tsecond text\n1\tanother one\tpair part\n0\tjust one segment\n1\tmore text\tagain\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	examples, err := ReadTSV(path)
	if err != nil {
		t.Fatalf("read tsv: %v", err)
	}
	if len(examples) != 4 {
		t.Fatalf("expected 4 examples, got %d", len(examples))
	}
	if examples[2].TextB != "" {
		t.Error("two-field row should have empty TextB")
	}
	first, second, err := SplitRatio(examples, 0.5)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(first)+len(second) != 4 {
		t.Errorf("split lost examples: %d + %d", len(first), len(second))
	}
	if _, _, err := SplitRatio(examples, 1.5); err == nil {
		t.Error("expected error for ratio out of range")
	}
}

func TestReadTSVErrors(t *testing.T) {
	if _, err := ReadTSV(filepath.Join(t.TempDir(), "missing.tsv")); err == nil {
		t.Error("expected error for missing file")
	}
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.tsv")
	os.WriteFile(bad, []byte("notalabel\ttext\n"), 0o644)
	if _, err := ReadTSV(bad); err == nil {
		t.Error("expected error for non-integer label")
	}
}
