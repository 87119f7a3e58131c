package training

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/rajevv/protomaml/data"
	"github.com/rajevv/protomaml/model"
)

// vocabulary fragments per class so the toy tasks are separable.
var classTexts = map[int][]string{
	0: {"good great excellent fine", "really wonderful and pleasant", "a delightful happy outcome"},
	1: {"bad awful terrible poor", "really dreadful and unpleasant", "a miserable sad outcome"},
	2: {"strange odd neutral middling", "neither one nor the other", "an ambiguous mixed outcome"},
}

// makeExamples builds n labeled examples per class for the given labels.
func makeExamples(labels []int, perClass int) []data.Example {
	var out []data.Example
	for _, label := range labels {
		texts := classTexts[label%3]
		for i := 0; i < perClass; i++ {
			out = append(out, data.Example{
				TextA: texts[i%len(texts)],
				TextB: fmt.Sprintf("sample %d of class %d", i, label),
				Label: label,
			})
		}
	}
	return out
}

func makeDataset(t *testing.T, labels []int, perClass, k int, seed int64) *data.MetaDataset {
	t.Helper()
	tok := data.NewHashingTokenizer(64, 16)
	ds, err := data.Initialize(makeExamples(labels, perClass), k, tok, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("initialize dataset: %v", err)
	}
	return ds
}

// fixture bundles everything one meta-training test needs.
type fixture struct {
	shared       *model.Classifier
	trainSampler *EpisodicSampler
	validSampler *EpisodicSampler
	tasks        []Task
	rng          *rand.Rand
}

// newFixture builds a single two-class task with the given per-class example
// counts and batch sizes.
func newFixture(t *testing.T, supportPerClass, queryPerClass, supportK, queryK int) *fixture {
	t.Helper()
	enc, err := model.NewEmbedEncoder(model.EmbedEncoderConfig{
		VocabSize: 64,
		NumTypes:  2,
		HiddenDim: 16,
	}, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}

	labels := []int{0, 1}
	support := makeDataset(t, labels, supportPerClass, supportK, 1)
	query := makeDataset(t, labels, queryPerClass, queryK, 2)
	trainSampler, err := NewEpisodicSampler([]*data.MetaDataset{support}, []*data.MetaDataset{query})
	if err != nil {
		t.Fatalf("train sampler: %v", err)
	}

	valSupport := makeDataset(t, labels, supportPerClass, supportK, 3)
	valQuery := makeDataset(t, labels, queryPerClass, queryK, 4)
	validSampler, err := NewEpisodicSampler([]*data.MetaDataset{valSupport}, []*data.MetaDataset{valQuery})
	if err != nil {
		t.Fatalf("valid sampler: %v", err)
	}

	return &fixture{
		shared:       model.NewClassifier(enc),
		trainSampler: trainSampler,
		validSampler: validSampler,
		tasks:        []Task{{ID: 0, NumClasses: 2}},
		rng:          rand.New(rand.NewSource(7)),
	}
}

// sampleSupport draws a fresh support set for task 0.
func (f *fixture) sampleSupport(t *testing.T) TaskBatches {
	t.Helper()
	tb, err := f.trainSampler.sampleFresh(0, SplitSupport)
	if err != nil {
		t.Fatalf("sample support: %v", err)
	}
	return tb
}

// sampleQuery draws a fresh query set for task 0.
func (f *fixture) sampleQuery(t *testing.T) TaskBatches {
	t.Helper()
	tb, err := f.trainSampler.sampleFresh(0, SplitQuery)
	if err != nil {
		t.Fatalf("sample query: %v", err)
	}
	return tb
}
