// Package checkpoints serializes model state to disk. The format is JSON:
// named weight tensors plus training state and run metadata. The trainer
// overwrites the checkpoint on every validation improvement, so the file
// always holds the best shared model seen so far.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rajevv/protomaml/model"
)

// WeightTensor is one named parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState captures training progress at save time.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	BestAccuracy float64 `json:"best_accuracy"`
	LearningRate float64 `json:"learning_rate"`
}

// Metadata identifies the run that produced the checkpoint.
type Metadata struct {
	RunID      string    `json:"run_id"`
	Experiment string    `json:"experiment"`
	CreatedAt  time.Time `json:"created_at"`
}

// Checkpoint is the complete serialized model state.
type Checkpoint struct {
	Weights  []WeightTensor `json:"weights"`
	State    TrainingState  `json:"training_state"`
	Metadata Metadata       `json:"metadata"`
}

// Save writes the classifier's named parameters with state and metadata to
// path, overwriting any existing file.
func Save(path string, m *model.Classifier, state TrainingState, meta Metadata) error {
	named := m.NamedParameters()
	ckpt := Checkpoint{
		Weights:  make([]WeightTensor, 0, len(named)),
		State:    state,
		Metadata: meta,
	}
	for _, np := range named {
		ckpt.Weights = append(ckpt.Weights, WeightTensor{
			Name:  np.Name,
			Shape: append([]int(nil), np.Param.Shape...),
			Data:  append([]float64(nil), np.Param.Data...),
		})
	}
	payload, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("checkpoint save: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("checkpoint save: %w", err)
	}
	return nil
}

// Load reads a checkpoint from path and restores parameter values into m by
// name. Weights in the file without a matching parameter are an error, as
// are parameters whose shapes disagree.
func Load(path string, m *model.Classifier) (*Checkpoint, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint load: %w", err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(payload, &ckpt); err != nil {
		return nil, fmt.Errorf("checkpoint load: %w", err)
	}
	byName := make(map[string]WeightTensor, len(ckpt.Weights))
	for _, w := range ckpt.Weights {
		byName[w.Name] = w
	}
	for _, np := range m.NamedParameters() {
		w, ok := byName[np.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint load: missing weight %s", np.Name)
		}
		if !sameShape(w.Shape, np.Param.Shape) {
			return nil, fmt.Errorf("checkpoint load: weight %s has shape %v, want %v",
				np.Name, w.Shape, np.Param.Shape)
		}
		if len(w.Data) != np.Param.NumElems {
			return nil, fmt.Errorf("checkpoint load: weight %s has %d values, want %d",
				np.Name, len(w.Data), np.Param.NumElems)
		}
		copy(np.Param.Data, w.Data)
	}
	return &ckpt, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
