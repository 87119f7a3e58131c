package training

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Validate measures post-adaptation generalization on the validation split
// of the task at taskIndex. The shared model is deep-copied once; each of
// the trials restarts adaptation from a freshly prototyped head on the same
// support sample (the copy's encoder keeps adapting across trials). The
// query split is then consumed to exhaustion, its cursor reset, and the
// mean loss and accuracy over the observed query batches returned.
func (t *MetaTrainer) Validate(taskIndex, trials int) (avgLoss, avgAcc float64, err error) {
	if taskIndex < 0 || taskIndex >= len(t.tasks) {
		return 0, 0, fmt.Errorf("validate: task %d out of range [0,%d)", taskIndex, len(t.tasks))
	}
	task := t.tasks[taskIndex]
	inner := t.shared.Clone()

	support, err := t.validSampler.sampleFresh(taskIndex, SplitSupport)
	if err != nil {
		return 0, 0, fmt.Errorf("validate: %w", err)
	}
	adaptCfg := AdaptConfig{Steps: t.cfg.InnerSteps, LR: t.cfg.InnerLR, ClipNorm: t.cfg.ClipNorm}
	for trial := 0; trial < trials; trial++ {
		if err := InitPrototypes(inner, t.shared, support, task); err != nil {
			return 0, 0, fmt.Errorf("validate: trial %d: %w", trial, err)
		}
		if err := inner.InitHead(task.NumClasses); err != nil {
			return 0, 0, fmt.Errorf("validate: trial %d: %w", trial, err)
		}
		if err := Adapt(inner, support, task, adaptCfg, t.rng); err != nil {
			return 0, 0, fmt.Errorf("validate: trial %d: %w", trial, err)
		}
	}

	var losses, accuracies []float64
	lossFn := task.lossFn()
	for {
		querySet, err := t.validSampler.Sample(taskIndex, SplitQuery)
		if err != nil {
			return 0, 0, fmt.Errorf("validate: %w", err)
		}
		if t.validSampler.Exhausted(taskIndex, SplitQuery) {
			break
		}
		batch, err := ExtractBatch(querySet, t.rng)
		if err != nil {
			return 0, 0, fmt.Errorf("validate: %w", err)
		}
		logits, err := inner.Forward(batch)
		if err != nil {
			return 0, 0, fmt.Errorf("validate: %w", err)
		}
		lossT, err := lossFn(logits, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("validate: %w", err)
		}
		loss, err := lossT.Item()
		if err != nil {
			return 0, 0, err
		}
		acc, err := Accuracy(logits, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("validate: %w", err)
		}
		losses = append(losses, loss)
		accuracies = append(accuracies, acc)
	}
	t.validSampler.Reset(taskIndex, SplitQuery)

	if len(losses) == 0 {
		return 0, 0, fmt.Errorf("validate: query split yielded no batches")
	}
	avgLoss = stat.Mean(losses, nil)
	avgAcc = stat.Mean(accuracies, nil)
	t.metrics.RecordTest(task.ID, avgLoss, avgAcc)
	t.metrics.Track("loss", avgLoss)
	t.metrics.Track("accuracy", avgAcc)
	return avgLoss, avgAcc, nil
}
