package training

import (
	"fmt"

	"github.com/rajevv/protomaml/data"
)

// Split selects one of a task's two independent batch streams.
type Split int

const (
	SplitSupport Split = iota
	SplitQuery
)

func (s Split) String() string {
	switch s {
	case SplitSupport:
		return "support"
	case SplitQuery:
		return "query"
	default:
		return fmt.Sprintf("Split(%d)", int(s))
	}
}

// ClassSet holds the mini-batches drawn for one class label. It is the
// single-batch-or-list variant consumed uniformly: most draws carry exactly
// one batch.
type ClassSet struct {
	Batches []*data.Batch
}

// Examples returns the total example count across the set's batches.
func (cs ClassSet) Examples() int {
	n := 0
	for _, b := range cs.Batches {
		n += b.Size()
	}
	return n
}

// TaskBatches maps class label to the batches drawn for that label in one
// Sample call.
type TaskBatches map[int]ClassSet

// EpisodicSampler provides per-task support/query mini-batches grouped by
// class label, with per-task, per-split exhaustion tracking. A split that has
// run out of data yields nothing further until Reset.
type EpisodicSampler struct {
	supportSets []*data.MetaDataset
	querySets   []*data.MetaDataset

	supportLoaders [][]*data.ClassLoader
	queryLoaders   [][]*data.ClassLoader
	exhausted      [][2]bool
}

// NewEpisodicSampler builds a sampler over parallel slices of support and
// query datasets, one pair per task.
func NewEpisodicSampler(supportSets, querySets []*data.MetaDataset) (*EpisodicSampler, error) {
	if len(supportSets) == 0 {
		return nil, fmt.Errorf("sampler: no tasks")
	}
	if len(supportSets) != len(querySets) {
		return nil, fmt.Errorf("sampler: %d support datasets but %d query datasets", len(supportSets), len(querySets))
	}
	s := &EpisodicSampler{
		supportSets:    supportSets,
		querySets:      querySets,
		supportLoaders: make([][]*data.ClassLoader, len(supportSets)),
		queryLoaders:   make([][]*data.ClassLoader, len(querySets)),
		exhausted:      make([][2]bool, len(supportSets)),
	}
	for task := range supportSets {
		s.supportLoaders[task] = supportSets[task].Loaders()
		s.queryLoaders[task] = querySets[task].Loaders()
	}
	return s, nil
}

// NumTasks returns the number of tasks the sampler serves.
func (s *EpisodicSampler) NumTasks() int { return len(s.supportSets) }

// Classes returns the class labels of a task's split.
func (s *EpisodicSampler) Classes(task int, split Split) []int {
	if split == SplitSupport {
		return s.supportSets[task].Classes()
	}
	return s.querySets[task].Classes()
}

// Sample draws the next mini-batch from every class iterator of the task's
// split. A class iterator that has run out sets the split's exhaustion flag
// and contributes nothing. Callers must check Exhausted afterwards and, if
// set, Reset and re-Sample before consuming the result.
func (s *EpisodicSampler) Sample(task int, split Split) (TaskBatches, error) {
	if task < 0 || task >= len(s.supportSets) {
		return nil, fmt.Errorf("sampler: task %d out of range [0,%d)", task, len(s.supportSets))
	}
	loaders := s.supportLoaders[task]
	if split == SplitQuery {
		loaders = s.queryLoaders[task]
	}
	out := make(TaskBatches, len(loaders))
	for _, loader := range loaders {
		b, ok := loader.Next()
		if !ok {
			s.exhausted[task][split] = true
			continue
		}
		cs := out[b.Label()]
		cs.Batches = append(cs.Batches, b)
		out[b.Label()] = cs
	}
	return out, nil
}

// Exhausted reports whether a Sample call on the task's split has observed
// end-of-data since the last Reset.
func (s *EpisodicSampler) Exhausted(task int, split Split) bool {
	return s.exhausted[task][split]
}

// Reset reinitializes the task's per-class iterators for the split and
// clears its exhaustion flag. The other split's cursor is untouched.
// Resetting an already-fresh split is a no-op beyond restarting iteration.
func (s *EpisodicSampler) Reset(task int, split Split) {
	s.exhausted[task][split] = false
	if split == SplitSupport {
		s.supportLoaders[task] = s.supportSets[task].Loaders()
		return
	}
	s.queryLoaders[task] = s.querySets[task].Loaders()
}

// sampleFresh samples the split and transparently applies the
// reset-and-resample protocol once if the split came up exhausted.
func (s *EpisodicSampler) sampleFresh(task int, split Split) (TaskBatches, error) {
	batches, err := s.Sample(task, split)
	if err != nil {
		return nil, err
	}
	if s.Exhausted(task, split) {
		s.Reset(task, split)
		batches, err = s.Sample(task, split)
		if err != nil {
			return nil, err
		}
	}
	return batches, nil
}
