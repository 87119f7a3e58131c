package training

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rajevv/protomaml/checkpoints"
	"github.com/rajevv/protomaml/model"
	"github.com/rajevv/protomaml/optimizer"
)

// outerWeightDecay is the shared optimizer's weight decay, matching the
// inner loop's.
const outerWeightDecay = 1e-4

// TrainerConfig is the recognized configuration surface of the meta-trainer.
type TrainerConfig struct {
	Epochs      int     // number of outer-loop updates
	InnerLR     float64 // inner-loop learning rate
	OuterLR     float64 // shared-model learning rate
	InnerSteps  int     // gradient steps per inner adaptation
	NumEpisodes int     // episodes (= tasks) per epoch
	ClipNorm    float64 // gradient clip norm for the inner loop

	TestEvery      int // validation cadence in epochs
	ValTrials      int // adaptation restarts per validation
	ValidationTask int // task index validated; -1 selects the last episode's task

	ExpName string // file-naming key for model, results and figures
	Seed    int64
	Device  string // compute device selector; only "cpu" is available

	ModelSavePath   string
	ResultsSavePath string
	FigsSavePath    string
}

// DefaultTrainerConfig returns the standard experiment defaults.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:          50,
		InnerLR:         1e-4,
		OuterLR:         1e-4,
		InnerSteps:      5,
		NumEpisodes:     1,
		ClipNorm:        2.0,
		TestEvery:       1,
		ValTrials:       5,
		ValidationTask:  -1,
		ExpName:         "default",
		Seed:            42,
		Device:          "cpu",
		ModelSavePath:   "saved_models",
		ResultsSavePath: "results",
		FigsSavePath:    "figs",
	}
}

// Validate checks the configuration for internal consistency.
func (c TrainerConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("config: epochs must be positive, got %d", c.Epochs)
	}
	if c.InnerLR <= 0 || c.OuterLR <= 0 {
		return fmt.Errorf("config: learning rates must be positive, got inner=%g outer=%g", c.InnerLR, c.OuterLR)
	}
	if c.InnerSteps <= 0 {
		return fmt.Errorf("config: inner steps must be positive, got %d", c.InnerSteps)
	}
	if c.NumEpisodes <= 0 {
		return fmt.Errorf("config: episodes per epoch must be positive, got %d", c.NumEpisodes)
	}
	if c.ValTrials <= 0 {
		return fmt.Errorf("config: validation trials must be positive, got %d", c.ValTrials)
	}
	if c.ExpName == "" {
		return fmt.Errorf("config: experiment name must not be empty")
	}
	if c.Device != "" && c.Device != "cpu" {
		return fmt.Errorf("config: unsupported device %q", c.Device)
	}
	return nil
}

// MetaTrainer owns the shared model and drives epochs of episodes over the
// configured tasks: sampling, prototype initialization, inner adaptation,
// outer gradient combination, and one shared optimizer step per epoch.
type MetaTrainer struct {
	cfg          TrainerConfig
	shared       *model.Classifier
	trainSampler *EpisodicSampler
	validSampler *EpisodicSampler
	tasks        []Task

	outerOpt *optimizer.AdamW
	sched    LRScheduler
	metrics  *MetricsLog
	rng      *rand.Rand

	runID      string
	bestValAcc float64
}

// NewMetaTrainer builds a trainer. tasks must cover the episode indices;
// episode i trains task i, matching the samplers' dataset order.
func NewMetaTrainer(shared *model.Classifier, trainSampler, validSampler *EpisodicSampler, tasks []Task, cfg TrainerConfig) (*MetaTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NumEpisodes > trainSampler.NumTasks() || cfg.NumEpisodes > len(tasks) {
		return nil, fmt.Errorf("trainer: %d episodes but %d sampler tasks and %d task specs",
			cfg.NumEpisodes, trainSampler.NumTasks(), len(tasks))
	}
	valTask := cfg.ValidationTask
	if valTask < 0 {
		valTask = cfg.NumEpisodes - 1
	}
	if valTask >= validSampler.NumTasks() {
		return nil, fmt.Errorf("trainer: validation task %d out of range [0,%d)", valTask, validSampler.NumTasks())
	}
	for _, dir := range []string{cfg.ModelSavePath, cfg.ResultsSavePath, cfg.FigsSavePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("trainer: %w", err)
		}
	}

	sched := LRScheduler(&WarmupCosineScheduler{
		WarmupSteps: cfg.Epochs / 10,
		TotalSteps:  cfg.Epochs,
	})
	outerOpt, err := optimizer.NewAdamW(optimizer.AdamWConfig{
		LearningRate: cfg.OuterLR,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  outerWeightDecay,
	}, optimizer.Parameters(paramsOf(shared.EncoderParameters())))
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	outerOpt.SetLearningRate(sched.GetLR(0, cfg.OuterLR))

	cfg.ValidationTask = valTask
	return &MetaTrainer{
		cfg:          cfg,
		shared:       shared,
		trainSampler: trainSampler,
		validSampler: validSampler,
		tasks:        tasks,
		outerOpt:     outerOpt,
		sched:        sched,
		metrics:      NewMetricsLog(),
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		runID:        uuid.NewString(),
	}, nil
}

// Metrics exposes the trainer's metrics log.
func (t *MetaTrainer) Metrics() *MetricsLog { return t.metrics }

// BestValidationAccuracy returns the checkpoint watermark.
func (t *MetaTrainer) BestValidationAccuracy() float64 { return t.bestValAcc }

func (t *MetaTrainer) modelPath() string {
	return filepath.Join(t.cfg.ModelSavePath, t.cfg.ExpName+".json")
}

func (t *MetaTrainer) resultsPath() string {
	return filepath.Join(t.cfg.ResultsSavePath, t.cfg.ExpName+".txt")
}

// Train runs the configured number of epochs of episodes and outer-loop
// updates, validating and checkpointing on the configured cadence, and
// renders the metric plots at the end.
func (t *MetaTrainer) Train() error {
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		// Gradients accumulate across all episodes of the epoch.
		t.outerOpt.ZeroGrad()

		bar := NewProgressBar(fmt.Sprintf("Epoch %d/%d", epoch+1, t.cfg.Epochs), t.cfg.NumEpisodes)
		for episode := 0; episode < t.cfg.NumEpisodes; episode++ {
			task := t.tasks[episode]
			support, err := t.trainSampler.sampleFresh(episode, SplitSupport)
			if err != nil {
				return fmt.Errorf("epoch %d, episode %d: %w", epoch, episode, err)
			}
			query, err := t.trainSampler.sampleFresh(episode, SplitQuery)
			if err != nil {
				return fmt.Errorf("epoch %d, episode %d: %w", epoch, episode, err)
			}
			loss, acc, err := t.trainEpisode(support, query, task)
			if err != nil {
				return fmt.Errorf("epoch %d, episode %d: %w", epoch, episode, err)
			}
			bar.Update(episode+1, map[string]float64{"query_loss": loss, "query_acc": acc})
		}
		bar.Finish()

		if t.cfg.TestEvery > 0 && epoch%t.cfg.TestEvery == 0 {
			valLoss, valAcc, err := t.Validate(t.cfg.ValidationTask, t.cfg.ValTrials)
			if err != nil {
				return fmt.Errorf("epoch %d: validation: %w", epoch, err)
			}
			log.Printf("epoch %d, task %d: validation loss %.4f, accuracy %.4f",
				epoch, t.cfg.ValidationTask, valLoss, valAcc)
			if valAcc > t.bestValAcc {
				t.bestValAcc = valAcc
				state := checkpoints.TrainingState{
					Epoch:        epoch,
					BestAccuracy: t.bestValAcc,
					LearningRate: t.outerOpt.LearningRate(),
				}
				meta := checkpoints.Metadata{
					RunID:      t.runID,
					Experiment: t.cfg.ExpName,
					CreatedAt:  time.Now().UTC(),
				}
				if err := checkpoints.Save(t.modelPath(), t.shared, state, meta); err != nil {
					return fmt.Errorf("epoch %d: %w", epoch, err)
				}
			}
		}

		if err := t.outerOpt.Step(); err != nil {
			return fmt.Errorf("epoch %d: outer step: %w", epoch, err)
		}
		t.outerOpt.SetLearningRate(t.sched.GetLR(epoch+1, t.cfg.OuterLR))
		if err := t.metrics.Flush(t.resultsPath()); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
	}

	names, series := t.metrics.PlotSeries()
	return RenderPlots(t.cfg.FigsSavePath, t.cfg.ExpName, names, series)
}

// trainEpisode runs one episode: deep-copy the shared model, initialize the
// prototype head, fast-adapt on the support set, commit the adapted head,
// and combine the query gradients into the shared model.
func (t *MetaTrainer) trainEpisode(support, query TaskBatches, task Task) (loss, acc float64, err error) {
	adapted := t.shared.Clone()
	if err := InitPrototypes(adapted, t.shared, support, task); err != nil {
		return 0, 0, err
	}
	if err := adapted.InitHead(task.NumClasses); err != nil {
		return 0, 0, err
	}
	adaptCfg := AdaptConfig{Steps: t.cfg.InnerSteps, LR: t.cfg.InnerLR, ClipNorm: t.cfg.ClipNorm}
	if err := Adapt(adapted, support, task, adaptCfg, t.rng); err != nil {
		return 0, 0, err
	}
	if err := adapted.CommitAdaptedHead(); err != nil {
		return 0, 0, err
	}
	return CombineGradients(adapted, t.shared, query, task, t.metrics, t.rng)
}
