// Package main provides the CLI entry point for protomaml.
package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/rajevv/protomaml/data"
	"github.com/rajevv/protomaml/model"
	"github.com/rajevv/protomaml/training"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "protomaml",
	Short: "Episodic meta-learning for few-shot text classification",
	Long: `protomaml trains a shared text encoder with prototype-initialized
classification heads: each episode deep-copies the shared model, initializes
its head from class prototypes, fast-adapts on a support set, and folds the
query-set gradients back into the shared encoder.`,
	Version: version,
}

var trainCfg = training.DefaultTrainerConfig()

var (
	trainData  []string
	valData    []string
	supportK   int
	queryK     int
	splitRatio float64
	vocabSize  int
	maxSeqLen  int
	hiddenDim  int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run meta-training over the given task datasets",
	Long: `Train over one or more task datasets. Each --data file is one task's
TSV (label, text, optional second text); its rows are split into support and
query halves per class. Validation draws from --val-data when given,
otherwise from a fresh split of the training files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(trainData) == 0 {
			return fmt.Errorf("at least one --data file is required")
		}
		if len(valData) == 0 {
			valData = trainData
		}
		if len(valData) != len(trainData) {
			return fmt.Errorf("got %d --val-data files for %d --data files", len(valData), len(trainData))
		}

		rng := rand.New(rand.NewSource(trainCfg.Seed))
		tok := data.NewHashingTokenizer(vocabSize, maxSeqLen)

		var trainSupport, trainQuery, valSupport, valQuery []*data.MetaDataset
		var tasks []training.Task
		for i, path := range trainData {
			sup, qry, err := loadTask(path, tok, rng)
			if err != nil {
				return err
			}
			vSup, vQry, err := loadTask(valData[i], tok, rng)
			if err != nil {
				return err
			}
			trainSupport = append(trainSupport, sup)
			trainQuery = append(trainQuery, qry)
			valSupport = append(valSupport, vSup)
			valQuery = append(valQuery, vQry)
			tasks = append(tasks, training.Task{ID: i, NumClasses: sup.NumClasses()})
		}

		trainSampler, err := training.NewEpisodicSampler(trainSupport, trainQuery)
		if err != nil {
			return err
		}
		validSampler, err := training.NewEpisodicSampler(valSupport, valQuery)
		if err != nil {
			return err
		}

		enc, err := model.NewEmbedEncoder(model.EmbedEncoderConfig{
			VocabSize: vocabSize,
			NumTypes:  2,
			HiddenDim: hiddenDim,
		}, rng)
		if err != nil {
			return err
		}
		shared := model.NewClassifier(enc)

		if trainCfg.NumEpisodes > len(tasks) {
			trainCfg.NumEpisodes = len(tasks)
		}
		trainer, err := training.NewMetaTrainer(shared, trainSampler, validSampler, tasks, trainCfg)
		if err != nil {
			return err
		}
		if err := trainer.Train(); err != nil {
			return err
		}
		fmt.Printf("best validation accuracy: %.4f\n", trainer.BestValidationAccuracy())
		return nil
	},
}

// loadTask reads one task TSV and splits it per class into support and query
// datasets.
func loadTask(path string, tok *data.HashingTokenizer, rng *rand.Rand) (support, query *data.MetaDataset, err error) {
	examples, err := data.ReadTSV(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	supEx, qryEx, err := data.SplitRatio(examples, splitRatio)
	if err != nil {
		return nil, nil, fmt.Errorf("split %s: %w", path, err)
	}
	support, err = data.Initialize(supEx, supportK, tok, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("support split of %s: %w", path, err)
	}
	query, err = data.Initialize(qryEx, queryK, tok, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("query split of %s: %w", path, err)
	}
	return support, query, nil
}

func init() {
	flags := trainCmd.Flags()
	flags.IntVar(&trainCfg.Epochs, "epochs", trainCfg.Epochs, "Number of outer-loop epochs")
	flags.Float64Var(&trainCfg.OuterLR, "outer-lr", trainCfg.OuterLR, "Shared-model learning rate")
	flags.Float64Var(&trainCfg.InnerLR, "inner-lr", trainCfg.InnerLR, "Inner-loop learning rate")
	flags.IntVar(&trainCfg.InnerSteps, "n-inner-steps", trainCfg.InnerSteps, "Gradient steps per inner adaptation")
	flags.IntVar(&trainCfg.NumEpisodes, "n-episodes", trainCfg.NumEpisodes, "Episodes per epoch (capped at the task count)")
	flags.Float64Var(&trainCfg.ClipNorm, "clip-value", trainCfg.ClipNorm, "Inner-loop gradient clip norm")
	flags.IntVar(&trainCfg.TestEvery, "test-every", trainCfg.TestEvery, "Validation cadence in epochs (0 disables)")
	flags.IntVar(&trainCfg.ValTrials, "val-trials", trainCfg.ValTrials, "Adaptation restarts per validation")
	flags.IntVar(&trainCfg.ValidationTask, "val-task", trainCfg.ValidationTask, "Task index to validate (-1 selects the last episode's task)")
	flags.Int64Var(&trainCfg.Seed, "seed", trainCfg.Seed, "Random seed")
	flags.StringVar(&trainCfg.Device, "device", trainCfg.Device, "Compute device (cpu)")
	flags.StringVar(&trainCfg.ExpName, "exp-name", trainCfg.ExpName, "Experiment name used for output files")
	flags.StringVar(&trainCfg.ModelSavePath, "model-save-path", trainCfg.ModelSavePath, "Directory for model checkpoints")
	flags.StringVar(&trainCfg.ResultsSavePath, "results-save-path", trainCfg.ResultsSavePath, "Directory for the metrics file")
	flags.StringVar(&trainCfg.FigsSavePath, "figs-path", trainCfg.FigsSavePath, "Directory for metric plots")

	flags.StringSliceVar(&trainData, "data", nil, "Task TSV file (repeatable, one per task)")
	flags.StringSliceVar(&valData, "val-data", nil, "Validation TSV file (repeatable, pairs with --data)")
	flags.IntVar(&supportK, "support-k", 4, "Per-class support batch size")
	flags.IntVar(&queryK, "query-k", 4, "Per-class query batch size")
	flags.Float64Var(&splitRatio, "split-ratio", 0.5, "Fraction of each class kept for the support split")
	flags.IntVar(&vocabSize, "vocab-size", 2048, "Hashing tokenizer vocabulary size")
	flags.IntVar(&maxSeqLen, "max-seq-len", 64, "Maximum token sequence length")
	flags.IntVar(&hiddenDim, "hidden-dim", 64, "Encoder hidden dimension")
	trainCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(trainCmd)
}
