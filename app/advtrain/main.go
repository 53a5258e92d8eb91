// Command advtrain trains VOC segmentation and classification models and
// evaluates them against FGSM adversarial inputs.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pascalrobust/advtrain/config"
	"github.com/pascalrobust/advtrain/experiment"
	"github.com/pascalrobust/advtrain/results"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag values live in the returned
// command; nothing is kept in package state.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configPath string
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "advtrain",
		Short: "Train VOC models and validate them on clean or FGSM inputs",
		Long: `advtrain trains a segmentation or multi-label classification model on
VOC-style data. Each epoch trains on 70% of the samples and validates on the
remaining 30%, either on clean inputs or, with --method adv, on inputs
perturbed by one FGSM step (epsilon 0.25, infinity norm).

Checkpoints are written at epochs 24, 49, 74, ..., 199 as
model_{epoch}_{exp}.pth. Loss and accuracy curves are written as
{mode}{method}{epochs}Trainloss.pkl, Trainacc.pkl, Validation.pkl and
Validation_acc.pkl.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			effective, err := resolveConfig(cmd.Flags(), configPath, cfg)
			if err != nil {
				fmt.Fprintln(stderr, "advtrain:", err)
				return err
			}
			logger, err := newLogger(effective.Logging)
			if err != nil {
				fmt.Fprintln(stderr, "advtrain:", err)
				return err
			}
			defer func() { _ = logger.Sync() }()

			if _, err := experiment.Run(effective, logger, experiment.Options{Progress: stderr}); err != nil {
				var we *results.WriteError
				if errors.As(err, &we) {
					logger.Error("could not save results", zap.String("path", we.Path), zap.Error(we.Err))
				} else {
					logger.Error("training failed", zap.Error(err))
				}
				return err
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file; flags set on the command line override it")
	bindFlags(root.PersistentFlags(), cfg)

	root.AddCommand(newInspectCmd(stdout))
	root.AddCommand(newEvaluateCmd(stdout, &configPath, cfg))
	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			effective, err := resolveConfig(cmd.Flags(), configPath, cfg)
			if err != nil {
				return err
			}
			out, err := effective.YAML()
			if err != nil {
				return err
			}
			_, err = stdout.Write(out)
			return err
		},
	})
	return root
}

// bindFlags registers every command line setting onto cfg.
func bindFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "task: segmentation or classification")
	fs.StringVar(&cfg.Optim, "optim", cfg.Optim, "optimizer: sgd, adam or radam")
	fs.StringVar(&cfg.LossFunction, "loss-function", cfg.LossFunction, "loss: bce, dice, cross_entropy or smoothing")
	fs.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "number of epochs")
	fs.StringVar(&cfg.Method, "method", cfg.Method, `validation method: "adv" for FGSM inputs, anything else for clean inputs`)
	fs.StringVar(&cfg.Exp, "exp", cfg.Exp, "experiment tag used in checkpoint names")
	fs.StringVar(&cfg.Tricks, "tricks", cfg.Tricks, "augmentation: None, cut-off, cut-out, smoothing or all")
	fs.IntVar(&cfg.BatchTrain, "batch-train", cfg.BatchTrain, "training batch size")
	fs.IntVar(&cfg.BatchVal, "batch-val", cfg.BatchVal, "validation batch size")

	fs.StringVar(&cfg.Data.Source, "dataset", cfg.Data.Source, "data source: voc or synthetic")
	fs.StringVar(&cfg.Data.Root, "data-root", cfg.Data.Root, "VOC root holding SegmentationClass and JPEGImages")
	fs.IntVar(&cfg.Data.ImageSize, "image-size", cfg.Data.ImageSize, "side length samples are resized to")
	fs.IntVar(&cfg.Data.SyntheticSize, "synthetic-size", cfg.Data.SyntheticSize, "number of synthetic samples")
	fs.IntVar(&cfg.Data.SampleLimit, "sample-limit", cfg.Data.SampleLimit, "use only the first N samples (0 = all)")
	fs.IntVar(&cfg.Data.CacheSize, "cache-size", cfg.Data.CacheSize, "decoded samples kept in memory (0 = no cache)")

	fs.StringVar(&cfg.Checkpoint.Dir, "checkpoint-dir", cfg.Checkpoint.Dir, "checkpoint directory")
	fs.StringVar(&cfg.Checkpoint.Format, "checkpoint-format", cfg.Checkpoint.Format, "checkpoint encoding: proto or json")
	fs.StringVar(&cfg.Output.Dir, "output-dir", cfg.Output.Dir, "directory for result curves")
	fs.StringVar(&cfg.Output.HistoryDB, "history-db", cfg.Output.HistoryDB, "sqlite file recording runs and epochs (empty = off)")
	fs.BoolVar(&cfg.Output.Progress, "progress", cfg.Output.Progress, "draw progress bars on stderr")

	fs.StringVar(&cfg.LRSchedule, "lr-schedule", cfg.LRSchedule, "learning rate schedule: none, step, exponential or cosine")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "seed for sampling, initialization and augmentation")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "goroutines loading the samples of a batch")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "log encoding: console or json")
}

// resolveConfig returns flagCfg, or the file at path with every flag that
// was set explicitly applied on top.
func resolveConfig(flags *pflag.FlagSet, path string, flagCfg *config.Config) (*config.Config, error) {
	if path == "" {
		return flagCfg, nil
	}
	loaded, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	bindFlags(overrides, loaded)
	var setErr error
	flags.Visit(func(f *pflag.Flag) {
		if overrides.Lookup(f.Name) == nil || setErr != nil {
			return
		}
		if err := overrides.Set(f.Name, f.Value.String()); err != nil {
			setErr = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	if setErr != nil {
		return nil, setErr
	}
	return loaded, nil
}

// newLogger builds a development console logger or a production JSON
// logger at the configured level.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
