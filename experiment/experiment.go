// Package experiment runs a complete training job from a config.Config.
package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/config"
	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/optimizer"
	"github.com/pascalrobust/advtrain/results"
	"github.com/pascalrobust/advtrain/runlog"
	"github.com/pascalrobust/advtrain/training"
	"github.com/pascalrobust/advtrain/vision/dataset"
	"github.com/pascalrobust/advtrain/vision/preprocessing"
)

// Result summarizes a finished run.
type Result struct {
	RunID       string // empty without a run log
	History     *results.History
	Artifacts   []string
	Checkpoints []string
}

// Options holds collaborators that are not part of the run's configuration.
type Options struct {
	Progress io.Writer // receives progress bars when cfg.Output.Progress is set
}

// Run trains and validates for cfg.Epochs epochs, then writes the four
// result artifacts. Errors from any stage abort the run.
func Run(cfg *config.Config, logger *zap.Logger, opts Options) (res *Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("exp", cfg.Exp), zap.String("mode", cfg.Mode), zap.String("method", cfg.Method))

	data, err := newData(cfg, logger)
	if err != nil {
		return nil, err
	}
	classes := dataset.SegmentationClasses
	if cfg.Mode == training.ModeClassification {
		classes = dataset.ClassificationClasses
	}

	model, err := newModel(cfg, classes)
	if err != nil {
		return nil, err
	}
	var arch strings.Builder
	training.NewModelArchitecturePrinter(cfg.Mode).PrintArchitecture(&arch, model.Spec())
	logger.Debug("model", zap.String("architecture", arch.String()))

	opt, err := optimizer.New(cfg.Optim, model.Parameters())
	if err != nil {
		return nil, err
	}
	criterion, err := training.NewLoss(cfg.LossFunction)
	if err != nil {
		return nil, err
	}
	task, err := training.NewTask(cfg.Mode, criterion, classes)
	if err != nil {
		return nil, err
	}
	schedule, err := training.NewScheduler(cfg.LRSchedule, cfg.Epochs)
	if err != nil {
		return nil, err
	}

	manager, err := newCheckpointManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	trainerConfig := training.TrainerConfig{
		Checkpoints: manager,
		Validation:  training.NewValidationPolicy(cfg.Method),
	}
	if cfg.Output.Progress {
		trainerConfig.Progress = opts.Progress
		if trainerConfig.Progress == nil {
			trainerConfig.Progress = os.Stderr
		}
	}
	trainer, err := training.NewTrainer(model, task, opt, trainerConfig, logger)
	if err != nil {
		return nil, err
	}

	res = &Result{History: &results.History{}}
	var store *runlog.Store
	if cfg.Output.HistoryDB != "" {
		store, res.RunID, err = startRunLog(cfg)
		if err != nil {
			return nil, err
		}
		runID := res.RunID
		defer func() {
			if ferr := store.FinishRun(runID, err); ferr != nil {
				logger.Warn("failed to close run record", zap.Error(ferr))
			}
			if cerr := store.Close(); cerr != nil {
				logger.Warn("failed to close run log", zap.Error(cerr))
			}
		}()
		logger = logger.With(zap.String("run_id", runID))
	}
	if err := runEpochs(cfg, trainer, opt, schedule, data, res.History, logger, store, res.RunID); err != nil {
		return nil, err
	}

	if data.cache != nil {
		logger.Info("sample cache", zap.Stringer("stats", data.cache.Stats()))
	}
	res.Checkpoints = manager.SavedFiles()

	writer, err := results.NewWriter(cfg.Output.Dir, "")
	if err != nil {
		return nil, err
	}
	res.Artifacts, err = writer.Write(results.RunInfo{
		Mode:   cfg.Mode,
		Method: cfg.Method,
		Epochs: cfg.Epochs,
		Exp:    cfg.Exp,
	}, res.History)
	if err != nil {
		var we *results.WriteError
		if errors.As(err, &we) {
			logger.Error("failed to write results", zap.String("path", we.Path), zap.Error(we.Err))
		}
		return nil, err
	}
	logger.Info("results written", zap.Strings("files", res.Artifacts))
	return res, nil
}

func runEpochs(cfg *config.Config, trainer *training.Trainer, opt optimizer.Optimizer, schedule training.LRScheduler,
	data *splitData, history *results.History, logger *zap.Logger, store *runlog.Store, runID string) error {
	baseLR := float64(opt.GetLearningRate())
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		opt.UpdateLearningRate(float32(schedule.GetLR(epoch, baseLR)))

		train, err := trainer.TrainEpoch(data.train, epoch)
		if err != nil {
			return err
		}
		val, err := trainer.Validate(data.val, epoch)
		if err != nil {
			return err
		}
		history.Append(train, val)

		logger.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Float64("train_loss", train.Loss),
			zap.Float64("train_acc", train.Metric),
			zap.Float64("val_loss", val.Loss),
			zap.Float64("val_acc", val.Metric),
			zap.Float32("lr", opt.GetLearningRate()))

		if store != nil {
			if err := store.RecordEpoch(runID, runlog.Epoch{
				Epoch:     epoch,
				TrainLoss: train.Loss,
				TrainAcc:  train.Metric,
				ValLoss:   val.Loss,
				ValAcc:    val.Metric,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitData holds the loaders over the 70/30 prefix split.
type splitData struct {
	train *training.DataLoader
	val   *training.DataLoader
	cache *preprocessing.Cache
}

// newData builds the augmented training set and the plain validation set
// over the same samples, splits their indices and wraps both in loaders.
func newData(cfg *config.Config, logger *zap.Logger) (*splitData, error) {
	var cache *preprocessing.Cache
	if cfg.Data.CacheSize > 0 {
		cache = preprocessing.NewCache(cfg.Data.CacheSize)
	}
	trainOpts := dataset.Options{
		ImageSize: cfg.Data.ImageSize,
		CutOut:    cfg.CutOut(),
		Smoothing: cfg.Smoothing(),
		Seed:      cfg.Seed,
		Cache:     cache,
	}
	valOpts := dataset.Options{ImageSize: cfg.Data.ImageSize, Seed: cfg.Seed, Cache: cache}

	trainSet, err := newDataset(cfg, trainOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create training set: %w", err)
	}
	valSet, err := newDataset(cfg, valOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation set: %w", err)
	}
	if cfg.Data.SampleLimit > 0 {
		if trainSet, err = training.NewSubsetDataset(trainSet, cfg.Data.SampleLimit); err != nil {
			return nil, err
		}
		if valSet, err = training.NewSubsetDataset(valSet, cfg.Data.SampleLimit); err != nil {
			return nil, err
		}
	}

	trainIdx, valIdx, err := training.SplitIndices(trainSet.Len(), config.TrainSplit)
	if err != nil {
		return nil, err
	}
	if len(trainIdx) == 0 || len(valIdx) == 0 {
		return nil, fmt.Errorf("dataset of %d samples is too small for a %.0f/%.0f split",
			trainSet.Len(), config.TrainSplit*100, (1-config.TrainSplit)*100)
	}
	logger.Info("dataset ready",
		zap.String("source", cfg.Data.Source),
		zap.Int("samples", trainSet.Len()),
		zap.Int("train", len(trainIdx)),
		zap.Int("val", len(valIdx)),
		zap.Bool("cut_out", trainOpts.CutOut),
		zap.Bool("smoothing", trainOpts.Smoothing))

	train, err := training.NewDataLoader(trainSet, cfg.BatchTrain,
		training.NewSubsetRandomSampler(trainIdx, cfg.Seed), cfg.Workers)
	if err != nil {
		return nil, err
	}
	val, err := training.NewDataLoader(valSet, cfg.BatchVal,
		training.NewSubsetRandomSampler(valIdx, cfg.Seed+1), cfg.Workers)
	if err != nil {
		return nil, err
	}
	return &splitData{train: train, val: val, cache: cache}, nil
}

func newDataset(cfg *config.Config, opts dataset.Options) (training.Dataset, error) {
	if cfg.Data.Source == config.DatasetSynthetic {
		return dataset.NewSynthetic(cfg.Data.SyntheticSize, cfg.Mode, opts)
	}
	labelDir := filepath.Join(cfg.Data.Root, "SegmentationClass")
	imageDir := filepath.Join(cfg.Data.Root, "JPEGImages")
	if cfg.Mode == training.ModeClassification {
		return dataset.NewVOCClassification(labelDir, imageDir, opts)
	}
	return dataset.NewVOCSegmentation(labelDir, imageDir, opts)
}

func newModel(cfg *config.Config, classes int) (*layers.Sequential, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Mode == training.ModeClassification {
		return layers.NewClassificationNet(classes, cfg.Data.ImageSize, rng)
	}
	return layers.NewSegmentationNet(classes, cfg.Data.ImageSize, rng)
}

func newCheckpointManager(cfg *config.Config, logger *zap.Logger) (*training.CheckpointManager, error) {
	format, err := checkpoints.ParseFormat(cfg.Checkpoint.Format)
	if err != nil {
		return nil, err
	}
	ckpt := training.DefaultCheckpointConfig()
	ckpt.SaveDirectory = cfg.Checkpoint.Dir
	ckpt.Experiment = cfg.Exp
	ckpt.Format = format
	ckpt.FilenamePattern = cfg.Checkpoint.Pattern
	ckpt.Policy = checkpoints.Epochs(cfg.Checkpoint.Epochs...)
	return training.NewCheckpointManager(ckpt, logger)
}

func startRunLog(cfg *config.Config) (*runlog.Store, string, error) {
	store, err := runlog.Open(cfg.Output.HistoryDB)
	if err != nil {
		return nil, "", err
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		store.Close()
		return nil, "", fmt.Errorf("failed to encode config: %w", err)
	}
	run := &runlog.Run{
		Exp:        cfg.Exp,
		Mode:       cfg.Mode,
		Method:     cfg.Method,
		ConfigJSON: string(encoded),
	}
	if err := store.StartRun(run); err != nil {
		store.Close()
		return nil, "", err
	}
	return store, run.ID, nil
}
