package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime/pprof"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"emotiond/internal/checkpoint"
	"emotiond/internal/common/fsutil"
	"emotiond/internal/config"
	"emotiond/internal/control"
	"emotiond/internal/dataset"
	"emotiond/internal/nn"
	"emotiond/internal/tracking"
	"emotiond/internal/trainer"
)

type trainFlags struct {
	epochs     int
	lr         float64
	batchSize  int
	trainDir   string
	testDir    string
	checkpoint string
	format     string
	seed       uint64
	historyCSV string
	cpuProfile string
}

func newTrainCmd(a *app) *cobra.Command {
	var f trainFlags
	cmd := &cobra.Command{
		Use:     "train",
		Short:   "Train the classifier on an image folder and write a checkpoint",
		Example: "  emotiond train --train-dir data/raw/train --test-dir data/raw/test --epochs 50",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyTrainFlags(cmd, &a.cfg, f)
			if f.cpuProfile != "" {
				pf, err := os.Create(f.cpuProfile)
				if err != nil {
					return fmt.Errorf("cpuprofile: %w", err)
				}
				defer pf.Close()
				if err := pprof.StartCPUProfile(pf); err != nil {
					return fmt.Errorf("cpuprofile: %w", err)
				}
				defer pprof.StopCPUProfile()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.train(ctx, cmd)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.epochs, "epochs", 0, "Maximum number of epochs")
	fl.Float64Var(&f.lr, "lr", 0, "Initial learning rate")
	fl.IntVar(&f.batchSize, "batch-size", 0, "Mini-batch size")
	fl.StringVar(&f.trainDir, "train-dir", "", "Training image folder (one subdirectory per class)")
	fl.StringVar(&f.testDir, "test-dir", "", "Held-out test image folder; evaluated after training when present")
	fl.StringVar(&f.checkpoint, "checkpoint", "", "Checkpoint output path")
	fl.StringVar(&f.format, "format", "", "Checkpoint format: json|pb (default from extension)")
	fl.Uint64Var(&f.seed, "seed", 0, "Random seed for init, split, sampling and augmentation")
	fl.StringVar(&f.historyCSV, "history-csv", "", "Write per-epoch metrics as CSV to this file")
	fl.StringVar(&f.cpuProfile, "cpuprofile", "", "Write a CPU profile of the run to this file")
	return cmd
}

// applyTrainFlags overlays flags the user set explicitly.
func applyTrainFlags(cmd *cobra.Command, cfg *config.Config, f trainFlags) {
	fl := cmd.Flags()
	if fl.Changed("epochs") {
		cfg.Hyperparameters.NumEpochs = f.epochs
	}
	if fl.Changed("lr") {
		cfg.Hyperparameters.LR = f.lr
	}
	if fl.Changed("batch-size") {
		cfg.Hyperparameters.BatchSize = f.batchSize
	}
	if fl.Changed("train-dir") {
		cfg.Dataset.TrainDir = f.trainDir
	}
	if fl.Changed("test-dir") {
		cfg.Dataset.TestDir = f.testDir
	}
	if fl.Changed("checkpoint") {
		cfg.Checkpoint.Path = f.checkpoint
	}
	if fl.Changed("format") {
		cfg.Checkpoint.Format = f.format
	}
	if fl.Changed("seed") {
		cfg.Hyperparameters.Seed = f.seed
	}
	if fl.Changed("history-csv") {
		cfg.Tracking.HistoryCSV = f.historyCSV
	}
}

func (a *app) train(ctx context.Context, cmd *cobra.Command) error {
	cfg := a.cfg
	if err := cfg.ValidateTrain(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	h, d := cfg.Hyperparameters, cfg.Dataset
	rng := rand.New(rand.NewPCG(h.Seed, h.Seed^0x9e3779b97f4a7c15))

	folder, err := dataset.ScanDir(d.TrainDir)
	if err != nil {
		return err
	}
	trainSamples, valSamples, err := dataset.Split(folder.Samples, d.TrainSplit, d.ValSplit, rng)
	if err != nil {
		return err
	}
	a.log.Info().
		Int("train", len(trainSamples)).
		Int("val", len(valSamples)).
		Strs("classes", folder.Classes).
		Interface("distribution", folder.Distribution(trainSamples)).
		Msg("dataset loaded")

	trainLoader, err := dataset.NewLoader(trainSamples, dataset.TrainTransform(d.ImageSize, d.CropPad), h.BatchSize, rng)
	if err != nil {
		return err
	}
	valLoader, err := dataset.NewLoader(valSamples, dataset.EvalTransform(d.ImageSize), h.BatchSize, nil)
	if err != nil {
		return err
	}
	testSrc, err := a.testSource(d, folder.Classes, h.BatchSize)
	if err != nil {
		return err
	}

	spec := nn.Spec{Input: d.ImageSize * d.ImageSize, Hidden: cfg.Model.Hidden, Classes: folder.NumClasses()}
	net, err := nn.NewEmotionNet(spec, rng)
	if err != nil {
		return err
	}
	opt, err := nn.NewSGD(h.LR, h.Momentum, h.WeightDecay)
	if err != nil {
		return err
	}

	runID := tracking.NewRunID()
	sink, err := openSinks(ctx, cfg.Tracking, runID)
	if err != nil {
		return err
	}
	format, err := checkpoint.ParseFormat(cfg.Checkpoint.Format)
	if err != nil {
		return err
	}
	var uploader checkpoint.Uploader
	if up := cfg.Checkpoint.Upload; up.Bucket != "" {
		s3u, err := checkpoint.NewS3Uploader(ctx, up.Bucket, up.Key, up.Region)
		if err != nil {
			sink.Close()
			return err
		}
		s3u.SetLogger(a.log)
		uploader = s3u
	}

	log := a.log
	tr, err := trainer.New(trainer.Config{
		Model:     net,
		Optimizer: opt,
		Train:     trainLoader,
		Val:       valLoader,
		Test:      testSrc,
		Epochs:    h.NumEpochs,
		Classes:   folder.Classes,
		ImageSize: d.ImageSize,
		Scheduler: control.SchedulerConfig{
			Patience: cfg.Scheduler.Patience,
			Factor:   cfg.Scheduler.Factor,
			MinDelta: cfg.Scheduler.MinDelta,
			MinLR:    cfg.Scheduler.MinLR,
		},
		EarlyStopping: control.StopConfig{
			Patience: cfg.EarlyStopping.Patience,
			MinDelta: cfg.EarlyStopping.MinDelta,
		},
		CheckpointPath: cfg.Checkpoint.Path,
		Store:          checkpoint.NewStore(format),
		Uploader:       uploader,
		RunID:          runID,
		Sink:           sink,
		Logger:         &log,
		Rand:           rng,
	})
	if err != nil {
		sink.Close()
		return err
	}

	res, runErr := tr.Run(ctx)
	if res != nil {
		out := cmd.OutOrStdout()
		if res.Report != nil {
			fmt.Fprintln(out, "test set report:")
			if err := res.Report.WriteText(out); err != nil {
				return err
			}
		}
		if cfg.Tracking.HistoryCSV != "" {
			if err := writeHistory(cfg.Tracking.HistoryCSV, res.History); err != nil {
				a.log.Warn().Err(err).Str("path", cfg.Tracking.HistoryCSV).Msg("history export failed")
			}
		}
	}
	return runErr
}

// testSource scans the test folder when it exists. Its classes must match
// the training classes so label indices line up.
func (a *app) testSource(d config.Dataset, classes []string, batchSize int) (trainer.Source, error) {
	if d.TestDir == "" {
		return nil, nil
	}
	if !fsutil.PathExists(d.TestDir) {
		a.log.Warn().Str("dir", d.TestDir).Msg("test folder missing; skipping test report")
		return nil, nil
	}
	folder, err := dataset.ScanDir(d.TestDir)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(folder.Classes, classes) {
		return nil, fmt.Errorf("test classes %v do not match train classes %v", folder.Classes, classes)
	}
	l, err := dataset.NewLoader(folder.Samples, dataset.EvalTransform(d.ImageSize), batchSize, nil)
	if err != nil {
		return nil, err
	}
	a.log.Info().Int("test", l.Len()).Msg("test set loaded")
	return l, nil
}

// openSinks builds every configured tracking sink behind one Multi.
func openSinks(ctx context.Context, t config.Tracking, runID string) (tracking.Sink, error) {
	var sinks tracking.Multi
	closeAll := func() { _ = sinks.Close() }
	if t.JSONLPath != "" {
		s, err := tracking.OpenJSONL(t.JSONLPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if t.SQLDSN != "" {
		driver := t.SQLDriver
		if driver == "" {
			driver = "sqlite"
		}
		s, err := tracking.OpenSQL(ctx, driver, t.SQLDSN)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if t.PushgatewayURL != "" {
		job := t.Project
		if job == "" {
			job = "emotiond_train"
		}
		sinks = append(sinks, tracking.NewPrometheusSink(t.PushgatewayURL, job, runID))
	}
	return sinks, nil
}

func writeHistory(path string, h *trainer.History) error {
	var buf bytes.Buffer
	if err := h.WriteCSV(&buf); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
