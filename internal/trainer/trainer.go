// Package trainer runs the supervised training loop: weighted sampling of
// the train partition, one SGD step per batch, a validation pass per epoch,
// learning rate scheduling and early stopping on the validation loss, and a
// single checkpoint written when the loop exits.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"emotiond/internal/checkpoint"
	"emotiond/internal/control"
	"emotiond/internal/dataset"
	"emotiond/internal/nn"
	"emotiond/internal/tracking"
)

// Source yields labelled batches in a caller-chosen order.
// *dataset.Loader implements it.
type Source interface {
	Len() int
	Labels() []int
	Each(ctx context.Context, order []int, fn func(dataset.Batch) error) error
}

// Sampler draws one epoch's worth of train indices.
type Sampler interface {
	Indices() []int
}

// TrainingState is the loop's progress, updated once per epoch boundary.
type TrainingState struct {
	Epoch              int     `json:"epoch"`
	BestValidationLoss float64 `json:"best_validation_loss"`
	PatienceCounter    int     `json:"patience_counter"`
	Stopped            bool    `json:"stopped"`
}

// Result is what Run returns.
type Result struct {
	RunID          string
	History        *History
	State          TrainingState
	Scheduler      control.SchedulerState
	CheckpointPath string
	UploadURI      string
	Report         *Report
}

// Config holds the collaborators and settings of a run. Model, Optimizer,
// Train, Val and CheckpointPath are required.
type Config struct {
	Model     nn.Model
	Optimizer nn.Optimizer
	Network   nn.Spec

	Train Source
	Val   Source
	// Test, when set, is evaluated after training into Result.Report.
	Test Source
	// Sampler overrides the default inverse class frequency sampler.
	Sampler Sampler

	Epochs        int
	Classes       []string
	ImageSize     int
	Scheduler     control.SchedulerConfig
	EarlyStopping control.StopConfig

	CheckpointPath string
	Store          *checkpoint.Store
	Uploader       checkpoint.Uploader

	RunID  string
	Sink   tracking.Sink
	Events EventPublisher
	Logger *zerolog.Logger
	Rand   *rand.Rand
}

// Trainer owns the controllers and state of one run.
type Trainer struct {
	cfg       Config
	sampler   Sampler
	scheduler *control.LRScheduler
	stopper   *control.EarlyStopping
	store     *checkpoint.Store
	sink      tracking.Sink
	events    EventPublisher
	log       zerolog.Logger
	epoch     int
}

// New validates cfg, applies defaults and builds the controllers.
func New(cfg Config) (*Trainer, error) {
	switch {
	case cfg.Model == nil:
		return nil, errors.New("trainer: model is required")
	case cfg.Optimizer == nil:
		return nil, errors.New("trainer: optimizer is required")
	case cfg.Train == nil || cfg.Train.Len() == 0:
		return nil, errors.New("trainer: train partition is empty")
	case cfg.Val == nil || cfg.Val.Len() == 0:
		return nil, errors.New("trainer: validation partition is empty")
	case cfg.Epochs < 1:
		return nil, fmt.Errorf("trainer: epochs must be >= 1 (got %d)", cfg.Epochs)
	case cfg.CheckpointPath == "":
		return nil, errors.New("trainer: checkpoint path is required")
	}
	t := &Trainer{cfg: cfg, log: zerolog.Nop()}
	if s, ok := cfg.Model.(interface{ Spec() nn.Spec }); ok && cfg.Network == (nn.Spec{}) {
		t.cfg.Network = s.Spec()
	}
	if cfg.Logger != nil {
		t.log = *cfg.Logger
	}
	if t.cfg.RunID == "" {
		t.cfg.RunID = tracking.NewRunID()
	}
	t.log = t.log.With().Str("run_id", t.cfg.RunID).Logger()
	if t.cfg.Rand == nil {
		t.cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	if err := t.resetControllers(); err != nil {
		return nil, err
	}

	t.sampler = cfg.Sampler
	if t.sampler == nil {
		labels := cfg.Train.Labels()
		weights := dataset.SampleWeights(labels, cfg.Model.NumClasses())
		ws, err := dataset.NewWeightedSampler(weights, len(labels), t.cfg.Rand)
		if err != nil {
			return nil, fmt.Errorf("trainer: sampler: %w", err)
		}
		t.sampler = ws
	}

	t.store = cfg.Store
	if t.store == nil {
		t.store = checkpoint.NewStore("")
		t.store.SetLogger(t.log)
	}
	t.sink = tracking.Safe(cfg.Sink, t.log)
	t.events = cfg.Events
	if t.events == nil {
		t.events = noopPublisher{}
	}
	return t, nil
}

// resetControllers builds a fresh LR scheduler and early stopper. Controller
// state lives for one run, so Run calls it before the first epoch.
func (t *Trainer) resetControllers() error {
	sched, err := control.NewLRScheduler(t.cfg.Optimizer, t.cfg.Scheduler)
	if err != nil {
		return err
	}
	sched.SetLogger(t.log)
	sched.OnReduce(func(oldLR, newLR float64) {
		t.events.Publish(Event{Name: EventLRReduced, Epoch: t.epoch, Fields: map[string]any{"old_lr": oldLR, "new_lr": newLR}})
	})
	stopper, err := control.NewEarlyStopping(t.cfg.EarlyStopping)
	if err != nil {
		return err
	}
	stopper.SetLogger(t.log)
	t.scheduler, t.stopper = sched, stopper
	return nil
}

// RunID identifies the run in logs, sinks and the checkpoint metadata.
func (t *Trainer) RunID() string { return t.cfg.RunID }

// Run trains until the epoch budget is spent, early stopping triggers or
// ctx is cancelled, then writes the checkpoint exactly once and uploads it
// when an uploader is configured. A loop error or cancellation still writes
// the checkpoint; the returned error joins every failure. Each call starts
// with fresh controller state; the optimizer keeps its learning rate and the
// sink is closed on return.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if err := t.resetControllers(); err != nil {
		return nil, err
	}
	state := TrainingState{BestValidationLoss: math.Inf(1)}
	hist := &History{}
	res := &Result{RunID: t.cfg.RunID, History: hist}

	t.log.Info().
		Int("train", t.cfg.Train.Len()).
		Int("val", t.cfg.Val.Len()).
		Int("epochs", t.cfg.Epochs).
		Float64("lr", t.cfg.Optimizer.LearningRate()).
		Msg("training start")
	t.events.Publish(Event{Name: EventTrainStart, Fields: map[string]any{"epochs": t.cfg.Epochs}})

	var loopErr error
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		t.epoch = epoch
		start := time.Now()
		lr := t.cfg.Optimizer.LearningRate()

		trainLoss, trainAcc, err := t.trainEpoch(ctx)
		if err != nil {
			loopErr = fmt.Errorf("epoch %d: train: %w", epoch, err)
			break
		}
		valLoss, valAcc, err := t.validate(ctx)
		if err != nil {
			loopErr = fmt.Errorf("epoch %d: validate: %w", epoch, err)
			break
		}

		t.scheduler.Observe(valLoss)
		stop := t.stopper.Observe(valLoss)

		state.Epoch = epoch
		if valLoss < state.BestValidationLoss {
			state.BestValidationLoss = valLoss
		}
		state.PatienceCounter = t.stopper.State().Wait
		state.Stopped = stop

		m := EpochMetrics{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			ValLoss:       valLoss,
			ValAccuracy:   valAcc,
			LearningRate:  lr,
			Duration:      time.Since(start),
		}
		hist.Append(m)
		t.report(ctx, m)
		t.events.Publish(Event{Name: EventEpochEnd, Epoch: epoch, Fields: map[string]any{"val_loss": valLoss}})

		if stop {
			t.log.Info().Int("epoch", epoch).Float64("best_val_loss", state.BestValidationLoss).Msg("early stopping")
			t.events.Publish(Event{Name: EventEarlyStop, Epoch: epoch})
			break
		}
	}
	res.State = state
	res.Scheduler = t.scheduler.State()

	errs := []error{loopErr}
	path, err := t.saveCheckpoint(state)
	if err != nil {
		errs = append(errs, err)
	} else {
		res.CheckpointPath = path
		if t.cfg.Uploader != nil {
			uri, err := t.cfg.Uploader.Upload(ctx, path)
			if err != nil {
				errs = append(errs, err)
			} else if uri != "" {
				res.UploadURI = uri
				t.events.Publish(Event{Name: EventCheckpointUploaded, Epoch: state.Epoch, Fields: map[string]any{"uri": uri}})
			}
		}
	}

	if t.cfg.Test != nil && t.cfg.Test.Len() > 0 && loopErr == nil {
		rep, err := Evaluate(ctx, t.cfg.Model, t.cfg.Test, t.cfg.Classes)
		if err != nil {
			errs = append(errs, fmt.Errorf("test evaluation: %w", err))
		} else {
			res.Report = rep
			t.log.Info().Float64("accuracy", rep.Accuracy).Int("support", rep.Total).Msg("test report")
		}
	}

	_ = t.sink.Close()
	t.events.Publish(Event{Name: EventTrainEnd, Epoch: state.Epoch, Fields: map[string]any{"stopped": state.Stopped}})
	t.log.Info().Int("epochs", state.Epoch).Bool("stopped", state.Stopped).Msg("training end")
	return res, errors.Join(errs...)
}

// trainEpoch draws len(train) indices from the sampler and makes one SGD
// step per batch. Loss and accuracy are per-sample means over the epoch.
func (t *Trainer) trainEpoch(ctx context.Context) (float64, float64, error) {
	var lossSum float64
	var correct, seen int
	params := t.cfg.Model.Parameters()
	err := t.cfg.Train.Each(ctx, t.sampler.Indices(), func(b dataset.Batch) error {
		loss, c, grads, err := t.cfg.Model.Backward(b.X, b.Y)
		if err != nil {
			return err
		}
		if err := t.cfg.Optimizer.Step(params, grads); err != nil {
			return err
		}
		lossSum += loss * float64(b.Len())
		correct += c
		seen += b.Len()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if seen == 0 {
		return 0, 0, errors.New("no training examples drawn")
	}
	return lossSum / float64(seen), float64(correct) / float64(seen), nil
}

// validate runs a no-gradient pass over the whole validation partition.
func (t *Trainer) validate(ctx context.Context) (float64, float64, error) {
	var lossSum float64
	var correct, seen int
	err := t.cfg.Val.Each(ctx, dataset.Sequential(t.cfg.Val.Len()), func(b dataset.Batch) error {
		p, err := t.cfg.Model.Forward(b.X)
		if err != nil {
			return err
		}
		loss, c, err := nn.CrossEntropy(p, b.Y)
		if err != nil {
			return err
		}
		lossSum += loss * float64(b.Len())
		correct += c
		seen += b.Len()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return lossSum / float64(seen), float64(correct) / float64(seen), nil
}

func (t *Trainer) report(ctx context.Context, m EpochMetrics) {
	t.log.Info().
		Int("epoch", m.Epoch).
		Float64("train_loss", m.TrainLoss).
		Float64("train_accuracy", m.TrainAccuracy).
		Float64("val_loss", m.ValLoss).
		Float64("val_accuracy", m.ValAccuracy).
		Float64("lr", m.LearningRate).
		Dur("dur", m.Duration).
		Msg("epoch")
	_ = t.sink.Log(ctx, tracking.Record{
		RunID: t.cfg.RunID,
		Epoch: m.Epoch,
		Metrics: map[string]float64{
			tracking.KeyTrainLoss:     m.TrainLoss,
			tracking.KeyTrainAccuracy: m.TrainAccuracy,
			tracking.KeyValLoss:       m.ValLoss,
			tracking.KeyValAccuracy:   m.ValAccuracy,
			tracking.KeyLearningRate:  m.LearningRate,
		},
		Time: time.Now().UTC(),
	})
}

func (t *Trainer) saveCheckpoint(state TrainingState) (string, error) {
	c := &checkpoint.Checkpoint{
		Epoch:        state.Epoch,
		Classes:      t.cfg.Classes,
		ImageSize:    t.cfg.ImageSize,
		Network:      t.cfg.Network,
		Tensors:      checkpoint.FromParameters(t.cfg.Model.Parameters()),
		LearningRate: t.cfg.Optimizer.LearningRate(),
		Metadata: map[string]string{
			"run_id":  t.cfg.RunID,
			"stopped": fmt.Sprint(state.Stopped),
		},
	}
	if !math.IsInf(state.BestValidationLoss, 0) {
		c.Metadata["best_val_loss"] = fmt.Sprint(state.BestValidationLoss)
	}
	if _, err := t.store.Save(t.cfg.CheckpointPath, c); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	t.events.Publish(Event{Name: EventCheckpointSaved, Epoch: state.Epoch, Fields: map[string]any{"path": t.cfg.CheckpointPath}})
	return t.cfg.CheckpointPath, nil
}
