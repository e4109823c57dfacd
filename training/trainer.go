package training

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/amirunpri2018/VideoNet/checkpoints"
)

// TrainerConfig holds the knobs of a training run.
type TrainerConfig struct {
	Arch         string  // architecture identifier recorded in checkpoints
	Epochs       int     // total configured epochs
	EvalFreq     int     // run validation every N epochs
	PrintFreq    int     // print metric lines every N batches
	BaseLR       float64 // learning rate before scheduling
	ClipGradient float64 // max gradient L2 norm; 0 disables clipping
	EvaluateOnly bool    // run exactly one validation pass and stop
	Resume       string  // checkpoint path to resume full state from
	Finetune     string  // checkpoint path to load weights only from
}

// RunState is the mutable state of one run, owned by a single Trainer for
// the run's duration. BestPrec1 is monotonically non-decreasing: resuming
// and checkpointing only ever raise it.
type RunState struct {
	Epoch     int
	BestPrec1 float64
}

// Trainer drives the epoch loop: learning-rate stepping, the per-batch
// forward/loss/backward/step sequence, periodic evaluation, and
// checkpointing with best-model tracking.
type Trainer struct {
	model      Module
	aggregator *SegmentAggregator
	criterion  Criterion
	optimizer  Optimizer
	scheduler  LRScheduler
	store      *checkpoints.Store
	config     TrainerConfig
	state      RunState
	logger     *zap.SugaredLogger
}

// NewTrainer wires a trainer from its collaborators. A nil logger is
// replaced with a no-op logger.
func NewTrainer(
	model Module,
	aggregator *SegmentAggregator,
	criterion Criterion,
	optimizer Optimizer,
	scheduler LRScheduler,
	store *checkpoints.Store,
	config TrainerConfig,
	logger *zap.SugaredLogger,
) (*Trainer, error) {
	if model == nil || aggregator == nil || criterion == nil || optimizer == nil {
		return nil, fmt.Errorf("model, aggregator, criterion and optimizer are required")
	}
	if !config.EvaluateOnly && config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", config.Epochs)
	}
	if config.EvalFreq <= 0 {
		config.EvalFreq = 1
	}
	if config.PrintFreq <= 0 {
		config.PrintFreq = 20
	}
	if scheduler == nil {
		scheduler = &ConstantLR{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Trainer{
		model:      model,
		aggregator: aggregator,
		criterion:  criterion,
		optimizer:  optimizer,
		scheduler:  scheduler,
		store:      store,
		config:     config,
		logger:     logger,
	}, nil
}

// State returns a copy of the current run state.
func (t *Trainer) State() RunState {
	return t.state
}

// Run executes the full training state machine: optional finetune weight
// load, optional resume, then the epoch loop with periodic evaluation and
// checkpointing. In evaluate-only mode it runs a single validation pass.
func (t *Trainer) Run(trainLoader, valLoader *DataLoader) error {
	if err := t.loadFinetune(); err != nil {
		return err
	}
	if err := t.loadResume(); err != nil {
		return err
	}

	if t.config.EvaluateOnly {
		_, err := t.Validate(valLoader)
		return err
	}

	for epoch := t.state.Epoch; epoch < t.config.Epochs; epoch++ {
		lr := t.scheduler.GetLR(epoch, 0, t.config.BaseLR)
		t.optimizer.SetLR(lr)

		if err := t.TrainEpoch(trainLoader, epoch); err != nil {
			return fmt.Errorf("training epoch %d failed: %v", epoch, err)
		}
		t.state.Epoch = epoch + 1

		if (epoch+1)%t.config.EvalFreq != 0 && epoch != t.config.Epochs-1 {
			continue
		}

		prec1, err := t.Validate(valLoader)
		if err != nil {
			return fmt.Errorf("validation after epoch %d failed: %v", epoch, err)
		}

		isBest := prec1 > t.state.BestPrec1
		t.state.BestPrec1 = math.Max(prec1, t.state.BestPrec1)

		if err := t.saveCheckpoint(isBest); err != nil {
			return err
		}
	}

	return nil
}

// loadFinetune loads model weights only from the finetune checkpoint, if
// configured. A missing file is reported and skipped.
func (t *Trainer) loadFinetune() error {
	if t.config.Finetune == "" {
		return nil
	}

	ckpt, err := checkpoints.Load(t.config.Finetune)
	if err != nil {
		if checkpoints.IsNotFound(err) {
			t.logger.Warnf("no finetune model found at %q", t.config.Finetune)
			return nil
		}
		return err
	}

	if err := t.model.LoadStateDict(ckpt.StateDict); err != nil {
		return fmt.Errorf("failed to load finetune weights: %v", err)
	}
	t.logger.Infof("starting finetuning from %q", t.config.Finetune)
	return nil
}

// loadResume restores full training state from the resume checkpoint, if
// configured. A missing file is reported and the run starts from epoch zero.
// A restored best metric never lowers an already higher in-memory value.
func (t *Trainer) loadResume() error {
	if t.config.Resume == "" {
		return nil
	}

	ckpt, err := checkpoints.Load(t.config.Resume)
	if err != nil {
		if checkpoints.IsNotFound(err) {
			t.logger.Warnf("no checkpoint found at %q", t.config.Resume)
			return nil
		}
		return err
	}

	if err := t.model.LoadStateDict(ckpt.StateDict); err != nil {
		return fmt.Errorf("failed to restore model state: %v", err)
	}
	if ckpt.Optimizer != nil {
		if err := t.optimizer.LoadState(ckpt.Optimizer); err != nil {
			return fmt.Errorf("failed to restore optimizer state: %v", err)
		}
	}

	t.state.Epoch = ckpt.Epoch
	t.state.BestPrec1 = math.Max(t.state.BestPrec1, ckpt.BestPrec1)

	t.logger.Infof("loaded checkpoint %q (epoch %d)", t.config.Resume, ckpt.Epoch)
	return nil
}

// TrainEpoch runs one pass over the training set: per batch, the segment
// aggregation forward, loss and accuracy bookkeeping, backward, optional
// gradient clipping, and the optimizer step.
func (t *Trainer) TrainEpoch(loader *DataLoader, epoch int) error {
	batchTime := NewMeter()
	dataTime := NewMeter()
	losses := NewMeter()
	top1 := NewMeter()
	top5 := NewMeter()

	t.model.Train()

	numBatches := loader.Len()
	lr := t.optimizer.GetLR()
	end := time.Now()

	return loader.Iterate(func(i int, batch *Batch) error {
		dataTime.Update(time.Since(end).Seconds(), 1)

		output, err := t.aggregator.ForwardTrain(batch.Data)
		if err != nil {
			return err
		}

		loss, err := t.criterion.Forward(output, batch.Labels)
		if err != nil {
			return err
		}

		accs, err := Accuracy(output, batch.Labels, []int{1, 5})
		if err != nil {
			return err
		}

		batchSize := float64(batch.Data.Shape[0])
		losses.Update(loss, batchSize)
		top1.Update(accs[0], batchSize)
		top5.Update(accs[1], batchSize)

		t.optimizer.ZeroGrad()

		grad, err := t.criterion.Backward(output, batch.Labels)
		if err != nil {
			return err
		}
		if err := t.aggregator.BackwardTrain(grad); err != nil {
			return err
		}

		if t.config.ClipGradient > 0 {
			totalNorm := ClipGradNorm(t.model.Parameters(), t.config.ClipGradient)
			if totalNorm > t.config.ClipGradient {
				t.logger.Infof("clipping gradient: %f with coef %f",
					totalNorm, t.config.ClipGradient/totalNorm)
			}
		}

		if err := t.optimizer.Step(); err != nil {
			return err
		}

		batchTime.Update(time.Since(end).Seconds(), 1)
		end = time.Now()

		if i%t.config.PrintFreq == 0 {
			fmt.Printf("Epoch: [%d][%d/%d], lr: %.5f\t"+
				"Time %.3f (%.3f)\tData %.3f (%.3f)\t"+
				"Loss %.4f (%.4f)\tPrec@1 %.3f (%.3f)\tPrec@5 %.3f (%.3f)\n",
				epoch, i, numBatches, lr,
				batchTime.Val, batchTime.Avg, dataTime.Val, dataTime.Avg,
				losses.Val, losses.Avg, top1.Val, top1.Avg, top5.Val, top5.Avg)
		}

		return nil
	})
}

// Validate runs one pass over the validation set with the model in eval
// mode and returns the running top-1 average as the epoch's score.
func (t *Trainer) Validate(loader *DataLoader) (float64, error) {
	batchTime := NewMeter()
	losses := NewMeter()
	top1 := NewMeter()
	top5 := NewMeter()

	t.model.Eval()
	defer t.model.Train()

	numBatches := loader.Len()
	end := time.Now()

	err := loader.Iterate(func(i int, batch *Batch) error {
		output, err := t.aggregator.ForwardEval(batch.Data)
		if err != nil {
			return err
		}

		loss, err := t.criterion.Forward(output, batch.Labels)
		if err != nil {
			return err
		}

		accs, err := Accuracy(output, batch.Labels, []int{1, 5})
		if err != nil {
			return err
		}

		batchSize := float64(batch.Data.Shape[0])
		losses.Update(loss, batchSize)
		top1.Update(accs[0], batchSize)
		top5.Update(accs[1], batchSize)

		batchTime.Update(time.Since(end).Seconds(), 1)
		end = time.Now()

		if i%t.config.PrintFreq == 0 {
			fmt.Printf("Test: [%d/%d]\tTime %.3f (%.3f)\t"+
				"Loss %.4f (%.4f)\tPrec@1 %.3f (%.3f)\tPrec@5 %.3f (%.3f)\n",
				i, numBatches,
				batchTime.Val, batchTime.Avg,
				losses.Val, losses.Avg, top1.Val, top1.Avg, top5.Val, top5.Avg)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	fmt.Printf("Testing Results: Prec@1 %.3f Prec@5 %.3f Loss %.5f\n",
		top1.Avg, top5.Avg, losses.Avg)

	return top1.Avg, nil
}

// saveCheckpoint persists the full training state, promoting it to the best
// checkpoint when isBest is set.
func (t *Trainer) saveCheckpoint(isBest bool) error {
	if t.store == nil {
		return nil
	}

	stateDict, err := t.model.StateDict()
	if err != nil {
		return fmt.Errorf("failed to export model state: %v", err)
	}
	optState, err := t.optimizer.GetState()
	if err != nil {
		return fmt.Errorf("failed to export optimizer state: %v", err)
	}

	ckpt := &checkpoints.Checkpoint{
		Epoch:     t.state.Epoch,
		Arch:      t.config.Arch,
		StateDict: stateDict,
		BestPrec1: t.state.BestPrec1,
		Optimizer: optState,
	}

	if err := t.store.Save(ckpt, isBest); err != nil {
		return err
	}
	t.logger.Infof("saved checkpoint for epoch %d (best=%v)", t.state.Epoch, isBest)
	return nil
}
