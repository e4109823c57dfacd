package main

import (
	"fmt"
	"os"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"github.com/amirunpri2018/VideoNet/checkpoints"
	"github.com/amirunpri2018/VideoNet/training"
)

type options struct {
	Dataset   string `arg:"positional,required" help:"dataset name: ucf101, hmdb51, kinetics or meitu"`
	TrainList string `arg:"--train-list" help:"training split list file"`
	ValList   string `arg:"--val-list" help:"validation split list file"`
	Root      string `arg:"--root" help:"root directory for clip paths in the lists"`

	Arch        string `arg:"--arch" default:"shufflenet" help:"architecture identifier recorded in checkpoints"`
	NumSegments int    `arg:"--num-segments" default:"3" help:"temporal segments per clip"`
	Channels    int    `arg:"--channels" default:"3"`
	Height      int    `arg:"--height" default:"224"`
	Width       int    `arg:"--width" default:"224"`

	Epochs       int     `arg:"--epochs" default:"45"`
	BatchSize    int     `arg:"--batch-size,-b" default:"64"`
	Workers      int     `arg:"--workers,-j" default:"4" help:"data loading workers"`
	LR           float64 `arg:"--lr" default:"0.001" help:"initial learning rate"`
	Momentum     float64 `arg:"--momentum" default:"0.9"`
	WeightDecay  float64 `arg:"--weight-decay" default:"0.0005"`
	ClipGradient float64 `arg:"--clip-gradient" default:"20" help:"max gradient norm, 0 disables"`
	LossType     string  `arg:"--loss-type" default:"nll"`
	LRSteps      int     `arg:"--lr-steps" default:"30" help:"epochs between learning rate decays"`

	PrintFreq int  `arg:"--print-freq,-p" default:"20"`
	EvalFreq  int  `arg:"--eval-freq" default:"5"`
	Evaluate  bool `arg:"--evaluate,-e" help:"evaluate on the validation set and exit"`

	Resume       string `arg:"--resume" help:"path of a checkpoint to resume from"`
	Finetune     string `arg:"--finetune" help:"path of a checkpoint to finetune from (weights only)"`
	SnapshotPref string `arg:"--snapshot-pref" default:"videonet"`
	SaveDir      string `arg:"--save-dir" default:"save_models"`
}

// numClasses maps dataset names to class counts. Unknown datasets abort
// before any resource allocation.
func numClasses(dataset string) (int, error) {
	switch dataset {
	case "ucf101":
		return 101, nil
	case "hmdb51":
		return 51, nil
	case "kinetics":
		return 400, nil
	case "meitu":
		return 50, nil
	default:
		return 0, fmt.Errorf("unknown dataset %q", dataset)
	}
}

func run(opts options, logger *zap.SugaredLogger) error {
	numClass, err := numClasses(opts.Dataset)
	if err != nil {
		return err
	}

	criterion, err := training.NewCriterion(opts.LossType)
	if err != nil {
		return err
	}

	shape := training.ClipShape{
		Segments: opts.NumSegments,
		Channels: opts.Channels,
		Height:   opts.Height,
		Width:    opts.Width,
	}

	model, err := training.NewLinearClassifier(shape.Channels*shape.Height*shape.Width, numClass)
	if err != nil {
		return err
	}

	aggregator, err := training.NewSegmentAggregator(model, opts.NumSegments)
	if err != nil {
		return err
	}

	sgdConfig := training.DefaultSGDConfig()
	sgdConfig.LearningRate = opts.LR
	sgdConfig.Momentum = opts.Momentum
	sgdConfig.WeightDecay = opts.WeightDecay
	optimizer, err := training.NewSGD(model.Parameters(), sgdConfig)
	if err != nil {
		return err
	}

	scheduler := training.NewStepLR(opts.LRSteps, 0.1)

	store, err := checkpoints.NewStore(opts.SaveDir, opts.SnapshotPref)
	if err != nil {
		return err
	}

	var trainLoader *training.DataLoader
	if !opts.Evaluate {
		trainSet, err := training.NewListDataset(opts.Root, opts.TrainList, shape)
		if err != nil {
			return err
		}
		trainLoader, err = training.NewDataLoader(trainSet, opts.BatchSize, true, opts.Workers)
		if err != nil {
			return err
		}
	}

	valSet, err := training.NewListDataset(opts.Root, opts.ValList, shape)
	if err != nil {
		return err
	}
	valLoader, err := training.NewDataLoader(valSet, opts.BatchSize, false, opts.Workers)
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(model, aggregator, criterion, optimizer, scheduler, store,
		training.TrainerConfig{
			Arch:         opts.Arch,
			Epochs:       opts.Epochs,
			EvalFreq:     opts.EvalFreq,
			PrintFreq:    opts.PrintFreq,
			BaseLR:       opts.LR,
			ClipGradient: opts.ClipGradient,
			EvaluateOnly: opts.Evaluate,
			Resume:       opts.Resume,
			Finetune:     opts.Finetune,
		}, logger)
	if err != nil {
		return err
	}

	return trainer.Run(trainLoader, valLoader)
}

func main() {
	var opts options
	arg.MustParse(&opts)

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	if err := run(opts, logger); err != nil {
		logger.Errorf("run failed: %v", err)
		os.Exit(1)
	}
}
