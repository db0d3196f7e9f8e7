package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/checkpoint"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/config"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/contrastive"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/dataset"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/encoder"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/metrics"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/optim"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/trainer"
)

const syntheticPatients = 16

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	dataRoot := flag.String("data-root", "", "Override shard root directory")
	synthetic := flag.Bool("synthetic", false, "Train on the synthetic waveform source")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	lr := flag.Float64("lr", 0, "Learning rate")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		DataRoot:     *dataRoot,
		Synthetic:    *synthetic,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		NumWorkers:   *numWorkers,
		Seed:         *seed,
		LogEvery:     *logEvery,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.SeqLen < encoder.MinSeqLen() {
		log.Fatalf("seq_len=%d is below the minimum %d the encoder can reduce", cfg.SeqLen, encoder.MinSeqLen())
	}
	if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
		log.Fatalf("create checkpoint dir: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		samples    <-chan dataset.Sample
		sampleErrs <-chan error
	)
	if cfg.Synthetic {
		samples = dataset.Synthetic{
			NumPatients: syntheticPatients,
			Leads:       cfg.NumLeads,
			SeqLen:      cfg.SeqLen,
			Noise:       0.05,
			Seed:        cfg.Seed,
		}.Stream(ctx)
		log.Printf("source=synthetic patients=%d leads=%d seq_len=%d", syntheticPatients, cfg.NumLeads, cfg.SeqLen)
	} else {
		roots, err := dataset.DiscoverByRoot(cfg.DataRoots)
		if err != nil {
			log.Fatalf("discover shards: %v", err)
		}
		for root, shards := range roots {
			log.Printf("root=%s shards=%d", root, len(shards))
		}
		samples, sampleErrs, err = dataset.StartSampler(ctx, dataset.SamplerOptions{
			Roots:      roots,
			Seed:       cfg.Seed,
			NumWorkers: cfg.NumWorkers,
		})
		if err != nil {
			log.Fatalf("start sampler: %v", err)
		}
	}

	var model encoder.Model
	if cfg.LeadGroupings {
		model, err = encoder.NewGrouped(encoder.Config{
			AvgEmbeddings: cfg.AvgEmbeddings,
			Seed:          cfg.Seed,
		}, cfg.NumLeads/2)
		if err != nil {
			log.Fatalf("build grouped encoder: %v", err)
		}
	} else {
		model = encoder.New(encoder.Config{
			AvgEmbeddings: cfg.AvgEmbeddings,
			Seed:          cfg.Seed,
		})
	}

	opt := optim.NewAdam(model.Params(), cfg.LearningRate)
	sched := &optim.CosineSchedule{Base: cfg.LearningRate, Min: 0, TMax: cfg.Epochs}

	startEpoch := 0
	if cfg.Pretrained != "" {
		snap, err := checkpoint.Load(cfg.Pretrained)
		if err != nil {
			log.Fatalf("load pretrained checkpoint: %v", err)
		}
		if err := model.LoadStates(snap.States); err != nil {
			log.Fatalf("restore model state: %v", err)
		}
		if err := opt.LoadState(snap.Optimizer); err != nil {
			log.Fatalf("restore optimizer state: %v", err)
		}
		startEpoch = snap.Epoch
		log.Printf("resumed from %s at epoch=%d arch=%s", cfg.Pretrained, snap.Epoch, snap.Arch)
	}

	var sink metrics.Sink = metrics.LogSink{}
	if cfg.MetricsFile != "" {
		csv, err := metrics.NewCSVSink(cfg.MetricsFile)
		if err != nil {
			log.Fatalf("open metrics file: %v", err)
		}
		defer csv.Close()
		sink = csv
	}

	runCfg := trainer.RunConfig{
		Model:          model,
		Optimizer:      opt,
		Schedule:       sched,
		Loss:           contrastive.Engine{Temperature: cfg.Temperature},
		Arch:           cfg.Arch,
		Epochs:         cfg.Epochs,
		StartEpoch:     startEpoch,
		StepsPerEpoch:  cfg.StepsPerEpoch,
		BatchSize:      cfg.BatchSize,
		NumLeads:       cfg.NumLeads,
		SeqLen:         cfg.SeqLen,
		WarmupEpochs:   cfg.WarmupEpochs,
		CheckpointFreq: cfg.CheckpointFreq,
		CheckpointDir:  cfg.CheckpointDir,
		LeadGroupings:  cfg.LeadGroupings,
		LogEvery:       cfg.LogEvery,
		Seed:           cfg.Seed,
		OnDivergence:   trainer.Policy(cfg.OnDivergence),
		Sink:           sink,
	}

	if err := trainer.Run(ctx, runCfg, samples, sampleErrs); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
