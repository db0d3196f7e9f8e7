// Package trainer drives contrastive pretraining: batch assembly, the
// two-view forward/backward step, metric emission, learning-rate scheduling
// and periodic checkpointing.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/checkpoint"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/contrastive"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/dataset"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/encoder"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/metrics"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/nn"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/optim"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/pairing"
)

// gradClipCeiling bounds the global gradient norm per step.
const gradClipCeiling = 1.0

// Policy selects the reaction to a divergence error.
type Policy string

const (
	PolicyHalt Policy = "halt"
	PolicySkip Policy = "skip"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Model     encoder.Model
	Optimizer *optim.Adam
	Schedule  *optim.CosineSchedule
	Loss      contrastive.Engine

	Arch          string
	Epochs        int
	StartEpoch    int
	StepsPerEpoch int
	BatchSize     int
	NumLeads      int
	SeqLen        int
	WarmupEpochs  int

	CheckpointFreq int
	CheckpointDir  string
	LeadGroupings  bool

	LogEvery     int
	Seed         int64
	OnDivergence Policy
	Augment      dataset.Augment
	Sink         metrics.Sink
}

func (cfg *RunConfig) validate() error {
	if cfg.Model == nil {
		return errors.New("trainer: model is required")
	}
	if cfg.Optimizer == nil {
		return errors.New("trainer: optimizer is required")
	}
	if cfg.Epochs <= 1 {
		return errors.New("trainer: epochs must be > 1")
	}
	if cfg.StepsPerEpoch <= 0 {
		return errors.New("trainer: steps per epoch must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("trainer: batch size must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	if cfg.OnDivergence == "" {
		cfg.OnDivergence = PolicyHalt
	}
	if cfg.Augment == nil {
		cfg.Augment = dataset.GaussianJitter(0.05)
	}
	if cfg.Sink == nil {
		cfg.Sink = metrics.NopSink{}
	}
	return nil
}

// Run executes the training workload against a sample stream.
func Run(ctx context.Context, cfg RunConfig, samples <-chan dataset.Sample, sampleErrs <-chan error) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var lossMeter, acc1Meter, acc5Meter metrics.Meter
	var window metrics.Window
	nIter := 0

	log.Printf("starting contrastive training arch=%s epochs=%d batch_size=%d lr=%g warmup_epochs=%d",
		cfg.Arch, cfg.Epochs, cfg.BatchSize, cfg.Optimizer.LR, cfg.WarmupEpochs)

	for epoch := cfg.StartEpoch + 1; epoch < cfg.Epochs; epoch++ {
		for step := 0; step < cfg.StepsPerEpoch; step++ {
			startData := time.Now()
			batch, err := nextBatch(ctx, samples, sampleErrs, cfg, rng)
			if err != nil {
				return err
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			res, gradNorm, err := trainStep(cfg, batch, nIter)
			computeTime := time.Since(startCompute)

			var div *DivergenceError
			if errors.As(err, &div) {
				if cfg.OnDivergence == PolicySkip {
					log.Printf("skipping batch: %v", div)
					nIter++
					continue
				}
				return div
			}
			if err != nil {
				return err
			}

			lossMeter.Update(res.Loss, cfg.BatchSize)
			acc := metrics.TopK(res.LastExp, 1, 5)
			acc1Meter.Update(acc[0], cfg.BatchSize)
			acc5Meter.Update(acc[1], cfg.BatchSize)

			cfg.Sink.Scalar("loss", lossMeter.Avg, nIter)
			cfg.Sink.Scalar("acc/top1", acc1Meter.Avg, nIter)
			cfg.Sink.Scalar("acc/top5", acc5Meter.Avg, nIter)
			cfg.Sink.Scalar("learning_rate", cfg.Optimizer.LR, nIter)
			cfg.Sink.Scalar("norm", gradNorm, nIter)

			window.Record(cfg.BatchSize, dataTime, computeTime, res.Loss)
			if (nIter+1)%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				log.Printf("iter=%d samples_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f top1=%.1f",
					nIter, snap.SamplesPerSec, snap.AvgDataMS, snap.AvgComputeMS, snap.LastLoss, acc1Meter.Avg)
			}
			nIter++
		}

		// warmup gate: the schedule only advances once warmup has elapsed,
		// and then once per epoch
		if cfg.Schedule != nil && epoch >= cfg.WarmupEpochs {
			cfg.Schedule.Step()
			cfg.Optimizer.LR = cfg.Schedule.LR()
		}
		log.Printf("epoch=%d loss=%.4f top1=%.2f top5=%.2f", epoch, lossMeter.Avg, acc1Meter.Avg, acc5Meter.Avg)

		if cfg.CheckpointFreq > 0 && (epoch%cfg.CheckpointFreq == 0 || epoch+1 == cfg.Epochs) {
			saveCheckpoint(cfg, epoch)
		}
	}

	log.Printf("training has finished")
	return nil
}

// trainStep runs one gradient step and returns the loss result and the
// pre-clip gradient norm.
func trainStep(cfg RunConfig, batch dataset.Batch, nIter int) (*contrastive.Result, float64, error) {
	if div := checkFinite3(nIter, "inputs", batch.View1, batch.View2); div != nil {
		return nil, 0, div
	}

	cfg.Optimizer.ZeroGrad()

	emb1, tr1, err := cfg.Model.Forward(batch.View1, true)
	if err != nil {
		return nil, 0, fmt.Errorf("trainer: forward view 1: %w", err)
	}
	emb2, tr2, err := cfg.Model.Forward(batch.View2, true)
	if err != nil {
		return nil, 0, fmt.Errorf("trainer: forward view 2: %w", err)
	}

	// concatenate along the view axis
	batchSize := len(emb1)
	v1 := len(emb1[0])
	v2 := len(emb2[0])
	features := make([][][]float64, batchSize)
	for b := 0; b < batchSize; b++ {
		features[b] = append(append(make([][]float64, 0, v1+v2), emb1[b]...), emb2[b]...)
	}
	if div := checkFinite3(nIter, "embeddings", features); div != nil {
		return nil, 0, div
	}

	// L2-normalize every (sample, view) embedding before the loss
	rows := make([][]float64, 0, batchSize*(v1+v2))
	for b := range features {
		rows = append(rows, features[b]...)
	}
	unit, normCache := nn.L2NormalizeRows(rows)
	normalized := make([][][]float64, batchSize)
	for b := 0; b < batchSize; b++ {
		normalized[b] = unit[b*(v1+v2) : (b+1)*(v1+v2)]
	}

	res, err := cfg.Loss.Loss(normalized, pairing.Build(batch.PatientIDs))
	if err != nil {
		return nil, 0, fmt.Errorf("trainer: loss: %w", err)
	}
	if div := checkFiniteScalar(nIter, "loss", res.Loss); div != nil {
		return nil, 0, div
	}

	gradRows := make([][]float64, 0, batchSize*(v1+v2))
	for b := range res.Grad {
		gradRows = append(gradRows, res.Grad[b]...)
	}
	rawGrad := nn.L2NormalizeRowsBackward(normCache, gradRows)

	grad1 := make([][][]float64, batchSize)
	grad2 := make([][][]float64, batchSize)
	for b := 0; b < batchSize; b++ {
		grad1[b] = rawGrad[b*(v1+v2) : b*(v1+v2)+v1]
		grad2[b] = rawGrad[b*(v1+v2)+v1 : (b+1)*(v1+v2)]
	}
	if err := cfg.Model.Backward(tr1, grad1); err != nil {
		return nil, 0, fmt.Errorf("trainer: backward view 1: %w", err)
	}
	if err := cfg.Model.Backward(tr2, grad2); err != nil {
		return nil, 0, fmt.Errorf("trainer: backward view 2: %w", err)
	}

	gradNorm := optim.ClipGradNorm(cfg.Model.Params(), gradClipCeiling)
	cfg.Optimizer.Step()

	return res, gradNorm, nil
}

// nextBatch blocks until a full batch is assembled. Malformed samples fail
// the run; shape contracts are enforced before anything reaches the model.
func nextBatch(ctx context.Context, samples <-chan dataset.Sample, sampleErrs <-chan error, cfg RunConfig, rng *rand.Rand) (dataset.Batch, error) {
	collected := make([]dataset.Sample, 0, cfg.BatchSize)
	for len(collected) < cfg.BatchSize {
		select {
		case <-ctx.Done():
			return dataset.Batch{}, ctx.Err()
		case err, ok := <-sampleErrs:
			if ok && err != nil {
				return dataset.Batch{}, err
			}
		case sample, ok := <-samples:
			if !ok {
				return dataset.Batch{}, errors.New("trainer: sample stream closed")
			}
			if err := sample.Validate(cfg.NumLeads, cfg.SeqLen); err != nil {
				return dataset.Batch{}, err
			}
			collected = append(collected, sample)
		}
	}
	return dataset.Collate(collected, cfg.Augment, rng), nil
}

func saveCheckpoint(cfg RunConfig, epoch int) {
	snap := &checkpoint.Snapshot{
		Epoch:     epoch,
		Arch:      cfg.Arch,
		States:    cfg.Model.States(),
		Optimizer: cfg.Optimizer.State(),
	}
	path, err := checkpoint.Save(cfg.CheckpointDir, snap, cfg.LeadGroupings)
	if err != nil {
		// training continues without the snapshot
		log.Printf("checkpoint save failed at epoch %d: %v", epoch, err)
		return
	}
	log.Printf("checkpoint saved epoch=%d path=%s", epoch, path)
}
