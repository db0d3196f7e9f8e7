package trainer

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/contrastive"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/dataset"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/encoder"
	"github.com/Deekshith-Reddy/ecg-contrastive/internal/optim"
)

type recordingSink struct {
	mu     sync.Mutex
	events map[string]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: map[string]int{}}
}

func (s *recordingSink) Scalar(name string, value float64, step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[name]++
}

func testRunConfig(t *testing.T, dir string) RunConfig {
	t.Helper()
	m := encoder.New(encoder.Config{Seed: 1})
	return RunConfig{
		Model:          m,
		Optimizer:      optim.NewAdam(m.Params(), 1e-3),
		Schedule:       &optim.CosineSchedule{Base: 1e-3, Min: 0, TMax: 4},
		Loss:           contrastive.Engine{Temperature: 0.1},
		Arch:           "baseline_conv",
		Epochs:         3,
		StepsPerEpoch:  2,
		BatchSize:      2,
		NumLeads:       2,
		SeqLen:         encoder.MinSeqLen(),
		WarmupEpochs:   0,
		CheckpointFreq: 1,
		CheckpointDir:  dir,
		LogEvery:       100,
		Seed:           1,
	}
}

func startSynthetic(t *testing.T, leads, seqLen int) <-chan dataset.Sample {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return dataset.Synthetic{
		NumPatients: 3,
		Leads:       leads,
		SeqLen:      seqLen,
		Noise:       0.05,
		Seed:        7,
	}.Stream(ctx)
}

func TestRunCompletesAndCheckpoints(t *testing.T) {
	dir := t.TempDir()
	cfg := testRunConfig(t, dir)
	sink := newRecordingSink()
	cfg.Sink = sink

	samples := startSynthetic(t, cfg.NumLeads, cfg.SeqLen)
	require.NoError(t, Run(context.Background(), cfg, samples, nil))

	// epochs run from StartEpoch+1 to Epochs-1; freq 1 checkpoints each
	for _, name := range []string{"checkpoint_0001.ckpt", "checkpoint_0002.ckpt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	for _, name := range []string{"loss", "acc/top1", "acc/top5", "learning_rate", "norm"} {
		assert.Equal(t, 4, sink.events[name], name) // 2 epochs x 2 steps
	}
}

func TestRunAdvancesScheduleAfterWarmup(t *testing.T) {
	dir := t.TempDir()
	cfg := testRunConfig(t, dir)
	cfg.CheckpointFreq = 10
	initial := cfg.Optimizer.LR

	samples := startSynthetic(t, cfg.NumLeads, cfg.SeqLen)
	require.NoError(t, Run(context.Background(), cfg, samples, nil))

	assert.Less(t, cfg.Optimizer.LR, initial)
}

func TestRunWarmupGatesSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := testRunConfig(t, dir)
	cfg.CheckpointFreq = 10
	cfg.WarmupEpochs = 100
	initial := cfg.Optimizer.LR

	samples := startSynthetic(t, cfg.NumLeads, cfg.SeqLen)
	require.NoError(t, Run(context.Background(), cfg, samples, nil))

	assert.Equal(t, initial, cfg.Optimizer.LR)
}

func nanSample(leads, seqLen int) dataset.Sample {
	s := dataset.Sample{PatientID: "pbad", Leads: make([][]float64, leads)}
	for l := range s.Leads {
		s.Leads[l] = make([]float64, seqLen)
		s.Leads[l][0] = math.NaN()
	}
	return s
}

func goodSample(id string, leads, seqLen int) dataset.Sample {
	s := dataset.Sample{PatientID: id, Leads: make([][]float64, leads)}
	for l := range s.Leads {
		s.Leads[l] = make([]float64, seqLen)
		for t := range s.Leads[l] {
			s.Leads[l][t] = math.Sin(float64(t) / 10)
		}
	}
	return s
}

func TestRunHaltsOnDivergence(t *testing.T) {
	cfg := testRunConfig(t, t.TempDir())
	cfg.OnDivergence = PolicyHalt

	samples := make(chan dataset.Sample, 4)
	for i := 0; i < 4; i++ {
		samples <- nanSample(cfg.NumLeads, cfg.SeqLen)
	}

	err := Run(context.Background(), cfg, samples, nil)
	var div *DivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, "inputs", div.Stage)
	assert.Greater(t, div.Stats.NonFinite, 0)
}

func TestRunSkipsDivergentBatch(t *testing.T) {
	cfg := testRunConfig(t, t.TempDir())
	cfg.OnDivergence = PolicySkip
	cfg.Epochs = 2
	cfg.StepsPerEpoch = 2
	cfg.CheckpointFreq = 10

	samples := make(chan dataset.Sample, 8)
	samples <- nanSample(cfg.NumLeads, cfg.SeqLen)
	samples <- nanSample(cfg.NumLeads, cfg.SeqLen)
	for i := 0; i < 4; i++ {
		samples <- goodSample("p1", cfg.NumLeads, cfg.SeqLen)
	}

	require.NoError(t, Run(context.Background(), cfg, samples, nil))
}

func TestRunRejectsMalformedSample(t *testing.T) {
	cfg := testRunConfig(t, t.TempDir())

	samples := make(chan dataset.Sample, 2)
	samples <- goodSample("p1", cfg.NumLeads+1, cfg.SeqLen) // wrong lead count

	err := Run(context.Background(), cfg, samples, nil)
	assert.Error(t, err)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	cfg := testRunConfig(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, cfg, make(chan dataset.Sample), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunConfigValidation(t *testing.T) {
	cfg := RunConfig{}
	assert.Error(t, Run(context.Background(), cfg, nil, nil))

	m := encoder.New(encoder.Config{Seed: 2})
	cfg = RunConfig{Model: m, Optimizer: optim.NewAdam(m.Params(), 1e-3), Epochs: 1}
	assert.Error(t, Run(context.Background(), cfg, nil, nil))
}

func TestTrainStepReducesLossOnRepeatedBatch(t *testing.T) {
	cfg := testRunConfig(t, t.TempDir())
	cfg.Optimizer.LR = 1e-3
	cfg.validate()

	samples := []dataset.Sample{
		goodSample("p1", cfg.NumLeads, cfg.SeqLen),
		goodSample("p2", cfg.NumLeads, cfg.SeqLen),
	}
	// perturb the second patient so the batch is not degenerate
	for l := range samples[1].Leads {
		for i := range samples[1].Leads[l] {
			samples[1].Leads[l][i] = math.Cos(float64(i) / 7)
		}
	}
	rng := rand.New(rand.NewSource(3))
	batch := dataset.Collate(samples, cfg.Augment, rng)

	first, _, err := trainStep(cfg, batch, 0)
	require.NoError(t, err)
	var last float64
	for i := 1; i <= 30; i++ {
		res, _, err := trainStep(cfg, batch, i)
		require.NoError(t, err)
		last = res.Loss
	}
	assert.Less(t, last, first.Loss)
}
