// Package encoder maps raw single-channel waveform segments to fixed-length
// embeddings with a six-block 1-D convolutional pipeline. In multi-view mode
// the same weights are applied independently per lead.
package encoder

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/nn"
)

// EmbedDim is the flattened width after the conv stack; ProjDim is the
// projection head output width.
const (
	EmbedDim = 256
	ProjDim  = 128
)

// Model is the encoder contract consumed by the training loop.
type Model interface {
	// Forward maps (batch, views, seq) signals to (batch, views', dim)
	// embeddings. views' is 1 when view averaging is enabled.
	Forward(x [][][]float64, training bool) ([][][]float64, Trace, error)
	// Backward propagates (batch, views', dim) gradients through the trace,
	// accumulating parameter gradients.
	Backward(tr Trace, grad [][][]float64) error
	Params() []*nn.Param
	// States groups parameter and running-stat tensors by sub-model name
	// for checkpointing.
	States() map[string]map[string][]float64
	LoadStates(states map[string]map[string][]float64) error
}

// Trace is the opaque per-forward activation record needed by Backward.
type Trace interface {
	trace()
}

// Config selects the head and view handling of a ConvNet.
type Config struct {
	// Classification swaps the projection head for a single sigmoid logit.
	Classification bool
	// AvgEmbeddings averages per-view embeddings into one before the head.
	AvgEmbeddings bool
	Seed          int64
}

// ConvNet is the six-block convolutional encoder.
type ConvNet struct {
	cfg Config

	convs []*nn.Conv1D
	bns   []*nn.BatchNorm1D
	act   nn.LeakyReLU
	pool  nn.GlobalAvgPool1D

	// projection head (contrastive mode)
	proj1 *nn.Linear
	proj2 *nn.Linear

	// classification head
	cls     *nn.Linear
	sigmoid nn.Sigmoid
}

type blockSpec struct {
	in, out, kernel, stride int
}

var blocks = []blockSpec{
	{1, 16, 7, 4},
	{16, 32, 7, 3},
	{32, 64, 5, 2},
	{64, 64, 3, 1},
	{64, 128, 3, 1},
	{128, 256, 3, 1},
}

// New constructs a ConvNet with seeded random initialization.
func New(cfg Config) *ConvNet {
	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &ConvNet{
		cfg:  cfg,
		act:  nn.LeakyReLU{Slope: 0.2},
		pool: nn.GlobalAvgPool1D{},
	}
	for i, b := range blocks {
		name := fmt.Sprintf("conv%d", i+1)
		m.convs = append(m.convs, nn.NewConv1D(name, b.in, b.out, b.kernel, b.stride, rng))
		m.bns = append(m.bns, nn.NewBatchNorm1D(fmt.Sprintf("bn%d", i+1), b.out))
	}
	if cfg.Classification {
		m.cls = nn.NewLinear("cls", EmbedDim, 1, rng)
	} else {
		m.proj1 = nn.NewLinear("proj1", EmbedDim, EmbedDim, rng)
		m.proj2 = nn.NewLinear("proj2", EmbedDim, ProjDim, rng)
	}
	return m
}

// MinSeqLen reports the shortest input the conv stack accepts.
func MinSeqLen() int {
	// invert the length arithmetic block by block, requiring one output
	// position at the deepest layer
	need := 1
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		need = (need-1)*b.stride + b.kernel
	}
	return need
}

// blockTrace records one view's pass through the conv stack.
type blockTrace struct {
	convs []*nn.Conv1DCache
	acts  []*nn.LeakyReLUCache
	bns   []*nn.BatchNorm1DCache
	pool  *nn.GlobalAvgPool1DCache
}

// convTrace is the full multi-view forward record.
type convTrace struct {
	views    []*blockTrace
	numViews int // before any averaging
	proj1    *nn.LinearCache
	proj2    *nn.LinearCache
	headRows int
}

func (*convTrace) trace() {}

// stackForward runs one (batch, 1, seq) view through the six blocks down to
// a (batch, EmbedDim) vector.
func (m *ConvNet) stackForward(x [][][]float64, training bool) ([][]float64, *blockTrace, error) {
	tr := &blockTrace{}
	h := x
	for i := range m.convs {
		c, cCache, err := m.convs[i].Forward(h)
		if err != nil {
			return nil, nil, err
		}
		a, aCache := m.act.Forward(c)
		b, bCache := m.bns[i].Forward(a, training)
		tr.convs = append(tr.convs, cCache)
		tr.acts = append(tr.acts, aCache)
		tr.bns = append(tr.bns, bCache)
		h = b
	}
	flat, pCache := m.pool.Forward(h)
	tr.pool = pCache
	return flat, tr, nil
}

// stackBackward mirrors stackForward. A nil return from eval-mode batch norm
// caches is a caller error; backward assumes a training forward.
func (m *ConvNet) stackBackward(tr *blockTrace, grad [][]float64) {
	g := m.pool.Backward(tr.pool, grad)
	for i := len(m.convs) - 1; i >= 0; i-- {
		g = m.bns[i].Backward(tr.bns[i], g)
		g = m.act.Backward(tr.acts[i], g)
		g = m.convs[i].Backward(tr.convs[i], g)
	}
}

// Forward applies the shared-weight stack per view and the projection head.
// Views are processed concurrently; each writes a disjoint output slot.
func (m *ConvNet) Forward(x [][][]float64, training bool) ([][][]float64, Trace, error) {
	if m.cfg.Classification {
		return nil, nil, fmt.Errorf("encoder: classification model has no multi-view forward")
	}
	batch := len(x)
	if batch == 0 {
		return nil, nil, fmt.Errorf("encoder: empty batch")
	}
	views := len(x[0])
	if views == 0 {
		return nil, nil, fmt.Errorf("encoder: batch has no views")
	}

	embeds := make([][][]float64, views) // (view, batch, EmbedDim)
	tr := &convTrace{views: make([]*blockTrace, views), numViews: views}

	var wg sync.WaitGroup
	errs := make([]error, views)
	for v := 0; v < views; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			xi := make([][][]float64, batch)
			for b := 0; b < batch; b++ {
				xi[b] = [][]float64{x[b][v]}
			}
			flat, bt, err := m.stackForward(xi, training)
			if err != nil {
				errs[v] = err
				return
			}
			embeds[v] = flat
			tr.views[v] = bt
		}(v)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	headViews := views
	if m.cfg.AvgEmbeddings {
		headViews = 1
	}

	// flatten (batch, headViews) into head rows
	rows := make([][]float64, 0, batch*headViews)
	if m.cfg.AvgEmbeddings {
		inv := 1 / float64(views)
		for b := 0; b < batch; b++ {
			avg := make([]float64, EmbedDim)
			for v := 0; v < views; v++ {
				for d := 0; d < EmbedDim; d++ {
					avg[d] += embeds[v][b][d] * inv
				}
			}
			rows = append(rows, avg)
		}
	} else {
		for b := 0; b < batch; b++ {
			for v := 0; v < views; v++ {
				rows = append(rows, embeds[v][b])
			}
		}
	}

	h1, c1 := m.proj1.Forward(rows)
	h2, c2 := m.proj2.Forward(h1)
	tr.proj1, tr.proj2 = c1, c2
	tr.headRows = headViews

	out := make([][][]float64, batch)
	for b := 0; b < batch; b++ {
		out[b] = make([][]float64, headViews)
		for v := 0; v < headViews; v++ {
			out[b][v] = h2[b*headViews+v]
		}
	}
	return out, tr, nil
}

// Backward propagates (batch, headViews, ProjDim) gradients and accumulates
// parameter gradients, summing shared conv weights across views.
func (m *ConvNet) Backward(trace Trace, grad [][][]float64) error {
	tr, ok := trace.(*convTrace)
	if !ok {
		return fmt.Errorf("encoder: trace does not belong to this model")
	}
	batch := len(grad)
	headViews := tr.headRows

	rows := make([][]float64, 0, batch*headViews)
	for b := 0; b < batch; b++ {
		for v := 0; v < headViews; v++ {
			rows = append(rows, grad[b][v])
		}
	}
	g1 := m.proj2.Backward(tr.proj2, rows)
	g0 := m.proj1.Backward(tr.proj1, g1)

	views := tr.numViews
	// per-view (batch, EmbedDim) gradients
	perView := make([][][]float64, views)
	if m.cfg.AvgEmbeddings {
		inv := 1 / float64(views)
		for v := 0; v < views; v++ {
			perView[v] = make([][]float64, batch)
			for b := 0; b < batch; b++ {
				row := make([]float64, EmbedDim)
				for d := 0; d < EmbedDim; d++ {
					row[d] = g0[b][d] * inv
				}
				perView[v][b] = row
			}
		}
	} else {
		for v := 0; v < views; v++ {
			perView[v] = make([][]float64, batch)
			for b := 0; b < batch; b++ {
				perView[v][b] = g0[b*headViews+v]
			}
		}
	}

	// conv gradients accumulate into shared params; run sequentially
	for v := 0; v < views; v++ {
		m.stackBackward(tr.views[v], perView[v])
	}
	return nil
}

// clsTrace records a classification forward.
type clsTrace struct {
	stack   *blockTrace
	cls     *nn.LinearCache
	sigmoid *nn.SigmoidCache
}

func (*clsTrace) trace() {}

// ForwardClassify maps (batch, 1, seq) inputs to (batch, 1) sigmoid scores.
func (m *ConvNet) ForwardClassify(x [][][]float64, training bool) ([][]float64, Trace, error) {
	if !m.cfg.Classification {
		return nil, nil, fmt.Errorf("encoder: projection model has no classification forward")
	}
	flat, bt, err := m.stackForward(x, training)
	if err != nil {
		return nil, nil, err
	}
	logits, cCache := m.cls.Forward(flat)
	probs, sCache := m.sigmoid.Forward(logits)
	return probs, &clsTrace{stack: bt, cls: cCache, sigmoid: sCache}, nil
}

// BackwardClassify propagates (batch, 1) gradients through the sigmoid head.
func (m *ConvNet) BackwardClassify(trace Trace, grad [][]float64) error {
	tr, ok := trace.(*clsTrace)
	if !ok {
		return fmt.Errorf("encoder: trace does not belong to this model")
	}
	g := m.sigmoid.Backward(tr.sigmoid, grad)
	g = m.cls.Backward(tr.cls, g)
	m.stackBackward(tr.stack, g)
	return nil
}

func (m *ConvNet) Params() []*nn.Param {
	var ps []*nn.Param
	for i := range m.convs {
		ps = append(ps, m.convs[i].Params()...)
		ps = append(ps, m.bns[i].Params()...)
	}
	if m.cfg.Classification {
		ps = append(ps, m.cls.Params()...)
	} else {
		ps = append(ps, m.proj1.Params()...)
		ps = append(ps, m.proj2.Params()...)
	}
	return ps
}

// state flattens params plus batch-norm running stats under one group name.
func (m *ConvNet) state() map[string][]float64 {
	st := make(map[string][]float64)
	for _, p := range m.Params() {
		st[p.Name] = append([]float64(nil), p.Data...)
	}
	for i, bn := range m.bns {
		st[fmt.Sprintf("bn%d.running_mean", i+1)] = append([]float64(nil), bn.RunningMean...)
		st[fmt.Sprintf("bn%d.running_var", i+1)] = append([]float64(nil), bn.RunningVar...)
	}
	return st
}

func (m *ConvNet) loadState(st map[string][]float64) error {
	for _, p := range m.Params() {
		src, ok := st[p.Name]
		if !ok {
			return fmt.Errorf("encoder: state missing %s", p.Name)
		}
		if len(src) != len(p.Data) {
			return fmt.Errorf("encoder: state %s has %d values, want %d", p.Name, len(src), len(p.Data))
		}
		copy(p.Data, src)
	}
	for i, bn := range m.bns {
		for suffix, dst := range map[string][]float64{
			"running_mean": bn.RunningMean,
			"running_var":  bn.RunningVar,
		} {
			name := fmt.Sprintf("bn%d.%s", i+1, suffix)
			src, ok := st[name]
			if !ok {
				return fmt.Errorf("encoder: state missing %s", name)
			}
			copy(dst, src)
		}
	}
	return nil
}

// States exposes the whole model under the "model" group.
func (m *ConvNet) States() map[string]map[string][]float64 {
	return map[string]map[string][]float64{"model": m.state()}
}

func (m *ConvNet) LoadStates(states map[string]map[string][]float64) error {
	st, ok := states["model"]
	if !ok {
		return fmt.Errorf("encoder: states missing group %q", "model")
	}
	return m.loadState(st)
}
