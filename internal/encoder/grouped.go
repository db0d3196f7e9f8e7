package encoder

import (
	"fmt"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/nn"
)

// Grouped splits the lead set across two independent ConvNets. Leads
// [0, Split) go through the first sub-model, the rest through the second;
// per-group embeddings are concatenated along the view axis. Checkpoints
// store the two sub-models under separate state groups.
type Grouped struct {
	G1    *ConvNet
	G2    *ConvNet
	Split int
}

type groupedTrace struct {
	t1, t2 Trace
	v1, v2 int // head view counts per group
}

func (*groupedTrace) trace() {}

// NewGrouped builds the two sub-models with distinct seeds.
func NewGrouped(cfg Config, split int) (*Grouped, error) {
	if cfg.Classification {
		return nil, fmt.Errorf("encoder: lead groupings require the projection head")
	}
	if split <= 0 {
		return nil, fmt.Errorf("encoder: lead grouping split must be positive, got %d", split)
	}
	cfg2 := cfg
	cfg2.Seed = cfg.Seed + 1
	return &Grouped{
		G1:    New(cfg),
		G2:    New(cfg2),
		Split: split,
	}, nil
}

func (g *Grouped) Forward(x [][][]float64, training bool) ([][][]float64, Trace, error) {
	if len(x) == 0 {
		return nil, nil, fmt.Errorf("encoder: empty batch")
	}
	views := len(x[0])
	if views <= g.Split {
		return nil, nil, fmt.Errorf("encoder: %d views cannot split at lead %d", views, g.Split)
	}

	x1 := make([][][]float64, len(x))
	x2 := make([][][]float64, len(x))
	for b := range x {
		x1[b] = x[b][:g.Split]
		x2[b] = x[b][g.Split:]
	}

	o1, t1, err := g.G1.Forward(x1, training)
	if err != nil {
		return nil, nil, err
	}
	o2, t2, err := g.G2.Forward(x2, training)
	if err != nil {
		return nil, nil, err
	}

	out := make([][][]float64, len(x))
	for b := range out {
		out[b] = append(append([][]float64{}, o1[b]...), o2[b]...)
	}
	return out, &groupedTrace{t1: t1, t2: t2, v1: len(o1[0]), v2: len(o2[0])}, nil
}

func (g *Grouped) Backward(trace Trace, grad [][][]float64) error {
	tr, ok := trace.(*groupedTrace)
	if !ok {
		return fmt.Errorf("encoder: trace does not belong to this model")
	}
	g1 := make([][][]float64, len(grad))
	g2 := make([][][]float64, len(grad))
	for b := range grad {
		g1[b] = grad[b][:tr.v1]
		g2[b] = grad[b][tr.v1 : tr.v1+tr.v2]
	}
	if err := g.G1.Backward(tr.t1, g1); err != nil {
		return err
	}
	return g.G2.Backward(tr.t2, g2)
}

func (g *Grouped) Params() []*nn.Param {
	return append(g.G1.Params(), g.G2.Params()...)
}

func (g *Grouped) States() map[string]map[string][]float64 {
	return map[string]map[string][]float64{
		"model_g1": g.G1.state(),
		"model_g2": g.G2.state(),
	}
}

func (g *Grouped) LoadStates(states map[string]map[string][]float64) error {
	for name, sub := range map[string]*ConvNet{"model_g1": g.G1, "model_g2": g.G2} {
		st, ok := states[name]
		if !ok {
			return fmt.Errorf("encoder: states missing group %q", name)
		}
		if err := sub.loadState(st); err != nil {
			return err
		}
	}
	return nil
}
