package nn

import (
	"fmt"
	"math/rand"
)

// Conv1D is a 1-D convolution without padding. Input and output batches are
// shaped (batch, channels, length).
type Conv1D struct {
	InChannels  int
	OutChannels int
	Kernel      int
	Stride      int

	Weight *Param // (outC, inC, kernel), row-major
	Bias   *Param // (outC)
}

// Conv1DCache holds the forward input needed by Backward.
type Conv1DCache struct {
	input [][][]float64
}

func NewConv1D(name string, inC, outC, kernel, stride int, rng *rand.Rand) *Conv1D {
	c := &Conv1D{
		InChannels:  inC,
		OutChannels: outC,
		Kernel:      kernel,
		Stride:      stride,
		Weight:      newParam(name+".weight", outC*inC*kernel),
		Bias:        newParam(name+".bias", outC),
	}
	fanIn := inC * kernel
	uniformInit(c.Weight.Data, fanIn, rng)
	uniformInit(c.Bias.Data, fanIn, rng)
	return c
}

// OutLen reports the output length for an input of length n, zero when the
// input is shorter than the kernel.
func (c *Conv1D) OutLen(n int) int {
	if n < c.Kernel {
		return 0
	}
	return (n-c.Kernel)/c.Stride + 1
}

func (c *Conv1D) Forward(x [][][]float64) ([][][]float64, *Conv1DCache, error) {
	if len(x) == 0 || len(x[0]) != c.InChannels {
		return nil, nil, fmt.Errorf("conv1d %s: want %d input channels, got batch of %d x %d", c.Weight.Name, c.InChannels, len(x), channelsOf(x))
	}
	inLen := len(x[0][0])
	outLen := c.OutLen(inLen)
	if outLen == 0 {
		return nil, nil, fmt.Errorf("conv1d %s: input length %d shorter than kernel %d", c.Weight.Name, inLen, c.Kernel)
	}

	out := make([][][]float64, len(x))
	for b := range x {
		out[b] = make([][]float64, c.OutChannels)
		for o := 0; o < c.OutChannels; o++ {
			row := make([]float64, outLen)
			bias := c.Bias.Data[o]
			for t := 0; t < outLen; t++ {
				sum := bias
				start := t * c.Stride
				for i := 0; i < c.InChannels; i++ {
					w := c.Weight.Data[(o*c.InChannels+i)*c.Kernel:]
					in := x[b][i][start : start+c.Kernel]
					for k := 0; k < c.Kernel; k++ {
						sum += w[k] * in[k]
					}
				}
				row[t] = sum
			}
			out[b][o] = row
		}
	}
	return out, &Conv1DCache{input: x}, nil
}

// Backward accumulates weight and bias gradients and returns the gradient
// with respect to the forward input.
func (c *Conv1D) Backward(cache *Conv1DCache, grad [][][]float64) [][][]float64 {
	x := cache.input
	inLen := len(x[0][0])
	outLen := len(grad[0][0])

	dx := make([][][]float64, len(x))
	for b := range x {
		dx[b] = make([][]float64, c.InChannels)
		for i := 0; i < c.InChannels; i++ {
			dx[b][i] = make([]float64, inLen)
		}
		for o := 0; o < c.OutChannels; o++ {
			for t := 0; t < outLen; t++ {
				g := grad[b][o][t]
				if g == 0 {
					continue
				}
				c.Bias.Grad[o] += g
				start := t * c.Stride
				for i := 0; i < c.InChannels; i++ {
					wOff := (o*c.InChannels + i) * c.Kernel
					for k := 0; k < c.Kernel; k++ {
						c.Weight.Grad[wOff+k] += g * x[b][i][start+k]
						dx[b][i][start+k] += g * c.Weight.Data[wOff+k]
					}
				}
			}
		}
	}
	return dx
}

func (c *Conv1D) Params() []*Param {
	return []*Param{c.Weight, c.Bias}
}

func channelsOf(x [][][]float64) int {
	if len(x) == 0 {
		return 0
	}
	return len(x[0])
}
