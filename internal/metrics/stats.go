package metrics

import "time"

// Window accumulates per-step timing stats between log emissions.
type Window struct {
	steps     int
	samples   int
	dataMS    float64
	computeMS float64
	lastLoss  float64
}

// Record adds one training step to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.steps++
	w.samples += batchSize
	w.dataMS += float64(dataTime.Microseconds()) / 1000
	w.computeMS += float64(computeTime.Microseconds()) / 1000
	w.lastLoss = loss
}

// Snapshot returns aggregated stats and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{LastLoss: w.lastLoss}
	if totalMS := w.dataMS + w.computeMS; totalMS > 0 {
		snap.SamplesPerSec = float64(w.samples) * 1000 / totalMS
	}
	if w.steps > 0 {
		snap.AvgDataMS = w.dataMS / float64(w.steps)
		snap.AvgComputeMS = w.computeMS / float64(w.steps)
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable throughput metrics.
type Snapshot struct {
	SamplesPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
	LastLoss      float64
}
