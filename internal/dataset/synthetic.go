package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// Synthetic generates patient-correlated waveform samples: every patient
// owns a base rhythm (frequency, phase, amplitude per lead) and each sample
// is that rhythm plus noise, so same-patient samples are genuine positives.
type Synthetic struct {
	NumPatients int
	Leads       int
	SeqLen      int
	Noise       float64
	Seed        int64
}

type patientRhythm struct {
	freq  []float64
	phase []float64
	amp   []float64
}

// Stream emits samples until the context is cancelled.
func (s Synthetic) Stream(ctx context.Context) <-chan Sample {
	out := make(chan Sample, 8)
	go func() {
		defer close(out)
		rng := rand.New(rand.NewSource(s.Seed))
		rhythms := s.buildRhythms(rng)
		for {
			p := rng.Intn(s.NumPatients)
			sample := s.sample(rhythms[p], fmt.Sprintf("p%03d", p), rng)
			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
	}()
	return out
}

func (s Synthetic) buildRhythms(rng *rand.Rand) []patientRhythm {
	rhythms := make([]patientRhythm, s.NumPatients)
	for p := range rhythms {
		r := patientRhythm{
			freq:  make([]float64, s.Leads),
			phase: make([]float64, s.Leads),
			amp:   make([]float64, s.Leads),
		}
		for l := 0; l < s.Leads; l++ {
			r.freq[l] = 0.5 + rng.Float64()*2.5 // beats per second-ish
			r.phase[l] = rng.Float64() * 2 * math.Pi
			r.amp[l] = 0.5 + rng.Float64()
		}
		rhythms[p] = r
	}
	return rhythms
}

func (s Synthetic) sample(r patientRhythm, id string, rng *rand.Rand) Sample {
	leads := make([][]float64, s.Leads)
	for l := 0; l < s.Leads; l++ {
		row := make([]float64, s.SeqLen)
		w := 2 * math.Pi * r.freq[l] / float64(s.SeqLen)
		for t := range row {
			row[t] = r.amp[l]*math.Sin(w*float64(t)+r.phase[l]) + rng.NormFloat64()*s.Noise
		}
		leads[l] = row
	}
	return Sample{PatientID: id, Leads: leads}
}
