// Package dataset supplies multi-lead waveform samples to the training loop,
// either streamed from record shards on disk or generated synthetically.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

// Sample is one multi-lead waveform segment with its patient identity.
type Sample struct {
	PatientID string
	Leads     [][]float64 // (lead, sequence)
}

// Batch carries two augmented views of the same samples plus their
// identities, ready for the contrastive forward passes.
type Batch struct {
	View1      [][][]float64 // (batch, lead, sequence)
	View2      [][][]float64
	PatientIDs []string
}

// Augment produces one view of a signal. Augmentation design is owned by the
// caller; GaussianJitter is the default used by the demo pipeline.
type Augment func(leads [][]float64, rng *rand.Rand) [][]float64

// GaussianJitter returns an Augment adding independent noise per sample.
func GaussianJitter(sigma float64) Augment {
	return func(leads [][]float64, rng *rand.Rand) [][]float64 {
		out := make([][]float64, len(leads))
		for l := range leads {
			row := make([]float64, len(leads[l]))
			for t, v := range leads[l] {
				row[t] = v + rng.NormFloat64()*sigma
			}
			out[l] = row
		}
		return out
	}
}

// errBadSample reports a contract violation in incoming data.
var errBadSample = errors.New("dataset: malformed sample")

// Validate checks the lead count and per-lead sequence lengths.
func (s Sample) Validate(wantLeads, wantLen int) error {
	if s.PatientID == "" {
		return fmt.Errorf("%w: empty patient id", errBadSample)
	}
	if len(s.Leads) != wantLeads {
		return fmt.Errorf("%w: %d leads, want %d", errBadSample, len(s.Leads), wantLeads)
	}
	for l := range s.Leads {
		if len(s.Leads[l]) != wantLen {
			return fmt.Errorf("%w: lead %d has %d samples, want %d", errBadSample, l, len(s.Leads[l]), wantLen)
		}
	}
	return nil
}

// Collate assembles a batch by augmenting every sample twice.
func Collate(samples []Sample, aug Augment, rng *rand.Rand) Batch {
	b := Batch{
		View1:      make([][][]float64, len(samples)),
		View2:      make([][][]float64, len(samples)),
		PatientIDs: make([]string, len(samples)),
	}
	for i, s := range samples {
		b.View1[i] = aug(s.Leads, rng)
		b.View2[i] = aug(s.Leads, rng)
		b.PatientIDs[i] = s.PatientID
	}
	return b
}
