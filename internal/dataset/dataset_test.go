package dataset

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineSample(id string, leads, seqLen int, seed int64) Sample {
	rng := rand.New(rand.NewSource(seed))
	s := Sample{PatientID: id, Leads: make([][]float64, leads)}
	for l := range s.Leads {
		s.Leads[l] = make([]float64, seqLen)
		for t := range s.Leads[l] {
			s.Leads[l][t] = rng.NormFloat64()
		}
	}
	return s
}

func TestSampleValidate(t *testing.T) {
	s := sineSample("p1", 2, 100, 1)
	assert.NoError(t, s.Validate(2, 100))
	assert.Error(t, s.Validate(3, 100))
	assert.Error(t, s.Validate(2, 101))
	assert.Error(t, Sample{Leads: s.Leads}.Validate(2, 100))
}

func TestCollateTwoViews(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	samples := []Sample{sineSample("p1", 2, 50, 3), sineSample("p2", 2, 50, 4)}

	b := Collate(samples, GaussianJitter(0.1), rng)

	require.Len(t, b.View1, 2)
	require.Len(t, b.View2, 2)
	assert.Equal(t, []string{"p1", "p2"}, b.PatientIDs)
	// views differ because jitter is drawn independently
	assert.NotEqual(t, b.View1[0][0], b.View2[0][0])
	// but stay close to the underlying signal
	for t2 := 0; t2 < 50; t2++ {
		assert.InDelta(t, samples[0].Leads[0][t2], b.View1[0][0][t2], 1)
	}
}

func TestDiscoverShards(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records-000002.ecgshard"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records-000001.ecgshard"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "records-000003.ecgshard"), []byte("x"), 0o644))

	shards, err := DiscoverShards(dir)
	require.NoError(t, err)
	require.Len(t, shards, 3)
	assert.Equal(t, filepath.Join(dir, "records-000001.ecgshard"), shards[0])
}

func TestShardRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records-000001.ecgshard")
	want := []Sample{sineSample("p1", 2, 30, 5), sineSample("p2", 2, 30, 6)}
	require.NoError(t, WriteShard(path, want))

	ctx := context.Background()
	samples, errCh := StreamShard(ctx, path, 4)

	var got []Sample
	for s := range samples {
		got = append(got, s)
	}
	require.NoError(t, <-errCh)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].PatientID, got[0].PatientID)
	assert.Equal(t, want[1].Leads, got[1].Leads)
}

func TestStreamShardMissingFile(t *testing.T) {
	samples, errCh := StreamShard(context.Background(), filepath.Join(t.TempDir(), "absent"), 4)
	for range samples {
	}
	assert.Error(t, <-errCh)
}

func TestSamplerDeliversAcrossRoots(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	p1 := filepath.Join(dir1, "records-000001.ecgshard")
	p2 := filepath.Join(dir2, "records-000001.ecgshard")
	require.NoError(t, WriteShard(p1, []Sample{sineSample("a", 1, 10, 7)}))
	require.NoError(t, WriteShard(p2, []Sample{sineSample("b", 1, 10, 8)}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	samples, errCh, err := StartSampler(ctx, SamplerOptions{
		Roots: map[string][]string{dir1: {p1}, dir2: {p2}},
		Seed:  1,
	})
	require.NoError(t, err)

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case s := <-samples:
			seen[s.PatientID] = true
		case err := <-errCh:
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for samples")
		}
	}
	assert.True(t, seen["a"] && seen["b"])
}

func TestSamplerRejectsEmptyRoots(t *testing.T) {
	_, _, err := StartSampler(context.Background(), SamplerOptions{})
	assert.Error(t, err)

	_, _, err = StartSampler(context.Background(), SamplerOptions{Roots: map[string][]string{"r": {}}})
	assert.Error(t, err)
}

func TestSyntheticPatientCorrelation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := Synthetic{NumPatients: 2, Leads: 2, SeqLen: 64, Noise: 0.01, Seed: 9}
	stream := src.Stream(ctx)

	byPatient := map[string][]Sample{}
	for i := 0; i < 40; i++ {
		s := <-stream
		require.NoError(t, s.Validate(2, 64))
		byPatient[s.PatientID] = append(byPatient[s.PatientID], s)
	}
	// with 40 draws over 2 patients both sides appear
	require.Len(t, byPatient, 2)

	// same-patient samples share the underlying rhythm up to noise
	for _, group := range byPatient {
		if len(group) < 2 {
			continue
		}
		for t2 := 0; t2 < 64; t2++ {
			assert.InDelta(t, group[0].Leads[0][t2], group[1].Leads[0][t2], 0.2)
		}
	}
}
