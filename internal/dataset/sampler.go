package dataset

import (
	"context"
	"errors"
	"math/rand"
	"sort"
)

// SamplerOptions configures the multi-root shard sampler.
type SamplerOptions struct {
	Roots      map[string][]string
	Seed       int64
	NumWorkers int
	PendingCap int
}

// StartSampler launches the shard sampling pipeline. A scheduler shuffles
// each root's shards, interleaves the roots round-robin and opens shard
// streams ahead of the consumer; NumWorkers bounds how many decoders run
// concurrently. Samples are emitted in shard order and the stream repeats
// indefinitely; the training loop bounds consumption by steps per epoch.
// The error channel delivers at most one value.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Sample, <-chan error, error) {
	if len(opts.Roots) == 0 {
		return nil, nil, errors.New("sampler: no dataset roots provided")
	}
	total := 0
	for _, shards := range opts.Roots {
		total += len(shards)
	}
	if total == 0 {
		return nil, nil, errors.New("sampler: no shards discovered")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	ctx, cancel := context.WithCancel(parent)

	streams := make(chan shardStream, opts.NumWorkers)
	out := make(chan Sample, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	go schedule(ctx, streams, opts)

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		drain(ctx, streams, out, errCh)
	}()

	return out, errCh, nil
}

// shardStream is one opened shard: its decoded samples plus the decoder's
// terminal error.
type shardStream struct {
	path    string
	samples <-chan Sample
	errs    <-chan error
}

// schedule opens shard streams pass after pass. Sends into the bounded
// streams channel provide the backpressure that caps concurrent decoders.
func schedule(ctx context.Context, streams chan<- shardStream, opts SamplerOptions) {
	defer close(streams)
	rng := rand.New(rand.NewSource(opts.Seed))
	for {
		for _, path := range interleave(opts.Roots, rng) {
			samples, errs := StreamShard(ctx, path, opts.PendingCap)
			select {
			case <-ctx.Done():
				return
			case streams <- shardStream{path: path, samples: samples, errs: errs}:
			}
		}
	}
}

// drain forwards samples shard by shard, preserving shard order, and stops
// the pipeline on the first decode failure.
func drain(ctx context.Context, streams <-chan shardStream, out chan<- Sample, errCh chan<- error) {
	for {
		var st shardStream
		select {
		case <-ctx.Done():
			return
		case s, ok := <-streams:
			if !ok {
				return
			}
			st = s
		}

		for sample := range st.samples {
			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
		if err := <-st.errs; err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			return
		}
	}
}

// interleave shuffles each root's shard list and merges the roots
// round-robin, so one pass visits every shard while alternating roots.
func interleave(roots map[string][]string, rng *rand.Rand) []string {
	names := make([]string, 0, len(roots))
	for root := range roots {
		names = append(names, root)
	}
	sort.Strings(names)

	queues := make([][]string, len(names))
	longest := 0
	for i, root := range names {
		q := append([]string(nil), roots[root]...)
		rng.Shuffle(len(q), func(a, b int) { q[a], q[b] = q[b], q[a] })
		queues[i] = q
		if len(q) > longest {
			longest = len(q)
		}
	}

	order := make([]string, 0, longest*len(names))
	for round := 0; round < longest; round++ {
		for _, q := range queues {
			if round < len(q) {
				order = append(order, q[round])
			}
		}
	}
	return order
}
