package dataset

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
)

const defaultPendingCap = 64

// WriteShard serializes samples as a gob stream. Used by export tooling and
// tests; the trainer only reads shards.
func WriteShard(path string, samples []Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write shard: %w", err)
	}
	enc := gob.NewEncoder(f)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			f.Close()
			return fmt.Errorf("write shard %s: %w", path, err)
		}
	}
	return f.Close()
}

// StreamShard decodes a shard sample by sample. The error channel delivers
// at most one value after the sample channel closes; nil means the shard was
// read to the end.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample, pendingCap)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("stream shard: %w", err)
			return
		}
		defer f.Close()

		dec := gob.NewDecoder(f)
		for {
			var s Sample
			if err := dec.Decode(&s); err != nil {
				if errors.Is(err, io.EOF) {
					errCh <- nil
					return
				}
				errCh <- fmt.Errorf("stream shard %s: %w", path, err)
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- s:
			}
		}
	}()

	return out, errCh
}
