// Package checkpoint persists training snapshots: epoch, architecture tag,
// named model state groups and optimizer state.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/optim"
)

// Snapshot is the serialized training state.
type Snapshot struct {
	Epoch     int
	Arch      string
	States    map[string]map[string][]float64
	Optimizer optim.State
}

// Filename encodes the epoch index and the lead-grouping marker.
func Filename(epoch int, leadGroupings bool) string {
	marker := ""
	if leadGroupings {
		marker = "_lead_groupings"
	}
	return fmt.Sprintf("checkpoint%s_%04d.ckpt", marker, epoch)
}

// Save writes the snapshot atomically (temp file then rename) into dir.
// A failed attempt is retried once; the second failure is returned for the
// caller to log, never swallowed.
func Save(dir string, snap *Snapshot, leadGroupings bool) (string, error) {
	path := filepath.Join(dir, Filename(snap.Epoch, leadGroupings))
	err := write(path, snap)
	if err != nil {
		time.Sleep(100 * time.Millisecond)
		err = write(path, snap)
	}
	if err != nil {
		return "", fmt.Errorf("checkpoint: save %s: %w", path, err)
	}
	return path, nil
}

func write(path string, snap *Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a snapshot written by Save.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer f.Close()

	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}
	return &snap, nil
}
