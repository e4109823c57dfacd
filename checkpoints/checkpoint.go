package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound reports that no checkpoint file exists at the requested path.
var ErrNotFound = errors.New("checkpoint not found")

// IsNotFound reports whether err means a missing checkpoint file.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

// Checkpoint is the durable training record: everything needed to resume a
// run exactly where it stopped.
type Checkpoint struct {
	Epoch     int             `json:"epoch"`
	Arch      string          `json:"arch"`
	StateDict []WeightTensor  `json:"state_dict"`
	BestPrec1 float64         `json:"best_prec1"`
	Optimizer *OptimizerState `json:"optimizer,omitempty"`
	Metadata  Metadata        `json:"metadata"`
}

// WeightTensor is a named model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-internal state (momentum buffers etc.)
// alongside its hyperparameters.
type OptimizerState struct {
	Type       string             `json:"type"` // "SGD", ...
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data,omitempty"`
}

// OptimizerTensor is a named optimizer state buffer.
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", ...
}

// Metadata carries checkpoint provenance.
type Metadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	checkpointSuffix = "checkpoint.json"
	bestSuffix       = "model_best.json"
)

// Store persists checkpoints under a directory with a snapshot-name prefix.
// Save overwrites existing files at the same paths without prompting.
type Store struct {
	dir          string
	snapshotPref string
}

// NewStore creates the save directory if needed and returns a store.
func NewStore(dir, snapshotPref string) (*Store, error) {
	if snapshotPref == "" {
		return nil, fmt.Errorf("snapshot prefix must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint directory %q", dir)
	}
	return &Store{dir: dir, snapshotPref: snapshotPref}, nil
}

// CheckpointPath returns the path of the rolling checkpoint file.
func (s *Store) CheckpointPath() string {
	return filepath.Join(s.dir, s.snapshotPref+"_"+checkpointSuffix)
}

// BestPath returns the path of the best-model checkpoint file.
func (s *Store) BestPath() string {
	return filepath.Join(s.dir, s.snapshotPref+"_"+bestSuffix)
}

// Save serializes the checkpoint to the rolling checkpoint file. When isBest
// is true it additionally copies the just-written file to the best-model
// path, strictly after the primary save has completed. Both writes go
// through a temp file promoted with os.Rename, so a reader never observes a
// partially written checkpoint and a failed write never corrupts the
// previous best.
func (s *Store) Save(ckpt *Checkpoint, isBest bool) error {
	if ckpt.Metadata.Framework == "" {
		ckpt.Metadata.Framework = "VideoNet"
		ckpt.Metadata.Version = "1.0.0"
		ckpt.Metadata.CreatedAt = time.Now()
	}

	data, err := json.Marshal(ckpt)
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}

	if err := s.writeAtomic(s.CheckpointPath(), data); err != nil {
		return err
	}

	if isBest {
		// Byte-for-byte copy of the file just promoted.
		saved, err := os.ReadFile(s.CheckpointPath())
		if err != nil {
			return errors.Wrap(err, "failed to read back checkpoint for best copy")
		}
		if err := s.writeAtomic(s.BestPath(), saved); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".ckpt-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp checkpoint file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to write checkpoint %q", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to close checkpoint %q", path)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to promote checkpoint %q", path)
	}
	return nil
}

// Load reads a checkpoint from path. A missing file yields an error
// satisfying IsNotFound so callers can treat it as non-fatal.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "no checkpoint at %q", path)
		}
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", path)
	}
	defer file.Close()

	var ckpt Checkpoint
	if err := json.NewDecoder(file).Decode(&ckpt); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %q", path)
	}

	return &ckpt, nil
}
