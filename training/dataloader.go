package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/amirunpri2018/VideoNet/tensor"
)

// Dataset produces one clip per index: a [segments, channels, height, width]
// Float32 tensor, its class label, and a clip identifier.
type Dataset interface {
	Len() int
	Get(idx int) (clip *tensor.Tensor, label int32, name string, err error)
}

// Batch is one training unit: a stacked [batch, segments, channels, height,
// width] clip tensor, [batch] Int32 labels, and per-clip names. Names are
// carried through but unused by the core loop.
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
	Names  []string
}

// DataLoader batches a dataset with optional shuffling and parallel sample
// loading. It is restartable: Reset begins a new epoch over the full
// dataset.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	rng        *rand.Rand
	indices    []int
	position   int
	mutex      sync.Mutex
}

// NewDataLoader creates a data loader. numWorkers bounds the number of
// goroutines loading samples within a batch; values below 1 mean serial
// loading.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, numWorkers int) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset must not be nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		numWorkers: numWorkers,
		rng:        rand.New(rand.NewSource(rand.Int63())),
		indices:    indices,
	}, nil
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset starts a new epoch, reshuffling if configured.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext reports whether the current epoch has more batches.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Next returns the next batch, or nil at the end of the epoch.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	if dl.position >= len(dl.indices) {
		dl.mutex.Unlock()
		return nil, nil
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := append([]int{}, dl.indices[dl.position:batchEnd]...)
	dl.position = batchEnd
	dl.mutex.Unlock()

	return dl.loadBatch(batchIndices)
}

type loadedSample struct {
	clip  *tensor.Tensor
	label int32
	name  string
	err   error
}

// loadBatch loads the samples for the given indices, in parallel when
// workers are configured, and stacks them into one 5-D batch tensor.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	samples := make([]loadedSample, len(indices))

	if dl.numWorkers > 1 {
		var wg sync.WaitGroup
		sem := make(chan struct{}, dl.numWorkers)
		for i, idx := range indices {
			wg.Add(1)
			go func(slot, sampleIdx int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				clip, label, name, err := dl.dataset.Get(sampleIdx)
				samples[slot] = loadedSample{clip: clip, label: label, name: name, err: err}
			}(i, idx)
		}
		wg.Wait()
	} else {
		for i, idx := range indices {
			clip, label, name, err := dl.dataset.Get(idx)
			samples[i] = loadedSample{clip: clip, label: label, name: name, err: err}
		}
	}

	for i, s := range samples {
		if s.err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", indices[i], s.err)
		}
	}

	first := samples[0].clip
	if len(first.Shape) != 4 {
		return nil, fmt.Errorf("dataset clip must be 4D [segments, channels, height, width], got shape %v", first.Shape)
	}

	batchSize := len(samples)
	clipSize := first.NumElems
	batchData := make([]float32, batchSize*clipSize)
	labels := make([]int32, batchSize)
	names := make([]string, batchSize)

	for i, s := range samples {
		if !s.clip.ShapeEquals(first.Shape) {
			return nil, fmt.Errorf("clip shape mismatch within batch: %v vs %v", first.Shape, s.clip.Shape)
		}
		copy(batchData[i*clipSize:(i+1)*clipSize], s.clip.Data.([]float32))
		labels[i] = s.label
		names[i] = s.name
	}

	dataShape := append([]int{batchSize}, first.Shape...)
	data, err := tensor.NewTensor(dataShape, tensor.Float32, batchData)
	if err != nil {
		return nil, fmt.Errorf("failed to build batch tensor: %v", err)
	}
	labelTensor, err := tensor.NewTensor([]int{batchSize}, tensor.Int32, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to build label tensor: %v", err)
	}

	return &Batch{Data: data, Labels: labelTensor, Names: names}, nil
}

// Iterate runs fn over every batch of one epoch, resetting first. Iteration
// stops at the first error.
func (dl *DataLoader) Iterate(fn func(i int, batch *Batch) error) error {
	dl.Reset()
	for i := 0; dl.HasNext(); i++ {
		batch, err := dl.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		if err := fn(i, batch); err != nil {
			return err
		}
	}
	return nil
}
