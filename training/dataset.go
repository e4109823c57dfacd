package training

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amirunpri2018/VideoNet/tensor"
)

// ClipShape describes the per-segment frame geometry a dataset produces.
type ClipShape struct {
	Segments int
	Channels int
	Height   int
	Width    int
}

func (cs ClipShape) frameSize() int {
	return cs.Channels * cs.Height * cs.Width
}

func (cs ClipShape) validate() error {
	if cs.Segments <= 0 || cs.Channels <= 0 || cs.Height <= 0 || cs.Width <= 0 {
		return fmt.Errorf("clip shape dimensions must be positive: %+v", cs)
	}
	return nil
}

// ListDataset reads a split list file where each line is
//
//	<clip-dir> <num-frames> <label>
//
// and loads preprocessed frames from <clip-dir>/frame_NNNNN.f32: raw
// little-endian float32 planes of channels*height*width values, already
// resized and normalized upstream. Get samples Segments frames at evenly
// spaced positions across the clip.
type ListDataset struct {
	root  string
	shape ClipShape
	clips []listEntry
}

type listEntry struct {
	dir       string
	numFrames int
	label     int32
}

// NewListDataset parses the list file. Paths in the list are resolved
// relative to root unless absolute.
func NewListDataset(root, listPath string, shape ClipShape) (*ListDataset, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}

	file, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open list file %q: %v", listPath, err)
	}
	defer file.Close()

	ds := &ListDataset{root: root, shape: shape}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected 'dir frames label', got %q", listPath, lineNo, line)
		}

		numFrames, err := strconv.Atoi(fields[1])
		if err != nil || numFrames <= 0 {
			return nil, fmt.Errorf("%s:%d: invalid frame count %q", listPath, lineNo, fields[1])
		}
		label, err := strconv.Atoi(fields[2])
		if err != nil || label < 0 {
			return nil, fmt.Errorf("%s:%d: invalid label %q", listPath, lineNo, fields[2])
		}

		ds.clips = append(ds.clips, listEntry{
			dir:       fields[0],
			numFrames: numFrames,
			label:     int32(label),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list file %q: %v", listPath, err)
	}

	return ds, nil
}

// Len returns the number of clips.
func (ds *ListDataset) Len() int {
	return len(ds.clips)
}

// Get loads the clip at idx as a [segments, channels, height, width] tensor.
func (ds *ListDataset) Get(idx int) (*tensor.Tensor, int32, string, error) {
	if idx < 0 || idx >= len(ds.clips) {
		return nil, 0, "", fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.clips))
	}

	entry := ds.clips[idx]
	dir := entry.dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(ds.root, dir)
	}

	frameSize := ds.shape.frameSize()
	data := make([]float32, ds.shape.Segments*frameSize)

	for s := 0; s < ds.shape.Segments; s++ {
		frameIdx := segmentFrameIndex(s, ds.shape.Segments, entry.numFrames)
		framePath := filepath.Join(dir, fmt.Sprintf("frame_%05d.f32", frameIdx+1))

		if err := readFrame(framePath, data[s*frameSize:(s+1)*frameSize]); err != nil {
			return nil, 0, "", fmt.Errorf("clip %q segment %d: %v", entry.dir, s, err)
		}
	}

	clip, err := tensor.NewTensor(
		[]int{ds.shape.Segments, ds.shape.Channels, ds.shape.Height, ds.shape.Width},
		tensor.Float32, data)
	if err != nil {
		return nil, 0, "", err
	}

	return clip, entry.label, entry.dir, nil
}

// segmentFrameIndex picks the center frame of segment s when the clip is
// divided into numSegments equal spans.
func segmentFrameIndex(s, numSegments, numFrames int) int {
	span := float64(numFrames) / float64(numSegments)
	idx := int(span*float64(s) + span/2)
	if idx >= numFrames {
		idx = numFrames - 1
	}
	return idx
}

func readFrame(path string, dst []float32) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open frame %q: %v", path, err)
	}
	defer file.Close()

	if err := binary.Read(bufio.NewReader(file), binary.LittleEndian, dst); err != nil {
		return fmt.Errorf("failed to read frame %q: %v", path, err)
	}
	return nil
}

// RandomClipDataset generates random clips, for tests and smoke runs.
type RandomClipDataset struct {
	size       int
	shape      ClipShape
	numClasses int
	seed       int64
}

// NewRandomClipDataset creates a deterministic random dataset. Samples are
// generated from the seed and the index, so repeated Get calls for the same
// index return identical data.
func NewRandomClipDataset(size int, shape ClipShape, numClasses int, seed int64) (*RandomClipDataset, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("dataset size must be positive, got %d", size)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("class count must be positive, got %d", numClasses)
	}
	return &RandomClipDataset{
		size:       size,
		shape:      shape,
		numClasses: numClasses,
		seed:       seed,
	}, nil
}

// Len returns the dataset size.
func (rd *RandomClipDataset) Len() int {
	return rd.size
}

// Get generates the clip at idx.
func (rd *RandomClipDataset) Get(idx int) (*tensor.Tensor, int32, string, error) {
	if idx < 0 || idx >= rd.size {
		return nil, 0, "", fmt.Errorf("index %d out of range [0, %d)", idx, rd.size)
	}

	// Per-index source keeps samples stable across epochs.
	src := rand.New(rand.NewSource(rd.seed + int64(idx)))

	numElems := rd.shape.Segments * rd.shape.frameSize()
	data := make([]float32, numElems)
	for i := range data {
		data[i] = src.Float32()*2 - 1
	}

	clip, err := tensor.NewTensor(
		[]int{rd.shape.Segments, rd.shape.Channels, rd.shape.Height, rd.shape.Width},
		tensor.Float32, data)
	if err != nil {
		return nil, 0, "", err
	}

	label := int32(src.Intn(rd.numClasses))
	return clip, label, fmt.Sprintf("random_%05d", idx), nil
}
