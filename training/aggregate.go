package training

import (
	"fmt"
	"math"

	"github.com/amirunpri2018/VideoNet/tensor"
)

// SegmentAggregator runs the model independently over each temporal segment
// of a clip batch and fuses the per-segment logits into one prediction per
// clip.
//
// The two passes deliberately do not share one aggregation rule, matching
// the legacy trainer this system replaces: ForwardTrain averages per-segment
// logits and then applies log-softmax before the loss, while ForwardEval
// returns the raw averaged logits with no extra normalization. Callers that
// want a unified policy must change both sites together.
type SegmentAggregator struct {
	model       Module
	numSegments int

	// Cached by ForwardTrain for the matching BackwardTrain call.
	segments []*tensor.Tensor
	logProbs *tensor.Tensor
}

// NewSegmentAggregator creates an aggregator for the configured segment
// count.
func NewSegmentAggregator(model Module, numSegments int) (*SegmentAggregator, error) {
	if model == nil {
		return nil, fmt.Errorf("model must not be nil")
	}
	if numSegments <= 0 {
		return nil, fmt.Errorf("segment count must be positive, got %d", numSegments)
	}
	return &SegmentAggregator{model: model, numSegments: numSegments}, nil
}

// NumSegments returns the configured segment count.
func (sa *SegmentAggregator) NumSegments() int {
	return sa.numSegments
}

// splitSegments validates a [batch, segments, channels, height, width] input
// against the configured segment count and returns one [batch, channels,
// height, width] tensor per segment. A mismatched segment axis is an error,
// never a silent reshape.
func (sa *SegmentAggregator) splitSegments(input *tensor.Tensor) ([]*tensor.Tensor, error) {
	if input.DType != tensor.Float32 {
		return nil, fmt.Errorf("input must be Float32, got %s", input.DType)
	}
	if len(input.Shape) != 5 {
		return nil, fmt.Errorf("input must be 5D [batch, segments, channels, height, width], got shape %v", input.Shape)
	}
	if input.Shape[1] != sa.numSegments {
		return nil, fmt.Errorf("segment count mismatch: configured %d, batch has %d", sa.numSegments, input.Shape[1])
	}

	batchSize := input.Shape[0]
	frameShape := []int{batchSize, input.Shape[2], input.Shape[3], input.Shape[4]}
	frameSize := input.Shape[2] * input.Shape[3] * input.Shape[4]
	clipSize := sa.numSegments * frameSize

	data := input.Data.([]float32)
	segments := make([]*tensor.Tensor, sa.numSegments)

	for s := 0; s < sa.numSegments; s++ {
		segData := make([]float32, batchSize*frameSize)
		for b := 0; b < batchSize; b++ {
			src := data[b*clipSize+s*frameSize : b*clipSize+(s+1)*frameSize]
			copy(segData[b*frameSize:(b+1)*frameSize], src)
		}

		seg, err := tensor.NewTensor(frameShape, tensor.Float32, segData)
		if err != nil {
			return nil, fmt.Errorf("failed to build segment %d: %v", s, err)
		}
		segments[s] = seg
	}

	return segments, nil
}

// meanLogits runs the model over each segment and returns the elementwise
// mean of the per-segment logits, along with the segments for backward use.
func (sa *SegmentAggregator) meanLogits(input *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error) {
	segments, err := sa.splitSegments(input)
	if err != nil {
		return nil, nil, err
	}

	var fused []float32
	var outShape []int

	for s, seg := range segments {
		output, err := sa.model.Forward(seg)
		if err != nil {
			return nil, nil, fmt.Errorf("forward pass failed for segment %d: %v", s, err)
		}
		if len(output.Shape) != 2 {
			return nil, nil, fmt.Errorf("model output must be 2D [batch, classes], got shape %v", output.Shape)
		}

		outData := output.Data.([]float32)
		if fused == nil {
			outShape = append([]int{}, output.Shape...)
			fused = make([]float32, len(outData))
		} else if !output.ShapeEquals(outShape) {
			return nil, nil, fmt.Errorf("inconsistent model output shapes: %v vs %v", outShape, output.Shape)
		}

		for i, v := range outData {
			fused[i] += v
		}
	}

	scale := float32(1.0 / float64(sa.numSegments))
	for i := range fused {
		fused[i] *= scale
	}

	mean, err := tensor.NewTensor(outShape, tensor.Float32, fused)
	if err != nil {
		return nil, nil, err
	}
	return mean, segments, nil
}

// ForwardTrain fuses per-segment logits by elementwise mean and applies
// log-softmax, producing [batch, classes] log-probabilities for the loss.
// The segments are retained for the matching BackwardTrain call.
func (sa *SegmentAggregator) ForwardTrain(input *tensor.Tensor) (*tensor.Tensor, error) {
	mean, segments, err := sa.meanLogits(input)
	if err != nil {
		return nil, err
	}

	logProbs, err := LogSoftmax(mean)
	if err != nil {
		return nil, err
	}

	sa.segments = segments
	sa.logProbs = logProbs
	return logProbs, nil
}

// BackwardTrain propagates the loss gradient through the log-softmax and the
// segment mean, then accumulates model parameter gradients once per segment.
// It must follow a ForwardTrain call on the same batch.
func (sa *SegmentAggregator) BackwardTrain(gradOutput *tensor.Tensor) error {
	if sa.segments == nil || sa.logProbs == nil {
		return fmt.Errorf("BackwardTrain called without a preceding ForwardTrain")
	}
	if !gradOutput.ShapeEquals(sa.logProbs.Shape) {
		return fmt.Errorf("gradient shape mismatch: expected %v, got %v", sa.logProbs.Shape, gradOutput.Shape)
	}

	gradMean, err := logSoftmaxBackward(gradOutput, sa.logProbs)
	if err != nil {
		return err
	}

	// d(mean)/d(segment logits) is 1/numSegments for every segment.
	scale := float32(1.0 / float64(sa.numSegments))
	gradData := gradMean.Data.([]float32)
	segGradData := make([]float32, len(gradData))
	for i, g := range gradData {
		segGradData[i] = g * scale
	}
	segGrad, err := tensor.NewTensor(gradMean.Shape, tensor.Float32, segGradData)
	if err != nil {
		return err
	}

	for s, seg := range sa.segments {
		if err := sa.model.Backward(seg, segGrad); err != nil {
			return fmt.Errorf("backward pass failed for segment %d: %v", s, err)
		}
	}

	sa.segments = nil
	sa.logProbs = nil
	return nil
}

// ForwardEval fuses per-segment logits by elementwise mean and returns them
// raw: unlike the training pass there is no log-softmax step, so evaluation
// loss is computed on unnormalized averaged logits (legacy behavior,
// preserved intentionally).
func (sa *SegmentAggregator) ForwardEval(input *tensor.Tensor) (*tensor.Tensor, error) {
	mean, _, err := sa.meanLogits(input)
	if err != nil {
		return nil, err
	}
	return mean, nil
}

// LogSoftmax applies a numerically stable log-softmax to each row of a
// [batch, classes] tensor.
func LogSoftmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if logits.DType != tensor.Float32 {
		return nil, fmt.Errorf("log-softmax requires a Float32 tensor, got %s", logits.DType)
	}
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("log-softmax requires a 2D tensor, got shape %v", logits.Shape)
	}

	rows := logits.Shape[0]
	cols := logits.Shape[1]
	data := logits.Data.([]float32)
	result := make([]float32, len(data))

	for i := 0; i < rows; i++ {
		offset := i * cols

		maxVal := data[offset]
		for j := 1; j < cols; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}

		var sum float64
		for j := 0; j < cols; j++ {
			sum += math.Exp(float64(data[offset+j] - maxVal))
		}
		logSum := float32(math.Log(sum)) + maxVal

		for j := 0; j < cols; j++ {
			result[offset+j] = data[offset+j] - logSum
		}
	}

	return tensor.NewTensor(logits.Shape, tensor.Float32, result)
}

// logSoftmaxBackward computes the input gradient of log-softmax given the
// output gradient and the forward output (log-probabilities):
// grad_in = grad_out - softmax(in) * rowsum(grad_out).
func logSoftmaxBackward(gradOutput, logProbs *tensor.Tensor) (*tensor.Tensor, error) {
	rows := logProbs.Shape[0]
	cols := logProbs.Shape[1]

	gradOut := gradOutput.Data.([]float32)
	lp := logProbs.Data.([]float32)
	result := make([]float32, len(gradOut))

	for i := 0; i < rows; i++ {
		offset := i * cols

		var rowSum float64
		for j := 0; j < cols; j++ {
			rowSum += float64(gradOut[offset+j])
		}

		for j := 0; j < cols; j++ {
			softmax := math.Exp(float64(lp[offset+j]))
			result[offset+j] = gradOut[offset+j] - float32(softmax*rowSum)
		}
	}

	return tensor.NewTensor(logProbs.Shape, tensor.Float32, result)
}
