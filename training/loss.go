package training

import (
	"fmt"
	"math"

	"github.com/amirunpri2018/VideoNet/tensor"
)

// Criterion is a loss function over [batch, classes] Float32 predictions and
// [batch] Int32 class targets. Backward returns the gradient of the loss
// with respect to the predictions.
type Criterion interface {
	Forward(predicted, target *tensor.Tensor) (float64, error)
	Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

// NewCriterion resolves a loss-type name to a criterion. The legacy trainer
// registered cross-entropy under the name "nll"; unknown names are an error
// the caller must treat as fatal before any resource allocation.
func NewCriterion(lossType string) (Criterion, error) {
	switch lossType {
	case "nll":
		return NewCrossEntropyLoss("mean"), nil
	default:
		return nil, fmt.Errorf("unknown loss type %q", lossType)
	}
}

// CrossEntropyLoss implements softmax cross-entropy over raw logits.
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a cross-entropy criterion.
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Forward computes the cross-entropy loss.
func (ce *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (float64, error) {
	batchSize, numClasses, err := ce.validate(predicted, target)
	if err != nil {
		return 0, err
	}

	probs := softmaxRows(predicted.Data.([]float32), batchSize, numClasses)
	targetData := target.Data.([]int32)

	var totalLoss float64
	for i := 0; i < batchSize; i++ {
		trueClass := targetData[i]
		if trueClass < 0 || int(trueClass) >= numClasses {
			return 0, fmt.Errorf("target class %d out of range [0, %d)", trueClass, numClasses)
		}

		prob := float64(probs[i*numClasses+int(trueClass)])
		// Guard against log(0).
		if prob < 1e-10 {
			prob = 1e-10
		}
		totalLoss += -math.Log(prob)
	}

	if ce.reduction == "mean" {
		totalLoss /= float64(batchSize)
	}

	return totalLoss, nil
}

// Backward computes the gradient of the loss with respect to the logits:
// softmax(logits) minus the one-hot target, scaled by the reduction.
func (ce *CrossEntropyLoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, numClasses, err := ce.validate(predicted, target)
	if err != nil {
		return nil, err
	}

	grad := softmaxRows(predicted.Data.([]float32), batchSize, numClasses)
	targetData := target.Data.([]int32)

	for i := 0; i < batchSize; i++ {
		trueClass := targetData[i]
		if trueClass < 0 || int(trueClass) >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", trueClass, numClasses)
		}
		grad[i*numClasses+int(trueClass)] -= 1.0
	}

	if ce.reduction == "mean" {
		scale := float32(1.0 / float64(batchSize))
		for i := range grad {
			grad[i] *= scale
		}
	}

	return tensor.NewTensor([]int{batchSize, numClasses}, tensor.Float32, grad)
}

func (ce *CrossEntropyLoss) validate(predicted, target *tensor.Tensor) (int, int, error) {
	if predicted.DType != tensor.Float32 || target.DType != tensor.Int32 {
		return 0, 0, fmt.Errorf("predicted must be Float32 and target must be Int32")
	}
	if len(predicted.Shape) != 2 {
		return 0, 0, fmt.Errorf("predicted must be 2D [batch, classes], got shape %v", predicted.Shape)
	}
	if len(target.Shape) != 1 {
		return 0, 0, fmt.Errorf("target must be 1D [batch], got shape %v", target.Shape)
	}

	batchSize := predicted.Shape[0]
	if target.Shape[0] != batchSize {
		return 0, 0, fmt.Errorf("batch size mismatch: predicted %d, target %d", batchSize, target.Shape[0])
	}

	return batchSize, predicted.Shape[1], nil
}

// softmaxRows applies a numerically stable softmax to each row of a
// [rows, cols] matrix stored flat, returning a new slice.
func softmaxRows(data []float32, rows, cols int) []float32 {
	result := make([]float32, len(data))

	for i := 0; i < rows; i++ {
		offset := i * cols

		maxVal := data[offset]
		for j := 1; j < cols; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}

		var sum float32
		for j := 0; j < cols; j++ {
			exp := float32(math.Exp(float64(data[offset+j] - maxVal)))
			result[offset+j] = exp
			sum += exp
		}

		for j := 0; j < cols; j++ {
			result[offset+j] /= sum
		}
	}

	return result
}
