package training

import (
	"fmt"
	"sort"

	"github.com/amirunpri2018/VideoNet/tensor"
)

// Accuracy computes the top-k precision for each requested k, as percentages
// in [0, 100]. output is a [batch, classes] Float32 logits tensor and target
// is a [batch] Int32 class-index tensor. A k larger than the class count is
// treated as k = classes. Ties between equal scores resolve to the lower
// class index, so results are deterministic for identical logits.
func Accuracy(output, target *tensor.Tensor, topk []int) ([]float64, error) {
	if output.DType != tensor.Float32 || target.DType != tensor.Int32 {
		return nil, fmt.Errorf("accuracy requires Float32 output and Int32 target")
	}
	if len(output.Shape) != 2 {
		return nil, fmt.Errorf("output must be 2D [batch, classes], got shape %v", output.Shape)
	}
	if len(target.Shape) != 1 {
		return nil, fmt.Errorf("target must be 1D [batch], got shape %v", target.Shape)
	}

	batchSize := output.Shape[0]
	numClasses := output.Shape[1]

	if target.Shape[0] != batchSize {
		return nil, fmt.Errorf("batch size mismatch: output %d, target %d", batchSize, target.Shape[0])
	}
	if len(topk) == 0 {
		return nil, fmt.Errorf("at least one k must be requested")
	}
	for _, k := range topk {
		if k <= 0 {
			return nil, fmt.Errorf("requested k must be positive, got %d", k)
		}
	}

	outputData := output.Data.([]float32)
	targetData := target.Data.([]int32)

	// Rank of the true label within each row's descending score order.
	ranks := make([]int, batchSize)
	indices := make([]int, numClasses)

	for i := 0; i < batchSize; i++ {
		trueClass := targetData[i]
		if trueClass < 0 || int(trueClass) >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", trueClass, numClasses)
		}

		row := outputData[i*numClasses : (i+1)*numClasses]
		for j := range indices {
			indices[j] = j
		}
		sort.SliceStable(indices, func(a, b int) bool {
			return row[indices[a]] > row[indices[b]]
		})

		ranks[i] = numClasses // sentinel, always overwritten below
		for pos, class := range indices {
			if class == int(trueClass) {
				ranks[i] = pos
				break
			}
		}
	}

	results := make([]float64, len(topk))
	for ki, k := range topk {
		if k > numClasses {
			k = numClasses
		}
		correct := 0
		for i := 0; i < batchSize; i++ {
			if ranks[i] < k {
				correct++
			}
		}
		results[ki] = float64(correct) / float64(batchSize) * 100.0
	}

	return results, nil
}
