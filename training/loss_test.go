package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCriterion(t *testing.T) {
	criterion, err := NewCriterion("nll")
	require.NoError(t, err)
	assert.IsType(t, &CrossEntropyLoss{}, criterion)

	_, err = NewCriterion("hinge")
	assert.Error(t, err)
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	// Uniform logits give loss = log(numClasses) regardless of target.
	ce := NewCrossEntropyLoss("mean")

	output := logitsTensor(t, [][]float32{
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	})
	target := labelTensor(t, []int32{1, 3})

	loss, err := ce.Forward(output, target)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), loss, 1e-6)
}

func TestCrossEntropyConfidentPrediction(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	output := logitsTensor(t, [][]float32{{20, 0, 0}})
	target := labelTensor(t, []int32{0})

	loss, err := ce.Forward(output, target)
	require.NoError(t, err)
	assert.Less(t, loss, 1e-6)

	wrong := labelTensor(t, []int32{2})
	wrongLoss, err := ce.Forward(output, wrong)
	require.NoError(t, err)
	assert.Greater(t, wrongLoss, 10.0)
}

func TestCrossEntropyBackward(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	output := logitsTensor(t, [][]float32{
		{1, 2, 3},
		{0, 0, 0},
	})
	target := labelTensor(t, []int32{2, 0})

	grad, err := ce.Backward(output, target)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, grad.Shape)

	data := grad.Data.([]float32)

	// Each row of softmax - onehot sums to zero.
	for i := 0; i < 2; i++ {
		var rowSum float64
		for j := 0; j < 3; j++ {
			rowSum += float64(data[i*3+j])
		}
		assert.InDelta(t, 0, rowSum, 1e-6)
	}

	// The true-class entry is negative, the rest positive.
	assert.Negative(t, data[0*3+2])
	assert.Positive(t, data[0*3+0])
	assert.Negative(t, data[1*3+0])
}

func TestCrossEntropyBackwardMatchesNumericalGradient(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	base := [][]float32{
		{0.5, -1.2, 2.0},
		{1.1, 0.3, -0.7},
	}
	target := labelTensor(t, []int32{0, 2})

	grad, err := ce.Backward(logitsTensor(t, base), target)
	require.NoError(t, err)
	gradData := grad.Data.([]float32)

	const eps = 1e-3
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			bump := func(delta float32) float64 {
				perturbed := [][]float32{
					append([]float32{}, base[0]...),
					append([]float32{}, base[1]...),
				}
				perturbed[i][j] += delta
				loss, err := ce.Forward(logitsTensor(t, perturbed), target)
				require.NoError(t, err)
				return loss
			}

			numerical := (bump(eps) - bump(-eps)) / (2 * eps)
			assert.InDelta(t, numerical, float64(gradData[i*3+j]), 1e-3)
		}
	}
}

func TestCrossEntropyValidation(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	output := logitsTensor(t, [][]float32{{1, 2}, {3, 4}})

	_, err := ce.Forward(output, labelTensor(t, []int32{0}))
	assert.Error(t, err, "batch size mismatch")

	_, err = ce.Forward(output, labelTensor(t, []int32{0, 2}))
	assert.Error(t, err, "target out of range")
}
