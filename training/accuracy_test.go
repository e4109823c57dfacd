package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirunpri2018/VideoNet/tensor"
)

func logitsTensor(t *testing.T, rows [][]float32) *tensor.Tensor {
	t.Helper()
	numClasses := len(rows[0])
	flat := make([]float32, 0, len(rows)*numClasses)
	for _, row := range rows {
		require.Len(t, row, numClasses)
		flat = append(flat, row...)
	}
	out, err := tensor.NewTensor([]int{len(rows), numClasses}, tensor.Float32, flat)
	require.NoError(t, err)
	return out
}

func labelTensor(t *testing.T, labels []int32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.NewTensor([]int{len(labels)}, tensor.Int32, labels)
	require.NoError(t, err)
	return out
}

func TestAccuracyOneHotMaximal(t *testing.T) {
	// Each row has its maximum at the true class index.
	output := logitsTensor(t, [][]float32{
		{9, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		{0, 0, 9, 0, 0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 9, 0, 0},
		{0, 0, 0, 0, 9, 0, 0, 0, 0, 0},
	})
	target := labelTensor(t, []int32{0, 2, 7, 4})

	accs, err := Accuracy(output, target, []int{1, 5})
	require.NoError(t, err)
	assert.Equal(t, 100.0, accs[0])
	assert.Equal(t, 100.0, accs[1])
}

func TestAccuracyTrueClassRankedSixth(t *testing.T) {
	// The true class (index 9) always scores below exactly five others.
	row := []float32{10, 9, 8, 7, 6, 0, 0, 0, 0, 5}
	output := logitsTensor(t, [][]float32{row, row, row, row})
	target := labelTensor(t, []int32{9, 9, 9, 9})

	accs, err := Accuracy(output, target, []int{1, 5, 10})
	require.NoError(t, err)
	assert.Equal(t, 0.0, accs[0])
	assert.Equal(t, 0.0, accs[1])
	assert.Equal(t, 100.0, accs[2])
}

func TestAccuracyMonotoneInK(t *testing.T) {
	output := logitsTensor(t, [][]float32{
		{0.3, 0.1, 0.9, 0.2, 0.5},
		{0.5, 0.4, 0.1, 0.8, 0.2},
		{0.2, 0.9, 0.3, 0.1, 0.6},
		{0.7, 0.1, 0.2, 0.3, 0.4},
	})
	target := labelTensor(t, []int32{4, 1, 0, 2})

	accs, err := Accuracy(output, target, []int{1, 3, 5})
	require.NoError(t, err)
	assert.LessOrEqual(t, accs[0], accs[1])
	assert.LessOrEqual(t, accs[1], accs[2])
	assert.Equal(t, 100.0, accs[2], "k = numClasses must always be 100%%")
}

func TestAccuracyClampsKToClassCount(t *testing.T) {
	output := logitsTensor(t, [][]float32{
		{0.1, 0.9},
		{0.8, 0.2},
	})
	target := labelTensor(t, []int32{0, 1})

	accs, err := Accuracy(output, target, []int{5})
	require.NoError(t, err)
	assert.Equal(t, 100.0, accs[0])
}

func TestAccuracyTieBreakDeterministic(t *testing.T) {
	// All scores equal: the lower class index wins every rank, so the
	// label 0 row is a top-1 hit and the label 2 row needs k=3.
	output := logitsTensor(t, [][]float32{
		{1, 1, 1},
		{1, 1, 1},
	})
	target := labelTensor(t, []int32{0, 2})

	for i := 0; i < 5; i++ {
		accs, err := Accuracy(output, target, []int{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, 50.0, accs[0])
		assert.Equal(t, 50.0, accs[1])
		assert.Equal(t, 100.0, accs[2])
	}
}

func TestAccuracyValidation(t *testing.T) {
	output := logitsTensor(t, [][]float32{{1, 2}, {3, 4}})

	tests := []struct {
		name   string
		target *tensor.Tensor
		topk   []int
	}{
		{"batch mismatch", labelTensor(t, []int32{0}), []int{1}},
		{"label out of range", labelTensor(t, []int32{0, 5}), []int{1}},
		{"no k requested", labelTensor(t, []int32{0, 1}), nil},
		{"non-positive k", labelTensor(t, []int32{0, 1}), []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Accuracy(output, tt.target, tt.topk)
			assert.Error(t, err)
		})
	}
}
