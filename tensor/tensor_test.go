package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor, err := NewTensor([]int{2, 3}, Float32, data)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, tensor.Shape)
	assert.Equal(t, []int{3, 1}, tensor.Strides)
	assert.Equal(t, 6, tensor.NumElems)
	assert.Equal(t, Float32, tensor.DType)
}

func TestNewTensorValidation(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		dtype DType
		data  interface{}
	}{
		{"empty shape", []int{}, Float32, []float32{}},
		{"zero dimension", []int{2, 0}, Float32, []float32{}},
		{"negative dimension", []int{-1, 3}, Float32, []float32{1, 2, 3}},
		{"length mismatch", []int{2, 2}, Float32, []float32{1, 2, 3}},
		{"wrong element type", []int{2}, Float32, []int32{1, 2}},
		{"wrong element type int", []int{2}, Int32, []float32{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTensor(tt.shape, tt.dtype, tt.data)
			assert.Error(t, err)
		})
	}
}

func TestZeros(t *testing.T) {
	tensor, err := Zeros([]int{2, 4}, Float32)
	require.NoError(t, err)

	data := tensor.Data.([]float32)
	require.Len(t, data, 8)
	for _, v := range data {
		assert.Equal(t, float32(0), v)
	}

	labels, err := Zeros([]int{3}, Int32)
	require.NoError(t, err)
	assert.Len(t, labels.Data.([]int32), 3)
}

func TestFull(t *testing.T) {
	tensor, err := Full([]int{2, 2}, 1.5)
	require.NoError(t, err)

	for _, v := range tensor.Data.([]float32) {
		assert.Equal(t, float32(1.5), v)
	}
}

func TestClone(t *testing.T) {
	original, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
	require.NoError(t, err)

	clone, err := original.Clone()
	require.NoError(t, err)

	// Mutating the clone must not touch the original.
	clone.Data.([]float32)[0] = 99
	assert.Equal(t, float32(1), original.Data.([]float32)[0])
	assert.Equal(t, original.Shape, clone.Shape)
}

func TestShapeEquals(t *testing.T) {
	tensor, err := Zeros([]int{2, 3, 4}, Float32)
	require.NoError(t, err)

	assert.True(t, tensor.ShapeEquals([]int{2, 3, 4}))
	assert.False(t, tensor.ShapeEquals([]int{2, 3}))
	assert.False(t, tensor.ShapeEquals([]int{2, 3, 5}))
}
