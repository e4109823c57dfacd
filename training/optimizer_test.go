package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirunpri2018/VideoNet/tensor"
)

func newTestParameter(t *testing.T, name string, data, grad []float32) *Parameter {
	t.Helper()
	dt, err := tensor.NewTensor([]int{len(data)}, tensor.Float32, data)
	require.NoError(t, err)
	p, err := NewParameter(name, dt)
	require.NoError(t, err)
	copy(p.Grad.Data.([]float32), grad)
	return p
}

func TestSGDVanillaStep(t *testing.T) {
	p := newTestParameter(t, "w", []float32{1, 2, 3}, []float32{0.5, -0.5, 1})

	config := DefaultSGDConfig()
	config.LearningRate = 0.1
	sgd, err := NewSGD([]*Parameter{p}, config)
	require.NoError(t, err)

	require.NoError(t, sgd.Step())

	data := p.Data.Data.([]float32)
	assert.InDelta(t, 0.95, float64(data[0]), 1e-6)
	assert.InDelta(t, 2.05, float64(data[1]), 1e-6)
	assert.InDelta(t, 2.90, float64(data[2]), 1e-6)
}

func TestSGDWeightDecay(t *testing.T) {
	p := newTestParameter(t, "w", []float32{2}, []float32{0})

	config := DefaultSGDConfig()
	config.LearningRate = 0.1
	config.WeightDecay = 0.5
	sgd, err := NewSGD([]*Parameter{p}, config)
	require.NoError(t, err)

	require.NoError(t, sgd.Step())

	// g = 0 + 0.5 * 2 = 1, update = -0.1
	assert.InDelta(t, 1.9, float64(p.Data.Data.([]float32)[0]), 1e-6)
}

func TestSGDMomentumAccumulates(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0}, []float32{1})

	config := DefaultSGDConfig()
	config.LearningRate = 1.0
	config.Momentum = 0.9
	sgd, err := NewSGD([]*Parameter{p}, config)
	require.NoError(t, err)

	// First step: v = 1, w = -1.
	require.NoError(t, sgd.Step())
	assert.InDelta(t, -1.0, float64(p.Data.Data.([]float32)[0]), 1e-6)

	// Same gradient again: v = 0.9 + 1 = 1.9, w = -2.9.
	copy(p.Grad.Data.([]float32), []float32{1})
	require.NoError(t, sgd.Step())
	assert.InDelta(t, -2.9, float64(p.Data.Data.([]float32)[0]), 1e-6)
}

func TestSGDNesterov(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0}, []float32{1})

	config := DefaultSGDConfig()
	config.LearningRate = 1.0
	config.Momentum = 0.5
	config.Nesterov = true
	sgd, err := NewSGD([]*Parameter{p}, config)
	require.NoError(t, err)

	// v = 1, g = 1 + 0.5 * 1 = 1.5, w = -1.5.
	require.NoError(t, sgd.Step())
	assert.InDelta(t, -1.5, float64(p.Data.Data.([]float32)[0]), 1e-6)
}

func TestSGDConfigValidation(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0}, []float32{0})

	_, err := NewSGD(nil, DefaultSGDConfig())
	assert.Error(t, err)

	bad := DefaultSGDConfig()
	bad.LearningRate = -1
	_, err = NewSGD([]*Parameter{p}, bad)
	assert.Error(t, err)

	bad = DefaultSGDConfig()
	bad.Nesterov = true
	_, err = NewSGD([]*Parameter{p}, bad)
	assert.Error(t, err, "nesterov without momentum")
}

func TestSGDZeroGradAndLR(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0}, []float32{3})

	sgd, err := NewSGD([]*Parameter{p}, DefaultSGDConfig())
	require.NoError(t, err)

	sgd.ZeroGrad()
	assert.Zero(t, p.Grad.Data.([]float32)[0])

	sgd.SetLR(0.42)
	assert.Equal(t, 0.42, sgd.GetLR())
}

func TestSGDStateRoundTrip(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0, 0}, []float32{1, 2})

	config := DefaultSGDConfig()
	config.LearningRate = 0.3
	config.Momentum = 0.9
	sgd, err := NewSGD([]*Parameter{p}, config)
	require.NoError(t, err)
	require.NoError(t, sgd.Step())

	state, err := sgd.GetState()
	require.NoError(t, err)
	assert.Equal(t, "SGD", state.Type)
	assert.Equal(t, 0.3, state.Parameters["learning_rate"])
	require.Len(t, state.StateData, 1)
	assert.Equal(t, "momentum", state.StateData[0].StateType)

	// Restore into a fresh optimizer over equivalent parameters.
	q := newTestParameter(t, "w", []float32{0, 0}, []float32{1, 2})
	fresh, err := NewSGD([]*Parameter{q}, config)
	require.NoError(t, err)
	require.NoError(t, fresh.LoadState(state))

	assert.Equal(t, sgd.velocities["w"], fresh.velocities["w"])
	assert.Equal(t, 0.3, fresh.GetLR())
}

func TestSGDLoadStateValidation(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0}, []float32{0})

	config := DefaultSGDConfig()
	config.Momentum = 0.9
	sgd, err := NewSGD([]*Parameter{p}, config)
	require.NoError(t, err)

	assert.Error(t, sgd.LoadState(nil))

	other, err := sgd.GetState()
	require.NoError(t, err)
	other.Type = "Adam"
	assert.Error(t, sgd.LoadState(other))

	unknown, err := sgd.GetState()
	require.NoError(t, err)
	unknown.StateData[0].Name = "missing"
	assert.Error(t, sgd.LoadState(unknown))
}

func TestClipGradNormWithinLimit(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0, 0}, []float32{3, 4})

	norm := ClipGradNorm([]*Parameter{p}, 10)
	assert.InDelta(t, 5.0, norm, 1e-6)

	// Gradients untouched below the limit.
	grad := p.Grad.Data.([]float32)
	assert.Equal(t, float32(3), grad[0])
	assert.Equal(t, float32(4), grad[1])
}

func TestClipGradNormRescales(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0, 0}, []float32{3, 4})

	norm := ClipGradNorm([]*Parameter{p}, 1)
	assert.InDelta(t, 5.0, norm, 1e-6, "returned norm is pre-clip")

	grad := p.Grad.Data.([]float32)
	assert.InDelta(t, 0.6, float64(grad[0]), 1e-4)
	assert.InDelta(t, 0.8, float64(grad[1]), 1e-4)
}

func TestClipGradNormGlobalAcrossParameters(t *testing.T) {
	a := newTestParameter(t, "a", []float32{0}, []float32{3})
	b := newTestParameter(t, "b", []float32{0}, []float32{4})

	norm := ClipGradNorm([]*Parameter{a, b}, 2.5)
	assert.InDelta(t, 5.0, norm, 1e-6)

	// Both gradients scale by the same global coefficient.
	assert.InDelta(t, 1.5, float64(a.Grad.Data.([]float32)[0]), 1e-4)
	assert.InDelta(t, 2.0, float64(b.Grad.Data.([]float32)[0]), 1e-4)
}

func TestClipGradNormDisabled(t *testing.T) {
	p := newTestParameter(t, "w", []float32{0}, []float32{100})

	norm := ClipGradNorm([]*Parameter{p}, 0)
	assert.InDelta(t, 100.0, norm, 1e-6)
	assert.Equal(t, float32(100), p.Grad.Data.([]float32)[0])
}
