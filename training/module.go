package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/amirunpri2018/VideoNet/checkpoints"
	"github.com/amirunpri2018/VideoNet/tensor"
)

// Global random source for deterministic weight initialization.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the seed used for weight initialization.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Parameter is a named trainable tensor together with its accumulated
// gradient. Grad always has the same shape as Data.
type Parameter struct {
	Name string
	Data *tensor.Tensor
	Grad *tensor.Tensor
}

// NewParameter wraps a tensor as a trainable parameter with a zeroed
// gradient buffer.
func NewParameter(name string, data *tensor.Tensor) (*Parameter, error) {
	if data.DType != tensor.Float32 {
		return nil, fmt.Errorf("parameter %q must be Float32, got %s", name, data.DType)
	}
	grad, err := tensor.Zeros(data.Shape, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate gradient for %q: %v", name, err)
	}
	return &Parameter{Name: name, Data: data, Grad: grad}, nil
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	grad := p.Grad.Data.([]float32)
	for i := range grad {
		grad[i] = 0
	}
}

// Module is the model contract the training loop consumes: a classifier
// mapping an image tensor [batch, channels, height, width] to class logits
// [batch, classes]. Backward takes the forward input explicitly and
// accumulates parameter gradients from the output gradient, so callers may
// run several forwards before the matching backwards.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(input, gradOutput *tensor.Tensor) error
	Parameters() []*Parameter
	Train()
	Eval()
	IsTraining() bool
	StateDict() ([]checkpoints.WeightTensor, error)
	LoadStateDict(weights []checkpoints.WeightTensor) error
}

// LinearClassifier is a minimal concrete Module: it flattens each frame and
// applies a single linear map to class logits. It stands in where a real
// backbone would be plugged into the loop.
type LinearClassifier struct {
	weight   *Parameter // [inputSize, numClasses]
	bias     *Parameter // [numClasses]
	training bool
}

// NewLinearClassifier creates a linear classifier with Xavier-uniform
// weights and zero bias.
func NewLinearClassifier(inputSize, numClasses int) (*LinearClassifier, error) {
	if inputSize <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("input size and class count must be positive, got %d and %d", inputSize, numClasses)
	}

	bound := math.Sqrt(6.0 / float64(inputSize+numClasses))
	weightData := make([]float32, inputSize*numClasses)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weightTensor, err := tensor.NewTensor([]int{inputSize, numClasses}, tensor.Float32, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight, err := NewParameter("fc.weight", weightTensor)
	if err != nil {
		return nil, err
	}

	biasTensor, err := tensor.Zeros([]int{numClasses}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create bias tensor: %v", err)
	}
	bias, err := NewParameter("fc.bias", biasTensor)
	if err != nil {
		return nil, err
	}

	return &LinearClassifier{
		weight:   weight,
		bias:     bias,
		training: true,
	}, nil
}

// flatten views an N-D input as [batch, features].
func (lc *LinearClassifier) flatten(input *tensor.Tensor) (int, int, []float32, error) {
	if input.DType != tensor.Float32 {
		return 0, 0, nil, fmt.Errorf("input must be Float32, got %s", input.DType)
	}
	if len(input.Shape) < 2 {
		return 0, 0, nil, fmt.Errorf("input must have at least 2 dimensions, got shape %v", input.Shape)
	}

	batchSize := input.Shape[0]
	features := input.NumElems / batchSize

	inputSize := lc.weight.Data.Shape[0]
	if features != inputSize {
		return 0, 0, nil, fmt.Errorf("input size mismatch: expected %d features, got %d", inputSize, features)
	}

	return batchSize, features, input.Data.([]float32), nil
}

// Forward computes logits = flatten(input) @ W + b.
func (lc *LinearClassifier) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, features, data, err := lc.flatten(input)
	if err != nil {
		return nil, err
	}

	numClasses := lc.weight.Data.Shape[1]
	weight := lc.weight.Data.Data.([]float32)
	bias := lc.bias.Data.Data.([]float32)

	out := make([]float32, batchSize*numClasses)
	for b := 0; b < batchSize; b++ {
		row := data[b*features : (b+1)*features]
		outRow := out[b*numClasses : (b+1)*numClasses]
		copy(outRow, bias)
		for j, x := range row {
			if x == 0 {
				continue
			}
			wRow := weight[j*numClasses : (j+1)*numClasses]
			for k, w := range wRow {
				outRow[k] += x * w
			}
		}
	}

	return tensor.NewTensor([]int{batchSize, numClasses}, tensor.Float32, out)
}

// Backward accumulates dL/dW and dL/db from the output gradient. input must
// be the tensor passed to the matching Forward call.
func (lc *LinearClassifier) Backward(input, gradOutput *tensor.Tensor) error {
	batchSize, features, data, err := lc.flatten(input)
	if err != nil {
		return err
	}

	numClasses := lc.weight.Data.Shape[1]
	if !gradOutput.ShapeEquals([]int{batchSize, numClasses}) {
		return fmt.Errorf("gradient shape mismatch: expected %v, got %v",
			[]int{batchSize, numClasses}, gradOutput.Shape)
	}

	gradOut := gradOutput.Data.([]float32)
	gradW := lc.weight.Grad.Data.([]float32)
	gradB := lc.bias.Grad.Data.([]float32)

	for b := 0; b < batchSize; b++ {
		row := data[b*features : (b+1)*features]
		gRow := gradOut[b*numClasses : (b+1)*numClasses]
		for k, g := range gRow {
			gradB[k] += g
		}
		for j, x := range row {
			if x == 0 {
				continue
			}
			wGradRow := gradW[j*numClasses : (j+1)*numClasses]
			for k, g := range gRow {
				wGradRow[k] += x * g
			}
		}
	}

	return nil
}

// Parameters returns the trainable parameters.
func (lc *LinearClassifier) Parameters() []*Parameter {
	return []*Parameter{lc.weight, lc.bias}
}

// Train sets training mode.
func (lc *LinearClassifier) Train() { lc.training = true }

// Eval sets evaluation mode.
func (lc *LinearClassifier) Eval() { lc.training = false }

// IsTraining reports whether the module is in training mode.
func (lc *LinearClassifier) IsTraining() bool { return lc.training }

// StateDict exports the parameters for checkpointing.
func (lc *LinearClassifier) StateDict() ([]checkpoints.WeightTensor, error) {
	return ExportStateDict(lc.Parameters())
}

// LoadStateDict restores parameters from a checkpoint.
func (lc *LinearClassifier) LoadStateDict(weights []checkpoints.WeightTensor) error {
	return ImportStateDict(lc.Parameters(), weights)
}

// ExportStateDict converts parameters to checkpoint weight tensors, copying
// the data so later training steps cannot mutate the snapshot.
func ExportStateDict(params []*Parameter) ([]checkpoints.WeightTensor, error) {
	weights := make([]checkpoints.WeightTensor, 0, len(params))
	for _, p := range params {
		data := p.Data.Data.([]float32)
		copied := make([]float32, len(data))
		copy(copied, data)
		weights = append(weights, checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: append([]int{}, p.Data.Shape...),
			Data:  copied,
		})
	}
	return weights, nil
}

// ImportStateDict loads checkpoint weight tensors into parameters by name.
// Every parameter must be present with a matching shape.
func ImportStateDict(params []*Parameter, weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("state dict is missing parameter %q", p.Name)
		}
		if !p.Data.ShapeEquals(w.Shape) {
			return fmt.Errorf("shape mismatch for parameter %q: have %v, checkpoint %v",
				p.Name, p.Data.Shape, w.Shape)
		}
		copy(p.Data.Data.([]float32), w.Data)
	}

	return nil
}
