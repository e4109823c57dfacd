package training

import (
	"fmt"
	"sync"

	"github.com/amirunpri2018/VideoNet/checkpoints"
)

// Optimizer updates model parameters from their accumulated gradients and
// exposes serializable internal state for checkpointing.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
	GetState() (*checkpoints.OptimizerState, error)
	LoadState(state *checkpoints.OptimizerState) error
}

// SGDConfig holds SGD hyperparameters.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Dampening    float64
	Nesterov     bool
}

// DefaultSGDConfig returns the default SGD configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Dampening:    0.0,
		Nesterov:     false,
	}
}

// SGD implements stochastic gradient descent with optional momentum and
// weight decay.
type SGD struct {
	params     []*Parameter
	config     SGDConfig
	velocities map[string][]float32 // keyed by parameter name
	mutex      sync.Mutex
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(params []*Parameter, config SGDConfig) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum coefficient")
	}

	sgd := &SGD{
		params:     params,
		config:     config,
		velocities: make(map[string][]float32),
	}

	if config.Momentum > 0 {
		for _, p := range params {
			sgd.velocities[p.Name] = make([]float32, p.Data.NumElems)
		}
	}

	return sgd, nil
}

// Step performs a single optimization step over all parameters.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	lr := float32(sgd.config.LearningRate)
	momentum := float32(sgd.config.Momentum)
	weightDecay := float32(sgd.config.WeightDecay)
	dampening := float32(sgd.config.Dampening)

	for _, p := range sgd.params {
		data := p.Data.Data.([]float32)
		grad := p.Grad.Data.([]float32)

		for i := range data {
			g := grad[i]
			if weightDecay > 0 {
				g += weightDecay * data[i]
			}

			if momentum > 0 {
				velocity := sgd.velocities[p.Name]
				if velocity == nil {
					velocity = make([]float32, len(data))
					sgd.velocities[p.Name] = velocity
				}
				velocity[i] = momentum*velocity[i] + (1-dampening)*g
				if sgd.config.Nesterov {
					g += momentum * velocity[i]
				} else {
					g = velocity[i]
				}
			}

			data[i] -= lr * g
		}
	}

	return nil
}

// ZeroGrad clears the gradients of all parameters.
func (sgd *SGD) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	return sgd.config.LearningRate
}

// SetLR sets the learning rate, typically once per epoch by the schedule.
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.config.LearningRate = lr
}

// GetState extracts the optimizer state for checkpointing.
func (sgd *SGD) GetState() (*checkpoints.OptimizerState, error) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"learning_rate": sgd.config.LearningRate,
			"momentum":      sgd.config.Momentum,
			"weight_decay":  sgd.config.WeightDecay,
			"dampening":     sgd.config.Dampening,
		},
	}

	for _, p := range sgd.params {
		velocity, ok := sgd.velocities[p.Name]
		if !ok {
			continue
		}
		data := make([]float32, len(velocity))
		copy(data, velocity)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      p.Name,
			Shape:     append([]int{}, p.Data.Shape...),
			Data:      data,
			StateType: "momentum",
		})
	}

	return state, nil
}

// LoadState restores optimizer state from a checkpoint.
func (sgd *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != "SGD" {
		return fmt.Errorf("state type mismatch: expected SGD, got %s", state.Type)
	}

	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	if lr, ok := state.Parameters["learning_rate"]; ok {
		sgd.config.LearningRate = lr
	}

	for _, st := range state.StateData {
		if st.StateType != "momentum" {
			return fmt.Errorf("unsupported optimizer state tensor type %q", st.StateType)
		}
		velocity, ok := sgd.velocities[st.Name]
		if !ok {
			return fmt.Errorf("optimizer state references unknown parameter %q", st.Name)
		}
		if len(velocity) != len(st.Data) {
			return fmt.Errorf("momentum buffer size mismatch for %q: have %d, checkpoint %d",
				st.Name, len(velocity), len(st.Data))
		}
		copy(velocity, st.Data)
	}

	return nil
}
