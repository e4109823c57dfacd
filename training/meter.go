package training

// Meter tracks the current value and running average of a scalar metric.
// Meters are created at the start of a training or evaluation loop and
// discarded when the loop ends; only the printed values outlive the loop.
type Meter struct {
	Val   float64
	Avg   float64
	Sum   float64
	Count float64
}

// NewMeter creates a meter in its zero state.
func NewMeter() *Meter {
	return &Meter{}
}

// Reset returns the meter to its zero state.
func (m *Meter) Reset() {
	*m = Meter{}
}

// Update records value with the given weight, typically the batch size.
// The first update fully determines the average, so Avg is never read
// before Count is positive.
func (m *Meter) Update(value, weight float64) {
	m.Val = value
	m.Sum += value * weight
	m.Count += weight
	m.Avg = m.Sum / m.Count
}
