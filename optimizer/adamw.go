package optimizer

import (
	"fmt"
	"math"
)

// AdamWConfig holds AdamW hyperparameters.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64 // momentum decay
	Beta2        float64 // variance decay
	Epsilon      float64
	WeightDecay  float64 // decoupled weight decay coefficient
}

// DefaultAdamWConfig returns the standard AdamW configuration.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// AdamW implements Adam with decoupled weight decay. State buffers are bound
// to the parameter slice at construction; inner-loop adaptation constructs a
// fresh instance per episode so no state leaks between episodes or into the
// shared optimizer.
type AdamW struct {
	cfg    AdamWConfig
	params Parameters

	momentum [][]float64
	variance [][]float64
	step     uint64
}

// NewAdamW creates an AdamW optimizer bound to params.
func NewAdamW(cfg AdamWConfig, params Parameters) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("adamw: no parameters")
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("adamw: learning rate must be positive, got %g", cfg.LearningRate)
	}
	if cfg.Beta1 <= 0 || cfg.Beta1 >= 1 || cfg.Beta2 <= 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("adamw: betas must be in (0,1), got %g/%g", cfg.Beta1, cfg.Beta2)
	}
	opt := &AdamW{
		cfg:      cfg,
		params:   params,
		momentum: make([][]float64, len(params)),
		variance: make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.momentum[i] = make([]float64, p.NumElems)
		opt.variance[i] = make([]float64, p.NumElems)
	}
	return opt, nil
}

// Step applies one AdamW update. A parameter whose grad buffer is nil is
// skipped; the step count still advances, so an update over an empty slice
// counts as an optimizer update.
func (o *AdamW) Step() error {
	o.step++
	bc1 := 1 - math.Pow(o.cfg.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.cfg.Beta2, float64(o.step))
	for i, p := range o.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		m, v := o.momentum[i], o.variance[i]
		for j := range p.Data {
			g := grad.Data[j]
			m[j] = o.cfg.Beta1*m[j] + (1-o.cfg.Beta1)*g
			v[j] = o.cfg.Beta2*v[j] + (1-o.cfg.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= o.cfg.LearningRate * (mHat/(math.Sqrt(vHat)+o.cfg.Epsilon) + o.cfg.WeightDecay*p.Data[j])
		}
	}
	return nil
}

// ZeroGrad drops every bound parameter's gradient buffer.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

func (o *AdamW) StepCount() uint64 { return o.step }

func (o *AdamW) SetLearningRate(lr float64) { o.cfg.LearningRate = lr }

func (o *AdamW) LearningRate() float64 { return o.cfg.LearningRate }
