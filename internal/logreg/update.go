package logreg

import (
	"fmt"

	"github.com/z3rotig4r/ckks_train/internal/he"
)

// ModelState is the encrypted parameter pair. Weights has one slot per feature,
// Bias is a scalar.
type ModelState struct {
	Weights he.CipherValue
	Bias    he.CipherValue
}

// UpdateRule computes the next ModelState from one sample.
type UpdateRule interface {
	Name() string
	Update(u *he.Unit, s ModelState, x, y, pred he.CipherValue, lr float64) (ModelState, error)
}

// FixedStepRule reproduces the reference training loop: the error pred - y is
// computed but the step does not depend on it. Each sample moves the weights by
// -lr*0.001*x and the bias by -lr*0.001, so training acts as a constant decay.
type FixedStepRule struct{}

func (FixedStepRule) Name() string { return "fixed-step" }

func (FixedStepRule) Update(u *he.Unit, s ModelState, x, y, pred he.CipherValue, lr float64) (ModelState, error) {
	if _, err := u.Sub(pred, y); err != nil {
		return ModelState{}, fmt.Errorf("error term: %w", err)
	}
	step := lr * 0.01 * 0.1

	delta, err := u.MultiplyScalar(x, step)
	if err != nil {
		return ModelState{}, fmt.Errorf("weight step: %w", err)
	}
	w, err := u.Sub(s.Weights, delta)
	if err != nil {
		return ModelState{}, fmt.Errorf("weight update: %w", err)
	}
	b, err := u.AddScalar(s.Bias, -step)
	if err != nil {
		return ModelState{}, fmt.Errorf("bias update: %w", err)
	}
	return ModelState{Weights: w, Bias: b}, nil
}

// GradientRule is per-sample gradient descent on the log loss:
// w -= lr*(pred-y)*x, b -= lr*(pred-y). It costs one extra level per sample.
type GradientRule struct{}

func (GradientRule) Name() string { return "gradient" }

func (GradientRule) Update(u *he.Unit, s ModelState, x, y, pred he.CipherValue, lr float64) (ModelState, error) {
	diff, err := u.Sub(pred, y)
	if err != nil {
		return ModelState{}, fmt.Errorf("error term: %w", err)
	}
	grad, err := u.Multiply(x, diff)
	if err != nil {
		return ModelState{}, fmt.Errorf("gradient: %w", err)
	}
	dw, err := u.MultiplyScalar(grad, lr)
	if err != nil {
		return ModelState{}, fmt.Errorf("weight step: %w", err)
	}
	w, err := u.Sub(s.Weights, dw)
	if err != nil {
		return ModelState{}, fmt.Errorf("weight update: %w", err)
	}
	db, err := u.MultiplyScalar(diff, lr)
	if err != nil {
		return ModelState{}, fmt.Errorf("bias step: %w", err)
	}
	b, err := u.Sub(s.Bias, db)
	if err != nil {
		return ModelState{}, fmt.Errorf("bias update: %w", err)
	}
	return ModelState{Weights: w, Bias: b}, nil
}

// RuleByName maps "fixed-step" (or "") and "gradient" to their rules.
func RuleByName(name string) (UpdateRule, error) {
	switch name {
	case "", "fixed-step":
		return FixedStepRule{}, nil
	case "gradient":
		return GradientRule{}, nil
	}
	return nil, fmt.Errorf("%w: unknown update rule %q", ErrInvalidConfig, name)
}
