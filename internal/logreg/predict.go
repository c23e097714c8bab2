package logreg

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/z3rotig4r/ckks_train/internal/he"
)

// Predict returns a lazy sequence of encrypted predictions in input order. The
// sequence can be ranged over once; a second pass yields ErrSequenceConsumed.
// Iteration stops at the first error, including cancellation of ctx.
func (m *Model) Predict(ctx context.Context, X []he.CipherValue) iter.Seq2[he.CipherValue, error] {
	consumed := false
	return func(yield func(he.CipherValue, error) bool) {
		if consumed {
			yield(he.CipherValue{}, ErrSequenceConsumed)
			return
		}
		consumed = true

		if m.state == nil {
			yield(he.CipherValue{}, ErrUninitializedModel)
			return
		}
		start := time.Now()
		for i, x := range X {
			if err := ctx.Err(); err != nil {
				yield(he.CipherValue{}, err)
				return
			}
			if i%progressEvery == 0 {
				m.logger.Printf("  Predicting sample %d/%d", i, len(X))
			}
			pred, err := m.ForwardPass(x)
			if err != nil {
				yield(he.CipherValue{}, fmt.Errorf("predict sample %d: %w", i, err))
				return
			}
			if !yield(pred, nil) {
				return
			}
		}
		m.logger.Printf("Predicted %d samples in %.3f ms", len(X), float64(time.Since(start).Microseconds())/1000.0)
		m.checkpoint(CheckpointPredictions)
	}
}

// PredictAll drains Predict.
func (m *Model) PredictAll(ctx context.Context, X []he.CipherValue) ([]he.CipherValue, error) {
	out := make([]he.CipherValue, 0, len(X))
	for pred, err := range m.Predict(ctx, X) {
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	return out, nil
}

// DecryptScores decrypts the first slot of every prediction.
func (m *Model) DecryptScores(preds []he.CipherValue) ([]float64, error) {
	scores := make([]float64, len(preds))
	for i, p := range preds {
		vals, err := m.unit.Decrypt(p)
		if err != nil {
			return nil, fmt.Errorf("decrypt prediction %d: %w", i, err)
		}
		scores[i] = vals[0]
	}
	return scores, nil
}

// DecryptPredictions decrypts every prediction and labels it 1 when the score is
// at least threshold.
func (m *Model) DecryptPredictions(preds []he.CipherValue, threshold float64) ([]int, error) {
	scores, err := m.DecryptScores(preds)
	if err != nil {
		return nil, err
	}
	labels := Threshold(scores, threshold)
	m.checkpoint(CheckpointDecryption)
	return labels, nil
}

// Threshold maps scores to {0, 1}; the threshold itself maps to 1.
func Threshold(scores []float64, threshold float64) []int {
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s >= threshold {
			labels[i] = 1
		}
	}
	return labels
}
