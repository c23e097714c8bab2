package logreg

import (
	"fmt"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes binary predictions. Ratios with a zero denominator are 0.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	// Confusion is indexed [true label][predicted label].
	Confusion [2][2]int `json:"confusion"`
}

func (m Metrics) String() string {
	return fmt.Sprintf("accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f confusion=%v",
		m.Accuracy, m.Precision, m.Recall, m.F1, m.Confusion)
}

// Evaluate compares predicted labels with the truth. Any non-zero label counts as
// the positive class.
func Evaluate(yTrue, yPred []int) (Metrics, error) {
	if len(yTrue) != len(yPred) {
		return Metrics{}, fmt.Errorf("%w: %d labels but %d predictions", ErrShapeMismatch, len(yTrue), len(yPred))
	}
	var m Metrics
	for i := range yTrue {
		m.Confusion[bit(yTrue[i])][bit(yPred[i])]++
	}
	tn, fp := m.Confusion[0][0], m.Confusion[0][1]
	fn, tp := m.Confusion[1][0], m.Confusion[1][1]

	m.Accuracy = ratio(tp+tn, len(yTrue))
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// AUC is the area under the ROC curve of scores against yTrue. It is 0 when only
// one class is present.
func AUC(yTrue []int, scores []float64) (float64, error) {
	if len(yTrue) != len(scores) {
		return 0, fmt.Errorf("%w: %d labels but %d scores", ErrShapeMismatch, len(yTrue), len(scores))
	}
	y := append([]float64(nil), scores...)
	classes := make([]bool, len(yTrue))
	var pos int
	for i, v := range yTrue {
		classes[i] = v != 0
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(yTrue) {
		return 0, nil
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

func bit(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
