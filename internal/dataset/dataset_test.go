package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestSynthetic(t *testing.T) {
	X, y, coef, err := Synthetic(200, 4, 1)
	require.NoError(t, err)
	require.Len(t, X, 200)
	require.Len(t, y, 200)
	assert.Len(t, coef, 4)

	pos := 0
	for i, row := range X {
		assert.Len(t, row, 4)
		assert.Contains(t, []float64{0, 1}, y[i])
		if y[i] == 1 {
			pos++
		}
	}
	assert.Greater(t, pos, 0)
	assert.Less(t, pos, 200)

	X2, y2, _, err := Synthetic(200, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, X, X2)
	assert.Equal(t, y, y2)

	_, _, _, err = Synthetic(0, 4, 1)
	assert.Error(t, err)
}

func TestStandardize(t *testing.T) {
	X := [][]float64{{1, 5}, {2, 5}, {3, 5}, {4, 5}}
	Z, s, err := Standardize(X)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2.5, 5}, s.Mean, 1e-12)
	assert.Equal(t, 1.0, s.Std[1])

	col := []float64{Z[0][0], Z[1][0], Z[2][0], Z[3][0]}
	mean, std := stat.PopMeanStdDev(col, nil)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)
	for _, row := range Z {
		assert.Zero(t, row[1])
	}

	_, err = FitScaler([][]float64{{1, 2}, {3}})
	assert.Error(t, err)
	_, err = FitScaler(nil)
	assert.Error(t, err)
}

func TestTrainTestSplit(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 50; i++ {
		X = append(X, []float64{float64(i)})
		y = append(y, math.Floor(float64(i%5)/4)) // 10 positives, 40 negatives
	}

	s, err := TrainTestSplit(X, y, 0.2, 3)
	require.NoError(t, err)
	assert.Len(t, s.XTest, 10)
	assert.Len(t, s.XTrain, 40)

	posTest := 0
	for _, v := range s.YTest {
		posTest += int(v)
	}
	assert.Equal(t, 2, posTest)

	seen := map[float64]bool{}
	for _, row := range append(s.XTrain, s.XTest...) {
		seen[row[0]] = true
	}
	assert.Len(t, seen, 50)

	_, err = TrainTestSplit(X, y[:3], 0.2, 3)
	assert.Error(t, err)
	_, err = TrainTestSplit(X, y, 1.0, 3)
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []int{0, 1, 1, 0}, Labels([]float64{0, 1, 0.7, 0.2}))
}
