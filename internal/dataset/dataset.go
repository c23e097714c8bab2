// Package dataset produces the plaintext numeric data fed to the encrypted model:
// synthetic binary classification sets, standardization and a stratified split.
package dataset

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Synthetic draws n samples with the given number of standard-normal features.
// Labels follow a logistic model with hidden coefficients; the coefficients are
// returned so callers can compare against them.
func Synthetic(n, features int, seed uint64) (X [][]float64, y []float64, coef []float64, err error) {
	if n < 1 || features < 1 {
		return nil, nil, nil, fmt.Errorf("dataset: need positive sample and feature counts, got %d x %d", n, features)
	}
	src := rand.NewSource(seed)
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	coef = make([]float64, features)
	for j := range coef {
		coef[j] = 2 * normal.Rand()
	}

	X = make([][]float64, n)
	y = make([]float64, n)
	for i := range X {
		row := make([]float64, features)
		z := 0.0
		for j := range row {
			row[j] = normal.Rand()
			z += row[j] * coef[j]
		}
		X[i] = row
		y[i] = distuv.Bernoulli{P: 1 / (1 + math.Exp(-z)), Src: src}.Rand()
	}
	return X, y, coef, nil
}

// Scaler holds per-feature means and standard deviations.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes column statistics of X. Constant columns get a unit deviation.
func FitScaler(X [][]float64) (Scaler, error) {
	if len(X) == 0 {
		return Scaler{}, fmt.Errorf("dataset: empty matrix")
	}
	d := len(X[0])
	s := Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			if len(row) != d {
				return Scaler{}, fmt.Errorf("dataset: row %d has %d columns, want %d", i, len(row), d)
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s, nil
}

// Transform returns a standardized copy of X.
func (s Scaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Std[j]
		}
		out[i] = r
	}
	return out
}

// Standardize fits a scaler on X and applies it.
func Standardize(X [][]float64) ([][]float64, Scaler, error) {
	s, err := FitScaler(X)
	if err != nil {
		return nil, Scaler{}, err
	}
	return s.Transform(X), s, nil
}

// Split is a train/test partition.
type Split struct {
	XTrain, XTest [][]float64
	YTrain, YTest []float64
}

// TrainTestSplit holds out testFrac of every class, keeping the class balance of y
// in both parts.
func TrainTestSplit(X [][]float64, y []float64, testFrac float64, seed uint64) (Split, error) {
	if len(X) != len(y) {
		return Split{}, fmt.Errorf("dataset: %d samples but %d labels", len(X), len(y))
	}
	if !(testFrac > 0 && testFrac < 1) {
		return Split{}, fmt.Errorf("dataset: test fraction %v outside (0, 1)", testFrac)
	}

	byClass := map[float64][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]float64, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	rng := rand.New(rand.NewSource(seed))
	var train, test []int
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		k := int(math.Round(testFrac * float64(len(idx))))
		test = append(test, idx[:k]...)
		train = append(train, idx[k:]...)
	}
	sort.Ints(train)
	sort.Ints(test)

	var s Split
	for _, i := range train {
		s.XTrain = append(s.XTrain, X[i])
		s.YTrain = append(s.YTrain, y[i])
	}
	for _, i := range test {
		s.XTest = append(s.XTest, X[i])
		s.YTest = append(s.YTest, y[i])
	}
	return s, nil
}

// Labels converts 0/1 float labels to ints.
func Labels(y []float64) []int {
	out := make([]int, len(y))
	for i, v := range y {
		if v >= 0.5 {
			out[i] = 1
		}
	}
	return out
}
