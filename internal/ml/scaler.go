package ml

import "gonum.org/v1/gonum/stat"

// StandardScaler centres each feature and scales it to unit variance.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitScaler(X [][]float64) StandardScaler {
	if len(X) == 0 {
		return StandardScaler{}
	}
	dims := len(X[0])
	s := StandardScaler{Mean: make([]float64, dims), Std: make([]float64, dims)}
	col := make([]float64, len(X))
	for j := 0; j < dims; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s
}

func (s StandardScaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if j < len(s.Mean) {
			out[j] = (v - s.Mean[j]) / s.Std[j]
		} else {
			out[j] = v
		}
	}
	return out
}
