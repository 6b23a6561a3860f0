// Package upperquartile implements the local/global steps of
// upper-quartile normalization (edgeR calcNormFactors variant), grounded
// on the quantile/geometric-mean math in internal/kernel.
package upperquartile

import (
	"math"
	"sort"

	"github.com/fednorm/fednorm/internal/errs"
	"github.com/fednorm/fednorm/internal/kernel"
)

// ComputeLocalZeros implements spec section 4.3 "Local zeros". NaN
// anywhere in x is fatal: upper-quartile normalization has no NaN policy.
func ComputeLocalZeros(x [][]float64) ([]int, error) {
	zeros := make([]int, 0)
	for i, row := range x {
		allZero := true
		for _, v := range row {
			if math.IsNaN(v) {
				return nil, errs.InputError(errNaNNotSupported)
			}
			if v != 0 {
				allZero = false
			}
		}
		if allZero {
			zeros = append(zeros, i)
		}
	}
	return zeros, nil
}

// LocalUQuartileResult carries the per-sample upper-quartile vector plus
// whether the degenerate one-or-zero-remaining-rows warning fired.
type LocalUQuartileResult struct {
	Vector  []float64
	Warning bool
}

// ComputeLocalUQuartile implements spec section 4.3 "Local upper
// quartile": remove GlobalZeroSet rows, then for each remaining column
// compute quantile_0.75(sorted column) / column sum. If one or zero rows
// remain after removal, emit a vector of ones with Warning set, per the
// spec's degenerate-input policy; this includes an X' with no rows left.
// InputError is returned only when x itself has no rows, and DomainError
// when a remaining column sums to zero.
func ComputeLocalUQuartile(x [][]float64, globalZeros []int) (LocalUQuartileResult, error) {
	if len(x) == 0 {
		return LocalUQuartileResult{}, errs.InputError(errEmptyMatrix)
	}
	m := len(x[0])

	remove := make(map[int]bool, len(globalZeros))
	for _, idx := range globalZeros {
		remove[idx] = true
	}

	working := make([][]float64, 0, len(x))
	for i, row := range x {
		if remove[i] {
			continue
		}
		working = append(working, row)
	}

	if len(working) <= 1 {
		ones := make([]float64, m)
		for j := range ones {
			ones[j] = 1
		}
		return LocalUQuartileResult{Vector: ones, Warning: true}, nil
	}

	vec := make([]float64, m)
	for j := 0; j < m; j++ {
		col := make([]float64, len(working))
		libSize := 0.0
		for i, row := range working {
			col[i] = row[j]
			libSize += row[j]
		}
		sort.Float64s(col)
		uq, err := kernel.Quantile075(col)
		if err != nil {
			return LocalUQuartileResult{}, err
		}
		if libSize == 0 {
			return LocalUQuartileResult{}, errs.DomainError(errZeroLibrarySize)
		}
		vec[j] = uq / libSize
	}
	return LocalUQuartileResult{Vector: vec, Warning: false}, nil
}

// ComputeLocalResult implements spec section 4.3 "Local result":
// Result[i,j] = X[i,j] / NormFactors[j]. Rows in GlobalZeroSet remain in
// the output, divided like every other row (0 / factor == 0).
func ComputeLocalResult(x [][]float64, normFactors []float64) ([][]float64, error) {
	if len(x) == 0 {
		return nil, errs.InputError(errEmptyMatrix)
	}
	m := len(x[0])
	if len(normFactors) != m {
		return nil, errs.ShapeError(errNormFactorLengthMismatch)
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		outRow := make([]float64, m)
		for j, v := range row {
			outRow[j] = v / normFactors[j]
		}
		out[i] = outRow
	}
	return out, nil
}

// NormFactors implements NormFactors = UpperQuartileVector / ScalingFactor.
func NormFactors(uq []float64, scalingFactor float64) []float64 {
	out := make([]float64, len(uq))
	for j, v := range uq {
		out[j] = v / scalingFactor
	}
	return out
}
