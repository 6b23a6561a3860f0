// Package quantile implements the local/global steps of quantile
// normalization (limma normalizeBetweenArrays, Bolstad/Gordon-Smyth
// style), grounded on the rank/interpolate math in internal/kernel.
package quantile

import (
	"math"
	"sort"

	"github.com/fednorm/fednorm/internal/errs"
	"github.com/fednorm/fednorm/internal/kernel"
	"github.com/fednorm/fednorm/internal/store"
)

// ComputeLocalMeans implements spec section 4.2 "Local means". It returns
// the LocalMeanVector payload to send to the coordinator, the per-column
// observed-count vector nobs (needed again at local-result time), and the
// working copy arr that ComputeLocalResult later ranks (on its own copy).
//
// The m==1 and n==1 cases are handled by the same loop below rather than
// as separate branches (DESIGN.md, Open Question 2): a single-column
// matrix contributes its sorted column as Sum with MEff 1, and a
// single-row matrix contributes a length-1 Sum holding the row's total
// with MEff m, so the coordinator's element-wise division applies
// unchanged.
func ComputeLocalMeans(x [][]float64) (store.LocalMeanVector, []int, [][]float64, error) {
	n := len(x)
	if n == 0 {
		return store.LocalMeanVector{}, nil, nil, errs.ShapeError(errEmptyMatrix)
	}
	m := len(x[0])
	for _, row := range x {
		if len(row) != m {
			return store.LocalMeanVector{}, nil, nil, errs.ShapeError(errRaggedMatrix)
		}
	}

	arr := cloneMatrix(x)

	sortMat := make([][]float64, n)
	for i := range sortMat {
		sortMat[i] = make([]float64, m)
	}
	nobs := make([]int, m)
	grid := indexGrid(n)

	for j := 0; j < m; j++ {
		col := columnOf(x, j)
		sorted, nj := sortNonNaN(col)
		nobs[j] = nj
		if nj == 0 {
			return store.LocalMeanVector{}, nil, nil, errs.ShapeError(errEmptyColumnAfterNaN)
		}
		if nj < n {
			srcGrid := indexGrid(nj)
			f, err := kernel.NewInterp1D(srcGrid, sorted)
			if err != nil {
				return store.LocalMeanVector{}, nil, nil, err
			}
			for k := 0; k < n; k++ {
				setCol(sortMat, k, j, f.Eval(grid[k]))
			}
		} else {
			for k := 0; k < n; k++ {
				setCol(sortMat, k, j, sorted[k])
			}
		}
	}

	// s[i] is the sum, across this site's m columns, of the sorted (and,
	// if ragged, grid-rebased) value at rank position i — a row-wise sum
	// over the sort matrix, not a column-wise one: each row of sortMat is
	// one rank position, each column one sample.
	sums := rowSum(sortMat)
	return store.LocalMeanVector{MEff: m, Sum: sums}, nobs, arr, nil
}

func rowSum(m [][]float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		out[i] = sum
	}
	return out
}

// ComputeLocalResult implements spec section 4.2 "Local result": for each
// column, rank the working copy, map ranks onto the global reference
// distribution via a fresh interpolator, and write the mapped value back.
// NaN positions remain NaN.
func ComputeLocalResult(arr [][]float64, nobs []int, globalMeans []float64) ([][]float64, error) {
	n := len(arr)
	if n == 0 {
		return nil, errs.ShapeError(errEmptyMatrix)
	}
	m := len(arr[0])
	if len(nobs) != m {
		return nil, errs.ShapeError(errNobsLengthMismatch)
	}
	if len(globalMeans) != n {
		return nil, errs.ShapeError(errGlobalMeansLengthMismatch)
	}

	out := cloneMatrix(arr)
	grid := indexGrid(n)
	f, err := kernel.NewInterp1D(grid, globalMeans)
	if err != nil {
		return nil, err
	}

	for j := 0; j < m; j++ {
		col := columnOf(arr, j)
		ranks, err := kernel.RankAverage(col)
		if err != nil {
			return nil, err
		}
		denom := float64(nobs[j] - 1)
		for i := 0; i < n; i++ {
			if math.IsNaN(col[i]) {
				out[i][j] = math.NaN()
				continue
			}
			var t float64
			if denom == 0 {
				t = 0
			} else {
				t = (ranks[i] - 1) / denom
			}
			out[i][j] = f.Eval(t)
		}
	}
	return out, nil
}

func indexGrid(n int) []float64 {
	grid := make([]float64, n)
	if n == 1 {
		grid[0] = 0
		return grid
	}
	for k := 0; k < n; k++ {
		grid[k] = float64(k) / float64(n-1)
	}
	return grid
}

func columnOf(m [][]float64, j int) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = row[j]
	}
	return out
}

func setCol(m [][]float64, i, j int, v float64) { m[i][j] = v }

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// sortNonNaN returns col's non-NaN values sorted ascending, plus the
// non-NaN count.
func sortNonNaN(col []float64) ([]float64, int) {
	out := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sorted := append([]float64(nil), out...)
	sort.Float64s(sorted)
	return sorted, len(sorted)
}
