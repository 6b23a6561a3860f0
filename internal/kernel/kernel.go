// Package kernel implements the pure numeric routines shared by the
// quantile and upper-quartile normalization engines: sorting, average-tie
// ranking, monotone 1-D interpolation, quantiles, column sums, and
// geometric means. Every function here is side-effect free and safe to
// call concurrently.
package kernel

import (
	"math"
	"sort"

	"github.com/fednorm/fednorm/internal/errs"
)

// SortColumn returns col sorted ascending with NaNs stripped. It fails
// only when nothing is left after stripping.
func SortColumn(col []float64) ([]float64, error) {
	out := stripNaN(col)
	if len(out) == 0 {
		return nil, errs.ShapeError(errShapeEmptyColumn)
	}
	sort.Float64s(out)
	return out, nil
}

func stripNaN(col []float64) []float64 {
	out := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// RankAverage returns 1-based ranks for col using the "average" tie-break
// method (R / SciPy semantics): values tied for a span of ranks each
// receive the arithmetic mean of that span. NaN positions are treated as
// absent from the competition but still occupy a slot in the output
// vector; callers that need to skip them do so by position.
//
// An empty input is an error, not an empty vector.
func RankAverage(col []float64) ([]float64, error) {
	n := len(col)
	if n == 0 {
		return nil, errs.ShapeError(errRankEmptyInput)
	}

	type idxVal struct {
		idx int
		val float64
		nan bool
	}
	items := make([]idxVal, n)
	present := make([]idxVal, 0, n)
	for i, v := range col {
		iv := idxVal{idx: i, val: v, nan: math.IsNaN(v)}
		items[i] = iv
		if !iv.nan {
			present = append(present, iv)
		}
	}

	sort.Slice(present, func(i, j int) bool { return present[i].val < present[j].val })

	ranks := make([]float64, n)
	i := 0
	for i < len(present) {
		j := i
		for j+1 < len(present) && present[j+1].val == present[i].val {
			j++
		}
		// Ranks i+1..j+1 (1-based) span this tie group; average them.
		sum := 0.0
		for k := i; k <= j; k++ {
			sum += float64(k + 1)
		}
		avg := sum / float64(j-i+1)
		for k := i; k <= j; k++ {
			ranks[present[k].idx] = avg
		}
		i = j + 1
	}
	for _, iv := range items {
		if iv.nan {
			ranks[iv.idx] = math.NaN()
		}
	}
	return ranks, nil
}

// Interpolator is a monotone piecewise-linear function built from a grid.
type Interpolator struct {
	x []float64
	y []float64
}

// NewInterp1D builds a piecewise-linear interpolator over xGrid (which
// must be strictly increasing) and yGrid of equal length. Evaluations
// outside [xGrid[0], xGrid[last]] clamp to the endpoint value.
func NewInterp1D(xGrid, yGrid []float64) (*Interpolator, error) {
	if len(xGrid) != len(yGrid) {
		return nil, errs.ShapeError(errInterpLengthMismatch)
	}
	if len(xGrid) == 0 {
		return nil, errs.ShapeError(errShapeEmptyColumn)
	}
	for i := 1; i < len(xGrid); i++ {
		if xGrid[i] <= xGrid[i-1] {
			return nil, errs.DomainError(errInterpNotMonotone)
		}
	}
	return &Interpolator{x: append([]float64(nil), xGrid...), y: append([]float64(nil), yGrid...)}, nil
}

// Eval evaluates f(t), clamping t to the grid's domain.
func (f *Interpolator) Eval(t float64) float64 {
	n := len(f.x)
	if n == 1 {
		return f.y[0]
	}
	if t <= f.x[0] {
		return f.y[0]
	}
	if t >= f.x[n-1] {
		return f.y[n-1]
	}
	// Binary search for the bracketing interval.
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if f.x[mid] <= t {
			lo = mid
		} else {
			hi = mid
		}
	}
	x0, x1 := f.x[lo], f.x[hi]
	y0, y1 := f.y[lo], f.y[hi]
	weight := (t - x0) / (x1 - x0)
	return y0 + weight*(y1-y0)
}

// Quantile075 returns the 75th percentile of sortedCol using linear
// interpolation between order statistics (numpy's default / type-7).
// sortedCol must already be sorted ascending and NaN-free.
func Quantile075(sortedCol []float64) (float64, error) {
	return Quantile(sortedCol, 0.75)
}

// Quantile returns the p-quantile (p in [0,1]) of sortedCol using linear
// interpolation between order statistics.
func Quantile(sortedCol []float64, p float64) (float64, error) {
	n := len(sortedCol)
	if n == 0 {
		return 0, errs.ShapeError(errShapeEmptyColumn)
	}
	if n == 1 {
		return sortedCol[0], nil
	}
	idx := p * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sortedCol[lo], nil
	}
	weight := idx - float64(lo)
	return sortedCol[lo]*(1-weight) + sortedCol[hi]*weight, nil
}

// ColumnSum sums each column of M (rows x cols), returning a length-cols
// vector.
func ColumnSum(m [][]float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	cols := len(m[0])
	out := make([]float64, cols)
	for _, row := range m {
		for j, v := range row {
			out[j] += v
		}
	}
	return out
}

// GeometricMean returns exp(mean(log(v))) over strictly positive inputs.
func GeometricMean(v []float64) (float64, error) {
	if len(v) == 0 {
		return 0, errs.DomainError(errGeoMeanEmpty)
	}
	sum := 0.0
	for _, x := range v {
		if x <= 0 || math.IsNaN(x) {
			return 0, errs.DomainError(errGeoMeanNonPositive)
		}
		sum += math.Log(x)
	}
	return math.Exp(sum / float64(len(v))), nil
}

// IntersectSorted returns the ascending, duplicate-free intersection of
// the given ordered integer lists. An empty lists slice yields an empty
// intersection; a single list is returned deduplicated.
func IntersectSorted(lists [][]int) []int {
	if len(lists) == 0 {
		return []int{}
	}
	counts := make(map[int]int)
	for _, list := range lists {
		seen := make(map[int]bool, len(list))
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				counts[v]++
			}
		}
	}
	out := make([]int, 0)
	for v, c := range counts {
		if c == len(lists) {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
