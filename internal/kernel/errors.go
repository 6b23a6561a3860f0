package kernel

import "errors"

var (
	errShapeEmptyColumn     = errors.New("column is empty after removing NaNs")
	errRankEmptyInput       = errors.New("rank_average requires a non-empty input")
	errInterpLengthMismatch = errors.New("interp1d: x_grid and y_grid must be the same length")
	errInterpNotMonotone    = errors.New("interp1d: x_grid must be strictly increasing")
	errGeoMeanEmpty         = errors.New("geometric_mean requires at least one value")
	errGeoMeanNonPositive   = errors.New("geometric_mean requires strictly positive inputs")
)
