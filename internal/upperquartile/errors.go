package upperquartile

import "errors"

var (
	errNaNNotSupported           = errors.New("NaN not supported")
	errEmptyMatrix               = errors.New("upper quartile: input matrix has no rows")
	errZeroLibrarySize           = errors.New("upper quartile: column library size is zero after removing global-zero rows")
	errNormFactorLengthMismatch  = errors.New("upper quartile: norm factor length does not match column count")
)
