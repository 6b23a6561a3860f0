package quantile

import "errors"

var (
	errEmptyMatrix               = errors.New("quantile: input matrix has no rows")
	errRaggedMatrix               = errors.New("quantile: input matrix rows have differing column counts")
	errEmptyColumnAfterNaN        = errors.New("quantile: a column has no non-NaN values")
	errNobsLengthMismatch         = errors.New("quantile: nobs length does not match column count")
	errGlobalMeansLengthMismatch  = errors.New("quantile: global means length does not match row count")
)
