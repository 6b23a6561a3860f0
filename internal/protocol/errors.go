package protocol

import "errors"

var (
	errNoPayloads           = errors.New("aggregation barrier fired with zero payloads")
	errMismatchedRowCounts  = errors.New("participants reported matrices with different row counts")
	errZeroEffectiveColumns = errors.New("sum of effective column counts across sites is zero")
	errUnknownMode          = errors.New("unrecognized normalization mode")
	errWrongPayloadKind     = errors.New("payload arrived with an unexpected kind for the current round")
	errBarrierCountMismatch = errors.New("inbox size does not match participant count at the aggregation barrier")
	errBareVectorPayload    = errors.New("local means payload is not a valid (m_eff, vector) pair")
	errTruncatedVector      = errors.New("vector payload truncated or malformed")
	errTruncatedScalar      = errors.New("scalar payload is not exactly 8 bytes")
	errUnknownEnvelopeKind  = errors.New("envelope carries an unrecognized payload kind")
	errNotCoordinator       = errors.New("operation is coordinator-only")
	errRunAborted           = errors.New("run aborted by cancellation signal")
)
