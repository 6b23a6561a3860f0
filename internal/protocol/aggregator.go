package protocol

import (
	"github.com/fednorm/fednorm/internal/errs"
	"github.com/fednorm/fednorm/internal/kernel"
	"github.com/fednorm/fednorm/internal/store"
)

// Aggregator implements the three coordinator-only operations (C6),
// layered over internal/kernel and the per-site payload shapes produced
// by internal/quantile and internal/upperquartile. Every method is a pure
// function of the payloads received that round (spec section 4.6).
type Aggregator struct{}

// ComputeGlobalMeans implements spec section 3: GlobalMeanVector =
// (Σ_sites s) / (Σ_sites m_eff), element-wise. A length mismatch across
// sites' s vectors means the sites disagree on n and is fatal.
func (Aggregator) ComputeGlobalMeans(payloads []store.LocalMeanVector) ([]float64, error) {
	if len(payloads) == 0 {
		return nil, errs.ProtocolError(errNoPayloads)
	}
	n := len(payloads[0].Sum)
	sums := make([]float64, n)
	mEffTotal := 0
	for _, p := range payloads {
		if len(p.Sum) != n {
			return nil, errs.ShapeError(errMismatchedRowCounts)
		}
		for i, v := range p.Sum {
			sums[i] += v
		}
		mEffTotal += p.MEff
	}
	if mEffTotal == 0 {
		return nil, errs.DomainError(errZeroEffectiveColumns)
	}
	out := make([]float64, n)
	for i, v := range sums {
		out[i] = v / float64(mEffTotal)
	}
	return out, nil
}

// ComputeGlobalZeros implements spec section 4.3 "Coordinator global
// zeros": the intersection of every site's LocalZeroSet.
func (Aggregator) ComputeGlobalZeros(payloads [][]int) ([]int, error) {
	if len(payloads) == 0 {
		return nil, errs.ProtocolError(errNoPayloads)
	}
	return kernel.IntersectSorted(payloads), nil
}

// ComputeGlobalResult implements spec section 4.3 "Coordinator scaling
// factor": ScalingFactor = geometric_mean(concat(all sites' UQ vectors)),
// where sites are concatenated in site-id ascending order (spec section
// 9's Open Question resolved in favor of the concatenation semantics,
// confirmed against original_source/app/logic.py's
// `np.append(local_result, decode(client_data))` accumulation, which
// flattens every participant's vector into one pooled list rather than
// keeping a per-site dictionary).
func (Aggregator) ComputeGlobalResult(concatenatedUQs []float64) (float64, error) {
	return kernel.GeometricMean(concatenatedUQs)
}
