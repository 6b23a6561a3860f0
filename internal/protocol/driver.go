// Package protocol implements the distributed normalization state
// machine (C5 ProtocolDriver) over the pure math in internal/kernel,
// internal/quantile and internal/upperquartile, plus the coordinator-only
// aggregation step (C6). It is grounded on original_source/app/logic.py's
// eleven-state AppLogic machine, re-expressed as an explicit Go state
// enum driven by a Transport rather than logic.py's shared in-process
// list and busy-wait sleep loop.
package protocol

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fednorm/fednorm/internal/errs"
	quant "github.com/fednorm/fednorm/internal/quantile"
	"github.com/fednorm/fednorm/internal/store"
	"github.com/fednorm/fednorm/internal/upperquartile"
)

// State names the eleven stages of one normalization run.
type State string

const (
	StateInit               State = "init"
	StateReadInput          State = "read_input"
	StateLocalCompute       State = "local_compute"
	StateWaitFirst          State = "wait_first"
	StateGlobalAggregate    State = "global_aggregate"
	StateLocalResult        State = "local_result"
	StateWaitSecond         State = "wait_second"
	StateGlobalResultAggr   State = "global_result_aggregate"
	StateSetLocalResult     State = "set_local_result"
	StateWriteResults       State = "write_results"
	StateFinish             State = "finish"
)

// Mode selects which normalization algorithm a run uses.
type Mode string

const (
	ModeQuantile      Mode = "quantile"
	ModeUpperQuartile Mode = "upper_quartile"
)

// Role distinguishes the one coordinator from the N participants in a run.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
)

// InputSource loads the matrix and axis labels a participant normalizes.
// internal/data provides the CSV/TSV implementation; tests use an
// in-memory stub.
type InputSource interface {
	Load() (x [][]float64, sampleNames, geneNames []string, err error)
}

// ResultSink persists a participant's final normalized matrix (and, for
// upper-quartile runs, its norm factors). internal/data provides the CSV
// writer.
type ResultSink interface {
	WriteResult(x [][]float64, sampleNames, geneNames []string) error
	WriteNormFactors(normFactors []float64, sampleNames []string) error
}

// Driver runs one participant's (or the coordinator's) side of one
// normalization round-trip. A fresh Driver is created per run.
type Driver struct {
	RunID         uuid.UUID
	ParticipantID string
	Role          Role
	Mode          Mode

	Transport Transport
	Input     InputSource
	Sink      ResultSink

	// ParticipantCount is coordinator-only: the number of payloads to
	// wait for at each aggregation barrier.
	ParticipantCount int

	// ParticipantIDs is coordinator-only, used to concatenate upper-
	// quartile vectors in a stable site order before computing the
	// global geometric mean (spec section 9's Open Question, resolved in
	// DESIGN.md in favor of ascending site-id order).
	ParticipantIDs []string

	// PollInterval is the minimum spacing between successive Recv calls
	// at a coordinator aggregation barrier (10ms when unset). It applies
	// to every Transport.
	PollInterval time.Duration

	store *store.ParticipantStore
	state State
}

// State returns the driver's current state, for status reporting.
func (d *Driver) State() State { return d.state }

// Run drives the full eleven-state machine to completion or to the first
// error. ctx is checked explicitly once, before the input is read; after
// that, cancellation is observed only where a state blocks on ctx (a
// Transport's Send/Recv and the barrier rate limiter), so Recv can be
// interrupted mid-wait. The purely local states (local result, set local
// result, write results) do not check ctx.
func (d *Driver) Run(ctx context.Context) error {
	d.state = StateInit
	d.logTransition()

	x, sampleNames, geneNames, err := d.readInput(ctx)
	if err != nil {
		return err
	}
	d.store = store.New(x, sampleNames, geneNames)

	if err := d.localCompute(ctx); err != nil {
		return err
	}

	globalMeans, globalZeros, err := d.waitFirstAndAggregate(ctx)
	if err != nil {
		return err
	}

	if err := d.localResult(ctx, globalMeans, globalZeros); err != nil {
		return err
	}

	scalingFactor, err := d.waitSecondAndAggregate(ctx)
	if err != nil {
		return err
	}

	if err := d.setLocalResult(ctx, scalingFactor); err != nil {
		return err
	}

	if err := d.writeResults(ctx); err != nil {
		return err
	}

	d.state = StateFinish
	d.logTransition()
	return nil
}

func (d *Driver) readInput(ctx context.Context) ([][]float64, []string, []string, error) {
	d.state = StateReadInput
	d.logTransition()
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, errs.WithState(errs.ProtocolError(errRunAborted), string(d.state))
	}
	x, sampleNames, geneNames, err := d.Input.Load()
	if err != nil {
		return nil, nil, nil, errs.WithState(err, string(d.state))
	}
	return x, sampleNames, geneNames, nil
}

// localCompute implements the round-1 local step for both modes (spec
// sections 4.2 and 4.3) and sends the resulting payload to the
// coordinator (or, for the coordinator's own co-located participant role
// in a single-process deployment, simply to itself via Transport.Send).
func (d *Driver) localCompute(ctx context.Context) error {
	d.state = StateLocalCompute
	d.logTransition()

	switch d.Mode {
	case ModeQuantile:
		means, nobs, arr, err := quant.ComputeLocalMeans(d.store.X)
		if err != nil {
			return errs.WithState(err, string(d.state))
		}
		if err := d.store.SetNobs(nobs); err != nil {
			return err
		}
		if err := d.store.SetArr(arr); err != nil {
			return err
		}
		if err := d.store.SetLocalMeans(means); err != nil {
			return err
		}
		env := Envelope{
			RunID:         d.RunID,
			ParticipantID: d.ParticipantID,
			Round:         RoundOne,
			Kind:          KindLocalMeans,
			Payload:       EncodeLocalMeans(means),
		}
		if err := d.Transport.Send(ctx, env); err != nil {
			return errs.WithState(errs.ProtocolError(err), string(d.state))
		}
	case ModeUpperQuartile:
		zeros, err := upperquartile.ComputeLocalZeros(d.store.X)
		if err != nil {
			return errs.WithState(err, string(d.state))
		}
		if err := d.store.SetLocalZeros(zeros); err != nil {
			return err
		}
		env := Envelope{
			RunID:         d.RunID,
			ParticipantID: d.ParticipantID,
			Round:         RoundOne,
			Kind:          KindLocalZeros,
			Payload:       EncodeIntVector(zeros),
		}
		if err := d.Transport.Send(ctx, env); err != nil {
			return errs.WithState(errs.ProtocolError(err), string(d.state))
		}
	default:
		return errs.WithState(errs.ConfigError(errUnknownMode), string(d.state))
	}
	return nil
}

// waitFirstAndAggregate blocks until the first-round barrier clears. A
// participant waits for exactly one broadcast payload from the
// coordinator; the coordinator waits for ParticipantCount payloads, runs
// Aggregator, broadcasts the result to every participant, and uses the
// aggregated value directly for its own co-located site.
func (d *Driver) waitFirstAndAggregate(ctx context.Context) (globalMeans []float64, globalZeros []int, err error) {
	d.state = StateWaitFirst
	d.logTransition()

	switch d.Mode {
	case ModeQuantile:
		if d.Role == RoleCoordinator {
			payloads, aggErr := d.barrierQuantile(ctx, RoundOne, KindLocalMeans)
			if aggErr != nil {
				return nil, nil, aggErr
			}
			d.state = StateGlobalAggregate
			d.logTransition()
			gm, aggErr := (Aggregator{}).ComputeGlobalMeans(payloads)
			if aggErr != nil {
				return nil, nil, errs.WithState(aggErr, string(d.state))
			}
			out := Envelope{RunID: d.RunID, Round: RoundOne, Kind: KindGlobalMeans, Payload: EncodeFloatVector(gm)}
			if err := d.Transport.Broadcast(ctx, out); err != nil {
				return nil, nil, errs.WithState(errs.ProtocolError(err), string(d.state))
			}
			return gm, nil, nil
		}
		env, recvErr := d.Transport.Recv(ctx, RoundOne, KindGlobalMeans)
		if recvErr != nil {
			return nil, nil, errs.WithState(errs.ProtocolError(recvErr), string(d.state))
		}
		gm, decErr := DecodeFloatVector(env.Payload)
		if decErr != nil {
			return nil, nil, errs.WithState(decErr, string(d.state))
		}
		return gm, nil, nil

	case ModeUpperQuartile:
		if d.Role == RoleCoordinator {
			payloads, recvErr := d.barrierIntVectors(ctx, RoundOne, KindLocalZeros)
			if recvErr != nil {
				return nil, nil, recvErr
			}
			d.state = StateGlobalAggregate
			d.logTransition()
			gz, aggErr := (Aggregator{}).ComputeGlobalZeros(payloads)
			if aggErr != nil {
				return nil, nil, errs.WithState(aggErr, string(d.state))
			}
			out := Envelope{RunID: d.RunID, Round: RoundOne, Kind: KindGlobalZeros, Payload: EncodeIntVector(gz)}
			if err := d.Transport.Broadcast(ctx, out); err != nil {
				return nil, nil, errs.WithState(errs.ProtocolError(err), string(d.state))
			}
			return nil, gz, nil
		}
		env, recvErr := d.Transport.Recv(ctx, RoundOne, KindGlobalZeros)
		if recvErr != nil {
			return nil, nil, errs.WithState(errs.ProtocolError(recvErr), string(d.state))
		}
		gz, decErr := DecodeIntVector(env.Payload)
		if decErr != nil {
			return nil, nil, errs.WithState(decErr, string(d.state))
		}
		return nil, gz, nil
	}
	return nil, nil, errs.WithState(errs.ConfigError(errUnknownMode), string(d.state))
}

func (d *Driver) localResult(ctx context.Context, globalMeans []float64, globalZeros []int) error {
	d.state = StateLocalResult
	d.logTransition()

	switch d.Mode {
	case ModeQuantile:
		if err := d.store.SetGlobalMeans(globalMeans); err != nil {
			return err
		}
		result, err := quant.ComputeLocalResult(d.store.Arr(), d.store.Nobs(), globalMeans)
		if err != nil {
			return errs.WithState(err, string(d.state))
		}
		if err := d.store.SetResult(result); err != nil {
			return err
		}
		return nil
	case ModeUpperQuartile:
		if err := d.store.SetGlobalZeros(globalZeros); err != nil {
			return err
		}
		uq, err := upperquartile.ComputeLocalUQuartile(d.store.X, globalZeros)
		if err != nil {
			return errs.WithState(err, string(d.state))
		}
		if uq.Warning {
			log.Warn().Str("participant_id", d.ParticipantID).Str("run_id", d.RunID.String()).
				Msg("upper quartile fell back to an all-ones vector: fewer than two rows remained after global-zero removal")
		}
		if err := d.store.SetUQuartile(uq.Vector); err != nil {
			return err
		}
		env := Envelope{
			RunID:         d.RunID,
			ParticipantID: d.ParticipantID,
			Round:         RoundTwo,
			Kind:          KindUQVector,
			Payload:       EncodeFloatVector(uq.Vector),
		}
		if err := d.Transport.Send(ctx, env); err != nil {
			return errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		return nil
	}
	return errs.WithState(errs.ConfigError(errUnknownMode), string(d.state))
}

// waitSecondAndAggregate handles round 2. Quantile runs have nothing left
// to exchange (the result is already local after round 1's global
// means), so participants skip straight through; upper-quartile runs
// exchange UQ vectors and the coordinator computes the scaling factor.
func (d *Driver) waitSecondAndAggregate(ctx context.Context) (float64, error) {
	d.state = StateWaitSecond
	d.logTransition()

	if d.Mode == ModeQuantile {
		return 0, nil
	}

	if d.Role == RoleCoordinator {
		pooled, err := d.barrierFloatVectorsOrdered(ctx, RoundTwo, KindUQVector)
		if err != nil {
			return 0, err
		}
		d.state = StateGlobalResultAggr
		d.logTransition()
		sf, err := (Aggregator{}).ComputeGlobalResult(pooled)
		if err != nil {
			return 0, errs.WithState(err, string(d.state))
		}
		out := Envelope{RunID: d.RunID, Round: RoundTwo, Kind: KindScalingFactor, Payload: EncodeFloat64(sf)}
		if err := d.Transport.Broadcast(ctx, out); err != nil {
			return 0, errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		return sf, nil
	}

	env, err := d.Transport.Recv(ctx, RoundTwo, KindScalingFactor)
	if err != nil {
		return 0, errs.WithState(errs.ProtocolError(err), string(d.state))
	}
	sf, err := DecodeFloat64(env.Payload)
	if err != nil {
		return 0, errs.WithState(err, string(d.state))
	}
	return sf, nil
}

func (d *Driver) setLocalResult(ctx context.Context, scalingFactor float64) error {
	d.state = StateSetLocalResult
	d.logTransition()

	if d.Mode == ModeQuantile {
		return nil
	}

	if err := d.store.SetScalingFactor(scalingFactor); err != nil {
		return err
	}
	normFactors := upperquartile.NormFactors(d.store.UQuartile(), scalingFactor)
	if err := d.store.SetNormFactors(normFactors); err != nil {
		return err
	}
	result, err := upperquartile.ComputeLocalResult(d.store.X, normFactors)
	if err != nil {
		return errs.WithState(err, string(d.state))
	}
	return d.store.SetResult(result)
}

func (d *Driver) writeResults(ctx context.Context) error {
	d.state = StateWriteResults
	d.logTransition()

	if err := d.Sink.WriteResult(d.store.Result(), d.store.SampleNames, d.store.GeneNames); err != nil {
		return errs.WithState(errs.InputError(err), string(d.state))
	}
	if d.Mode == ModeUpperQuartile {
		if err := d.Sink.WriteNormFactors(d.store.NormFactors(), d.store.SampleNames); err != nil {
			return errs.WithState(errs.InputError(err), string(d.state))
		}
	}
	return nil
}

// barrierQuantile collects exactly ParticipantCount local-means payloads.
func (d *Driver) barrierQuantile(ctx context.Context, round Round, kind Kind) ([]store.LocalMeanVector, error) {
	out := make([]store.LocalMeanVector, 0, d.ParticipantCount)
	limiter := rate.NewLimiter(rate.Every(d.pollInterval()), 1)
	for len(out) < d.ParticipantCount {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		env, err := d.Transport.Recv(ctx, round, kind)
		if err != nil {
			return nil, errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		v, err := DecodeLocalMeans(env.Payload)
		if err != nil {
			return nil, errs.WithState(err, string(d.state))
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Driver) barrierIntVectors(ctx context.Context, round Round, kind Kind) ([][]int, error) {
	out := make([][]int, 0, d.ParticipantCount)
	limiter := rate.NewLimiter(rate.Every(d.pollInterval()), 1)
	for len(out) < d.ParticipantCount {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		env, err := d.Transport.Recv(ctx, round, kind)
		if err != nil {
			return nil, errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		v, err := DecodeIntVector(env.Payload)
		if err != nil {
			return nil, errs.WithState(err, string(d.state))
		}
		out = append(out, v)
	}
	return out, nil
}

// barrierFloatVectorsOrdered collects ParticipantCount float vectors and
// flattens them into one pooled list in ascending ParticipantID order
// (spec section 9's concatenation-order Open Question).
func (d *Driver) barrierFloatVectorsOrdered(ctx context.Context, round Round, kind Kind) ([]float64, error) {
	byParticipant := make(map[string][]float64, d.ParticipantCount)
	limiter := rate.NewLimiter(rate.Every(d.pollInterval()), 1)
	for len(byParticipant) < d.ParticipantCount {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		env, err := d.Transport.Recv(ctx, round, kind)
		if err != nil {
			return nil, errs.WithState(errs.ProtocolError(err), string(d.state))
		}
		v, err := DecodeFloatVector(env.Payload)
		if err != nil {
			return nil, errs.WithState(err, string(d.state))
		}
		byParticipant[env.ParticipantID] = v
	}

	ids := append([]string(nil), d.ParticipantIDs...)
	if len(ids) == 0 {
		for id := range byParticipant {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	pooled := make([]float64, 0)
	for _, id := range ids {
		pooled = append(pooled, byParticipant[id]...)
	}
	return pooled, nil
}

func (d *Driver) pollInterval() time.Duration {
	if d.PollInterval <= 0 {
		return 10 * time.Millisecond
	}
	return d.PollInterval
}

func (d *Driver) logTransition() {
	log.Debug().
		Str("run_id", d.RunID.String()).
		Str("participant_id", d.ParticipantID).
		Str("role", string(d.Role)).
		Str("mode", string(d.Mode)).
		Str("state", string(d.state)).
		Msg("protocol transition")
}
