// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

// Implements multilateration of a transmitter position from one-way
// receive timestamps recorded by receivers at known positions.

package mlat

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// Input contract violations. The caller must fix its input before
// retrying; resubmitting the same measurements cannot succeed.
var (
	ErrTooFewMeasurements = errors.New("mlat: not enough measurements")
	ErrUnsortedInput      = errors.New("mlat: measurements not ordered by timestamp")
	ErrBadVariance        = errors.New("mlat: non-positive timestamp variance")
)

// No-fix outcomes. Both wrap ErrNoFix: the caller treats them as "no
// position this round" and moves on; the distinction is diagnostics.
var (
	ErrNoFix          = errors.New("mlat: no fix")
	ErrNotConverged   = fmt.Errorf("%w: solver did not converge", ErrNoFix)
	ErrImplausibleFix = fmt.Errorf("%w: implausible solution", ErrNoFix)
)

// SolverOpt contains options and parameters for the multilateration
// solver. RangeCheck is off by default: it repeats a distance
// computation per receiver after convergence and the offset bound
// alone catches nearly everything it would.
type SolverOpt struct {
	MinAlt     float64          // Lower clamp for the start altitude [m]
	MaxAlt     float64          // Upper clamp for the start altitude [m]
	MaxIter    int              // Iteration cap for the least-squares loop
	MaxOffset  float64          // Plausibility bound on the range offset [m]
	RangeCheck bool             // Reject fixes too far from any receiver
	MaxRange   float64          // Receiver-to-fix bound for RangeCheck [m]
	Geo        Geodesy          // Geodesy implementation. nil means WGS84
	OnSolve    func(SolveStats) // Per-call observability hook (optional)
}

// NewSolverOpt creates a SolverOpt with default values.
func NewSolverOpt() *SolverOpt {
	return &SolverOpt{
		MinAlt:     DefaultMinAlt,
		MaxAlt:     DefaultMaxAlt,
		MaxIter:    DefaultMaxIter,
		MaxOffset:  DefaultMaxOffset,
		RangeCheck: false,
		MaxRange:   DefaultMaxRange,
		Geo:        nil,
		OnSolve:    nil,
	}
}

// Fix is a successful multilateration result.
type Fix struct {
	Pos    PosXYZ         // Transmitter position, ECEF [m]
	Offset float64        // Estimated clock/range offset [m]
	Cov    *[3][3]float64 // Position covariance estimate [m^2], nil when unavailable
}

// SolveStats is what the OnSolve hook receives after every call,
// successful or not.
type SolveStats struct {
	Elapsed   time.Duration // Time spent in the call
	Iter      int           // Iterations consumed by the solver loop
	Converged bool          // Solver loop reached convergence
	Accepted  bool          // Result passed the plausibility checks
}

// Solve multilaterates the position of a transmitter.
//
// meas are the receive reports, ordered by timestamp; the first one
// defines the time reference the pseudoranges are relative to. alt is
// the reported altitude of the transmitter, or nil. initialGuess is
// an ECEF position to start from. opt may be nil for defaults.
//
// The system has four unknowns (position and a shared range offset),
// so len(meas) plus one for a supplied altitude must be at least 4;
// fewer is an input error. A solver that fails to converge, or
// converges on a physically implausible state, returns an error
// wrapping ErrNoFix.
func Solve(meas []Measurement, alt *AltObs, initialGuess PosXYZ, opt *SolverOpt) (fix *Fix, err error) {
	if opt == nil {
		opt = NewSolverOpt()
	}
	geo := opt.Geo
	if geo == nil {
		geo = WGS84{}
	}

	var stats SolveStats
	if opt.OnSolve != nil {
		start := time.Now()
		defer func() {
			stats.Elapsed = time.Since(start)
			stats.Accepted = fix != nil
			opt.OnSolve(stats)
		}()
	}

	// Four unknowns need four constraints
	n := len(meas)
	if alt != nil {
		n++
	}
	if n < 4 {
		return nil, fmt.Errorf("%w: %d constraints, need 4", ErrTooFewMeasurements, n)
	}
	for _, m := range meas {
		if m.Variance <= 0 {
			return nil, fmt.Errorf("%w: %g", ErrBadVariance, m.Variance)
		}
	}

	// The first measurement defines the time reference, so the input
	// order is part of the contract. Reject violations instead of
	// producing a silently skewed pseudorange set.
	if !slices.IsSortedFunc(meas, func(a, b Measurement) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	}) {
		return nil, ErrUnsortedInput
	}

	start := clampGuess(initialGuess, geo, opt.MinAlt, opt.MaxAlt)
	data, _ := MakePseudoranges(meas)

	// Minimize the residual model from the clamped guess, offset 0
	x0 := []float64{start.X, start.Y, start.Z, 0}
	rslt := minimize(x0, data, alt, geo, opt.MaxIter)
	stats.Iter = rslt.iter
	stats.Converged = rslt.converged
	if !rslt.converged {
		return nil, ErrNotConverged
	}

	pos := statePos(rslt.x)
	offset := rslt.x[3]

	// The solver found a result. Validate that it makes some sort of
	// physical sense: the signal cannot arrive before the reference
	// receiver's frame, nor implausibly late.
	if offset < 0 || offset > opt.MaxOffset {
		PrintD(2, "\tbad offset: %f\n", offset)
		return nil, fmt.Errorf("%w: offset %.0f m", ErrImplausibleFix, offset)
	}
	if opt.RangeCheck {
		for _, m := range meas {
			if d := geo.Distance(m.ReceiverPos, pos); d > opt.MaxRange {
				PrintD(2, "\tbad range: %f\n", d)
				return nil, fmt.Errorf("%w: %.0f m from receiver", ErrImplausibleFix, d)
			}
		}
	}

	fix = &Fix{Pos: pos, Offset: offset, Cov: positionCov(rslt)}
	return fix, nil
}

// clampGuess constrains the start position's geodetic height into
// [minAlt, maxAlt]. Starting deep underground or far above the
// atmosphere puts the linearization in a degenerate regime.
func clampGuess(guess PosXYZ, geo Geodesy, minAlt, maxAlt float64) PosXYZ {
	llh := geo.ToLLH(guess)
	if llh.Hei < minAlt {
		llh.Hei = minAlt
		return geo.ToXYZ(llh)
	}
	if llh.Hei > maxAlt {
		llh.Hei = maxAlt
		return geo.ToXYZ(llh)
	}
	return guess
}

// positionCov extracts the position block of the covariance estimate,
// discarding the offset row and column. nil when the solver had no
// usable estimate at convergence.
func positionCov(rslt lmResult) *[3][3]float64 {
	if rslt.cov == nil {
		return nil
	}
	var cov [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			cov[i][j] = rslt.cov.At(i, j)
		}
	}
	return &cov
}
