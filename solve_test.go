// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

package mlat_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	mlat "github.com/adsblol/mlat"
)

// testTransmitter is the synthetic transmitter position used across
// the solver tests: above the Dutch coast at 10 km height.
func testTransmitter() mlat.PosXYZ {
	return mlat.NewPosLLH(mlat.ToRad(52.1), mlat.ToRad(4.1), 10000).ToXYZ()
}

// testReceivers returns receivers on the ground surrounding the test
// transmitter, tens of kilometers apart.
func testReceivers() []mlat.PosXYZ {
	spots := [][3]float64{
		{51.9, 3.9, 10},
		{51.9, 4.3, 25},
		{52.3, 3.9, 5},
		{52.3, 4.3, 40},
		{52.1, 4.1, 0},
	}
	rxs := make([]mlat.PosXYZ, len(spots))
	for i, s := range spots {
		rxs[i] = mlat.NewPosLLH(mlat.ToRad(s[0]), mlat.ToRad(s[1]), s[2]).ToXYZ()
	}
	return rxs
}

// syntheticMeasurements computes exact receive timestamps for a
// transmission from tx at epoch second 100, sorted by timestamp.
func syntheticMeasurements(tx mlat.PosXYZ, rxs []mlat.PosXYZ, variance float64) []mlat.Measurement {
	meas := make([]mlat.Measurement, len(rxs))
	for i, rx := range rxs {
		d := mlat.EucDist(&rx, &tx)
		meas[i] = mlat.Measurement{
			ReceiverPos: rx,
			Timestamp:   100.0 + d/mlat.Cair,
			Variance:    variance,
		}
	}
	sort.Slice(meas, func(i, j int) bool { return meas[i].Timestamp < meas[j].Timestamp })
	return meas
}

// offsetGuess returns the transmitter position displaced by the given
// ECEF delta, as a start point for the solver.
func offsetGuess(tx mlat.PosXYZ, dx, dy, dz float64) mlat.PosXYZ {
	return mlat.PosXYZ{X: tx.X + dx, Y: tx.Y + dy, Z: tx.Z + dz}
}

func TestSolve_ExactRecovery(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)
	guess := offsetGuess(tx, 3000, -2000, 4000)

	fix, err := mlat.Solve(meas, nil, guess, nil)
	require.NoError(t, err)
	require.NotNil(t, fix)

	require.Less(t, mlat.EucDist(&fix.Pos, &tx), 1.0,
		"recovered position should be within 1 m of the truth")

	// The offset absorbs the propagation time to the reference
	// (earliest) receiver, so it equals that receiver's distance.
	d0 := mlat.EucDist(&meas[0].ReceiverPos, &tx)
	require.InDelta(t, d0, fix.Offset, 1.0)
}

func TestSolve_TooFewConstraints(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers()[:3], 1e-12)

	_, err := mlat.Solve(meas, nil, tx, nil)
	require.ErrorIs(t, err, mlat.ErrTooFewMeasurements)

	// Two measurements plus an altitude is still only three constraints
	alt := &mlat.AltObs{Alt: 10000, Sigma: 100}
	_, err = mlat.Solve(meas[:2], alt, tx, nil)
	require.ErrorIs(t, err, mlat.ErrTooFewMeasurements)

	_, err = mlat.Solve(nil, alt, tx, nil)
	require.ErrorIs(t, err, mlat.ErrTooFewMeasurements)
}

func TestSolve_AltitudeAsFourthConstraint(t *testing.T) {
	tx := testTransmitter()
	txHei := tx.ToLLH().Hei
	meas := syntheticMeasurements(tx, testReceivers()[:3], 1e-12)
	guess := offsetGuess(tx, 2000, 2000, -1000)

	// Three measurements alone fail
	_, err := mlat.Solve(meas, nil, guess, nil)
	require.ErrorIs(t, err, mlat.ErrTooFewMeasurements)

	// The same three with a reported altitude succeed
	fix, err := mlat.Solve(meas, &mlat.AltObs{Alt: txHei, Sigma: 100}, guess, nil)
	require.NoError(t, err)
	require.Less(t, mlat.EucDist(&fix.Pos, &tx), 1.0)
}

func TestSolve_UnsortedInput(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)
	meas[0], meas[len(meas)-1] = meas[len(meas)-1], meas[0]

	_, err := mlat.Solve(meas, nil, tx, nil)
	require.ErrorIs(t, err, mlat.ErrUnsortedInput)
}

func TestSolve_BadVariance(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)
	meas[2].Variance = 0

	_, err := mlat.Solve(meas, nil, tx, nil)
	require.ErrorIs(t, err, mlat.ErrBadVariance)
}

// recordingGeo wraps WGS84 and captures the target position of the
// first distance evaluation, which is the solver's start point.
type recordingGeo struct {
	mlat.WGS84
	mu    sync.Mutex
	start *mlat.PosXYZ
}

func (g *recordingGeo) Distance(a, b mlat.PosXYZ) float64 {
	g.mu.Lock()
	if g.start == nil {
		p := b
		g.start = &p
	}
	g.mu.Unlock()
	return g.WGS84.Distance(a, b)
}

func TestSolve_ClampsLowInitialGuess(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)

	// Start 20 km underground
	low := mlat.NewPosLLH(mlat.ToRad(52.1), mlat.ToRad(4.1), -20000).ToXYZ()

	geo := &recordingGeo{}
	opt := mlat.NewSolverOpt()
	opt.Geo = geo

	mlat.Solve(meas, nil, low, opt)
	require.NotNil(t, geo.start)
	require.InDelta(t, mlat.DefaultMinAlt, geo.start.ToLLH().Hei, 1e-3,
		"solver must start from the clamped altitude")
}

func TestSolve_ClampsHighInitialGuess(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)

	high := mlat.NewPosLLH(mlat.ToRad(52.1), mlat.ToRad(4.1), 200000).ToXYZ()

	geo := &recordingGeo{}
	opt := mlat.NewSolverOpt()
	opt.Geo = geo

	mlat.Solve(meas, nil, high, opt)
	require.NotNil(t, geo.start)
	require.InDelta(t, mlat.DefaultMaxAlt, geo.start.ToLLH().Hei, 1e-3)
}

func TestSolve_InBandGuessNotClamped(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)
	guess := offsetGuess(tx, 1000, 1000, 1000)

	geo := &recordingGeo{}
	opt := mlat.NewSolverOpt()
	opt.Geo = geo

	mlat.Solve(meas, nil, guess, opt)
	require.NotNil(t, geo.start)
	require.Equal(t, guess, *geo.start)
}

func TestSolve_ImplausibleOffsetRejected(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)
	guess := offsetGuess(tx, 1000, -1000, 500)

	// The exact geometry converges with offset equal to the nearest
	// receiver distance (about 10 km here). A tighter plausibility
	// bound must turn that converged state into a rejection.
	opt := mlat.NewSolverOpt()
	opt.MaxOffset = 1000

	fix, err := mlat.Solve(meas, nil, guess, opt)
	require.Nil(t, fix)
	require.ErrorIs(t, err, mlat.ErrImplausibleFix)
	require.ErrorIs(t, err, mlat.ErrNoFix)
}

func TestSolve_SkewedTimebaseYieldsNoFix(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)

	// Pull the reference timestamp far backwards. All pseudoranges
	// inflate by 400 km, so the fitted offset lands well outside the
	// plausible band whether or not the loop converges.
	meas[0].Timestamp -= 400e3 / mlat.Cair

	fix, err := mlat.Solve(meas, nil, offsetGuess(tx, 1000, 0, 0), nil)
	require.Nil(t, fix)
	require.ErrorIs(t, err, mlat.ErrNoFix)
}

func TestSolve_RangeCheck(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)
	guess := offsetGuess(tx, 1000, -1000, 500)

	// Off by default: receivers 10-40 km away are accepted
	fix, err := mlat.Solve(meas, nil, guess, nil)
	require.NoError(t, err)
	require.NotNil(t, fix)

	// Enabled with a bound below the actual receiver distances
	opt := mlat.NewSolverOpt()
	opt.RangeCheck = true
	opt.MaxRange = 1000

	fix, err = mlat.Solve(meas, nil, guess, opt)
	require.Nil(t, fix)
	require.ErrorIs(t, err, mlat.ErrImplausibleFix)
}

func TestSolve_IterationCap(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)

	// One iteration from 50 km away cannot reach the millimeter
	// convergence threshold.
	opt := mlat.NewSolverOpt()
	opt.MaxIter = 1

	_, err := mlat.Solve(meas, nil, offsetGuess(tx, 50000, 0, 0), opt)
	require.ErrorIs(t, err, mlat.ErrNotConverged)
	require.ErrorIs(t, err, mlat.ErrNoFix)
}

func TestSolve_CovarianceSymmetricPSD(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)

	fix, err := mlat.Solve(meas, nil, offsetGuess(tx, 2000, 1000, -3000), nil)
	require.NoError(t, err)
	require.NotNil(t, fix.Cov)

	cov := *fix.Cov
	for i := 0; i < 3; i++ {
		require.Greater(t, cov[i][i], 0.0)
		require.Less(t, cov[i][i], 1e9, "diagonal should stay bounded for clean inputs")
		for j := i + 1; j < 3; j++ {
			require.InDelta(t, cov[i][j], cov[j][i], 1.0, "covariance must be symmetric")
		}
	}

	// Positive semi-definite: no negative eigenvalues
	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			sym.SetSym(i, j, cov[i][j])
		}
	}
	var es mat.EigenSym
	require.True(t, es.Factorize(sym, false))
	for _, v := range es.Values(nil) {
		require.GreaterOrEqual(t, v, -1e-9)
	}
}

func TestSolve_StatsHook(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)

	var calls []mlat.SolveStats
	opt := mlat.NewSolverOpt()
	opt.OnSolve = func(s mlat.SolveStats) { calls = append(calls, s) }

	_, err := mlat.Solve(meas, nil, offsetGuess(tx, 2000, 0, 0), opt)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.True(t, calls[0].Converged)
	require.True(t, calls[0].Accepted)
	require.Greater(t, calls[0].Iter, 0)
	require.LessOrEqual(t, calls[0].Iter, opt.MaxIter)
	require.Greater(t, calls[0].Elapsed.Nanoseconds(), int64(0))

	// The hook also fires on input errors
	_, err = mlat.Solve(meas[:2], nil, tx, opt)
	require.ErrorIs(t, err, mlat.ErrTooFewMeasurements)
	require.Len(t, calls, 2)
	require.False(t, calls[1].Accepted)
}

func TestSolve_ConcurrentCalls(t *testing.T) {
	tx := testTransmitter()
	meas := syntheticMeasurements(tx, testReceivers(), 1e-12)
	guess := offsetGuess(tx, 3000, -2000, 4000)

	var wg sync.WaitGroup
	results := make([]*mlat.Fix, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = mlat.Solve(meas, nil, guess, nil)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		require.Equal(t, results[0].Pos, results[i].Pos,
			"identical inputs must give identical fixes")
	}
}
