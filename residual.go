// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

// Residual model for the multilateration state: predicted pseudoranges
// (and optionally geodetic height) versus the measured ones, weighted
// by the measurement sigmas.

package mlat

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AltObs is an optional reported-altitude constraint.
type AltObs struct {
	Alt   float64 // Geodetic height [m]
	Sigma float64 // 1-sigma error of Alt [m], > 0
}

// The state vector layout: x[0:3] is the ECEF position, x[3] is the
// shared clock/range offset in meters.
const nState = 4

func statePos(x []float64) PosXYZ {
	return PosXYZ{X: x[0], Y: x[1], Z: x[2]}
}

// Residuals returns the weighted residual vector of state x against
// the pseudorange data: (measured - (distance - offset)) / sigma per
// datum, plus (alt - height) / sigma when an altitude is supplied.
func Residuals(x []float64, data []PseudorangeDatum, alt *AltObs, geo Geodesy) []float64 {
	pos := statePos(x)
	offset := x[3]

	n := len(data)
	if alt != nil {
		n++
	}
	res := make([]float64, 0, n)

	// Pseudorange at the current state vs. measured pseudorange
	for _, d := range data {
		guess := geo.Distance(d.ReceiverPos, pos) - offset
		res = append(res, (d.Pseudorange-guess)/d.Sigma)
	}

	// Geodetic height at the current state vs. reported altitude
	if alt != nil {
		hei := geo.ToLLH(pos).Hei
		res = append(res, (alt.Alt-hei)/alt.Sigma)
	}

	return res
}

// SumSqResiduals returns the sum of squared weighted residuals of
// state x, the scalar objective the solver minimizes.
func SumSqResiduals(x []float64, data []PseudorangeDatum, alt *AltObs, geo Geodesy) float64 {
	s := 0.0
	for _, r := range Residuals(x, data, alt, geo) {
		s += r * r
	}
	return s
}

// buildEquations linearizes the measurement model around state x.
// G holds the partial derivatives of each predicted measurement with
// respect to the state, dr the unweighted prediction errors, and w
// the per-equation weights (1/sigma^2).
func buildEquations(x []float64, data []PseudorangeDatum, alt *AltObs, geo Geodesy) (G *mat.Dense, dr *mat.VecDense, w []float64) {
	pos := statePos(x)
	offset := x[3]

	n := len(data)
	if alt != nil {
		n++
	}
	G = mat.NewDense(n, nState, nil)
	dr = mat.NewVecDense(n, nil)
	w = make([]float64, n)

	for i, d := range data {
		// Predicted pseudorange = distance - offset
		guess := geo.Distance(d.ReceiverPos, pos) - offset
		G.Set(i, 0, DistDx(&d.ReceiverPos, &pos))
		G.Set(i, 1, DistDy(&d.ReceiverPos, &pos))
		G.Set(i, 2, DistDz(&d.ReceiverPos, &pos))
		G.Set(i, 3, -1)
		dr.SetVec(i, d.Pseudorange-guess)
		w[i] = 1 / SQ(d.Sigma)
	}

	if alt != nil {
		// Height changes along the local up direction
		llh := geo.ToLLH(pos)
		i := n - 1
		G.Set(i, 0, math.Cos(llh.Lat)*math.Cos(llh.Lon))
		G.Set(i, 1, math.Cos(llh.Lat)*math.Sin(llh.Lon))
		G.Set(i, 2, math.Sin(llh.Lat))
		G.Set(i, 3, 0)
		dr.SetVec(i, alt.Alt-llh.Hei)
		w[i] = 1 / SQ(alt.Sigma)
	}

	return G, dr, w
}
