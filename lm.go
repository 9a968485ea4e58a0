// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

package mlat

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Calculation constants for the least-squares loop
const (
	convergenceThreshold = 0.001 // Position update convergence threshold [m]
	initialDamping       = 1e-3  // Starting Levenberg-Marquardt damping factor
	dampingStep          = 10.0  // Damping adjustment per accepted/rejected step
	maxDamping           = 1e10  // Give up when damping grows past this
)

// lmResult is the raw outcome of the minimization loop.
type lmResult struct {
	x         []float64  // Final state (position + offset)
	cov       mat.Matrix // (G^t W G)^-1 at the last accepted step, nil when singular
	iter      int        // Iterations consumed
	converged bool
}

// minimize runs a damped least-squares (Levenberg-Marquardt) loop on
// the residual model starting from x0. It terminates within maxIter
// iterations regardless of convergence; singular equations and
// NaN/Inf states end the loop as not converged instead of faulting.
func minimize(x0 []float64, data []PseudorangeDatum, alt *AltObs, geo Geodesy, maxIter int) lmResult {
	x := make([]float64, nState)
	copy(x, x0)

	rslt := lmResult{x: x}
	damp := initialDamping

	ssr := SumSqResiduals(x, data, alt, geo)
	if math.IsNaN(ssr) || math.IsInf(ssr, 0) {
		return rslt
	}

	for iter := 0; iter < maxIter; iter++ {
		rslt.iter = iter + 1

		// ---------------------------------
		// Setup and solve equations
		// ---------------------------------
		G, dr, w := buildEquations(x, data, alt, geo)
		W := mat.NewDiagDense(len(w), w)
		if DBG_ >= 4 {
			PrintA("G=\n")
			PrintMat(G)
			PrintA("dr=\n")
			PrintMat(dr)
		}
		dx, cov, err := SolveLS(G, dr, W, damp)
		if err != nil {
			// Singular normal equations: raise damping and retry
			PrintD(3, "\tLOOP %d: SolveLS() failed, err=%s\n", iter+1, err.Error())
			damp *= dampingStep
			if damp > maxDamping {
				break
			}
			continue
		}

		// Candidate state
		x2 := make([]float64, nState)
		finite := true
		for j := range x2 {
			x2[j] = x[j] + dx.AtVec(j)
			if math.IsNaN(x2[j]) || math.IsInf(x2[j], 0) {
				finite = false
			}
		}
		ssr2 := math.Inf(1)
		if finite {
			ssr2 = SumSqResiduals(x2, data, alt, geo)
		}

		// Step acceptance test on the scalar objective
		if math.IsNaN(ssr2) || ssr2 > ssr {
			PrintD(3, "\tLOOP %d: rejected, ssr %f -> %f, damp=%g\n", iter+1, ssr, ssr2, damp)
			damp *= dampingStep
			if damp > maxDamping {
				break
			}
			continue
		}

		copy(x, x2)
		ssr = ssr2
		rslt.cov = cov
		damp /= dampingStep

		PrintD(3, "\tLOOP %d: x= %.3f %.3f %.3f, offset= %.3f, ssr= %f\n",
			iter+1, x[0], x[1], x[2], x[3], ssr)

		// Check convergence (position update below threshold)
		if isConverged(dx) {
			rslt.converged = true
			break
		}
	}

	return rslt
}

// isConverged checks the position part of the state update.
func isConverged(dx mat.Vector) bool {
	return math.Abs(dx.AtVec(0)) < convergenceThreshold &&
		math.Abs(dx.AtVec(1)) < convergenceThreshold &&
		math.Abs(dx.AtVec(2)) < convergenceThreshold
}
