// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

package mlat

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SolveLS solves the observation equation using damped weighted least squares
//   - dx = (G^t W G + damp*diag(G^t W G))^-1 G^t W dr
//   - cov is the undamped error covariance matrix (G^t W G)^-1, or nil
//     when that matrix is singular
//
// damp = 0 gives the plain Gauss-Newton step; damp > 0 is the
// Levenberg-Marquardt regularization used by the solver loop.
func SolveLS(G mat.Matrix, dr mat.Vector, W mat.Matrix, damp float64) (dx mat.Vector, cov mat.Matrix, err error) {

	n1, m1 := G.Dims()
	n2, m2 := W.Dims()
	if n1 != n2 {
		return nil, nil, fmt.Errorf("invalid matrix size. G(%d x %d), W(%d x %d)", n1, m1, n2, m2)
	}
	l1 := dr.Len()
	if l1 != m2 {
		return nil, nil, fmt.Errorf("invalid matrix size. W(%d x %d), dr(%d x 1)", n2, m2, l1)
	}

	// A（G^t W G)
	var WG mat.Dense
	WG.Mul(W, G)
	var A mat.Dense
	A.Mul(G.T(), &WG)

	// b（G^t W dr）
	var GtW mat.Dense
	GtW.Mul(G.T(), W)
	var b mat.VecDense
	b.MulVec(&GtW, dr)

	// Damped normal matrix
	Ad := mat.DenseCopyOf(&A)
	if damp > 0 {
		for i := 0; i < m1; i++ {
			Ad.Set(i, i, A.At(i, i)*(1+damp))
		}
	}

	// Solve for dx (dx = Ad^-1 b)
	var x mat.VecDense
	err = x.SolveVec(Ad, &b)
	if err != nil {
		return nil, nil, err
	}
	dx = &x

	// Set (G^t W G)^-1 as the covariance matrix. A singular normal
	// matrix only suppresses the covariance estimate, not the step.
	var c mat.Dense
	if err := c.Inverse(&A); err == nil {
		cov = &c
	}

	return dx, cov, nil
}
