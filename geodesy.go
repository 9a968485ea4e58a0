// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

package mlat

// Geodesy is the coordinate capability the solver consumes. The
// default implementation is WGS84; tests substitute instrumented
// implementations.
type Geodesy interface {
	// Distance returns the Euclidean distance between two ECEF
	// positions in meters.
	Distance(a, b PosXYZ) float64
	// ToLLH converts an ECEF position to geodetic coordinates.
	ToLLH(p PosXYZ) PosLLH
	// ToXYZ converts a geodetic position to ECEF coordinates.
	ToXYZ(p PosLLH) PosXYZ
}

// WGS84 implements Geodesy on the WGS84 ellipsoid.
type WGS84 struct{}

func (WGS84) Distance(a, b PosXYZ) float64 {
	return EucDist(&a, &b)
}

func (WGS84) ToLLH(p PosXYZ) PosLLH {
	return p.ToLLH()
}

func (WGS84) ToXYZ(p PosLLH) PosXYZ {
	return p.ToXYZ()
}
