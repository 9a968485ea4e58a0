// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

package mlat

const (
	PI   = 3.1415926535897932  // Pi
	C    = 2.99792458e8        // Speed of light in vacuum [m/s]
	Cair = C / 1.0003          // Propagation speed in air [m/s]
	Re   = 6378137.0           // WGS84 semi-major axis [m]
	Fe   = 1.0 / 298.257223563 // WGS84 flattening
	FtoM = 0.3048              // Feet to meters
	MtoF = 1.0 / 0.3048        // Meters to feet
)

// Solver defaults, see NewSolverOpt.
const (
	DefaultMinAlt    = -1500.0  // Lowest allowed start altitude [m]
	DefaultMaxAlt    = 75000.0  // Highest allowed start altitude [m]
	DefaultMaxIter   = 50       // Iteration cap for the least-squares loop
	DefaultMaxOffset = 500000.0 // Plausibility bound on the range offset [m]
	DefaultMaxRange  = 500000.0 // Receiver-to-fix distance bound [m]
)
