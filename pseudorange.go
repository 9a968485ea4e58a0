// Copyright (c) 2026 the adsb.lol authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//

package mlat

import "math"

// Measurement is one receive report: where the receiver is, when it
// saw the signal, and how good that timestamp is. The timestamp epoch
// is arbitrary but must be shared by all measurements of one solve.
type Measurement struct {
	ReceiverPos PosXYZ  // Receiver position, ECEF [m]
	Timestamp   float64 // Reception time [s]
	Variance    float64 // Variance of Timestamp [s^2], > 0
}

// PseudorangeDatum is a Measurement converted to range units relative
// to the first measurement's timestamp.
type PseudorangeDatum struct {
	ReceiverPos PosXYZ  // Receiver position, ECEF [m]
	Pseudorange float64 // (timestamp - base) * Cair [m]
	Sigma       float64 // sqrt(variance) * Cair [m]
}

// MakePseudoranges converts measurements to pseudoranges relative to
// the first measurement's timestamp and returns that base timestamp.
// Measurements must already be ordered by timestamp (checked by
// Solve); the first entry defines the time reference.
func MakePseudoranges(meas []Measurement) ([]PseudorangeDatum, float64) {
	base := meas[0].Timestamp
	data := make([]PseudorangeDatum, len(meas))
	for i, m := range meas {
		data[i] = PseudorangeDatum{
			ReceiverPos: m.ReceiverPos,
			Pseudorange: (m.Timestamp - base) * Cair,
			Sigma:       math.Sqrt(m.Variance) * Cair,
		}
	}
	return data, base
}
