package player

import (
	"math"

	"github.com/ysokolov/cloudamp/internal/config"
)

// The output chain uses effects.Volume with Base 2, so a linear gain g
// maps to the exponent log2(g). Gain 1.0 is unity, 0.5 is -6dB, 0 is
// handled by the Silent flag instead of -Inf.

// gainToVolume converts a linear gain in [0, 1] to the exponent expected
// by effects.Volume and whether the output should be silenced outright.
// Out-of-range input is clamped first.
func gainToVolume(g float64) (volume float64, silent bool) {
	g = config.ClampVolume(g)
	if g == 0 {
		return 0, true
	}
	return math.Log2(g), false
}
