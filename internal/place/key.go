package place

import (
	"fmt"
	"math"
)

// keyPrecision is the number of decimals kept in a coordinate key (about 1m)
const keyPrecision = 5

// Key returns the deduplication key for a coordinate pair. Coordinates that
// round to the same value always produce the same key.
func Key(lat, lon float64) string {
	return fmt.Sprintf("%.*f,%.*f", keyPrecision, round(lat), keyPrecision, round(lon))
}

func round(v float64) float64 {
	scale := math.Pow10(keyPrecision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		// fold -0 into 0 so both hemispheres share the key
		return 0
	}
	return r
}
