package geocode

import (
	"fmt"
	"math"
)

// BucketKey rounds a coordinate to the given number of decimal places
// and renders it as a stable cache key. Five decimals bucket at roughly
// 1.1 m, which collapses near-duplicate queries onto one entry.
func BucketKey(lat, lon float64, precision int) string {
	scale := math.Pow10(precision)
	rlat := math.Round(lat*scale) / scale
	rlon := math.Round(lon*scale) / scale
	return fmt.Sprintf("%.*f,%.*f", precision, rlat, precision, rlon)
}
