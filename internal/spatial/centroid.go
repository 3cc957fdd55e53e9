package spatial

// Centroid maintains a running-mean center over a stream of coordinates.
// The mean is updated incrementally so adding a point is O(1); at stay
// scale (tens of meters) the planar lat/lon mean is indistinguishable
// from the spherical one.
type Centroid struct {
	Lat   float64
	Lon   float64
	Count int
}

// Add folds a point into the running mean.
func (c *Centroid) Add(lat, lon float64) {
	c.Count++
	c.Lat += (lat - c.Lat) / float64(c.Count)
	c.Lon += (lon - c.Lon) / float64(c.Count)
}

// DistanceTo returns the distance in meters from the centroid to a point.
func (c *Centroid) DistanceTo(lat, lon float64) float64 {
	return HaversineDistance(c.Lat, c.Lon, lat, lon)
}
