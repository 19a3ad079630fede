package cluster

import "math"

// ProjectedPoint is one embedding flattened to two dimensions for
// visualization, tagged with its current speaker assignment.
type ProjectedPoint struct {
	SegmentID uint64  `json:"segmentId"`
	SpeakerID string  `json:"speakerId,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Projection returns a 2-D PCA projection of the current population.
func (c *Clusterer) Projection() []ProjectedPoint {
	c.mu.Lock()
	vectors := make([][]float32, len(c.population))
	out := make([]ProjectedPoint, len(c.population))
	for i, m := range c.population {
		vectors[i] = m.vector
		out[i] = ProjectedPoint{SegmentID: m.segmentID, SpeakerID: m.speakerID}
	}
	c.mu.Unlock()

	coords := pca2(vectors)
	for i := range out {
		out[i].X = coords[i][0]
		out[i].Y = coords[i][1]
	}
	return out
}

// pca2 projects the vectors onto their two principal components, found
// by power iteration with deflation. Exact eigensolvers are overkill
// for a scatter plot.
func pca2(vectors [][]float32) [][2]float64 {
	n := len(vectors)
	coords := make([][2]float64, n)
	if n == 0 {
		return coords
	}
	dim := len(vectors[0])
	if n == 1 || dim == 0 {
		return coords
	}

	// Center.
	mean := make([]float64, dim)
	for _, v := range vectors {
		for i := range mean {
			mean[i] += float64(v[i])
		}
	}
	for i := range mean {
		mean[i] /= float64(n)
	}
	centered := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, dim)
		for j := range row {
			row[j] = float64(v[j]) - mean[j]
		}
		centered[i] = row
	}

	first := principalComponent(centered, nil)
	second := principalComponent(centered, first)
	for i, row := range centered {
		coords[i][0] = dot64(row, first)
		coords[i][1] = dot64(row, second)
	}
	return coords
}

// principalComponent power-iterates v <- X'Xv, orthogonalizing against
// exclude when given.
func principalComponent(rows [][]float64, exclude []float64) []float64 {
	dim := len(rows[0])
	v := make([]float64, dim)
	for i := range v {
		// Deterministic non-degenerate start.
		v[i] = 1 / math.Sqrt(float64(i+1))
	}
	if exclude != nil {
		orthogonalize(v, exclude)
	}
	normalize64(v)

	next := make([]float64, dim)
	for iter := 0; iter < 50; iter++ {
		for i := range next {
			next[i] = 0
		}
		for _, row := range rows {
			p := dot64(row, v)
			for j := range next {
				next[j] += p * row[j]
			}
		}
		if exclude != nil {
			orthogonalize(next, exclude)
		}
		if !normalize64(next) {
			break // degenerate direction, e.g. identical points
		}
		delta := 0.0
		for i := range v {
			delta += math.Abs(next[i] - v[i])
		}
		copy(v, next)
		if delta < 1e-9 {
			break
		}
	}
	return v
}

func orthogonalize(v, against []float64) {
	p := dot64(v, against)
	for i := range v {
		v[i] -= p * against[i]
	}
}

func normalize64(v []float64) bool {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return false
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] *= inv
	}
	return true
}

func dot64(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
