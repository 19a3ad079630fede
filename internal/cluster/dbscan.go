package cluster

import (
	"fmt"
	"math"
)

// Metric measures distance between two embedding vectors of equal
// dimension. Smaller is more similar.
type Metric func(a, b []float32) float64

// Cosine returns the cosine distance (1 - cosine similarity). A zero
// vector is maximally distant from everything.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Euclidean returns the L2 distance.
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MetricByName resolves a configured metric name.
func MetricByName(name string) (Metric, error) {
	switch name {
	case "cosine":
		return Cosine, nil
	case "euclidean":
		return Euclidean, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", name)
	}
}

// Noise is the label DBSCAN gives points that belong to no cluster.
const Noise = -1

// DBSCAN labels each point with a cluster index, or Noise. Cluster
// indices are dense starting at 0. The region query is quadratic; the
// populations here are bounded by the clustering window and re-runs
// happen off the ingest path.
func DBSCAN(points [][]float32, eps float64, minPts int, dist Metric) []int {
	const unvisited = -2

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	neighbors := func(p int) []int {
		var out []int
		for q := range points {
			if q == p {
				continue
			}
			if dist(points[p], points[q]) <= eps {
				out = append(out, q)
			}
		}
		return out
	}

	next := 0
	for p := range points {
		if labels[p] != unvisited {
			continue
		}
		seeds := neighbors(p)
		if len(seeds)+1 < minPts {
			labels[p] = Noise
			continue
		}

		c := next
		next++
		labels[p] = c

		for i := 0; i < len(seeds); i++ {
			q := seeds[i]
			if labels[q] == Noise {
				labels[q] = c // border point
				continue
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = c
			qn := neighbors(q)
			if len(qn)+1 >= minPts {
				seeds = append(seeds, qn...)
			}
		}
	}
	return labels
}
