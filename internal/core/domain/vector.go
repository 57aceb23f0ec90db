package domain

import (
	"fmt"
	"math"
)

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length or zero norm have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Add folds v into the running-mean centroid and grows the cluster.
func (c *Cluster) Add(v []float32) {
	if c.Size == 0 || len(c.Centroid) != len(v) {
		c.Centroid = append([]float32(nil), v...)
		c.Size = 1
		return
	}
	n := float32(c.Size + 1)
	for i := range c.Centroid {
		c.Centroid[i] += (v[i] - c.Centroid[i]) / n
	}
	c.Size++
}

// Remove takes v back out of the running mean. The centroid of an
// emptied cluster is left as it was.
func (c *Cluster) Remove(v []float32) {
	if c.Size <= 1 || len(c.Centroid) != len(v) {
		if c.Size > 0 {
			c.Size--
		}
		return
	}
	n := float32(c.Size)
	for i := range c.Centroid {
		c.Centroid[i] = (c.Centroid[i]*n - v[i]) / (n - 1)
	}
	c.Size--
}

// TopicLabel is the default label of a cluster id.
func TopicLabel(id int) string {
	return fmt.Sprintf("Topic %d", id)
}
