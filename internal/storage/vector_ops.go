package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// serializeVector converts a float32 slice to a byte blob (little-endian).
// The layout matches sqlite-vec's float32 vector format.
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// A zero vector has similarity 0 with everything.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance is 1 - cosine similarity, in [0, 2]
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// normalize returns a unit-length copy of v; a zero vector is returned as a zero copy
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// nearestCentroid returns the index of the centroid with the highest dot
// product against the unit vector v. Ties resolve to the lowest index.
func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestScore := 0, math.Inf(-1)
	for i, c := range centroids {
		if s := dot(v, c); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// rankCentroids returns centroid indexes ordered by decreasing similarity to v
func rankCentroids(v []float32, centroids [][]float32) []int {
	scores := make([]float64, len(centroids))
	order := make([]int, len(centroids))
	for i, c := range centroids {
		scores[i] = dot(v, c)
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order
}

// trainKMeans clusters unit vectors into k spherical k-means centroids.
// Seeding picks evenly spaced samples so training is deterministic.
func trainKMeans(samples [][]float32, k, iterations int) [][]float32 {
	if k > len(samples) {
		k = len(samples)
	}
	if k == 0 {
		return nil
	}

	dim := len(samples[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = append([]float32(nil), samples[i*len(samples)/k]...)
	}

	assign := make([]int, len(samples))
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, s := range samples {
			c := nearestCentroid(s, centroids)
			if iter == 0 || c != assign[i] {
				changed = true
			}
			assign[i] = c
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, s := range samples {
			c := assign[i]
			counts[c]++
			for j, x := range s {
				sums[c][j] += float64(x)
			}
		}

		for c := range centroids {
			if counts[c] == 0 {
				continue // empty list keeps its previous centroid
			}
			mean := make([]float32, dim)
			for j := range mean {
				mean[j] = float32(sums[c][j] / float64(counts[c]))
			}
			centroids[c] = normalize(mean)
		}
	}

	return centroids
}

// sortResults orders results by increasing distance, breaking ties by row id
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Row.ID < results[j].Row.ID
	})
}
