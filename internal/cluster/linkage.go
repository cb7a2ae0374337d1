package cluster

import "math"

// CompleteLinkage performs hierarchical agglomerative clustering with
// complete linkage over n points and a pairwise distance function. Two
// clusters merge while the maximum pairwise distance between their members
// stays within threshold. Labels are assigned by first appearance in point
// order, so identical input always yields identical labels.
func CompleteLinkage(n int, dist func(i, j int) float64, threshold float64) []int {
	if n == 0 {
		return nil
	}

	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	linkage := func(a, b []int) float64 {
		max := 0.0
		for _, i := range a {
			for _, j := range b {
				if d := dist(i, j); d > max {
					max = d
				}
			}
		}
		return max
	}

	for len(clusters) > 1 {
		bestA, bestB := -1, -1
		bestD := math.Inf(1)
		for a := 0; a < len(clusters); a++ {
			for b := a + 1; b < len(clusters); b++ {
				d := linkage(clusters[a], clusters[b])
				if d < bestD {
					bestD = d
					bestA, bestB = a, b
				}
			}
		}
		if bestD > threshold {
			break
		}
		clusters[bestA] = append(clusters[bestA], clusters[bestB]...)
		clusters = append(clusters[:bestB], clusters[bestB+1:]...)
	}

	// Label clusters by the order their first member appears in the input.
	memberCluster := make([]int, n)
	for ci, members := range clusters {
		for _, i := range members {
			memberCluster[i] = ci
		}
	}
	labels := make([]int, n)
	clusterLabel := map[int]int{}
	next := 0
	for i := 0; i < n; i++ {
		ci := memberCluster[i]
		label, ok := clusterLabel[ci]
		if !ok {
			label = next
			next++
			clusterLabel[ci] = label
		}
		labels[i] = label
	}
	return labels
}
