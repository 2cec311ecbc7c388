package planner

import (
	"math"

	"travel-router/internal/models"
)

// GreedyOrder orders waypoints with a nearest-neighbour pass over durations.
// Index 0 is the origin and index len-1 the destination; every index in
// between is visited exactly once. Ties and all-unreachable choices go to
// the lowest original index.
func GreedyOrder(durations [][]float64) []int {
	n := len(durations)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}

	last := n - 1
	visited := make([]bool, n)
	visited[0] = true
	order := make([]int, 0, n)
	order = append(order, 0)

	current := 0
	for step := 1; step < last; step++ {
		best := -1
		bestTime := math.Inf(1)
		for j := 1; j < last; j++ {
			if visited[j] {
				continue
			}
			if best == -1 || durations[current][j] < bestTime {
				best = j
				bestTime = durations[current][j]
			}
		}
		visited[best] = true
		order = append(order, best)
		current = best
	}

	return append(order, last)
}

// BuildTimeline emits one leg per consecutive pair of stops. Unreachable legs
// have a nil LegSeconds and do not advance the cumulative ETA.
func BuildTimeline(stops []models.PlanStop, order []int, durations [][]float64) []models.Leg {
	legs := make([]models.Leg, 0, len(order))
	cumulative := 0
	for k := 1; k < len(order); k++ {
		from, to := order[k-1], order[k]
		leg := models.Leg{From: stops[from], To: stops[to]}

		d := durations[from][to]
		if !math.IsInf(d, 0) && !math.IsNaN(d) {
			secs := int(math.Round(d))
			leg.LegSeconds = &secs
			cumulative += secs
		}
		leg.CumulativeETASeconds = cumulative
		legs = append(legs, leg)
	}
	return legs
}
