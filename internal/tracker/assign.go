package tracker

import "math"

// forbidden marks a cost-matrix entry the solver must not pick.
const forbidden = 1e18

// assign solves the rectangular assignment problem for an n×m cost matrix
// with the Kuhn–Munkres method. It returns, for each row, the column
// assigned to it or -1. Entries at or above forbidden are never assigned.
func assign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	rows := make([]int, n)
	for i := range rows {
		rows[i] = -1
	}
	if m == 0 {
		return rows
	}

	dim := max(n, m)
	at := func(i, j int) float64 {
		if i < n && j < m {
			return cost[i][j]
		}
		return forbidden
	}

	// 1-indexed potentials; column 0 is a virtual start column.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	owner := make([]int, dim+1) // owner[j] is the row holding column j
	prev := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		owner[0] = i
		col := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[col] = true
			row := owner[col]
			delta, next := inf, -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				if cur := at(row-1, j-1) - u[row] - v[j]; cur < minv[j] {
					minv[j] = cur
					prev[j] = col
				}
				if minv[j] < delta {
					delta, next = minv[j], j
				}
			}
			if next < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[owner[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			col = next
			if owner[col] == 0 {
				break
			}
		}
		for col != 0 {
			owner[col] = owner[prev[col]]
			col = prev[col]
		}
	}

	for j := 1; j <= dim; j++ {
		i := owner[j] - 1
		if i < 0 || i >= n || j-1 >= m || cost[i][j-1] >= forbidden {
			continue
		}
		rows[i] = j - 1
	}
	return rows
}
