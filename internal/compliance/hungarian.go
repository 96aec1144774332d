package compliance

import "math"

// hungarianAssign solves the rectangular assignment problem for an n×m cost
// matrix with the Kuhn–Munkres algorithm (potentials form, O(dim³)).
// It returns assignments[i] = column assigned to row i, or -1 when row i is
// unassigned. Entries ≥ forbidden are never returned as assignments.
//
// forbidden must exceed the sum of any set of allowed costs so that the
// solver maximises the number of allowed pairs before minimising cost. Keep
// it close to that bound: a huge sentinel swamps small cost differences in
// float64.
func hungarianAssign(cost [][]float64, forbidden float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	c := padSquare(cost, n, m, forbidden)
	dim := len(c)

	const inf = math.MaxFloat64 / 2
	// 1-indexed; index 0 is the virtual column used to seed each row.
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row matched to column j
	way := make([]int, dim+1) // way[j] = previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}

		for p[j0] != 0 {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				if cur := c[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		row, col := p[j]-1, j-1
		if row < 0 || row >= n || col >= m {
			continue
		}
		if cost[row][col] < forbidden {
			result[row] = col
		}
	}
	return result
}

// padSquare copies cost into a dim×dim matrix, filling the padding with
// forbidden so surplus rows or columns stay unassigned.
func padSquare(cost [][]float64, n, m int, forbidden float64) [][]float64 {
	dim := max(n, m)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = forbidden
			}
		}
	}
	return c
}
