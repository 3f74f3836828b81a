// Package transport implements an exact solver for the balanced
// transportation problem (earth mover's distance). The slice-pair matcher
// uses it to distribute the pixel mass of instances in one slice over the
// instances of the adjacent slice at minimum total cost, which expresses
// splits and merges as fractional assignments instead of forcing 1:1
// pairs.
package transport

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// massEps is the tolerance used when comparing transported masses. Supplies
// and demands are pixel counts, so anything below one pixel is noise.
const massEps = 1e-9

// Plan computes a minimum-cost transport plan between the supply and
// demand distributions under the given cost matrix. cost must be
// len(supplies) x len(demands) with non-negative entries. The problem must
// be balanced: sum(supplies) == sum(demands).
//
// The returned plan has the same shape as cost; entry (i, j) is the mass
// moved from supply i to demand j. The solver is the successive
// shortest-path algorithm with node potentials, which is exact and, with a
// fixed scan order, fully deterministic.
func Plan(supplies, demands []float64, cost *mat.Dense) (*mat.Dense, error) {
	n := len(supplies)
	m := len(demands)
	r, c := cost.Dims()
	if r != n || c != m {
		return nil, fmt.Errorf("transport: cost matrix is %dx%d, want %dx%d", r, c, n, m)
	}

	var totalSupply, totalDemand float64
	for i, s := range supplies {
		if s < 0 {
			return nil, fmt.Errorf("transport: negative supply at %d", i)
		}
		totalSupply += s
	}
	for j, d := range demands {
		if d < 0 {
			return nil, fmt.Errorf("transport: negative demand at %d", j)
		}
		totalDemand += d
	}
	if math.Abs(totalSupply-totalDemand) > massEps*math.Max(1, totalSupply) {
		return nil, fmt.Errorf("transport: unbalanced problem: supply %g vs demand %g", totalSupply, totalDemand)
	}

	plan := mat.NewDense(n, m, nil)
	if totalSupply <= massEps {
		return plan, nil
	}

	s := &solver{
		n:         n,
		m:         m,
		cost:      cost,
		plan:      plan,
		remSupply: append([]float64(nil), supplies...),
		remDemand: append([]float64(nil), demands...),
		potential: make([]float64, n+m),
		dist:      make([]float64, n+m),
		parent:    make([]int, n+m),
		done:      make([]bool, n+m),
	}

	// each augmentation exhausts a supply, a demand, or a backward arc,
	// so the iteration count is bounded for integral pixel masses
	maxIters := 4*(n+1)*(m+1) + 16
	for iter := 0; ; iter++ {
		if iter > maxIters {
			return nil, fmt.Errorf("transport: no convergence after %d augmentations", iter)
		}
		if !s.augment() {
			break
		}
	}

	for i := range s.remSupply {
		if s.remSupply[i] > massEps*math.Max(1, totalSupply) {
			return nil, fmt.Errorf("transport: residual supply %g at %d", s.remSupply[i], i)
		}
	}
	return plan, nil
}

// solver carries the state of one successive-shortest-path run. Node
// indices 0..n-1 are supplies, n..n+m-1 are demands.
type solver struct {
	n, m      int
	cost      *mat.Dense
	plan      *mat.Dense
	remSupply []float64
	remDemand []float64
	potential []float64
	dist      []float64
	parent    []int
	done      []bool
}

// augment finds the cheapest path from any supply with remaining mass to
// any demand with remaining capacity and pushes the bottleneck mass along
// it. Returns false when all mass has been routed.
func (s *solver) augment() bool {
	total := s.n + s.m
	for v := 0; v < total; v++ {
		s.dist[v] = math.Inf(1)
		s.parent[v] = -1
		s.done[v] = false
	}

	anySupply := false
	for i := 0; i < s.n; i++ {
		if s.remSupply[i] > massEps {
			s.dist[i] = 0
			anySupply = true
		}
	}
	if !anySupply {
		return false
	}

	// dense Dijkstra over the bipartite residual graph; reduced costs are
	// kept non-negative by the node potentials
	for {
		u := -1
		best := math.Inf(1)
		for v := 0; v < total; v++ {
			if !s.done[v] && s.dist[v] < best {
				best = s.dist[v]
				u = v
			}
		}
		if u < 0 {
			break
		}
		s.done[u] = true

		if u < s.n {
			// forward arcs supply u -> every demand
			for j := 0; j < s.m; j++ {
				v := s.n + j
				if s.done[v] {
					continue
				}
				rc := s.cost.At(u, j) + s.potential[u] - s.potential[v]
				if d := s.dist[u] + rc; d < s.dist[v]-massEps {
					s.dist[v] = d
					s.parent[v] = u
				}
			}
		} else {
			// backward arcs demand u -> supplies with assigned mass
			j := u - s.n
			for i := 0; i < s.n; i++ {
				if s.done[i] || s.plan.At(i, j) <= massEps {
					continue
				}
				rc := -s.cost.At(i, j) + s.potential[u] - s.potential[i]
				if d := s.dist[u] + rc; d < s.dist[i]-massEps {
					s.dist[i] = d
					s.parent[i] = u
				}
			}
		}
	}

	// nearest demand with remaining capacity, lowest index on ties
	sink := -1
	best := math.Inf(1)
	for j := 0; j < s.m; j++ {
		v := s.n + j
		if s.remDemand[j] > massEps && s.dist[v] < best-massEps {
			best = s.dist[v]
			sink = v
		}
	}
	if sink < 0 {
		return false
	}

	// bottleneck along the path back to the originating supply
	bottleneck := s.remDemand[sink-s.n]
	v := sink
	for s.parent[v] >= 0 {
		u := s.parent[v]
		if u >= s.n {
			// backward arc: limited by already-assigned mass
			if f := s.plan.At(v, u-s.n); f < bottleneck {
				bottleneck = f
			}
		}
		v = u
	}
	if s.remSupply[v] < bottleneck {
		bottleneck = s.remSupply[v]
	}

	// apply the augmentation
	s.remDemand[sink-s.n] -= bottleneck
	u := sink
	for s.parent[u] >= 0 {
		p := s.parent[u]
		if p < s.n {
			s.plan.Set(p, u-s.n, s.plan.At(p, u-s.n)+bottleneck)
		} else {
			s.plan.Set(u, p-s.n, s.plan.At(u, p-s.n)-bottleneck)
		}
		u = p
	}
	s.remSupply[u] -= bottleneck

	for v := 0; v < total; v++ {
		if !math.IsInf(s.dist[v], 1) {
			s.potential[v] += s.dist[v]
		}
	}
	return true
}
