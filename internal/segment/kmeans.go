// Package segment groups customers by balance, loan and credit-card exposure
// with k-means over standardised features.
//
// Segment numbers carry no meaning of their own: label 0 in one run may be
// label 2 in another run or with another seed.
package segment

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/models"
)

const numFeatures = 3

type Options struct {
	K       int
	Seed    int64
	MaxIter int
	// Tol is relative to the mean feature variance of the scaled data.
	Tol   float64
	NInit int
}

func DefaultOptions() Options {
	return Options{K: 4, Seed: 42, MaxIter: 300, Tol: 1e-4, NInit: 1}
}

type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	def := DefaultOptions()
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.Tol < 0 {
		opts.Tol = def.Tol
	}
	if opts.NInit <= 0 {
		opts.NInit = def.NInit
	}
	return &Engine{opts: opts}
}

func (e *Engine) K() int {
	return e.opts.K
}

// SegmentAll assigns every profile a label in [0, K). Missing feature values
// count as zero. It fails with INSUFFICIENT_DATA when there are fewer
// distinct customers than segments.
func (e *Engine) SegmentAll(profiles []models.CustomerProfile) (*models.Segmentation, error) {
	k := e.opts.K
	if k < 1 {
		return nil, errors.Configuration(fmt.Sprintf("segment count must be positive, got %d", k))
	}

	ids := make([]string, 0, len(profiles))
	rows := make([][]float64, 0, len(profiles))
	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		if _, dup := seen[p.CustomerID]; dup {
			continue
		}
		seen[p.CustomerID] = struct{}{}
		f := p.Features()
		ids = append(ids, p.CustomerID)
		rows = append(rows, []float64{f[0], f[1], f[2]})
	}

	if len(ids) < k {
		return nil, errors.InsufficientData(fmt.Sprintf(
			"segmentation needs at least %d customers, got %d", k, len(ids)))
	}

	scaler := fitScaler(rows)
	x := scaler.transform(rows)
	tol := e.opts.Tol * scaler.meanScaledVariance()

	var best *fit
	for run := 0; run < e.opts.NInit; run++ {
		rng := rand.New(rand.NewSource(e.opts.Seed + int64(run)))
		f := lloyd(x, kmeansPlusPlus(x, k, rng), e.opts.MaxIter, tol)
		if best == nil || f.inertia < best.inertia {
			best = f
		}
	}

	seg := &models.Segmentation{
		K:          k,
		Labels:     make(map[string]int, len(ids)),
		Sizes:      make([]int, k),
		Centroids:  make([][3]float64, k),
		Inertia:    best.inertia,
		Iterations: best.iterations,
	}
	for i, id := range ids {
		seg.Labels[id] = best.labels[i]
		seg.Sizes[best.labels[i]]++
	}
	for c, centroid := range best.centroids {
		orig := scaler.inverse(centroid)
		copy(seg.Centroids[c][:], orig)
	}

	return seg, nil
}

// scaler standardises each column to zero mean and unit population variance.
// Constant columns keep a scale of one.
type scaler struct {
	mean  []float64
	scale []float64
	vars  []float64
}

func fitScaler(rows [][]float64) *scaler {
	s := &scaler{
		mean:  make([]float64, numFeatures),
		scale: make([]float64, numFeatures),
		vars:  make([]float64, numFeatures),
	}
	col := make([]float64, len(rows))
	for j := 0; j < numFeatures; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.mean[j] = mean
		s.scale[j] = std
		if std == 0 || math.IsNaN(std) {
			s.scale[j] = 1
		}
		s.vars[j] = (std / s.scale[j]) * (std / s.scale[j])
	}
	return s
}

func (s *scaler) transform(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		z := make([]float64, numFeatures)
		for j := range z {
			z[j] = (r[j] - s.mean[j]) / s.scale[j]
		}
		out[i] = z
	}
	return out
}

func (s *scaler) inverse(z []float64) []float64 {
	out := make([]float64, numFeatures)
	for j := range out {
		out[j] = z[j]*s.scale[j] + s.mean[j]
	}
	return out
}

func (s *scaler) meanScaledVariance() float64 {
	return stat.Mean(s.vars, nil)
}

type fit struct {
	centroids  [][]float64
	labels     []int
	inertia    float64
	iterations int
}

// kmeansPlusPlus picks the first centre uniformly and every next one with
// probability proportional to its squared distance to the nearest centre.
func kmeansPlusPlus(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(x)
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(x[rng.Intn(n)]))

	closest := make([]float64, n)
	for i := range x {
		closest[i] = sqDist(x[i], centers[0])
	}

	for len(centers) < k {
		total := floats.Sum(closest)
		next := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range closest {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		}
		center := clone(x[next])
		centers = append(centers, center)
		for i := range x {
			if d := sqDist(x[i], center); d < closest[i] {
				closest[i] = d
			}
		}
	}
	return centers
}

// lloyd alternates assignment and update steps until the total squared
// centre shift drops to tol or maxIter is reached. Labels are recomputed
// against the final centres so they are always consistent with them.
func lloyd(x [][]float64, centers [][]float64, maxIter int, tol float64) *fit {
	k := len(centers)
	labels := make([]int, len(x))
	iterations := 0

	for iter := 0; iter < maxIter; iter++ {
		iterations = iter + 1
		assign(x, centers, labels)

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, numFeatures)
		}
		for i, p := range x {
			floats.Add(next[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range next {
			if counts[c] == 0 {
				next[c] = clone(x[farthest(x, centers, labels)])
				continue
			}
			floats.Scale(1/float64(counts[c]), next[c])
		}

		shift := 0.0
		for c := range centers {
			shift += sqDist(centers[c], next[c])
		}
		centers = next

		if shift <= tol {
			break
		}
	}

	inertia := assign(x, centers, labels)
	return &fit{
		centroids:  centers,
		labels:     labels,
		inertia:    inertia,
		iterations: iterations,
	}
}

// assign writes the nearest centre of every point into labels (ties go to the
// lower index) and returns the inertia.
func assign(x [][]float64, centers [][]float64, labels []int) float64 {
	inertia := 0.0
	for i, p := range x {
		best, bestDist := 0, math.Inf(1)
		for c, center := range centers {
			if d := sqDist(p, center); d < bestDist {
				best, bestDist = c, d
			}
		}
		labels[i] = best
		inertia += bestDist
	}
	return inertia
}

func farthest(x [][]float64, centers [][]float64, labels []int) int {
	idx, maxDist := 0, -1.0
	for i, p := range x {
		if d := sqDist(p, centers[labels[i]]); d > maxDist {
			idx, maxDist = i, d
		}
	}
	return idx
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
