// Package risk predicts loan outcomes with a random forest trained on the
// loans that already have a final decision. It is descriptive only: there is
// no hold-out set and no quality metric.
package risk

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/models"
)

// Labels are fixed rather than inferred from the data.
const (
	LabelApproved = 0
	LabelRejected = 1
)

type Options struct {
	Estimators      int
	Seed            int64
	MaxDepth        int // 0 grows trees until leaves are pure
	MinSamplesSplit int
	MaxFeatures     int // 0 means floor(sqrt(features))
}

func DefaultOptions() Options {
	return Options{Estimators: 100, Seed: 42, MinSamplesSplit: 2}
}

type Forest struct {
	opts Options
}

func NewForest(opts Options) *Forest {
	if opts.Estimators <= 0 {
		opts.Estimators = DefaultOptions().Estimators
	}
	if opts.MinSamplesSplit < 2 {
		opts.MinSamplesSplit = 2
	}
	return &Forest{opts: opts}
}

// Model is a fitted forest. It is immutable and safe for concurrent use.
type Model struct {
	trees        []*node
	TrainingSize int
	Approved     int
	Rejected     int
}

// Features maps a loan to the model inputs: amount and interest rate.
func Features(l models.Loan) []float64 {
	return []float64{l.Amount.InexactFloat64(), l.InterestRate}
}

// Train fits the forest on the resolved loans in loans. It fails with
// INSUFFICIENT_DATA when no loan is Approved or Rejected.
func (f *Forest) Train(ctx context.Context, loans []models.Loan) (*Model, error) {
	var (
		x [][]float64
		y []int
	)
	m := &Model{}
	for _, l := range loans {
		switch l.Status {
		case models.LoanStatusApproved:
			y = append(y, LabelApproved)
			m.Approved++
		case models.LoanStatusRejected:
			y = append(y, LabelRejected)
			m.Rejected++
		default:
			continue
		}
		x = append(x, Features(l))
	}

	if len(x) == 0 {
		return nil, errors.InsufficientData("no approved or rejected loans to train on")
	}
	m.TrainingSize = len(x)

	maxFeatures := f.opts.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(len(x[0]))))
	}
	maxFeatures = max(1, min(maxFeatures, len(x[0])))

	// Seeds are drawn up front so the result does not depend on scheduling.
	master := rand.New(rand.NewSource(f.opts.Seed))
	seeds := make([]int64, f.opts.Estimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	m.trees = make([]*node, f.opts.Estimators)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range m.trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[t]))
			idx := make([]int, len(x))
			for i := range idx {
				idx[i] = rng.Intn(len(x))
			}
			b := &treeBuilder{
				x:               x,
				y:               y,
				maxDepth:        f.opts.MaxDepth,
				minSamplesSplit: f.opts.MinSamplesSplit,
				maxFeatures:     maxFeatures,
				rng:             rng,
			}
			m.trees[t] = b.build(idx, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return m, nil
}

// RejectProbability averages the leaf probabilities of all trees.
func (m *Model) RejectProbability(l models.Loan) float64 {
	x := Features(l)
	sum := 0.0
	for _, t := range m.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(m.trees))
}

// Predict returns one prediction per loan in input order. Ties resolve to
// Approved.
func (m *Model) Predict(loans []models.Loan) []models.LoanPrediction {
	out := make([]models.LoanPrediction, 0, len(loans))
	for _, l := range loans {
		p := m.RejectProbability(l)
		pred := models.LoanPrediction{
			Loan:              l,
			PredictedRisk:     LabelApproved,
			PredictedStatus:   models.LoanStatusApproved,
			RejectProbability: p,
		}
		if p > 0.5 {
			pred.PredictedRisk = LabelRejected
			pred.PredictedStatus = models.LoanStatusRejected
		}
		out = append(out, pred)
	}
	return out
}

func (m *Model) Trees() int {
	return len(m.trees)
}
