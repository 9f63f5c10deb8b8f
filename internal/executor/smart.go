package executor

import (
	"math"

	"github.com/randalmurphal/autoflow/internal/workflow"
)

// DefaultFailureThreshold is the predicted failure rate above which a
// step is moved to the front of its run.
const DefaultFailureThreshold = 0.3

// minHistoryRuns is the number of recorded runs before history counts.
const minHistoryRuns = 3

// Smart reorders runs of consecutive independent sequential steps. Steps
// likely to fail run first so a doomed workflow fails fast; the rest run
// cheapest first. Explicit dependencies are always honoured and ties keep
// declaration order.
type Smart struct {
	history   HistoryProvider
	threshold float64
}

// NewSmart creates the reordering strategy. history may be nil, in which
// case only static step costs are used.
func NewSmart(history HistoryProvider, failureThreshold float64) *Smart {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Smart{history: history, threshold: failureThreshold}
}

func (s *Smart) Name() string { return StrategySmart }

func (s *Smart) Wrap(next StepFunc) StepFunc { return next }

func (s *Smart) Plan(stages []workflow.Stage, _ *workflow.Context) []PlanStage {
	var out []PlanStage
	for i := 0; i < len(stages); {
		if !reorderable(stages[i]) {
			out = append(out, defaultPlan(stages[i:i+1])...)
			i++
			continue
		}
		j := i
		var run []*workflow.Unit
		for ; j < len(stages) && reorderable(stages[j]); j++ {
			run = append(run, stages[j].Units[0])
		}
		for _, u := range s.order(run) {
			out = append(out, PlanStage{Jobs: []*Job{newJob(u)}})
		}
		i = j
	}
	return out
}

func reorderable(st workflow.Stage) bool {
	if st.Parallel() {
		return false
	}
	u := st.Units[0]
	return u.Independent && u.Condition == nil
}

type estimate struct {
	failRate float64
	cost     float64
}

func (s *Smart) estimate(u *workflow.Unit) estimate {
	e := estimate{cost: math.Inf(1)}
	var stats StepStats
	var known bool
	if s.history != nil {
		stats, known = s.history.StepStats(u.Step.Kind(), u.ID())
		known = known && stats.Runs >= minHistoryRuns
	}
	if known {
		e.failRate = stats.FailureRate()
		e.cost = stats.MeanDuration.Seconds()
	}
	if c, ok := u.Step.(workflow.Costed); ok && c.Cost() > 0 {
		e.cost = c.Cost()
	}
	return e
}

// less orders likely failures first, highest rate first, then by cost.
func (s *Smart) less(a, b estimate) bool {
	af, bf := a.failRate >= s.threshold, b.failRate >= s.threshold
	switch {
	case af && !bf:
		return true
	case bf && !af:
		return false
	case af && bf && a.failRate != b.failRate:
		return a.failRate > b.failRate
	}
	return a.cost < b.cost
}

// order repeatedly picks the best unit whose dependencies inside the run
// are already placed.
func (s *Smart) order(run []*workflow.Unit) []*workflow.Unit {
	est := make(map[string]estimate, len(run))
	inRun := make(map[string]bool, len(run))
	for _, u := range run {
		est[u.ID()] = s.estimate(u)
		inRun[u.ID()] = true
	}
	placed := make(map[string]bool, len(run))
	remaining := append([]*workflow.Unit(nil), run...)
	out := make([]*workflow.Unit, 0, len(run))
	for len(remaining) > 0 {
		best := -1
		for i, u := range remaining {
			if !depsPlaced(u, inRun, placed) {
				continue
			}
			if best < 0 || s.less(est[u.ID()], est[remaining[best].ID()]) {
				best = i
			}
		}
		if best < 0 {
			// Unreachable for validated workflows; keep declaration order.
			return append(out, remaining...)
		}
		u := remaining[best]
		placed[u.ID()] = true
		out = append(out, u)
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return out
}

func depsPlaced(u *workflow.Unit, inRun, placed map[string]bool) bool {
	for _, dep := range u.After {
		if inRun[dep] && !placed[dep] {
			return false
		}
	}
	return true
}
