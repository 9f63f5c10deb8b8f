package executor

import (
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// Batch combines steps sharing a batch key into one BatchWorker call:
// consecutive independent sequential steps, and steps of the same
// parallel group. Steps with conditions or dependencies on each other are
// never combined. Steps sharing a key must share a batch worker; the
// first step's worker runs the batch.
type Batch struct{}

func (Batch) Name() string { return StrategyBatch }

func (Batch) Wrap(next StepFunc) StepFunc { return next }

func (Batch) Plan(stages []workflow.Stage, _ *workflow.Context) []PlanStage {
	var out []PlanStage
	for i := 0; i < len(stages); {
		st := stages[i]
		if st.Parallel() {
			out = append(out, PlanStage{Parallel: true, Jobs: batchGroup(st.Units)})
			i++
			continue
		}

		u := st.Units[0]
		key := batchKey(u)
		if key == "" || !u.Independent {
			out = append(out, PlanStage{Jobs: []*Job{newJob(u)}})
			i++
			continue
		}
		run := []*workflow.Unit{u}
		j := i + 1
		for ; j < len(stages) && !stages[j].Parallel(); j++ {
			v := stages[j].Units[0]
			if !v.Independent || batchKey(v) != key || dependsOn(v, run) {
				break
			}
			run = append(run, v)
		}
		out = append(out, PlanStage{Jobs: []*Job{newJob(run...)}})
		i = j
	}
	return out
}

// batchGroup turns a parallel group into jobs, one per batch key.
func batchGroup(units []*workflow.Unit) []*Job {
	var jobs []*Job
	byKey := make(map[string][]*workflow.Unit)
	var order []string
	for _, u := range units {
		key := batchKey(u)
		if key == "" {
			jobs = append(jobs, newJob(u))
			continue
		}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], u)
	}
	for _, key := range order {
		jobs = append(jobs, newJob(byKey[key]...))
	}
	return jobs
}

func batchKey(u *workflow.Unit) string {
	if u.Condition != nil {
		return ""
	}
	b, ok := u.Step.(workflow.Batchable)
	if !ok || b.Batcher() == nil {
		return ""
	}
	return b.BatchKey()
}

func dependsOn(u *workflow.Unit, units []*workflow.Unit) bool {
	for _, dep := range u.After {
		for _, other := range units {
			if other.ID() == dep {
				return true
			}
		}
	}
	return false
}
