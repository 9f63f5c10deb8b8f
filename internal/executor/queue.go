package executor

import (
	"container/heap"
	"strings"
	"sync"

	"github.com/randalmurphal/autoflow/internal/workflow"
)

// Job is a dispatchable unit of the execution plan: one step, or several
// steps combined into a single batch call.
type Job struct {
	ID        string
	Units     []*workflow.Unit
	Priority  int
	Seq       int
	DependsOn []string

	// Index in the heap (managed by heap.Interface)
	index int
}

// Batched reports whether the job combines several steps.
func (j *Job) Batched() bool { return len(j.Units) > 1 }

func newJob(units ...*workflow.Unit) *Job {
	j := &Job{Units: units, Seq: units[0].Seq, Priority: units[0].Priority}
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID()
		j.Priority = max(j.Priority, u.Priority)
		j.Seq = min(j.Seq, u.Seq)
	}
	if len(ids) == 1 {
		j.ID = ids[0]
	} else {
		j.ID = "batch(" + strings.Join(ids, ",") + ")"
	}
	return j
}

// jobHeap orders jobs by priority, then declaration order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	// Higher priority first, then earlier declaration
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	n := len(*h)
	item := x.(*Job)
	item.index = n
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// ExecutionQueue releases jobs once their dependencies are done, highest
// priority first.
type ExecutionQueue struct {
	mu        sync.Mutex
	queue     jobHeap
	completed map[string]bool
	running   map[string]bool
}

// NewExecutionQueue creates a queue holding jobs.
func NewExecutionQueue(jobs []*Job) *ExecutionQueue {
	q := &ExecutionQueue{
		queue:     make(jobHeap, 0, len(jobs)),
		completed: make(map[string]bool),
		running:   make(map[string]bool),
	}
	for _, j := range jobs {
		q.queue = append(q.queue, j)
		j.index = len(q.queue) - 1
	}
	heap.Init(&q.queue)
	return q
}

// Ready pops every job whose dependencies are completed, in dispatch order.
func (q *ExecutionQueue) Ready() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready, notReady []*Job
	for q.queue.Len() > 0 {
		j := heap.Pop(&q.queue).(*Job)
		if q.depsSatisfied(j) {
			ready = append(ready, j)
			q.running[j.ID] = true
		} else {
			notReady = append(notReady, j)
		}
	}
	for _, j := range notReady {
		heap.Push(&q.queue, j)
	}
	return ready
}

// depsSatisfied must be called with the lock held.
func (q *ExecutionQueue) depsSatisfied(j *Job) bool {
	for _, dep := range j.DependsOn {
		if !q.completed[dep] {
			return false
		}
	}
	return true
}

// Done marks a job completed, releasing its dependents.
func (q *ExecutionQueue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, id)
	q.completed[id] = true
}

// Len returns the number of queued jobs.
func (q *ExecutionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}

// Running returns the number of dispatched, unfinished jobs.
func (q *ExecutionQueue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Drain removes and returns every queued job.
func (q *ExecutionQueue) Drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, q.queue.Len())
	for q.queue.Len() > 0 {
		out = append(out, heap.Pop(&q.queue).(*Job))
	}
	return out
}

// PlanStage is one barrier of the execution plan. Jobs of a parallel stage
// may run concurrently; every job waits for the whole previous stage.
type PlanStage struct {
	Parallel bool
	Jobs     []*Job
}

// defaultPlan maps each workflow stage to a plan stage, one job per step.
func defaultPlan(stages []workflow.Stage) []PlanStage {
	out := make([]PlanStage, 0, len(stages))
	for _, st := range stages {
		ps := PlanStage{Parallel: st.Parallel()}
		for _, u := range st.Units {
			ps.Jobs = append(ps.Jobs, newJob(u))
		}
		out = append(out, ps)
	}
	return out
}

// link sets the dependencies of every job: all jobs of the previous stage,
// plus the jobs holding its explicit After dependencies.
func link(plan []PlanStage) []*Job {
	owner := make(map[string]string)
	for _, ps := range plan {
		for _, j := range ps.Jobs {
			for _, u := range j.Units {
				owner[u.ID()] = j.ID
			}
		}
	}
	var all []*Job
	var prev []*Job
	for _, ps := range plan {
		for _, j := range ps.Jobs {
			seen := make(map[string]bool)
			add := func(id string) {
				if id != "" && id != j.ID && !seen[id] {
					seen[id] = true
					j.DependsOn = append(j.DependsOn, id)
				}
			}
			for _, p := range prev {
				add(p.ID)
			}
			for _, u := range j.Units {
				for _, dep := range u.After {
					add(owner[dep])
				}
			}
			all = append(all, j)
		}
		prev = ps.Jobs
	}
	return all
}
