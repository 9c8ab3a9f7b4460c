package queue

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Job is one pending delivery held by MemoryQueue.
type Job struct {
	ID        string
	Payload   []byte
	NotBefore time.Time

	seq int
}

// CronEntry is a recurring delivery registered on MemoryQueue.
type CronEntry struct {
	ID          string
	Expr        string
	Payload     []byte
	Destination string
}

// MemoryQueue implements Queue in memory. Nothing is delivered on its own; the
// owner polls Due. Used in DEV_MODE and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	seq   int
	jobs  map[string]Job
	crons map[string]CronEntry
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:  make(map[string]Job),
		crons: make(map[string]CronEntry),
	}
}

func (q *MemoryQueue) Publish(_ context.Context, payload []byte, notBefore time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := "job-" + strconv.Itoa(q.seq)
	q.jobs[id] = Job{ID: id, Payload: append([]byte(nil), payload...), NotBefore: notBefore, seq: q.seq}
	return id, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, jobID)
	return nil
}

func (q *MemoryQueue) ScheduleCron(_ context.Context, cronExpr string, payload []byte, destination string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := cronName(destination, payload)
	q.crons[id] = CronEntry{ID: id, Expr: cronExpr, Payload: append([]byte(nil), payload...), Destination: destination}
	return id, nil
}

// Due removes and returns the jobs whose time has come, oldest first.
func (q *MemoryQueue) Due(now time.Time) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Job
	for id, j := range q.jobs {
		if !j.NotBefore.After(now) {
			due = append(due, j)
			delete(q.jobs, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NotBefore.Before(due[j].NotBefore) })
	return due
}

// Live returns the pending jobs in publication order.
func (q *MemoryQueue) Live() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Crons returns the registered recurring deliveries.
func (q *MemoryQueue) Crons() []CronEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]CronEntry, 0, len(q.crons))
	for _, c := range q.crons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
