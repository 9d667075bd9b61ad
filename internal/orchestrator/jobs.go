package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetvuln/fleetvuln"
)

// Job is the live record of a bulk scan. The registry holds the only
// reference; pollers get snapshots.
type job struct {
	id   uuid.UUID
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}

	mu     sync.Mutex
	status fleetvuln.JobStatus
}

func (j *job) record(r fleetvuln.BulkResult, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.Results = append(j.status.Results, r)
	if ok {
		j.status.Completed++
	} else {
		j.status.Failed++
	}
}

func (j *job) finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	select {
	case <-j.ctx.Done():
		j.status.State = fleetvuln.JobCanceled
	default:
		j.status.State = fleetvuln.JobCompleted
	}
	j.status.Finished = time.Now()
	j.stop()
	close(j.done)
}

func (j *job) snapshot() fleetvuln.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := j.status
	st.Results = make([]fleetvuln.BulkResult, len(j.status.Results))
	copy(st.Results, j.status.Results)
	return st
}

// Registry tracks bulk scan jobs for the orchestrator's lifetime. Finished
// jobs stay pollable until the process exits; nothing here persists.
type registry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[uuid.UUID]*job)}
}

func (r *registry) create(parent context.Context, total int) *job {
	ctx, stop := context.WithCancel(parent)
	j := &job{
		id:   uuid.New(),
		ctx:  ctx,
		stop: stop,
		done: make(chan struct{}),
		status: fleetvuln.JobStatus{
			State:   fleetvuln.JobRunning,
			Total:   total,
			Started: time.Now(),
		},
	}
	j.status.ID = j.id
	r.mu.Lock()
	r.jobs[j.id] = j
	r.mu.Unlock()
	return j
}

func (r *registry) get(id string) (*job, error) {
	jid, err := uuid.Parse(id)
	if err != nil {
		return nil, &fleetvuln.Error{Op: `job lookup`, Kind: fleetvuln.ErrInvalid, Message: "malformed job id: " + id}
	}
	r.mu.RLock()
	j, ok := r.jobs[jid]
	r.mu.RUnlock()
	if !ok {
		return nil, &fleetvuln.Error{Op: `job lookup`, Kind: fleetvuln.ErrNotFound, Message: "no such job: " + id}
	}
	return j, nil
}
