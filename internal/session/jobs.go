package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"llamagen/internal/completion"
	"llamagen/pkg/types"
)

// JobState is the lifecycle of an asynchronous completion.
type JobState string

const (
	JobPending  JobState = "pending"
	JobRunning  JobState = "running"
	JobDone     JobState = "done"
	JobCanceled JobState = "canceled"
)

// DefaultJobTTL is how long finished jobs stay retrievable.
const DefaultJobTTL = 10 * time.Minute

// Job is one asynchronous completion.
type Job struct {
	ID string

	mu      sync.Mutex
	state   JobState
	partial []byte
	result  *completion.Result
	stream  *completion.Stream
	done    chan struct{}
}

// Snapshot returns the wire view of the job.
func (j *Job) Snapshot() types.JobResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := types.JobResponse{ID: j.ID, State: string(j.state), Partial: string(j.partial)}
	if j.result != nil {
		r := j.result.Response()
		out.Result = &r
	}
	return out
}

// State returns the current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Cancel stops a pending or running job.
func (j *Job) Cancel() {
	j.mu.Lock()
	s := j.stream
	j.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Done is closed once the job has its result.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finished or ctx is done.
func (j *Job) Wait(ctx context.Context) (completion.Result, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return completion.Result{}, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return *j.result, nil
}

// JobStore keeps jobs by id. Running jobs never expire; finished ones are
// dropped after the TTL.
type JobStore struct {
	cache *ttlcache.Cache[string, *Job]
	ttl   time.Duration
}

// NewJobStore starts the expiry loop; Close stops it.
func NewJobStore(ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	c := ttlcache.New[string, *Job](
		ttlcache.WithTTL[string, *Job](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Job](),
	)
	go c.Start()
	return &JobStore{cache: c, ttl: ttl}
}

// Track consumes s in the background and records its progress under a new id.
func (js *JobStore) Track(s *completion.Stream) *Job {
	j := &Job{ID: uuid.NewString(), state: JobPending, stream: s, done: make(chan struct{})}
	js.cache.Set(j.ID, j, ttlcache.NoTTL)
	go func() {
		for ev := range s.Events() {
			j.mu.Lock()
			j.state = JobRunning
			j.partial = append(j.partial, ev.Delta...)
			j.mu.Unlock()
		}
		res := s.Result()
		j.mu.Lock()
		j.result = &res
		j.state = JobDone
		if res.Success && s.Canceled() {
			j.state = JobCanceled
		}
		j.mu.Unlock()
		close(j.done)
		js.cache.Set(j.ID, j, ttlcache.DefaultTTL)
	}()
	return j
}

// Get returns the job with id.
func (js *JobStore) Get(id string) (*Job, bool) {
	item := js.cache.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Len is the number of retained jobs.
func (js *JobStore) Len() int { return js.cache.Len() }

// Close cancels running jobs and stops the expiry loop.
func (js *JobStore) Close() {
	for _, item := range js.cache.Items() {
		item.Value().Cancel()
	}
	js.cache.Stop()
}
