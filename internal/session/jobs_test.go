package session

import (
	"context"
	"testing"
	"time"

	"llamagen/internal/completion"
)

func waitJob(t *testing.T, j *Job) completion.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := j.Wait(ctx)
	if err != nil { t.Fatalf("wait: %v", err) }
	return res
}

func TestJobRecordsDeltas(t *testing.T) {
	js := NewJobStore(time.Minute)
	defer js.Close()
	st := completion.Start(context.Background(), func(ctx context.Context, sink completion.Sink) completion.Result {
		sink(completion.Event{Delta: "ab"})
		sink(completion.Event{Delta: "c", Done: true, Content: "abc"})
		return completion.Result{Success: true, Content: "abc", Phase: completion.Completed}
	})
	j := js.Track(st)
	if got, ok := js.Get(j.ID); !ok || got != j { t.Fatalf("job not stored") }
	res := waitJob(t, j)
	if res.Content != "abc" { t.Fatalf("result %+v", res) }
	snap := j.Snapshot()
	if snap.State != "done" || snap.Partial != "abc" || snap.Result == nil || !snap.Result.Success { t.Fatalf("snapshot %+v", snap) }
}

func TestJobCancel(t *testing.T) {
	js := NewJobStore(time.Minute)
	defer js.Close()
	st := completion.Start(context.Background(), func(ctx context.Context, sink completion.Sink) completion.Result {
		sink(completion.Event{Delta: "a"})
		<-ctx.Done()
		return completion.Result{Success: true, Content: "a", Phase: completion.Completed}
	})
	j := js.Track(st)
	j.Cancel()
	waitJob(t, j)
	if j.State() != JobCanceled { t.Fatalf("state %s", j.State()) }
}

func TestJobFailedIsDone(t *testing.T) {
	js := NewJobStore(time.Minute)
	defer js.Close()
	st := completion.Start(context.Background(), func(ctx context.Context, sink completion.Sink) completion.Result {
		return completion.Result{Err: completion.Errorf(completion.InvalidParamError, "no prompt provided"), Phase: completion.Failed}
	})
	j := js.Track(st)
	res := waitJob(t, j)
	snap := j.Snapshot()
	if res.Err == nil || snap.State != "done" || snap.Result.ErrorType != "invalid_param" { t.Fatalf("snapshot %+v", snap) }
}

func TestFinishedJobsExpire(t *testing.T) {
	js := NewJobStore(20 * time.Millisecond)
	defer js.Close()
	st := completion.Start(context.Background(), func(ctx context.Context, sink completion.Sink) completion.Result {
		return completion.Result{Success: true, Phase: completion.Completed}
	})
	j := js.Track(st)
	waitJob(t, j)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := js.Get(j.ID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never expired", j.ID)
}

func TestWaitHonorsContext(t *testing.T) {
	js := NewJobStore(time.Minute)
	defer js.Close()
	release := make(chan struct{})
	st := completion.Start(context.Background(), func(ctx context.Context, sink completion.Sink) completion.Result {
		<-release
		return completion.Result{Success: true}
	})
	j := js.Track(st)
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := j.Wait(ctx); err == nil { t.Fatalf("expected context error") }
	if s := j.State(); s != JobPending { t.Fatalf("state %s", s) }
}
