package session

import (
	"context"

	"documind/internal/models"
)

// Job is a query running on its own goroutine.
type Job struct {
	cancel context.CancelFunc
	done   chan struct{}
	res    *models.PromptResponse
	err    error
}

// QueryAsync starts Query in the background. Cancelling ctx or calling
// Job.Cancel aborts the in-flight capability calls.
func (s *Session) QueryAsync(ctx context.Context, question string, topK int) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(j.done)
		defer cancel()
		j.res, j.err = s.Query(ctx, question, topK)
	}()
	return j
}

func (j *Job) Cancel() { j.cancel() }

func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the query finishes.
func (j *Job) Wait() (*models.PromptResponse, error) {
	<-j.done
	return j.res, j.err
}
