package jobs

import "context"

// jobTracker reports store progress into a job. Every call persists and
// publishes the job before returning.
type jobTracker struct {
	ctx context.Context
	w   *Worker
	job *Job
}

func (t *jobTracker) Begin(total, done int, message string) error {
	t.job.Total = total
	t.job.Processed = done
	t.job.updateProgress()
	t.job.log(message)
	return t.w.commit(t.ctx, t.job)
}

func (t *jobTracker) Advance(n int, message string) error {
	t.job.Processed += n
	t.job.updateProgress()
	t.job.log(message)
	return t.w.commit(t.ctx, t.job)
}

func (t *jobTracker) Log(message string) error {
	t.job.log(message)
	return t.w.commit(t.ctx, t.job)
}
