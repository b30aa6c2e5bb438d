package store

import (
	"sort"
	"time"

	"github.com/runninghub-studio/studio/internal/model"
)

const (
	RenderJobsPrefix = "ai-render-jobs"
	MaxRenderJobs    = 50
)

// Jobs tracks render jobs, newest createdAt first.
type Jobs struct {
	kv  KV
	now func() time.Time
}

func NewJobs(kv KV, now func() time.Time) *Jobs {
	if now == nil {
		now = time.Now
	}
	return &Jobs{kv: kv, now: now}
}

func (j *Jobs) load(account string) ([]model.RenderJob, error) {
	var jobs []model.RenderJob
	if _, err := load(j.kv, accountKey(RenderJobsPrefix, account), &jobs); err != nil {
		return nil, err
	}
	kept := jobs[:0:0]
	for _, job := range jobs {
		if job.JobID != "" {
			kept = append(kept, job)
		}
	}
	return kept, nil
}

func (j *Jobs) store(account string, jobs []model.RenderJob) error {
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].CreatedAt > jobs[b].CreatedAt })
	if len(jobs) > MaxRenderJobs {
		jobs = jobs[:MaxRenderJobs]
	}
	return save(j.kv, accountKey(RenderJobsPrefix, account), jobs)
}

func (j *Jobs) List(account string) ([]model.RenderJob, error) {
	jobs, err := j.load(account)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].CreatedAt > jobs[b].CreatedAt })
	return jobs, nil
}

func (j *Jobs) Get(account, jobID string) (*model.RenderJob, bool, error) {
	jobs, err := j.load(account)
	if err != nil {
		return nil, false, err
	}
	for i := range jobs {
		if jobs[i].JobID == jobID {
			return &jobs[i], true, nil
		}
	}
	return nil, false, nil
}

// Upsert inserts job or replaces the stored job with the same id. Zero
// timestamps are filled with the current time.
func (j *Jobs) Upsert(account string, job model.RenderJob) error {
	jobs, err := j.load(account)
	if err != nil {
		return err
	}
	now := j.now().UnixMilli()
	for i := range jobs {
		if jobs[i].JobID == job.JobID {
			if job.CreatedAt == 0 {
				job.CreatedAt = jobs[i].CreatedAt
			}
			job.UpdatedAt = now
			jobs[i] = job
			return j.store(account, jobs)
		}
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	if job.UpdatedAt == 0 {
		job.UpdatedAt = now
	}
	jobs = append([]model.RenderJob{job}, jobs...)
	return j.store(account, jobs)
}

// Update applies patch to the job with jobID and bumps its updatedAt. An
// unknown id is a no-op.
func (j *Jobs) Update(account, jobID string, patch func(*model.RenderJob)) error {
	jobs, err := j.load(account)
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].JobID != jobID {
			continue
		}
		patch(&jobs[i])
		jobs[i].JobID = jobID
		jobs[i].UpdatedAt = j.now().UnixMilli()
		return j.store(account, jobs)
	}
	return nil
}

func (j *Jobs) Remove(account, jobID string) error {
	jobs, err := j.load(account)
	if err != nil {
		return err
	}
	kept := jobs[:0]
	for _, job := range jobs {
		if job.JobID != jobID {
			kept = append(kept, job)
		}
	}
	return j.store(account, kept)
}

func (j *Jobs) Clear(account string) error {
	return j.kv.Delete(accountKey(RenderJobsPrefix, account))
}
