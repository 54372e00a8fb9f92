package store

import (
	"fmt"

	"crowd-density/common"
)

// CreateJob stores a new upload job in PENDING state.
func (ds *DataStore) CreateJob(job *UploadJob) error {
	if job.Status == "" {
		job.Status = common.JobPending
	}
	if err := ds.DB.Create(job).Error; err != nil {
		return fmt.Errorf("creating upload job: %w", err)
	}
	return nil
}

// SaveJob persists job mutations. Only the worker processing the job calls
// this after creation.
func (ds *DataStore) SaveJob(job *UploadJob) error {
	if err := ds.DB.Save(job).Error; err != nil {
		return fmt.Errorf("saving upload job %s: %w", job.ID, err)
	}
	return nil
}

func (ds *DataStore) GetJob(id string) (UploadJob, error) {
	var job UploadJob
	if err := ds.DB.First(&job, "id = ?", id).Error; err != nil {
		return UploadJob{}, fmt.Errorf("getting upload job %s: %w", id, err)
	}
	return job, nil
}
