package ports

import (
	"context"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
)

// JobRepository persists kernel-side job records.
type JobRepository interface {
	SaveJob(ctx context.Context, rec domain.JobRecord) error
	GetJob(ctx context.Context, id domain.JobID) (domain.JobRecord, error)
	ListJobs(ctx context.Context) ([]domain.JobRecord, error)
}
