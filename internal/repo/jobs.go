package repo

import (
	"context"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
)

// JobRepository is the durable record of scheduled jobs. Get after a
// successful Create always observes the created job.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) (string, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, id string, m model.JobMutation) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Job, error)
	ListAll(ctx context.Context) ([]model.Job, error)
	ListActive(ctx context.Context) ([]model.Job, error)
}
