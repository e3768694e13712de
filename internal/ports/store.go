package ports

import (
	"context"
	"time"
	"waas-dispatch-service/internal/domain"

	"github.com/google/uuid"
)

// Reads shared by the store and its transactions.
type Reader interface {
	GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error)
	ListReportsByReporter(ctx context.Context, reporterID uuid.UUID) ([]*domain.Report, error)
	GetGroup(ctx context.Context, id uuid.UUID) (*domain.CollectionGroup, error)
	// ListGroups returns groups in creation order; an empty status means all.
	ListGroups(ctx context.Context, status domain.GroupStatus) ([]*domain.CollectionGroup, error)
	GetWorker(ctx context.Context, id uuid.UUID) (*domain.Worker, error)
	// ListWorkers returns workers ordered by id; an empty availability means all.
	ListWorkers(ctx context.Context, availability domain.Availability) ([]*domain.Worker, error)
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	// TaskByGroup returns the task created for a group, or ErrNotFound.
	TaskByGroup(ctx context.Context, groupID uuid.UUID) (*domain.Task, error)
	ListActiveTasksByWorker(ctx context.Context, workerID uuid.UUID) ([]*domain.Task, error)
}

// Port: persistence boundary for the dispatch engine.
// Lookups of absent entities return domain.ErrNotFound.
type Store interface {
	Reader

	// InTx runs fn as one all-or-nothing unit: committed when fn returns nil,
	// rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// UpsertWorker registers a worker. For a known worker only a non-nil
	// location is applied; availability is left to dispatch and completion.
	UpsertWorker(ctx context.Context, w *domain.Worker) error
	UpdateWorkerLocation(ctx context.Context, id uuid.UUID, loc domain.GeoPoint) error
	// UpdateTaskProgress only touches a Collecting task; a finished or
	// unknown task yields ErrNotFound.
	UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress float64) error
}

// Mutations that must happen inside a transaction.
type Tx interface {
	Reader

	CreateReport(ctx context.Context, r *domain.Report) error
	SetReportStatus(ctx context.Context, ids []uuid.UUID, status domain.ReportStatus) error

	// ListOpenGroups returns Open groups whose cell token is in cells (nil
	// means every cell), in creation order. Rows stay locked
	// until the transaction ends.
	ListOpenGroups(ctx context.Context, cells []string) ([]*domain.CollectionGroup, error)
	CreateGroup(ctx context.Context, g *domain.CollectionGroup) error
	// AppendReport adds a member and increments the count; false if the
	// group is no longer Open.
	AppendReport(ctx context.Context, groupID, reportID uuid.UUID) (bool, error)
	LockGroup(ctx context.Context, id uuid.UUID) (*domain.CollectionGroup, error)
	// TransitionGroup moves a group from one status to another; false if it
	// was not in the expected status.
	TransitionGroup(ctx context.Context, id uuid.UUID, from, to domain.GroupStatus, at time.Time) (bool, error)

	// ListAvailableWorkers returns available workers, locked for the transaction.
	ListAvailableWorkers(ctx context.Context) ([]*domain.Worker, error)
	// ClaimWorker flips available -> collecting; false if already taken.
	ClaimWorker(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseWorker(ctx context.Context, id uuid.UUID) error

	CreateTask(ctx context.Context, t *domain.Task) error
	// ActiveTask returns the Collecting task for a group and worker, or ErrNotFound.
	ActiveTask(ctx context.Context, groupID, workerID uuid.UUID) (*domain.Task, error)
	FinishTask(ctx context.Context, id uuid.UUID, end time.Time) error
}
