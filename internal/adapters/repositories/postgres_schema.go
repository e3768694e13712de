package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"waas-dispatch-service/internal/domain"

	"github.com/google/uuid"
)

// Create the Postgres tables and indexes used by PostgresStore.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createWorkersQuery := `
	CREATE TABLE IF NOT EXISTS workers (
		id UUID PRIMARY KEY,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		availability TEXT NOT NULL DEFAULT 'available'
			CHECK (availability IN ('available', 'collecting')),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	createGroupsQuery := `
	CREATE TABLE IF NOT EXISTS collection_groups (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		centroid_lat DOUBLE PRECISION NOT NULL,
		centroid_lng DOUBLE PRECISION NOT NULL,
		cell_token TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('open', 'scheduled', 'collected')),
		report_count INTEGER NOT NULL DEFAULT 0 CHECK (report_count >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		scheduled_at TIMESTAMPTZ
	);
	`

	createReportsQuery := `
	CREATE TABLE IF NOT EXISTS reports (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		reporter_id UUID NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		waste_type TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL
			CHECK (status IN ('pending', 'awaiting_approval', 'assigned', 'collected')),
		group_id UUID REFERENCES collection_groups(id),
		group_seq INTEGER,
		created_at TIMESTAMPTZ NOT NULL
	);
	`

	createTasksQuery := `
	CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		group_id UUID NOT NULL UNIQUE REFERENCES collection_groups(id),
		worker_id UUID NOT NULL REFERENCES workers(id),
		status TEXT NOT NULL CHECK (status IN ('collecting', 'not_collecting')),
		route JSONB NOT NULL,
		progress DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (progress >= 0 AND progress <= 100),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ
	);
	`

	createIndexQueries := []string{
		`CREATE INDEX IF NOT EXISTS idx_groups_open_cell
		ON collection_groups(cell_token, created_at, seq) WHERE status = 'open';`,
		`CREATE INDEX IF NOT EXISTS idx_reports_reporter ON reports(reporter_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_group ON reports(group_id, group_seq);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_worker_active
		ON tasks(worker_id) WHERE status = 'collecting';`,
	}

	statements := append([]string{
		createWorkersQuery,
		createGroupsQuery,
		createReportsQuery,
		createTasksQuery,
	}, createIndexQueries...)

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

type WorkerSeed struct {
	WorkerID string           `json:"worker_id"`
	Location *domain.GeoPoint `json:"location,omitempty"`
}

// Load worker seeds from a JSON file.
func LoadWorkerSeeds(jsonPath string) ([]*domain.Worker, error) {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("seed workers: read %q: %w", jsonPath, err)
	}

	var data []WorkerSeed
	if err := json.Unmarshal(bytes, &data); err != nil {
		return nil, fmt.Errorf("seed workers: parse json: %w", err)
	}

	workers := make([]*domain.Worker, 0, len(data))
	for i, item := range data {
		id, err := uuid.Parse(item.WorkerID)
		if err != nil {
			return nil, fmt.Errorf("seed workers: invalid worker_id at index %d: %w", i+1, err)
		}
		if item.Location != nil {
			if err := item.Location.Validate(); err != nil {
				return nil, fmt.Errorf("seed workers: worker %s: %w", id, err)
			}
		}
		workers = append(workers, &domain.Worker{
			ID:           id,
			Location:     item.Location,
			Availability: domain.WorkerAvailable,
		})
	}
	return workers, nil
}

type workerUpserter interface {
	UpsertWorker(ctx context.Context, w *domain.Worker) error
}

// Populate the store with workers from a JSON file.
func SeedWorkersFromJSON(ctx context.Context, store workerUpserter, jsonPath string) (int, error) {
	workers, err := LoadWorkerSeeds(jsonPath)
	if err != nil {
		return 0, err
	}

	for _, w := range workers {
		if err := store.UpsertWorker(ctx, w); err != nil {
			return 0, fmt.Errorf("seed workers: %w", err)
		}
	}
	return len(workers), nil
}
