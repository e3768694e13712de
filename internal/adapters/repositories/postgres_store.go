package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres-backed implementation of the Store port.
//
// Races are settled by the database: candidate rows are read with
// FOR UPDATE and every state change is an UPDATE guarded by the expected
// status, so the affected row count tells the caller whether it won.
type PostgresStore struct {
	DB *sql.DB
	pgReader
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db, pgReader: pgReader{q: db}}
}

type pgReader struct {
	q queryer
}

type pgTx struct {
	pgReader
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	if s.DB == nil {
		return errors.New("postgres store: DB is nil")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{pgReader{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres store: commit tx: %w", err)
	}
	return nil
}

// --- reports ---

const reportColumns = `id, reporter_id, lat, lng, waste_type, image_url, status, group_id, created_at`

func scanReport(row interface{ Scan(...any) error }) (*domain.Report, error) {
	var r domain.Report
	var groupID uuid.NullUUID
	if err := row.Scan(
		&r.ID, &r.ReporterID, &r.Location.Lat, &r.Location.Lng,
		&r.WasteType, &r.ImageURL, &r.Status, &groupID, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if groupID.Valid {
		r.GroupID = groupID.UUID
	}
	return &r, nil
}

func (p pgReader) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1;`

	r, err := scanReport(p.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report: scan row: %w", err)
	}
	return r, nil
}

func (p pgReader) ListReportsByReporter(ctx context.Context, reporterID uuid.UUID) ([]*domain.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM reports WHERE reporter_id = $1 ORDER BY seq;`

	rows, err := p.q.QueryContext(ctx, q, reporterID)
	if err != nil {
		return nil, fmt.Errorf("list reports: query reports table: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("list reports: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: row iteration: %w", err)
	}
	return out, nil
}

func (t *pgTx) CreateReport(ctx context.Context, r *domain.Report) error {
	q := `
	INSERT INTO reports (id, reporter_id, lat, lng, waste_type, image_url, status, group_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	groupID := uuid.NullUUID{UUID: r.GroupID, Valid: r.GroupID != uuid.Nil}
	if _, err := t.q.ExecContext(ctx, q,
		r.ID, r.ReporterID, r.Location.Lat, r.Location.Lng,
		r.WasteType, r.ImageURL, string(r.Status), groupID, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("create report %s: %w", r.ID, err)
	}
	return nil
}

func (t *pgTx) SetReportStatus(ctx context.Context, ids []uuid.UUID, status domain.ReportStatus) error {
	if len(ids) == 0 {
		return nil
	}
	q := `UPDATE reports SET status = $1 WHERE id = ANY($2::uuid[]);`

	res, err := t.q.ExecContext(ctx, q, string(status), uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("set report status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && int(n) != len(ids) {
		return fmt.Errorf("set report status: updated %d of %d reports: %w", n, len(ids), domain.ErrNotFound)
	}
	return nil
}

// --- groups ---

const groupColumns = `
	g.id, g.centroid_lat, g.centroid_lng, g.cell_token, g.status, g.report_count, g.created_at, g.scheduled_at,
	COALESCE((
		SELECT string_agg(r.id::text, ',' ORDER BY r.group_seq)
		FROM reports r
		WHERE r.group_id = g.id
	), '')`

func scanGroup(row interface{ Scan(...any) error }) (*domain.CollectionGroup, error) {
	var g domain.CollectionGroup
	var scheduledAt sql.NullTime
	var members string
	if err := row.Scan(
		&g.ID, &g.Centroid.Lat, &g.Centroid.Lng, &g.CellToken, &g.Status,
		&g.ReportCount, &g.CreatedAt, &scheduledAt, &members,
	); err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		at := scheduledAt.Time
		g.ScheduledAt = &at
	}

	ids, err := parseUUIDList(members)
	if err != nil {
		return nil, fmt.Errorf("group %s members: %w", g.ID, err)
	}
	g.MemberReportIDs = ids
	return &g, nil
}

func (p pgReader) getGroup(ctx context.Context, id uuid.UUID, lock bool) (*domain.CollectionGroup, error) {
	q := `SELECT ` + groupColumns + ` FROM collection_groups g WHERE g.id = $1`
	if lock {
		q += ` FOR UPDATE OF g`
	}

	g, err := scanGroup(p.q.QueryRowContext(ctx, q+";", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: scan row: %w", err)
	}
	return g, nil
}

func (p pgReader) GetGroup(ctx context.Context, id uuid.UUID) (*domain.CollectionGroup, error) {
	return p.getGroup(ctx, id, false)
}

func (p pgReader) listGroups(ctx context.Context, q string, args ...any) ([]*domain.CollectionGroup, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: query collection_groups table: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.CollectionGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("list groups: scan row: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: row iteration: %w", err)
	}
	return out, nil
}

func (p pgReader) ListGroups(ctx context.Context, status domain.GroupStatus) ([]*domain.CollectionGroup, error) {
	if status == "" {
		return p.listGroups(ctx, `SELECT `+groupColumns+` FROM collection_groups g ORDER BY g.created_at, g.seq;`)
	}
	return p.listGroups(ctx,
		`SELECT `+groupColumns+` FROM collection_groups g WHERE g.status = $1 ORDER BY g.created_at, g.seq;`,
		string(status),
	)
}

func (t *pgTx) ListOpenGroups(ctx context.Context, cells []string) ([]*domain.CollectionGroup, error) {
	if cells == nil {
		return t.listGroups(ctx, `
		SELECT `+groupColumns+`
		FROM collection_groups g
		WHERE g.status = 'open'
		ORDER BY g.created_at, g.seq
		FOR UPDATE OF g;`)
	}
	if len(cells) == 0 {
		return []*domain.CollectionGroup{}, nil
	}

	return t.listGroups(ctx, `
	SELECT `+groupColumns+`
	FROM collection_groups g
	WHERE g.status = 'open'
		AND g.cell_token = ANY($1::text[])
	ORDER BY g.created_at, g.seq
	FOR UPDATE OF g;`, cells)
}

func (t *pgTx) CreateGroup(ctx context.Context, g *domain.CollectionGroup) error {
	q := `
	INSERT INTO collection_groups (id, centroid_lat, centroid_lng, cell_token, status, report_count, created_at)
	VALUES ($1, $2, $3, $4, $5, 0, $6);
	`
	if _, err := t.q.ExecContext(ctx, q,
		g.ID, g.Centroid.Lat, g.Centroid.Lng, g.CellToken, string(g.Status), g.CreatedAt,
	); err != nil {
		return fmt.Errorf("create group %s: %w", g.ID, err)
	}
	return nil
}

func (t *pgTx) AppendReport(ctx context.Context, groupID, reportID uuid.UUID) (bool, error) {
	q := `
	UPDATE collection_groups
	SET report_count = report_count + 1
	WHERE id = $1 AND status = 'open'
	RETURNING report_count;
	`
	var count int
	err := t.q.QueryRowContext(ctx, q, groupID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append report: bump count: %w", err)
	}

	res, err := t.q.ExecContext(ctx,
		`UPDATE reports SET group_id = $1, group_seq = $2 WHERE id = $3;`,
		groupID, count, reportID,
	)
	if err != nil {
		return false, fmt.Errorf("append report: link report: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return false, fmt.Errorf("append report: report %s: %w", reportID, domain.ErrNotFound)
	}
	return true, nil
}

func (t *pgTx) LockGroup(ctx context.Context, id uuid.UUID) (*domain.CollectionGroup, error) {
	return t.getGroup(ctx, id, true)
}

func (t *pgTx) TransitionGroup(ctx context.Context, id uuid.UUID, from, to domain.GroupStatus, at time.Time) (bool, error) {
	q := `
	UPDATE collection_groups
	SET status = $1,
		scheduled_at = CASE WHEN $1 = 'scheduled' THEN $2 ELSE scheduled_at END
	WHERE id = $3 AND status = $4;
	`
	res, err := t.q.ExecContext(ctx, q, string(to), at, id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition group %s %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition group %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// --- workers ---

const workerColumns = `id, lat, lng, availability`

func scanWorker(row interface{ Scan(...any) error }) (*domain.Worker, error) {
	var w domain.Worker
	var lat, lng sql.NullFloat64
	if err := row.Scan(&w.ID, &lat, &lng, &w.Availability); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		w.Location = &domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &w, nil
}

func (p pgReader) GetWorker(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	w, err := scanWorker(p.q.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: scan row: %w", err)
	}
	return w, nil
}

func (p pgReader) listWorkers(ctx context.Context, q string, args ...any) ([]*domain.Worker, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workers: query workers table: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Worker, 0)
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("list workers: scan row: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workers: row iteration: %w", err)
	}
	return out, nil
}

func (p pgReader) ListWorkers(ctx context.Context, availability domain.Availability) ([]*domain.Worker, error) {
	if availability == "" {
		return p.listWorkers(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY id;`)
	}
	return p.listWorkers(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE availability = $1 ORDER BY id;`,
		string(availability),
	)
}

func (t *pgTx) ListAvailableWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return t.listWorkers(ctx, `
	SELECT `+workerColumns+`
	FROM workers
	WHERE availability = 'available'
		AND lat IS NOT NULL
		AND lng IS NOT NULL
	ORDER BY id
	FOR UPDATE;`)
}

func (t *pgTx) ClaimWorker(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE workers SET availability = 'collecting', updated_at = NOW() WHERE id = $1 AND availability = 'available';`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("claim worker %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim worker %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

func (t *pgTx) ReleaseWorker(ctx context.Context, id uuid.UUID) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE workers SET availability = 'available', updated_at = NOW() WHERE id = $1;`,
		id,
	)
	if err != nil {
		return fmt.Errorf("release worker %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("release worker %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertWorker(ctx context.Context, w *domain.Worker) error {
	availability := w.Availability
	if availability == "" {
		availability = domain.WorkerAvailable
	}
	var lat, lng sql.NullFloat64
	if w.Location != nil {
		lat = sql.NullFloat64{Float64: w.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: w.Location.Lng, Valid: true}
	}

	q := `
	INSERT INTO workers (id, lat, lng, availability)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	SET lat = COALESCE(EXCLUDED.lat, workers.lat),
		lng = COALESCE(EXCLUDED.lng, workers.lng),
		updated_at = NOW();
	`
	if _, err := s.DB.ExecContext(ctx, q, w.ID, lat, lng, string(availability)); err != nil {
		return fmt.Errorf("upsert worker %s: %w", w.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkerLocation(ctx context.Context, id uuid.UUID, loc domain.GeoPoint) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE workers SET lat = $1, lng = $2, updated_at = NOW() WHERE id = $3;`,
		loc.Lat, loc.Lng, id,
	)
	if err != nil {
		return fmt.Errorf("update worker location %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update worker location %s: rows affected: %w", id, err)
	}
	if n != 1 {
		return fmt.Errorf("worker %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- tasks ---

const taskColumns = `id, group_id, worker_id, status, route, progress, start_time, end_time`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	var route []byte
	var end sql.NullTime
	if err := row.Scan(&t.ID, &t.GroupID, &t.WorkerID, &t.Status, &route, &t.Progress, &t.StartTime, &end); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(route, &t.Route); err != nil {
		return nil, fmt.Errorf("decode route of task %s: %w", t.ID, err)
	}
	if end.Valid {
		e := end.Time
		t.EndTime = &e
	}
	return &t, nil
}

func (p pgReader) getTask(ctx context.Context, q string, args ...any) (*domain.Task, error) {
	t, err := scanTask(p.q.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func (p pgReader) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := p.getTask(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1;`, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return t, nil
}

func (p pgReader) TaskByGroup(ctx context.Context, groupID uuid.UUID) (*domain.Task, error) {
	t, err := p.getTask(ctx, `SELECT `+taskColumns+` FROM tasks WHERE group_id = $1;`, groupID)
	if err != nil {
		return nil, fmt.Errorf("task for group %s: %w", groupID, err)
	}
	return t, nil
}

func (p pgReader) ListActiveTasksByWorker(ctx context.Context, workerID uuid.UUID) ([]*domain.Task, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE worker_id = $1 AND status = 'collecting' ORDER BY seq;`,
		workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: query tasks table: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: scan row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: row iteration: %w", err)
	}
	return out, nil
}

func (t *pgTx) CreateTask(ctx context.Context, task *domain.Task) error {
	route, err := json.Marshal(task.Route)
	if err != nil {
		return fmt.Errorf("create task: encode route: %w", err)
	}

	q := `
	INSERT INTO tasks (id, group_id, worker_id, status, route, progress, start_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	if _, err := t.q.ExecContext(ctx, q,
		task.ID, task.GroupID, task.WorkerID, string(task.Status), route, task.Progress, task.StartTime,
	); err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (t *pgTx) ActiveTask(ctx context.Context, groupID, workerID uuid.UUID) (*domain.Task, error) {
	task, err := t.getTask(ctx, `
	SELECT `+taskColumns+`
	FROM tasks
	WHERE group_id = $1 AND worker_id = $2 AND status = 'collecting'
	FOR UPDATE;`, groupID, workerID)
	if err != nil {
		return nil, fmt.Errorf("active task group=%s worker=%s: %w", groupID, workerID, err)
	}
	return task, nil
}

func (t *pgTx) FinishTask(ctx context.Context, id uuid.UUID, end time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE tasks SET status = 'not_collecting', progress = 100, end_time = $1 WHERE id = $2;`,
		end, id,
	)
	if err != nil {
		return fmt.Errorf("finish task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("finish task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress float64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET progress = $1 WHERE id = $2 AND status = 'collecting';`,
		progress, id,
	)
	if err != nil {
		return fmt.Errorf("update task progress %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseUUIDList(s string) ([]uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []uuid.UUID{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
