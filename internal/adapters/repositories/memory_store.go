package repositories

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
)

// In-memory implementation of the Store port.
//
// A transaction works on a private copy of the whole state and swaps it in
// on success, so a failed transaction leaves nothing behind. Transactions
// are serialized by a single mutex. Intended for local runs and tests.
type MemoryStore struct {
	mu sync.RWMutex
	st *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type memState struct {
	reports     map[uuid.UUID]*domain.Report
	reportOrder []uuid.UUID
	groups      map[uuid.UUID]*domain.CollectionGroup
	groupOrder  []uuid.UUID
	tasks       map[uuid.UUID]*domain.Task
	taskOrder   []uuid.UUID
	workers     map[uuid.UUID]*domain.Worker
}

func newMemState() *memState {
	return &memState{
		reports: make(map[uuid.UUID]*domain.Report),
		groups:  make(map[uuid.UUID]*domain.CollectionGroup),
		tasks:   make(map[uuid.UUID]*domain.Task),
		workers: make(map[uuid.UUID]*domain.Worker),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		reports:     make(map[uuid.UUID]*domain.Report, len(s.reports)),
		reportOrder: slices.Clone(s.reportOrder),
		groups:      make(map[uuid.UUID]*domain.CollectionGroup, len(s.groups)),
		groupOrder:  slices.Clone(s.groupOrder),
		tasks:       make(map[uuid.UUID]*domain.Task, len(s.tasks)),
		taskOrder:   slices.Clone(s.taskOrder),
		workers:     make(map[uuid.UUID]*domain.Worker, len(s.workers)),
	}
	for k, v := range s.reports {
		c.reports[k] = copyReport(v)
	}
	for k, v := range s.groups {
		c.groups[k] = copyGroup(v)
	}
	for k, v := range s.tasks {
		c.tasks[k] = copyTask(v)
	}
	for k, v := range s.workers {
		c.workers[k] = copyWorker(v)
	}
	return c
}

func copyReport(r *domain.Report) *domain.Report {
	c := *r
	return &c
}

func copyGroup(g *domain.CollectionGroup) *domain.CollectionGroup {
	c := *g
	c.MemberReportIDs = slices.Clone(g.MemberReportIDs)
	if g.ScheduledAt != nil {
		at := *g.ScheduledAt
		c.ScheduledAt = &at
	}
	return &c
}

func copyTask(t *domain.Task) *domain.Task {
	c := *t
	c.Route = slices.Clone(t.Route)
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	return &c
}

func copyWorker(w *domain.Worker) *domain.Worker {
	c := *w
	if w.Location != nil {
		loc := *w.Location
		c.Location = &loc
	}
	return &c
}

// --- reads ---

func (s *memState) GetReport(_ context.Context, id uuid.UUID) (*domain.Report, error) {
	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return copyReport(r), nil
}

func (s *memState) ListReportsByReporter(_ context.Context, reporterID uuid.UUID) ([]*domain.Report, error) {
	out := make([]*domain.Report, 0)
	for _, id := range s.reportOrder {
		if r := s.reports[id]; r.ReporterID == reporterID {
			out = append(out, copyReport(r))
		}
	}
	return out, nil
}

func (s *memState) GetGroup(_ context.Context, id uuid.UUID) (*domain.CollectionGroup, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
	}
	return copyGroup(g), nil
}

func (s *memState) ListGroups(_ context.Context, status domain.GroupStatus) ([]*domain.CollectionGroup, error) {
	out := make([]*domain.CollectionGroup, 0)
	for _, id := range s.groupOrder {
		g := s.groups[id]
		if status == "" || g.Status == status {
			out = append(out, copyGroup(g))
		}
	}
	return out, nil
}

func (s *memState) GetWorker(_ context.Context, id uuid.UUID) (*domain.Worker, error) {
	w, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, domain.ErrNotFound)
	}
	return copyWorker(w), nil
}

func (s *memState) ListWorkers(_ context.Context, availability domain.Availability) ([]*domain.Worker, error) {
	out := make([]*domain.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if availability == "" || w.Availability == availability {
			out = append(out, copyWorker(w))
		}
	}
	slices.SortFunc(out, func(a, b *domain.Worker) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return out, nil
}

func (s *memState) GetTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return copyTask(t), nil
}

func (s *memState) TaskByGroup(_ context.Context, groupID uuid.UUID) (*domain.Task, error) {
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t.GroupID == groupID {
			return copyTask(t), nil
		}
	}
	return nil, fmt.Errorf("task for group %s: %w", groupID, domain.ErrNotFound)
}

func (s *memState) ListActiveTasksByWorker(_ context.Context, workerID uuid.UUID) ([]*domain.Task, error) {
	out := make([]*domain.Task, 0)
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.WorkerID == workerID && t.Status == domain.TaskCollecting {
			out = append(out, copyTask(t))
		}
	}
	return out, nil
}

// --- transactional writes ---

type memTx struct {
	*memState
}

func (tx *memTx) CreateReport(_ context.Context, r *domain.Report) error {
	if _, ok := tx.reports[r.ID]; ok {
		return fmt.Errorf("create report %s: %w: duplicate id", r.ID, domain.ErrConflict)
	}
	tx.reports[r.ID] = copyReport(r)
	tx.reportOrder = append(tx.reportOrder, r.ID)
	return nil
}

func (tx *memTx) SetReportStatus(_ context.Context, ids []uuid.UUID, status domain.ReportStatus) error {
	for _, id := range ids {
		r, ok := tx.reports[id]
		if !ok {
			return fmt.Errorf("set report status %s: %w", id, domain.ErrNotFound)
		}
		r.Status = status
	}
	return nil
}

func (tx *memTx) ListOpenGroups(_ context.Context, cells []string) ([]*domain.CollectionGroup, error) {
	out := make([]*domain.CollectionGroup, 0)
	for _, id := range tx.groupOrder {
		g := tx.groups[id]
		if g.Status != domain.GroupOpen {
			continue
		}
		if cells != nil && !slices.Contains(cells, g.CellToken) {
			continue
		}
		out = append(out, copyGroup(g))
	}
	return out, nil
}

func (tx *memTx) CreateGroup(_ context.Context, g *domain.CollectionGroup) error {
	if _, ok := tx.groups[g.ID]; ok {
		return fmt.Errorf("create group %s: %w: duplicate id", g.ID, domain.ErrConflict)
	}
	tx.groups[g.ID] = copyGroup(g)
	tx.groupOrder = append(tx.groupOrder, g.ID)
	return nil
}

func (tx *memTx) AppendReport(_ context.Context, groupID, reportID uuid.UUID) (bool, error) {
	g, ok := tx.groups[groupID]
	if !ok {
		return false, fmt.Errorf("append report: group %s: %w", groupID, domain.ErrNotFound)
	}
	r, ok := tx.reports[reportID]
	if !ok {
		return false, fmt.Errorf("append report: report %s: %w", reportID, domain.ErrNotFound)
	}
	if g.Status != domain.GroupOpen {
		return false, nil
	}

	g.MemberReportIDs = append(g.MemberReportIDs, reportID)
	g.ReportCount++
	r.GroupID = groupID
	return true, nil
}

func (tx *memTx) LockGroup(ctx context.Context, id uuid.UUID) (*domain.CollectionGroup, error) {
	return tx.GetGroup(ctx, id)
}

func (tx *memTx) TransitionGroup(_ context.Context, id uuid.UUID, from, to domain.GroupStatus, at time.Time) (bool, error) {
	g, ok := tx.groups[id]
	if !ok {
		return false, fmt.Errorf("transition group %s: %w", id, domain.ErrNotFound)
	}
	if g.Status != from {
		return false, nil
	}
	g.Status = to
	if to == domain.GroupScheduled {
		scheduled := at
		g.ScheduledAt = &scheduled
	}
	return true, nil
}

func (tx *memTx) ListAvailableWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return tx.ListWorkers(ctx, domain.WorkerAvailable)
}

func (tx *memTx) ClaimWorker(_ context.Context, id uuid.UUID) (bool, error) {
	w, ok := tx.workers[id]
	if !ok {
		return false, fmt.Errorf("claim worker %s: %w", id, domain.ErrNotFound)
	}
	if w.Availability != domain.WorkerAvailable {
		return false, nil
	}
	w.Availability = domain.WorkerCollecting
	return true, nil
}

func (tx *memTx) ReleaseWorker(_ context.Context, id uuid.UUID) error {
	w, ok := tx.workers[id]
	if !ok {
		return fmt.Errorf("release worker %s: %w", id, domain.ErrNotFound)
	}
	w.Availability = domain.WorkerAvailable
	return nil
}

func (tx *memTx) CreateTask(_ context.Context, t *domain.Task) error {
	for _, existing := range tx.tasks {
		if existing.GroupID == t.GroupID {
			return fmt.Errorf("create task: %w: group %s already has a task", domain.ErrConflict, t.GroupID)
		}
	}
	tx.tasks[t.ID] = copyTask(t)
	tx.taskOrder = append(tx.taskOrder, t.ID)
	return nil
}

func (tx *memTx) ActiveTask(_ context.Context, groupID, workerID uuid.UUID) (*domain.Task, error) {
	for _, id := range tx.taskOrder {
		t := tx.tasks[id]
		if t.GroupID == groupID && t.WorkerID == workerID && t.Status == domain.TaskCollecting {
			return copyTask(t), nil
		}
	}
	return nil, fmt.Errorf("active task group=%s worker=%s: %w", groupID, workerID, domain.ErrNotFound)
}

func (tx *memTx) FinishTask(_ context.Context, id uuid.UUID, end time.Time) error {
	t, ok := tx.tasks[id]
	if !ok {
		return fmt.Errorf("finish task %s: %w", id, domain.ErrNotFound)
	}
	t.Status = domain.TaskNotCollecting
	t.Progress = 100
	t.EndTime = &end
	return nil
}

// --- Store ---

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{memState: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *MemoryStore) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetReport(ctx, id)
}

func (s *MemoryStore) ListReportsByReporter(ctx context.Context, reporterID uuid.UUID) ([]*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListReportsByReporter(ctx, reporterID)
}

func (s *MemoryStore) GetGroup(ctx context.Context, id uuid.UUID) (*domain.CollectionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetGroup(ctx, id)
}

func (s *MemoryStore) ListGroups(ctx context.Context, status domain.GroupStatus) ([]*domain.CollectionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListGroups(ctx, status)
}

func (s *MemoryStore) GetWorker(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetWorker(ctx, id)
}

func (s *MemoryStore) ListWorkers(ctx context.Context, availability domain.Availability) ([]*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListWorkers(ctx, availability)
}

func (s *MemoryStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetTask(ctx, id)
}

func (s *MemoryStore) TaskByGroup(ctx context.Context, groupID uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.TaskByGroup(ctx, groupID)
}

func (s *MemoryStore) ListActiveTasksByWorker(ctx context.Context, workerID uuid.UUID) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListActiveTasksByWorker(ctx, workerID)
}

func (s *MemoryStore) UpsertWorker(_ context.Context, w *domain.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.st.workers[w.ID]; ok {
		if w.Location != nil {
			loc := *w.Location
			existing.Location = &loc
		}
		return nil
	}

	c := copyWorker(w)
	if c.Availability == "" {
		c.Availability = domain.WorkerAvailable
	}
	s.st.workers[w.ID] = c
	return nil
}

func (s *MemoryStore) UpdateWorkerLocation(_ context.Context, id uuid.UUID, loc domain.GeoPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.workers[id]
	if !ok {
		return fmt.Errorf("worker %s: %w", id, domain.ErrNotFound)
	}
	w.Location = &loc
	return nil
}

func (s *MemoryStore) UpdateTaskProgress(_ context.Context, id uuid.UUID, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tasks[id]
	if !ok || t.Status != domain.TaskCollecting {
		return fmt.Errorf("collecting task %s: %w", id, domain.ErrNotFound)
	}
	t.Progress = progress
	return nil
}
