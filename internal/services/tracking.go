package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/platform/obs"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskProgress is the outcome of one location update for one task.
type TaskProgress struct {
	TaskID   uuid.UUID
	GroupID  uuid.UUID
	Progress float64
	ETA      domain.ETA
}

// TrackingService applies worker location pings to active tasks and
// answers progress queries from reporters.
//
// Pings for the same worker are serialized; pings for different workers
// run independently.
type TrackingService struct {
	store     ports.Store
	tracker   ProgressTracker
	publisher ports.ProgressPublisher
	log       zerolog.Logger

	workerLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewTrackingService wires the service. publisher may be nil.
func NewTrackingService(
	store ports.Store,
	tracker ProgressTracker,
	publisher ports.ProgressPublisher,
	log zerolog.Logger,
) *TrackingService {
	return &TrackingService{store: store, tracker: tracker, publisher: publisher, log: log}
}

func (s *TrackingService) lockWorker(id uuid.UUID) func() {
	v, _ := s.workerLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// UpdateWorkerLocation records a ping and recomputes progress for every
// task the worker is collecting.
func (s *TrackingService) UpdateWorkerLocation(
	ctx context.Context,
	workerID uuid.UUID,
	loc domain.GeoPoint,
) (_ []TaskProgress, err error) {
	defer obs.Time(ctx, s.log, "tracking.UpdateWorkerLocation")(&err)

	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("update worker location: %w", err)
	}

	// Workers are never removed, so a lock is only created for a known one.
	if _, err := s.store.GetWorker(ctx, workerID); err != nil {
		return nil, fmt.Errorf("update worker location %s: %w", workerID, err)
	}

	unlock := s.lockWorker(workerID)
	defer unlock()

	if err := s.store.UpdateWorkerLocation(ctx, workerID, loc); err != nil {
		return nil, fmt.Errorf("update worker location %s: %w", workerID, err)
	}

	tasks, err := s.store.ListActiveTasksByWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("update worker location: list tasks: %w", err)
	}

	out := make([]TaskProgress, 0, len(tasks))
	for _, t := range tasks {
		p := s.tracker.Compute(t.Points(), loc)

		percent := t.Progress
		if p.Defined {
			percent = p.Percent
			err := s.store.UpdateTaskProgress(ctx, t.ID, percent)
			if errors.Is(err, domain.ErrNotFound) {
				// Completed after the task list was read.
				s.log.Debug().Str("task_id", t.ID.String()).Msg("task finished during ping, skipped")
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("update worker location: save progress of task %s: %w", t.ID, err)
			}
		}

		tp := TaskProgress{TaskID: t.ID, GroupID: t.GroupID, Progress: percent, ETA: p.ETA}
		out = append(out, tp)

		s.publish(ctx, tp, loc)
	}

	return out, nil
}

// publish pushes fresh progress to every reporter of the task's group.
func (s *TrackingService) publish(ctx context.Context, tp TaskProgress, loc domain.GeoPoint) {
	if s.publisher == nil {
		return
	}

	g, err := s.store.GetGroup(ctx, tp.GroupID)
	if err != nil {
		s.log.Warn().Err(err).Str("group_id", tp.GroupID.String()).Msg("publish progress: load group")
		return
	}

	for _, id := range g.MemberReportIDs {
		r, err := s.store.GetReport(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("report_id", id.String()).Msg("publish progress: load report")
			continue
		}
		workerLoc := loc
		s.publisher.Publish(r.ReporterID, ports.ReportProgress{
			ReportID:       r.ID,
			Status:         r.Status,
			Progress:       tp.Progress,
			ETA:            tp.ETA,
			WorkerLocation: &workerLoc,
		})
	}
}

// FetchProgress lists every report of a user with its collection progress.
func (s *TrackingService) FetchProgress(ctx context.Context, userID uuid.UUID) (_ []ports.ReportProgress, err error) {
	defer obs.Time(ctx, s.log, "tracking.FetchProgress")(&err)

	if userID == uuid.Nil {
		return nil, fmt.Errorf("fetch progress: %w: user id is required", domain.ErrValidation)
	}

	reports, err := s.store.ListReportsByReporter(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch progress: list reports: %w", err)
	}

	out := make([]ports.ReportProgress, 0, len(reports))
	for _, r := range reports {
		rp, err := s.reportProgress(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("fetch progress: report %s: %w", r.ID, err)
		}
		out = append(out, rp)
	}

	return out, nil
}

func (s *TrackingService) reportProgress(ctx context.Context, r *domain.Report) (ports.ReportProgress, error) {
	rp := ports.ReportProgress{
		ReportID: r.ID,
		Status:   r.Status,
		ETA:      domain.ETA{Kind: domain.ETAUnknown},
	}

	if r.Status == domain.ReportCollected {
		rp.Progress = 100
		return rp, nil
	}
	if r.GroupID == uuid.Nil {
		return rp, nil
	}

	task, err := s.store.TaskByGroup(ctx, r.GroupID)
	if errors.Is(err, domain.ErrNotFound) {
		return rp, nil
	}
	if err != nil {
		return rp, err
	}

	rp.Progress = task.Progress
	if task.Status != domain.TaskCollecting {
		return rp, nil
	}

	rp.ETA = s.tracker.ETAFor(task.Points(), task.Progress)

	w, err := s.store.GetWorker(ctx, task.WorkerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return rp, err
	}
	if w != nil && w.Location != nil {
		loc := *w.Location
		rp.WorkerLocation = &loc
	}

	return rp, nil
}
