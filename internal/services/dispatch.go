package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/geo"
	"waas-dispatch-service/internal/platform/obs"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultOptimizerTimeout = 5 * time.Second

type DispatchConfig struct {
	OptimizerTimeout time.Duration
	Clock            func() time.Time
}

// DispatchCoordinator turns a Scheduled group into a worker task.
//
// Worker selection and claim happen in the same transaction as task
// creation, so a worker is never marked collecting without a task and two
// groups never share a worker. The optional external optimizer is consulted
// before the transaction; its ordering is used only when it was computed for
// the worker that ends up claimed.
type DispatchCoordinator struct {
	store     ports.Store
	optimizer ports.RouteOptimizer
	notifier  ports.Notifier
	cfg       DispatchConfig
	log       zerolog.Logger
}

// NewDispatchCoordinator wires the coordinator. optimizer may be nil.
func NewDispatchCoordinator(
	store ports.Store,
	optimizer ports.RouteOptimizer,
	notifier ports.Notifier,
	cfg DispatchConfig,
	log zerolog.Logger,
) *DispatchCoordinator {
	if cfg.OptimizerTimeout <= 0 {
		cfg.OptimizerTimeout = DefaultOptimizerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &DispatchCoordinator{
		store:     store,
		optimizer: optimizer,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
	}
}

type plannedOrder struct {
	workerID  uuid.UUID
	reportIDs []uuid.UUID
	order     []int
}

// Dispatch assigns the nearest available worker to a Scheduled group.
//
// Returns ErrConflict if the group is not Scheduled or already has a task,
// and ErrNoWorkerAvailable if nobody can take it; in both cases nothing
// changes and the group stays as it was.
func (d *DispatchCoordinator) Dispatch(ctx context.Context, groupID uuid.UUID) (_ *domain.Task, err error) {
	defer obs.Time(ctx, d.log, "dispatch.Dispatch")(&err)

	group, err := d.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("dispatch group %s: %w", groupID, err)
	}
	if group.Status != domain.GroupScheduled {
		return nil, fmt.Errorf("dispatch group %s: %w: status is %s", groupID, domain.ErrConflict, group.Status)
	}

	reports, err := d.memberReports(ctx, d.store, group.MemberReportIDs)
	if err != nil {
		return nil, fmt.Errorf("dispatch group %s: %w", groupID, err)
	}

	plan := d.planWithOptimizer(ctx, group, reports)

	var task *domain.Task
	var worker *domain.Worker
	err = d.store.InTx(ctx, func(tx ports.Tx) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if g.Status != domain.GroupScheduled {
			return fmt.Errorf("%w: group status is %s", domain.ErrConflict, g.Status)
		}

		if _, err := tx.TaskByGroup(ctx, groupID); err == nil {
			return fmt.Errorf("%w: group already has a task", domain.ErrConflict)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("lookup existing task: %w", err)
		}

		workers, err := tx.ListAvailableWorkers(ctx)
		if err != nil {
			return fmt.Errorf("list available workers: %w", err)
		}
		worker = nearestWorker(workers, g.Centroid)
		if worker == nil {
			return domain.ErrNoWorkerAvailable
		}

		ok, err := tx.ClaimWorker(ctx, worker.ID)
		if err != nil {
			return fmt.Errorf("claim worker %s: %w", worker.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: worker %s was claimed concurrently", domain.ErrConflict, worker.ID)
		}

		members := reports
		if !slices.Equal(g.MemberReportIDs, group.MemberReportIDs) {
			members, err = d.memberReports(ctx, tx, g.MemberReportIDs)
			if err != nil {
				return err
			}
		}

		route := d.route(*worker.Location, worker.ID, g.MemberReportIDs, members, plan)

		task = &domain.Task{
			ID:        uuid.New(),
			GroupID:   g.ID,
			WorkerID:  worker.ID,
			Status:    domain.TaskCollecting,
			Route:     route,
			Progress:  0,
			StartTime: d.cfg.Clock(),
		}
		if err := tx.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("create task: %w", err)
		}

		if err := tx.SetReportStatus(ctx, g.MemberReportIDs, domain.ReportAssigned); err != nil {
			return fmt.Errorf("mark reports assigned: %w", err)
		}

		reports = members
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch group %s: %w", groupID, err)
	}

	d.log.Info().
		Str("group_id", groupID.String()).
		Str("task_id", task.ID.String()).
		Str("worker_id", worker.ID.String()).
		Int("stops", len(task.Route)-1).
		Msg("group dispatched")

	d.notify(ctx, task, reports)

	return task, nil
}

// CompleteCollection closes the active task of a worker for a group and
// frees the worker. Returns ErrNotFound when no such task is collecting.
func (d *DispatchCoordinator) CompleteCollection(ctx context.Context, groupID, workerID uuid.UUID) (err error) {
	defer obs.Time(ctx, d.log, "dispatch.CompleteCollection")(&err)

	err = d.store.InTx(ctx, func(tx ports.Tx) error {
		task, err := tx.ActiveTask(ctx, groupID, workerID)
		if err != nil {
			return fmt.Errorf("find active task: %w", err)
		}

		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}

		ok, err := tx.TransitionGroup(ctx, groupID, domain.GroupScheduled, domain.GroupCollected, d.cfg.Clock())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: group status is %s", domain.ErrConflict, g.Status)
		}

		if err := tx.FinishTask(ctx, task.ID, d.cfg.Clock()); err != nil {
			return fmt.Errorf("finish task: %w", err)
		}
		if err := tx.ReleaseWorker(ctx, workerID); err != nil {
			return fmt.Errorf("release worker: %w", err)
		}
		if err := tx.SetReportStatus(ctx, g.MemberReportIDs, domain.ReportCollected); err != nil {
			return fmt.Errorf("mark reports collected: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete collection group=%s worker=%s: %w", groupID, workerID, err)
	}

	d.log.Info().Str("group_id", groupID.String()).Str("worker_id", workerID.String()).Msg("collection completed")
	return nil
}

// planWithOptimizer asks the external optimizer for a visiting order from the
// worker that is currently nearest. Any failure is logged and ignored.
func (d *DispatchCoordinator) planWithOptimizer(
	ctx context.Context,
	group *domain.CollectionGroup,
	reports []*domain.Report,
) *plannedOrder {
	if d.optimizer == nil || len(reports) < 2 {
		return nil
	}

	workers, err := d.store.ListWorkers(ctx, domain.WorkerAvailable)
	if err != nil {
		d.log.Warn().Err(err).Msg("optimizer: list workers failed, using nearest-neighbor route")
		return nil
	}
	candidate := nearestWorker(workers, group.Centroid)
	if candidate == nil {
		return nil
	}

	stops := make([]domain.GeoPoint, 0, len(reports))
	for _, r := range reports {
		stops = append(stops, r.Location)
	}

	octx, cancel := context.WithTimeout(ctx, d.cfg.OptimizerTimeout)
	defer cancel()

	order, err := d.optimizer.Optimize(octx, *candidate.Location, stops)
	if err != nil {
		d.log.Warn().
			Err(err).
			Str("group_id", group.ID.String()).
			Msg("optimizer unavailable, using nearest-neighbor route")
		return nil
	}

	return &plannedOrder{
		workerID:  candidate.ID,
		reportIDs: slices.Clone(group.MemberReportIDs),
		order:     order,
	}
}

func (d *DispatchCoordinator) route(
	depot domain.GeoPoint,
	workerID uuid.UUID,
	memberIDs []uuid.UUID,
	reports []*domain.Report,
	plan *plannedOrder,
) []domain.RouteStop {
	stops := make([]domain.RouteStop, 0, len(reports))
	for _, r := range reports {
		stops = append(stops, domain.RouteStop{ReportID: r.ID, Location: r.Location})
	}

	if plan != nil && plan.workerID == workerID && slices.Equal(plan.reportIDs, memberIDs) {
		route, err := ApplyOrder(depot, stops, plan.order)
		if err == nil {
			return route
		}
		d.log.Warn().Err(err).Msg("optimizer returned an invalid order, using nearest-neighbor route")
	}

	return BuildRoute(depot, stops)
}

func (d *DispatchCoordinator) memberReports(ctx context.Context, r ports.Reader, ids []uuid.UUID) ([]*domain.Report, error) {
	out := make([]*domain.Report, 0, len(ids))
	for _, id := range ids {
		rep, err := r.GetReport(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load member report %s: %w", id, err)
		}
		out = append(out, rep)
	}
	return out, nil
}

// notify is best-effort: failures are logged and never undo the dispatch.
func (d *DispatchCoordinator) notify(ctx context.Context, task *domain.Task, reports []*domain.Report) {
	if d.notifier == nil {
		return
	}

	body := routeSummary(task)

	seen := make(map[uuid.UUID]struct{}, len(reports))
	for _, r := range reports {
		if _, ok := seen[r.ReporterID]; ok {
			continue
		}
		seen[r.ReporterID] = struct{}{}

		n := ports.Notification{
			Recipient: r.ReporterID.String(),
			Subject:   "Your waste pickup has been scheduled",
			Body:      "A worker is on the way.\n" + body,
		}
		if err := d.notifier.Send(ctx, n); err != nil {
			d.log.Warn().Err(err).Str("recipient", n.Recipient).Msg("notify reporter failed")
		}
	}

	n := ports.Notification{
		Recipient: task.WorkerID.String(),
		Subject:   "New collection task assigned",
		Body:      fmt.Sprintf("Task %s\n%s", task.ID, body),
	}
	if err := d.notifier.Send(ctx, n); err != nil {
		d.log.Warn().Err(err).Str("recipient", n.Recipient).Msg("notify worker failed")
	}
}

func routeSummary(task *domain.Task) string {
	var b strings.Builder
	b.WriteString("Route:\n")
	for i, s := range task.Route {
		if s.IsDepot() {
			fmt.Fprintf(&b, "%d. start %s\n", i, s.Location)
			continue
		}
		fmt.Fprintf(&b, "%d. %s (report %s)\n", i, s.Location, s.ReportID)
	}
	return b.String()
}

// nearestWorker picks the available worker closest to p. Workers without a
// known location are skipped; ties keep the earlier worker.
func nearestWorker(workers []*domain.Worker, p domain.GeoPoint) *domain.Worker {
	var best *domain.Worker
	bestDistance := math.Inf(1)

	for _, w := range workers {
		if w.Location == nil || w.Availability != domain.WorkerAvailable {
			continue
		}
		d := geo.DistanceKm(p, *w.Location)
		if d < bestDistance {
			bestDistance = d
			best = w
		}
	}

	return best
}
