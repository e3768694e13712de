package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newDispatcher(f *fixture, opt *fakeOptimizer, n *recordingNotifier) *DispatchCoordinator {
	cfg := DispatchConfig{OptimizerTimeout: 50 * time.Millisecond, Clock: f.clock.Now}

	// Typed nils would make the interfaces non-nil.
	var optimizer ports.RouteOptimizer
	if opt != nil {
		optimizer = opt
	}
	var notifier ports.Notifier
	if n != nil {
		notifier = n
	}
	return NewDispatchCoordinator(f.store, optimizer, notifier, cfg, zerolog.Nop())
}

func TestDispatchAssignsNearestWorker(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()
	reporter := uuid.New()

	far := f.addWorker(t, ptr(pt(6.6, 3.3)))
	near := f.addWorker(t, ptr(pt(6.501, 3.3)))
	f.addWorker(t, nil)

	g := f.scheduledGroup(t, reporter, pt(6.5, 3.3), pt(6.5, 3.301))
	notifier := &recordingNotifier{}

	task, err := newDispatcher(f, nil, notifier).Dispatch(ctx, g.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if task.WorkerID != near {
		t.Fatalf("worker = %s, want nearest %s", task.WorkerID, near)
	}
	if task.Status != domain.TaskCollecting || task.Progress != 0 {
		t.Fatalf("task = %+v, want collecting at 0%%", task)
	}
	if len(task.Route) != 3 || !task.Route[0].IsDepot() || task.Route[0].Location != pt(6.501, 3.3) {
		t.Fatalf("route = %+v, want worker start plus 2 stops", task.Route)
	}

	stored, err := f.store.TaskByGroup(ctx, g.ID)
	if err != nil || stored.ID != task.ID {
		t.Fatalf("TaskByGroup = %v, %v", stored, err)
	}

	w, _ := f.store.GetWorker(ctx, near)
	if w.Availability != domain.WorkerCollecting {
		t.Fatalf("nearest worker = %s, want collecting", w.Availability)
	}
	w, _ = f.store.GetWorker(ctx, far)
	if w.Availability != domain.WorkerAvailable {
		t.Fatalf("far worker = %s, want available", w.Availability)
	}

	for _, id := range g.MemberReportIDs {
		r, _ := f.store.GetReport(ctx, id)
		if r.Status != domain.ReportAssigned {
			t.Fatalf("report %s = %s, want assigned", id, r.Status)
		}
	}

	got := notifier.recipients()
	want := []string{reporter.String(), near.String()}
	if !slices.Equal(got, want) {
		t.Fatalf("notified %v, want %v", got, want)
	}
}

func TestDispatchWithoutWorkers(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()

	f.addWorker(t, nil)
	g := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.3))

	_, err := newDispatcher(f, nil, nil).Dispatch(ctx, g.ID)
	if !errors.Is(err, domain.ErrNoWorkerAvailable) {
		t.Fatalf("err = %v, want ErrNoWorkerAvailable", err)
	}

	after, _ := f.store.GetGroup(ctx, g.ID)
	if after.Status != domain.GroupScheduled {
		t.Fatalf("group = %s, want scheduled", after.Status)
	}
	if _, err := f.store.TaskByGroup(ctx, g.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("TaskByGroup err = %v, want ErrNotFound", err)
	}
	r, _ := f.store.GetReport(ctx, g.MemberReportIDs[0])
	if r.Status != domain.ReportAwaitingApproval {
		t.Fatalf("report = %s, want awaiting_approval", r.Status)
	}
}

func TestDispatchRejectsGroupsNotScheduled(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()
	f.addWorker(t, ptr(pt(6.5, 3.3)))

	open := f.submit(t, uuid.New(), pt(6.5, 3.3))
	_, err := newDispatcher(f, nil, nil).Dispatch(ctx, open.GroupID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("open group: err = %v, want ErrConflict", err)
	}

	_, err = newDispatcher(f, nil, nil).Dispatch(ctx, uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown group: err = %v, want ErrNotFound", err)
	}
}

func TestDispatchConcurrentSameGroup(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.addWorker(t, ptr(pt(6.5+float64(i)*0.01, 3.3)))
	}
	g := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.3))
	d := newDispatcher(f, nil, nil)

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(ctx, g.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("Dispatch: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins = %d conflicts = %d, want 1 and %d", wins, conflicts, n-1)
	}

	busy, _ := f.store.ListWorkers(ctx, domain.WorkerCollecting)
	if len(busy) != 1 {
		t.Fatalf("collecting workers = %d, want 1", len(busy))
	}
}

func TestDispatchTwoGroupsOneWorker(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()

	f.addWorker(t, ptr(pt(6.5, 3.3)))
	g1 := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.3))
	g2 := f.scheduledGroup(t, uuid.New(), pt(6.6, 3.3))
	d := newDispatcher(f, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{g1.ID, g2.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = d.Dispatch(ctx, id)
		}()
	}
	wg.Wait()

	ok, none := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrNoWorkerAvailable):
			none++
		default:
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if ok != 1 || none != 1 {
		t.Fatalf("ok = %d none = %d, want one of each", ok, none)
	}
}

func TestDispatchUsesOptimizerOrder(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()

	worker := f.addWorker(t, ptr(pt(6.5, 3.29)))
	g := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.3), pt(6.5, 3.305))

	opt := &fakeOptimizer{order: []int{1, 0}}
	task, err := newDispatcher(f, opt, nil).Dispatch(ctx, g.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	want := []uuid.UUID{uuid.Nil, g.MemberReportIDs[1], g.MemberReportIDs[0]}
	if !slices.Equal(stopIDs(task.Route), want) {
		t.Fatalf("route = %v, want optimizer order %v", stopIDs(task.Route), want)
	}
	if opt.calls != 1 || opt.starts[0] != pt(6.5, 3.29) {
		t.Fatalf("optimizer calls = %d starts = %v, want one call from the worker", opt.calls, opt.starts)
	}
	if task.WorkerID != worker {
		t.Fatalf("worker = %s, want %s", task.WorkerID, worker)
	}
}

func TestDispatchFallsBackToNearestNeighbor(t *testing.T) {
	testCases := []struct {
		name string
		opt  *fakeOptimizer
	}{
		{name: "optimizer error", opt: &fakeOptimizer{err: errors.New("ors down")}},
		{name: "optimizer timeout", opt: &fakeOptimizer{block: true}},
		{name: "invalid order", opt: &fakeOptimizer{order: []int{0, 0}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, DefaultReportThreshold)
			f.addWorker(t, ptr(pt(6.5, 3.29)))
			g := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.305), pt(6.5, 3.3))

			start := time.Now()
			task, err := newDispatcher(f, tc.opt, nil).Dispatch(context.Background(), g.ID)
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Fatalf("dispatch took %v", elapsed)
			}

			// Nearest neighbor from lng 3.29 visits 3.3 before 3.305.
			want := []uuid.UUID{uuid.Nil, g.MemberReportIDs[1], g.MemberReportIDs[0]}
			if !slices.Equal(stopIDs(task.Route), want) {
				t.Fatalf("route = %v, want %v", stopIDs(task.Route), want)
			}
		})
	}
}

func TestDispatchSkipsOptimizerForSingleStop(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	f.addWorker(t, ptr(pt(6.5, 3.29)))
	g := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.3))

	opt := &fakeOptimizer{order: []int{0}}
	if _, err := newDispatcher(f, opt, nil).Dispatch(context.Background(), g.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if opt.calls != 0 {
		t.Fatalf("optimizer called %d times for one stop", opt.calls)
	}
}

func TestDispatchNotifierFailureKeepsTask(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()
	f.addWorker(t, ptr(pt(6.5, 3.3)))
	g := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.3))

	notifier := &recordingNotifier{err: errors.New("smtp down")}
	task, err := newDispatcher(f, nil, notifier).Dispatch(ctx, g.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(notifier.recipients()) != 2 {
		t.Fatalf("notifications attempted = %d, want 2", len(notifier.recipients()))
	}
	if _, err := f.store.GetTask(ctx, task.ID); err != nil {
		t.Fatalf("GetTask: %v", err)
	}
}

func TestCompleteCollection(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	ctx := context.Background()
	worker := f.addWorker(t, ptr(pt(6.5, 3.3)))
	g := f.scheduledGroup(t, uuid.New(), pt(6.5, 3.3), pt(6.5, 3.301))
	d := newDispatcher(f, nil, nil)

	task, err := d.Dispatch(ctx, g.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if err := d.CompleteCollection(ctx, g.ID, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("wrong worker: err = %v, want ErrNotFound", err)
	}

	if err := d.CompleteCollection(ctx, g.ID, worker); err != nil {
		t.Fatalf("CompleteCollection: %v", err)
	}

	after, _ := f.store.GetGroup(ctx, g.ID)
	if after.Status != domain.GroupCollected {
		t.Fatalf("group = %s, want collected", after.Status)
	}
	done, _ := f.store.GetTask(ctx, task.ID)
	if done.Status != domain.TaskNotCollecting || done.Progress != 100 || done.EndTime == nil {
		t.Fatalf("task = %+v, want finished at 100%%", done)
	}
	w, _ := f.store.GetWorker(ctx, worker)
	if w.Availability != domain.WorkerAvailable {
		t.Fatalf("worker = %s, want available", w.Availability)
	}
	for _, id := range g.MemberReportIDs {
		r, _ := f.store.GetReport(ctx, id)
		if r.Status != domain.ReportCollected {
			t.Fatalf("report %s = %s, want collected", id, r.Status)
		}
	}

	if err := d.CompleteCollection(ctx, g.ID, worker); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second completion: err = %v, want ErrNotFound", err)
	}
}
