package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type trackingFixture struct {
	*fixture
	tracking  *TrackingService
	publisher *recordingPublisher
	dispatch  *DispatchCoordinator
	reporter  uuid.UUID
	worker    uuid.UUID
	group     *domain.CollectionGroup
	task      *domain.Task
}

// newTrackingFixture dispatches one group of two reports east of the worker:
// start at lng 3.29, stops at 3.3 and 3.305.
func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()
	f := newFixture(t, DefaultReportThreshold)
	reporter := uuid.New()
	worker := f.addWorker(t, ptr(pt(6.5, 3.29)))
	g := f.scheduledGroup(t, reporter, pt(6.5, 3.3), pt(6.5, 3.305))

	d := newDispatcher(f, nil, nil)
	task, err := d.Dispatch(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	pub := newRecordingPublisher()
	return &trackingFixture{
		fixture:   f,
		tracking:  NewTrackingService(f.store, NewProgressTracker(DefaultSpeedKmh), pub, zerolog.Nop()),
		publisher: pub,
		dispatch:  d,
		reporter:  reporter,
		worker:    worker,
		group:     g,
		task:      task,
	}
}

func TestUpdateWorkerLocationComputesProgress(t *testing.T) {
	tf := newTrackingFixture(t)
	ctx := context.Background()

	out, err := tf.tracking.UpdateWorkerLocation(ctx, tf.worker, pt(6.5, 3.3))
	if err != nil {
		t.Fatalf("UpdateWorkerLocation: %v", err)
	}
	if len(out) != 1 || out[0].TaskID != tf.task.ID {
		t.Fatalf("progress = %+v, want one entry for task %s", out, tf.task.ID)
	}
	if math.Abs(out[0].Progress-200.0/3) > 0.1 {
		t.Fatalf("progress = %.3f, want ~66.67", out[0].Progress)
	}
	if out[0].ETA.Kind != domain.ETAMinutes {
		t.Fatalf("eta = %s, want minutes", out[0].ETA)
	}

	stored, _ := tf.store.GetTask(ctx, tf.task.ID)
	if stored.Progress != out[0].Progress {
		t.Fatalf("stored progress = %v, want %v", stored.Progress, out[0].Progress)
	}
	w, _ := tf.store.GetWorker(ctx, tf.worker)
	if w.Location == nil || *w.Location != pt(6.5, 3.3) {
		t.Fatalf("worker location = %v, want 6.5,3.3", w.Location)
	}

	if got := tf.publisher.count(tf.reporter); got != 2 {
		t.Fatalf("published %d updates, want one per report", got)
	}
	msg := tf.publisher.sent[tf.reporter][0]
	if msg.WorkerLocation == nil || *msg.WorkerLocation != pt(6.5, 3.3) {
		t.Fatalf("published location = %v", msg.WorkerLocation)
	}
}

func TestUpdateWorkerLocationErrors(t *testing.T) {
	tf := newTrackingFixture(t)
	ctx := context.Background()

	if _, err := tf.tracking.UpdateWorkerLocation(ctx, tf.worker, pt(100, 0)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad location: err = %v, want ErrValidation", err)
	}
	if _, err := tf.tracking.UpdateWorkerLocation(ctx, uuid.New(), pt(1, 1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown worker: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateWorkerLocationWithoutTasks(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	worker := f.addWorker(t, nil)
	tracking := NewTrackingService(f.store, NewProgressTracker(0), nil, zerolog.Nop())

	out, err := tracking.UpdateWorkerLocation(context.Background(), worker, pt(1, 1))
	if err != nil {
		t.Fatalf("UpdateWorkerLocation: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("progress = %+v, want none", out)
	}
}

func TestFetchProgress(t *testing.T) {
	tf := newTrackingFixture(t)
	ctx := context.Background()

	if _, err := tf.tracking.UpdateWorkerLocation(ctx, tf.worker, pt(6.5, 3.3)); err != nil {
		t.Fatalf("UpdateWorkerLocation: %v", err)
	}

	other := uuid.New()
	pending := tf.submit(t, other, pt(7, 3))

	progress, err := tf.tracking.FetchProgress(ctx, tf.reporter)
	if err != nil {
		t.Fatalf("FetchProgress: %v", err)
	}
	if len(progress) != 2 {
		t.Fatalf("entries = %d, want 2", len(progress))
	}
	for _, rp := range progress {
		if rp.Status != domain.ReportAssigned {
			t.Fatalf("status = %s, want assigned", rp.Status)
		}
		if math.Abs(rp.Progress-200.0/3) > 0.1 || rp.ETA.Kind != domain.ETAMinutes {
			t.Fatalf("progress = %.2f eta = %s", rp.Progress, rp.ETA)
		}
		if rp.WorkerLocation == nil {
			t.Fatal("worker location missing")
		}
	}

	progress, err = tf.tracking.FetchProgress(ctx, other)
	if err != nil {
		t.Fatalf("FetchProgress: %v", err)
	}
	if len(progress) != 1 || progress[0].ReportID != pending.ID {
		t.Fatalf("progress = %+v, want the pending report", progress)
	}
	if progress[0].Progress != 0 || progress[0].ETA.Kind != domain.ETAUnknown || progress[0].WorkerLocation != nil {
		t.Fatalf("pending report progress = %+v", progress[0])
	}

	progress, err = tf.tracking.FetchProgress(ctx, uuid.New())
	if err != nil || progress == nil || len(progress) != 0 {
		t.Fatalf("unknown user: %v, %v; want empty list", progress, err)
	}

	if _, err := tf.tracking.FetchProgress(ctx, uuid.Nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("nil user: err = %v, want ErrValidation", err)
	}
}

func TestFetchProgressAfterCompletion(t *testing.T) {
	tf := newTrackingFixture(t)
	ctx := context.Background()

	if err := tf.dispatch.CompleteCollection(ctx, tf.group.ID, tf.worker); err != nil {
		t.Fatalf("CompleteCollection: %v", err)
	}

	progress, err := tf.tracking.FetchProgress(ctx, tf.reporter)
	if err != nil {
		t.Fatalf("FetchProgress: %v", err)
	}
	for _, rp := range progress {
		if rp.Status != domain.ReportCollected || rp.Progress != 100 || rp.ETA.Kind != domain.ETAUnknown {
			t.Fatalf("progress = %+v, want collected at 100 with no eta", rp)
		}
	}

	out, err := tf.tracking.UpdateWorkerLocation(ctx, tf.worker, pt(6.5, 3.305))
	if err != nil || len(out) != 0 {
		t.Fatalf("ping after completion = %+v, %v; want no tasks", out, err)
	}
}

func TestUpdateWorkerLocationConcurrent(t *testing.T) {
	tf := newTrackingFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lng := 3.29 + float64(i%15)*0.001
			if _, err := tf.tracking.UpdateWorkerLocation(ctx, tf.worker, pt(6.5, lng)); err != nil {
				t.Errorf("UpdateWorkerLocation: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, _ := tf.store.GetTask(ctx, tf.task.ID)
	if stored.Progress < 0 || stored.Progress > 100 {
		t.Fatalf("progress = %v, out of range", stored.Progress)
	}
}

// completingStore finishes the collection right after the worker's active
// tasks are read, before their progress is written.
type completingStore struct {
	ports.Store
	complete func()
	once     sync.Once
}

func (s *completingStore) ListActiveTasksByWorker(ctx context.Context, workerID uuid.UUID) ([]*domain.Task, error) {
	tasks, err := s.Store.ListActiveTasksByWorker(ctx, workerID)
	s.once.Do(s.complete)
	return tasks, err
}

func TestUpdateWorkerLocationSkipsTaskCompletedMidPing(t *testing.T) {
	tf := newTrackingFixture(t)
	ctx := context.Background()

	store := &completingStore{Store: tf.store}
	store.complete = func() {
		if err := tf.dispatch.CompleteCollection(ctx, tf.group.ID, tf.worker); err != nil {
			t.Errorf("CompleteCollection: %v", err)
		}
	}
	tracking := NewTrackingService(store, NewProgressTracker(DefaultSpeedKmh), tf.publisher, zerolog.Nop())

	out, err := tracking.UpdateWorkerLocation(ctx, tf.worker, pt(6.5, 3.3))
	if err != nil {
		t.Fatalf("UpdateWorkerLocation: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("progress = %+v, want the finished task skipped", out)
	}

	task, _ := tf.store.GetTask(ctx, tf.task.ID)
	if task.Status != domain.TaskNotCollecting || task.Progress != 100 {
		t.Fatalf("task = %s at %v%%, want not_collecting at 100%%", task.Status, task.Progress)
	}
	w, _ := tf.store.GetWorker(ctx, tf.worker)
	if w.Location == nil || *w.Location != pt(6.5, 3.3) {
		t.Fatalf("worker location = %v, want the ping saved", w.Location)
	}
	if got := tf.publisher.count(tf.reporter); got != 0 {
		t.Fatalf("published %d updates for a finished task", got)
	}
}

func TestUpdateWorkerLocationUnknownWorkerLeavesNoLock(t *testing.T) {
	f := newFixture(t, DefaultReportThreshold)
	tracking := NewTrackingService(f.store, NewProgressTracker(0), nil, zerolog.Nop())

	for i := 0; i < 10; i++ {
		_, err := tracking.UpdateWorkerLocation(context.Background(), uuid.New(), pt(1, 1))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}

	locks := 0
	tracking.workerLocks.Range(func(_, _ any) bool {
		locks++
		return true
	})
	if locks != 0 {
		t.Fatalf("worker locks = %d, want none for unknown workers", locks)
	}
}
