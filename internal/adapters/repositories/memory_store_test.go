package repositories

import (
	"context"
	"errors"
	"testing"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
)

func seedGroup(t *testing.T, s *MemoryStore, status domain.GroupStatus, cell string) *domain.CollectionGroup {
	t.Helper()
	g := &domain.CollectionGroup{
		ID:        uuid.New(),
		Centroid:  domain.GeoPoint{Lat: 1, Lng: 1},
		CellToken: cell,
		Status:    status,
		CreatedAt: time.Now(),
	}
	err := s.InTx(context.Background(), func(tx ports.Tx) error {
		return tx.CreateGroup(context.Background(), g)
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return g
}

func TestMemoryStoreInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	g := seedGroup(t, s, domain.GroupOpen, "a")

	report := &domain.Report{ID: uuid.New(), ReporterID: uuid.New(), Status: domain.ReportPending}
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx ports.Tx) error {
		if err := tx.CreateReport(ctx, report); err != nil {
			return err
		}
		if ok, err := tx.AppendReport(ctx, g.ID, report.ID); err != nil || !ok {
			t.Fatalf("append report: ok=%v err=%v", ok, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}

	if _, err := s.GetReport(ctx, report.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("report survived rollback: err=%v", err)
	}
	got, err := s.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got.ReportCount != 0 || len(got.MemberReportIDs) != 0 {
		t.Fatalf("group changed by rolled back tx: count=%d members=%v", got.ReportCount, got.MemberReportIDs)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	g := seedGroup(t, s, domain.GroupOpen, "a")

	got, _ := s.GetGroup(ctx, g.ID)
	got.Status = domain.GroupCollected
	got.MemberReportIDs = append(got.MemberReportIDs, uuid.New())

	again, _ := s.GetGroup(ctx, g.ID)
	if again.Status != domain.GroupOpen || len(again.MemberReportIDs) != 0 {
		t.Fatalf("caller mutation leaked into store: %+v", again)
	}
}

func TestMemoryStoreListOpenGroupsFiltersByCell(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := seedGroup(t, s, domain.GroupOpen, "a")
	seedGroup(t, s, domain.GroupOpen, "b")
	seedGroup(t, s, domain.GroupScheduled, "a")

	_ = s.InTx(ctx, func(tx ports.Tx) error {
		groups, err := tx.ListOpenGroups(ctx, []string{"a"})
		if err != nil {
			t.Fatalf("list open groups: %v", err)
		}
		if len(groups) != 1 || groups[0].ID != a.ID {
			t.Fatalf("expected only group %s, got %d groups", a.ID, len(groups))
		}

		all, _ := tx.ListOpenGroups(ctx, nil)
		if len(all) != 2 {
			t.Fatalf("nil cells: expected 2 open groups, got %d", len(all))
		}
		return nil
	})
}

func TestMemoryStoreTransitionGroupIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	g := seedGroup(t, s, domain.GroupOpen, "a")
	at := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	_ = s.InTx(ctx, func(tx ports.Tx) error {
		ok, err := tx.TransitionGroup(ctx, g.ID, domain.GroupOpen, domain.GroupScheduled, at)
		if err != nil || !ok {
			t.Fatalf("first transition: ok=%v err=%v", ok, err)
		}
		ok, err = tx.TransitionGroup(ctx, g.ID, domain.GroupOpen, domain.GroupScheduled, at)
		if err != nil || ok {
			t.Fatalf("second transition: ok=%v err=%v, want false", ok, err)
		}
		return nil
	})

	got, _ := s.GetGroup(ctx, g.ID)
	if got.Status != domain.GroupScheduled || got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
		t.Fatalf("unexpected group after transition: %+v", got)
	}
}

func TestMemoryStoreOneTaskPerGroup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	g := seedGroup(t, s, domain.GroupScheduled, "a")

	create := func() error {
		return s.InTx(ctx, func(tx ports.Tx) error {
			return tx.CreateTask(ctx, &domain.Task{
				ID:       uuid.New(),
				GroupID:  g.ID,
				WorkerID: uuid.New(),
				Status:   domain.TaskCollecting,
			})
		})
	}

	if err := create(); err != nil {
		t.Fatalf("first task: %v", err)
	}
	if err := create(); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second task err = %v, want ErrConflict", err)
	}
}

func TestMemoryStoreClaimWorker(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	w := &domain.Worker{ID: uuid.New(), Location: &domain.GeoPoint{Lat: 1, Lng: 1}}
	if err := s.UpsertWorker(ctx, w); err != nil {
		t.Fatalf("upsert worker: %v", err)
	}

	claims := 0
	for i := 0; i < 2; i++ {
		_ = s.InTx(ctx, func(tx ports.Tx) error {
			ok, err := tx.ClaimWorker(ctx, w.ID)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if ok {
				claims++
			}
			return nil
		})
	}
	if claims != 1 {
		t.Fatalf("claims = %d, want 1", claims)
	}

	got, _ := s.GetWorker(ctx, w.ID)
	if got.Availability != domain.WorkerCollecting {
		t.Fatalf("availability = %s, want collecting", got.Availability)
	}
}

func TestMemoryStoreUpdateTaskProgressUnknownTask(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateTaskProgress(context.Background(), uuid.New(), 50)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateTaskProgressFinishedTask(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := &domain.Task{ID: uuid.New(), GroupID: uuid.New(), WorkerID: uuid.New(), Status: domain.TaskCollecting}

	err := s.InTx(ctx, func(tx ports.Tx) error {
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		return tx.FinishTask(ctx, task.ID, time.Now())
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := s.UpdateTaskProgress(ctx, task.ID, 40); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Progress != 100 {
		t.Fatalf("progress = %v, want 100 kept from completion", got.Progress)
	}
}
