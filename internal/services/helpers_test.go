package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"waas-dispatch-service/internal/adapters/repositories"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeClock is a settable time source shared by the engines under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []ports.Notification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Recipient)
	}
	return out
}

type fakeOptimizer struct {
	mu     sync.Mutex
	calls  int
	order  []int
	err    error
	block  bool
	starts []domain.GeoPoint
}

func (o *fakeOptimizer) Optimize(ctx context.Context, start domain.GeoPoint, stops []domain.GeoPoint) ([]int, error) {
	o.mu.Lock()
	o.calls++
	o.starts = append(o.starts, start)
	o.mu.Unlock()

	if o.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return o.order, o.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent map[uuid.UUID][]ports.ReportProgress
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{sent: make(map[uuid.UUID][]ports.ReportProgress)}
}

func (p *recordingPublisher) Publish(userID uuid.UUID, rp ports.ReportProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[userID] = append(p.sent[userID], rp)
}

func (p *recordingPublisher) count(userID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent[userID])
}

type fixture struct {
	store    *repositories.MemoryStore
	clock    *fakeClock
	grouping *GroupingEngine
}

func newFixture(t *testing.T, threshold int) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	clock := newFakeClock()
	grouping := NewGroupingEngine(store, GroupingConfig{
		RadiusKm:  DefaultProximityRadiusKm,
		Threshold: threshold,
		TimeLimit: DefaultGroupTimeLimit,
		Clock:     clock.Now,
	}, zerolog.Nop())
	return &fixture{store: store, clock: clock, grouping: grouping}
}

func (f *fixture) submit(t *testing.T, reporter uuid.UUID, loc domain.GeoPoint) *domain.Report {
	t.Helper()
	r, err := f.grouping.SubmitReport(context.Background(), SubmitReportInput{
		ReporterID: reporter,
		Location:   loc,
		WasteType:  "plastic",
	})
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	return r
}

func (f *fixture) addWorker(t *testing.T, loc *domain.GeoPoint) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := f.store.UpsertWorker(context.Background(), &domain.Worker{ID: id, Location: loc}); err != nil {
		t.Fatalf("UpsertWorker: %v", err)
	}
	return id
}

// scheduledGroup submits reports at locs (all within one radius) and sweeps
// them into a single Scheduled group.
func (f *fixture) scheduledGroup(t *testing.T, reporter uuid.UUID, locs ...domain.GeoPoint) *domain.CollectionGroup {
	t.Helper()
	var groupID uuid.UUID
	for _, loc := range locs {
		groupID = f.submit(t, reporter, loc).GroupID
	}
	f.clock.Advance(DefaultGroupTimeLimit)
	if _, err := f.grouping.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	g, err := f.store.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if g.Status != domain.GroupScheduled {
		t.Fatalf("group status = %s, want scheduled", g.Status)
	}
	return g
}

func pt(lat, lng float64) domain.GeoPoint { return domain.GeoPoint{Lat: lat, Lng: lng} }

func ptr(p domain.GeoPoint) *domain.GeoPoint { return &p }

func isErr(err, target error) bool { return errors.Is(err, target) }
