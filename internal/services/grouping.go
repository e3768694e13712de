package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/geo"
	"waas-dispatch-service/internal/platform/obs"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultProximityRadiusKm = 1.0
	DefaultReportThreshold   = 10
	DefaultGroupTimeLimit    = 72 * time.Hour
)

type GroupingConfig struct {
	RadiusKm  float64
	Threshold int
	TimeLimit time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// GroupingEngine clusters reports into collection groups and decides when a
// group is ready to be dispatched.
type GroupingEngine struct {
	store ports.Store
	cfg   GroupingConfig
	log   zerolog.Logger
}

func NewGroupingEngine(store ports.Store, cfg GroupingConfig, log zerolog.Logger) *GroupingEngine {
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = DefaultProximityRadiusKm
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultReportThreshold
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = DefaultGroupTimeLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &GroupingEngine{store: store, cfg: cfg, log: log}
}

type SubmitReportInput struct {
	ReporterID uuid.UUID
	Location   domain.GeoPoint
	WasteType  string
	ImageURL   string
}

// SubmitReport stores a new report and attaches it to the first Open group
// whose centroid lies within the proximity radius, or to a new group.
//
// Matching is first-fit in group creation order, not nearest-fit: a report
// between two groups joins the older one.
func (e *GroupingEngine) SubmitReport(ctx context.Context, in SubmitReportInput) (_ *domain.Report, err error) {
	defer obs.Time(ctx, e.log, "grouping.SubmitReport")(&err)

	if in.ReporterID == uuid.Nil {
		return nil, fmt.Errorf("submit report: %w: reporter id is required", domain.ErrValidation)
	}
	if err := in.Location.Validate(); err != nil {
		return nil, fmt.Errorf("submit report: %w", err)
	}
	wasteType := strings.TrimSpace(in.WasteType)
	if wasteType == "" {
		return nil, fmt.Errorf("submit report: %w: waste type is required", domain.ErrValidation)
	}

	now := e.cfg.Clock()
	report := &domain.Report{
		ID:         uuid.New(),
		ReporterID: in.ReporterID,
		Location:   in.Location,
		WasteType:  wasteType,
		ImageURL:   strings.TrimSpace(in.ImageURL),
		Status:     domain.ReportPending,
		CreatedAt:  now,
	}

	err = e.store.InTx(ctx, func(tx ports.Tx) error {
		report.GroupID = uuid.Nil

		candidates, err := tx.ListOpenGroups(ctx, geo.CoveringTokens(in.Location, e.cfg.RadiusKm))
		if err != nil {
			return fmt.Errorf("list open groups: %w", err)
		}

		var target *domain.CollectionGroup
		for _, g := range candidates {
			if geo.DistanceKm(g.Centroid, in.Location) <= e.cfg.RadiusKm {
				target = g
				break
			}
		}

		if target == nil {
			target = &domain.CollectionGroup{
				ID:        uuid.New(),
				Centroid:  in.Location,
				CellToken: geo.CellToken(in.Location),
				Status:    domain.GroupOpen,
				CreatedAt: now,
			}
			if err := tx.CreateGroup(ctx, target); err != nil {
				return fmt.Errorf("create group: %w", err)
			}
		}

		report.GroupID = target.ID
		if err := tx.CreateReport(ctx, report); err != nil {
			return fmt.Errorf("create report: %w", err)
		}

		ok, err := tx.AppendReport(ctx, target.ID, report.ID)
		if err != nil {
			return fmt.Errorf("append report to group %s: %w", target.ID, err)
		}
		if !ok {
			// Candidates are locked, so this only happens if a store does not
			// honor ListOpenGroups locking.
			return fmt.Errorf("append report to group %s: %w: group is no longer open", target.ID, domain.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit report: %w", err)
	}

	e.log.Info().
		Str("report_id", report.ID.String()).
		Str("group_id", report.GroupID.String()).
		Msg("report grouped")

	return report, nil
}

// CheckMaturity reports whether an Open group should be scheduled now.
func (e *GroupingEngine) CheckMaturity(g *domain.CollectionGroup) bool {
	if g.Status != domain.GroupOpen {
		return false
	}
	return g.IsMature(e.cfg.Clock(), e.cfg.Threshold, e.cfg.TimeLimit)
}

// Sweep schedules every mature Open group and returns the ids it scheduled.
//
// Each transition is a compare-and-set inside its own transaction, so two
// concurrent sweeps never both schedule the same group. Reports that arrive
// while a sweep runs are picked up on the next one.
func (e *GroupingEngine) Sweep(ctx context.Context) (_ []uuid.UUID, err error) {
	defer obs.Time(ctx, e.log, "grouping.Sweep")(&err)

	open, err := e.store.ListGroups(ctx, domain.GroupOpen)
	if err != nil {
		return nil, fmt.Errorf("sweep: list open groups: %w", err)
	}

	scheduled := make([]uuid.UUID, 0)
	for _, g := range open {
		if !e.CheckMaturity(g) {
			continue
		}

		ok, err := e.schedule(ctx, g.ID)
		if err != nil {
			return scheduled, fmt.Errorf("sweep: schedule group %s: %w", g.ID, err)
		}
		if ok {
			scheduled = append(scheduled, g.ID)
		}
	}

	return scheduled, nil
}

func (e *GroupingEngine) schedule(ctx context.Context, groupID uuid.UUID) (bool, error) {
	won := false
	err := e.store.InTx(ctx, func(tx ports.Tx) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}

		ok, err := tx.TransitionGroup(ctx, groupID, domain.GroupOpen, domain.GroupScheduled, e.cfg.Clock())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := tx.SetReportStatus(ctx, g.MemberReportIDs, domain.ReportAwaitingApproval); err != nil {
			return fmt.Errorf("mark reports awaiting approval: %w", err)
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if won {
		e.log.Info().Str("group_id", groupID.String()).Msg("group scheduled")
	}
	return won, nil
}
