package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/platform/obs"

	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://api.openrouteservice.org"

// ORSOptimizer implements RouteOptimizer with the OpenRouteService
// optimization endpoint (a single vehicle starting at the worker, one job
// per stop). It only reorders stops; callers keep their own fallback.
//
// The optimizer is safe for concurrent use.
type ORSOptimizer struct {
	session     *http.Client
	apiKey      string
	baseURL     string
	profile     string
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

type ORSOption func(*ORSOptimizer)

func WithBaseURL(u string) ORSOption {
	return func(o *ORSOptimizer) { o.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) ORSOption {
	return func(o *ORSOptimizer) { o.session = c }
}

func WithRetry(maxAttempts int, backoff time.Duration) ORSOption {
	return func(o *ORSOptimizer) {
		o.maxAttempts = maxAttempts
		o.backoff = backoff
	}
}

func NewORSOptimizer(apiKey string, log zerolog.Logger, opts ...ORSOption) (*ORSOptimizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("ORS api key is empty")
	}

	o := &ORSOptimizer{
		session:     &http.Client{Timeout: 10 * time.Second},
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		profile:     "driving-car",
		maxAttempts: 4,
		backoff:     200 * time.Millisecond,
		log:         log,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}

	return o, nil
}

type optimizationJob struct {
	ID       int       `json:"id"`
	Location []float64 `json:"location"`
}

type optimizationVehicle struct {
	ID      int       `json:"id"`
	Profile string    `json:"profile"`
	Start   []float64 `json:"start"`
}

type optimizationRequest struct {
	Jobs     []optimizationJob     `json:"jobs"`
	Vehicles []optimizationVehicle `json:"vehicles"`
}

type optimizationStep struct {
	Type string `json:"type"`
	ID   *int   `json:"id,omitempty"`
	Job  *int   `json:"job,omitempty"`
}

type optimizationResponse struct {
	Code       int `json:"code"`
	Unassigned []struct {
		ID int `json:"id"`
	} `json:"unassigned"`
	Routes []struct {
		Vehicle int                `json:"vehicle"`
		Steps   []optimizationStep `json:"steps"`
	} `json:"routes"`
}

// Optimize returns the visiting order of stops as indexes into stops.
func (o *ORSOptimizer) Optimize(ctx context.Context, start domain.GeoPoint, stops []domain.GeoPoint) (_ []int, err error) {
	defer obs.Time(ctx, o.log, "ors.Optimize")(&err)

	if len(stops) == 0 {
		return []int{}, nil
	}

	jobs := make([]optimizationJob, 0, len(stops))
	for i, s := range stops {
		jobs = append(jobs, optimizationJob{ID: i + 1, Location: s.CoordsToList()})
	}

	payload, err := json.Marshal(optimizationRequest{
		Jobs: jobs,
		Vehicles: []optimizationVehicle{
			{ID: 1, Profile: o.profile, Start: start.CoordsToList()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal optimization request: %w", err)
	}

	resp, err := o.postJSON(ctx, "/optimization", payload)
	if err != nil {
		return nil, fmt.Errorf("optimization request: %w", err)
	}
	defer resp.Body.Close()

	var or optimizationResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("%w: decode optimization response: %v", domain.ErrExternalService, err)
	}

	order, err := jobOrder(or, len(stops))
	if err != nil {
		return nil, fmt.Errorf("%w: optimization response: %v", domain.ErrExternalService, err)
	}
	return order, nil
}

// jobOrder extracts the job visiting order and checks it covers every stop
// exactly once.
func jobOrder(or optimizationResponse, n int) ([]int, error) {
	if or.Code != 0 {
		return nil, fmt.Errorf("solver returned code %d", or.Code)
	}
	if len(or.Unassigned) > 0 {
		return nil, fmt.Errorf("%d stops left unassigned", len(or.Unassigned))
	}
	if len(or.Routes) != 1 {
		return nil, fmt.Errorf("expected 1 route, got %d", len(or.Routes))
	}

	seen := make([]bool, n)
	order := make([]int, 0, n)
	for _, step := range or.Routes[0].Steps {
		if step.Type != "job" {
			continue
		}
		id := step.ID
		if id == nil {
			id = step.Job
		}
		if id == nil {
			return nil, errors.New("job step without id")
		}
		idx := *id - 1
		if idx < 0 || idx >= n || seen[idx] {
			return nil, fmt.Errorf("unexpected job id %d", *id)
		}
		seen[idx] = true
		order = append(order, idx)
	}

	if len(order) != n {
		return nil, fmt.Errorf("route visits %d of %d stops", len(order), n)
	}
	return order, nil
}
