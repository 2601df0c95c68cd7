package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// AIResourceSelector routes inference work across capability-tagged AI
// backends, the same way the capability router places node work. Resources
// mutate in place; the selector is their only writer.
type AIResourceSelector struct {
	logger *slog.Logger
	prober ports.AIProber

	mu        sync.Mutex
	resources []*domain.AIResource
}

func NewAIResourceSelector(logger *slog.Logger, prober ports.AIProber, resources []domain.AIResource) *AIResourceSelector {
	rs := make([]*domain.AIResource, len(resources))
	for i := range resources {
		r := resources[i]
		rs[i] = &r
	}
	return &AIResourceSelector{logger: logger, prober: prober, resources: rs}
}

// SelectBestResource picks an available resource for the capability. With
// preferLocal, any local resource outranks every cloud one regardless of
// declared priority; within the same locality priority decides.
func (s *AIResourceSelector) SelectBestResource(capability string, preferLocal bool) (domain.AIResource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.AIResource
	for _, r := range s.resources {
		if r.Status == domain.AIResourceAvailable && r.HasCapability(capability) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return domain.AIResource{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if preferLocal {
			li := candidates[i].Type == domain.AIResourceLocal
			lj := candidates[j].Type == domain.AIResourceLocal
			if li != lj {
				return li
			}
		}
		return candidates[i].Priority > candidates[j].Priority
	})
	return *candidates[0], true
}

// GetResources returns snapshots of all resources.
func (s *AIResourceSelector) GetResources() []domain.AIResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AIResource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, *r)
	}
	return out
}

// RefreshResourceStatus re-probes every provider and updates status and
// latency in place. Probe failures are isolated per resource: an offline
// provider is a status, not an abort.
func (s *AIResourceSelector) RefreshResourceStatus(ctx context.Context) error {
	s.mu.Lock()
	targets := append([]*domain.AIResource(nil), s.resources...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, res := range targets {
		res := res
		g.Go(func() error {
			status, latency, err := s.prober.Probe(ctx, res)

			s.mu.Lock()
			defer s.mu.Unlock()
			res.Status = status
			if latency > 0 {
				res.LatencyMs = latency.Milliseconds()
			}
			if err != nil {
				s.logger.Debug("ai resource probe failed", "provider", res.Provider, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CheckAllAIServices refreshes everything and returns a provider→status map.
func (s *AIResourceSelector) CheckAllAIServices(ctx context.Context) map[string]domain.AIResourceStatus {
	if err := s.RefreshResourceStatus(ctx); err != nil {
		s.logger.Error("ai service check failed", "error", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.AIResourceStatus, len(s.resources))
	for _, r := range s.resources {
		out[r.Provider] = r.Status
	}
	return out
}
