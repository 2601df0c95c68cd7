package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 5 * time.Second

// ClusterNodeRegistry builds node records from the external directory and
// keeps their liveness current. Node records are created once at
// registration; afterwards only status, latency and last-seen mutate, and
// the registry is the only writer.
type ClusterNodeRegistry struct {
	logger    *slog.Logger
	directory ports.NodeDirectory
	prober    ports.Prober
	catalog   domain.CapabilityCatalog
	table     map[string][]string

	mu    sync.Mutex
	nodes map[domain.NodeID]*domain.ClusterNode
	order []domain.NodeID
}

func NewClusterNodeRegistry(logger *slog.Logger, dir ports.NodeDirectory, prober ports.Prober, catalog domain.CapabilityCatalog, table map[string][]string) *ClusterNodeRegistry {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	return &ClusterNodeRegistry{
		logger:    logger,
		directory: dir,
		prober:    prober,
		catalog:   catalog,
		table:     table,
		nodes:     make(map[domain.NodeID]*domain.ClusterNode),
	}
}

// RegisterNodes pulls descriptors from the directory, attaches the static
// per-type capability list and performs an initial liveness refresh.
func (r *ClusterNodeRegistry) RegisterNodes(ctx context.Context) error {
	descriptors, err := r.directory.List(ctx)
	if err != nil {
		return fmt.Errorf("list node directory: %w", err)
	}

	r.mu.Lock()
	for _, desc := range descriptors {
		id := domain.NodeID(desc.ID)
		if _, exists := r.nodes[id]; exists {
			continue
		}
		nodeType := domain.NodeType(desc.Type)
		node := &domain.ClusterNode{
			ID:           id,
			Name:         desc.Name,
			Type:         nodeType,
			Status:       domain.NodeStatusUnknown,
			Host:         desc.Host,
			Port:         desc.Port,
			Capabilities: r.catalog.CapabilitiesFor(nodeType),
			SupportsWol:  desc.SupportsWol,
			Config:       desc,
		}
		r.nodes[id] = node
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	r.warnOnDivergence()
	r.logger.Info("nodes registered", "count", len(descriptors))
	return r.RefreshNodeStatus(ctx)
}

// warnOnDivergence flags capability table entries that a node's own catalog
// does not back, and catalog capabilities the table never routes. The table
// stays authoritative for routing either way.
func (r *ClusterNodeRegistry) warnOnDivergence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for capability, ids := range r.table {
		for _, id := range ids {
			node, ok := r.nodes[domain.NodeID(id)]
			if !ok {
				continue
			}
			if r.catalog.PriorityFor(node.Type, capability) == 0 {
				r.logger.Warn("capability table entry not in node catalog",
					"capability", capability, "node_id", id, "node_type", node.Type)
			}
		}
	}
}

// RefreshNodeStatus probes every node concurrently with a short timeout and
// updates status, latency and last-seen in place. One unreachable node never
// aborts the whole refresh; probes fail per target.
func (r *ClusterNodeRegistry) RefreshNodeStatus(ctx context.Context) error {
	r.mu.Lock()
	targets := make([]*domain.ClusterNode, 0, len(r.nodes))
	for _, id := range r.order {
		targets = append(targets, r.nodes[id])
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, node := range targets {
		node := node
		g.Go(func() error {
			latency, err := r.prober.Probe(ctx, node.Addr(), probeTimeout)
			now := time.Now()

			r.mu.Lock()
			defer r.mu.Unlock()
			if err != nil {
				if node.SupportsWol {
					node.Status = domain.NodeStatusSleeping
				} else {
					node.Status = domain.NodeStatusOffline
				}
				return nil
			}
			node.Status = domain.NodeStatusOnline
			node.LatencyMs = latency.Milliseconds()
			node.LastSeen = &now
			return nil
		})
	}
	return g.Wait()
}

// MarkOnline records an externally observed wake: the node answered its
// reachability poll, so it is online with the measured latency.
func (r *ClusterNodeRegistry) MarkOnline(id domain.NodeID, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[id]
	if !ok {
		return
	}
	now := time.Now()
	node.Status = domain.NodeStatusOnline
	node.LatencyMs = latency.Milliseconds()
	node.LastSeen = &now
}

// GetNode returns a snapshot of the node.
func (r *ClusterNodeRegistry) GetNode(id domain.NodeID) (domain.ClusterNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[id]
	if !ok {
		return domain.ClusterNode{}, domain.ErrNodeNotFound
	}
	return *node, nil
}

// GetNodes returns snapshots of all nodes in registration order.
func (r *ClusterNodeRegistry) GetNodes() []domain.ClusterNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ClusterNode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.nodes[id])
	}
	return out
}

// GetNodesByCapability returns nodes whose own catalog advertises the
// capability, regardless of routing table membership.
func (r *ClusterNodeRegistry) GetNodesByCapability(capability string) []domain.ClusterNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ClusterNode
	for _, id := range r.order {
		node := r.nodes[id]
		for _, c := range node.Capabilities {
			if c == capability {
				out = append(out, *node)
				break
			}
		}
	}
	return out
}

// ClusterStatus summarizes the fleet by node status.
func (r *ClusterNodeRegistry) ClusterStatus() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := map[string]int{"total": len(r.nodes)}
	for _, node := range r.nodes {
		stats[string(node.Status)]++
	}
	return stats
}
