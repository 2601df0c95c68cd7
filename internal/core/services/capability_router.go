package services

import (
	"context"
	"log/slog"

	"github.com/bkowalski/fleetcore/internal/core/domain"
)

// CapabilityRouter picks the best node for a requested capability. It works
// off the statically configured capability→node-id table, not off each
// node's own catalog; the catalog only contributes the per-capability
// priority used to rank online candidates. It centralizes placement so
// callers don't need to know which machine handles what.
type CapabilityRouter struct {
	logger   *slog.Logger
	registry *ClusterNodeRegistry
	catalog  domain.CapabilityCatalog
	table    map[string][]string
	waker    nodeWaker
	executor *NodeExecutor
}

func NewCapabilityRouter(logger *slog.Logger, registry *ClusterNodeRegistry, catalog domain.CapabilityCatalog, table map[string][]string, waker nodeWaker, executor *NodeExecutor) *CapabilityRouter {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	if table == nil {
		table = map[string][]string{}
	}
	return &CapabilityRouter{
		logger:   logger,
		registry: registry,
		catalog:  catalog,
		table:    table,
		waker:    waker,
		executor: executor,
	}
}

// RouteJobToNode resolves the capability to a node. Online nodes win, ranked
// by their declared per-capability priority with ties broken by table order.
// When nothing is online, the first sleeping WoL-capable candidate in table
// order is returned instead. ok is false when nothing qualifies — that is a
// clean no-capacity outcome, not an error.
func (r *CapabilityRouter) RouteJobToNode(capability string) (domain.ClusterNode, bool) {
	ids, ok := r.table[capability]
	if !ok || len(ids) == 0 {
		return domain.ClusterNode{}, false
	}

	var (
		best     domain.ClusterNode
		bestPrio = -1
		haveBest bool
	)
	var sleeping *domain.ClusterNode

	for _, id := range ids {
		node, err := r.registry.GetNode(domain.NodeID(id))
		if err != nil {
			continue
		}
		switch node.Status {
		case domain.NodeStatusOnline:
			prio := r.catalog.PriorityFor(node.Type, capability)
			// strict > keeps table order as the tiebreak
			if prio > bestPrio {
				best = node
				bestPrio = prio
				haveBest = true
			}
		case domain.NodeStatusSleeping:
			if sleeping == nil && node.SupportsWol {
				n := node
				sleeping = &n
			}
		}
	}

	if haveBest {
		return best, true
	}
	if sleeping != nil {
		r.logger.Info("no online node for capability, falling back to sleeping candidate",
			"capability", capability, "node_id", sleeping.ID)
		return *sleeping, true
	}
	return domain.ClusterNode{}, false
}

// RouteAndExecute routes the capability, wakes the chosen node when it is
// sleeping (unless told not to) and executes the action on it.
func (r *CapabilityRouter) RouteAndExecute(ctx context.Context, capability string, action domain.NodeAction, params map[string]any, wakeIfSleeping bool) domain.ExecResult {
	node, ok := r.RouteJobToNode(capability)
	if !ok {
		return domain.Failure("no node available for capability "+capability, 0)
	}

	if node.Status == domain.NodeStatusSleeping {
		if !wakeIfSleeping {
			return domain.Failure("node "+string(node.ID)+" is sleeping and waking is disabled", 0)
		}
		if err := r.waker.WakeNode(ctx, node.ID); err != nil {
			return domain.Failure("wake "+string(node.ID)+": "+err.Error(), 0)
		}
	}

	return r.executor.ExecuteOnNode(ctx, node.ID, action, params)
}

// Routes returns a copy of the capability table.
func (r *CapabilityRouter) Routes() map[string][]string {
	out := make(map[string][]string, len(r.table))
	for capability, ids := range r.table {
		out[capability] = append([]string(nil), ids...)
	}
	return out
}
