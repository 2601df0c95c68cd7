package directory

import (
	"context"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

// Static is a NodeDirectory backed by the descriptors loaded from the config
// file. It hands out copies so callers cannot mutate the source of truth.
type Static struct {
	nodes []domain.NodeDescriptor
}

var _ ports.NodeDirectory = (*Static)(nil)

func NewStatic(nodes []domain.NodeDescriptor) *Static {
	return &Static{nodes: nodes}
}

func (d *Static) List(ctx context.Context) ([]domain.NodeDescriptor, error) {
	out := make([]domain.NodeDescriptor, len(d.nodes))
	copy(out, d.nodes)
	return out, nil
}
