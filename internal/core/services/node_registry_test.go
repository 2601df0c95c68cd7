package services

import (
	"context"
	"testing"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptors() []domain.NodeDescriptor {
	return []domain.NodeDescriptor{
		{ID: "atlas", Name: "Atlas", Type: "linux", Host: "10.0.0.10", Port: 22, User: "deploy"},
		{ID: "boreas", Name: "Boreas", Type: "windows", Host: "10.0.0.11", Port: 8085, SupportsWol: true, MacAddress: "aa:bb:cc:dd:ee:ff"},
		{ID: "cronos", Name: "Cronos", Type: "linux", Host: "10.0.0.12", Port: 22},
	}
}

func newTestRegistry(t *testing.T, prober *fakeProber) *ClusterNodeRegistry {
	t.Helper()
	dir := &fakeDirectory{descriptors: testDescriptors()}
	r := NewClusterNodeRegistry(testLogger(), dir, prober, nil, map[string][]string{
		"docker": {"atlas", "cronos"},
	})
	require.NoError(t, r.RegisterNodes(context.Background()))
	return r
}

func TestClusterNodeRegistry_RegisterAndProbe(t *testing.T) {
	prober := newFakeProber("10.0.0.10:22")
	r := newTestRegistry(t, prober)

	atlas, err := r.GetNode("atlas")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusOnline, atlas.Status)
	assert.NotNil(t, atlas.LastSeen)
	assert.Contains(t, atlas.Capabilities, "docker")

	// Unreachable with WoL support reads as sleeping, without it as offline.
	boreas, err := r.GetNode("boreas")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusSleeping, boreas.Status)

	cronos, err := r.GetNode("cronos")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusOffline, cronos.Status)

	_, err = r.GetNode("missing")
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
}

func TestClusterNodeRegistry_RefreshUpdatesInPlace(t *testing.T) {
	prober := newFakeProber()
	r := newTestRegistry(t, prober)

	cronos, _ := r.GetNode("cronos")
	assert.Equal(t, domain.NodeStatusOffline, cronos.Status)

	prober.setUp("10.0.0.12:22", true)
	require.NoError(t, r.RefreshNodeStatus(context.Background()))

	cronos, _ = r.GetNode("cronos")
	assert.Equal(t, domain.NodeStatusOnline, cronos.Status)
}

func TestClusterNodeRegistry_RefreshIsolatesFailures(t *testing.T) {
	// Only one of three nodes answers; the refresh still succeeds and the
	// reachable node is not dragged down by its neighbors.
	prober := newFakeProber("10.0.0.11:8085")
	r := newTestRegistry(t, prober)

	boreas, _ := r.GetNode("boreas")
	assert.Equal(t, domain.NodeStatusOnline, boreas.Status)
	atlas, _ := r.GetNode("atlas")
	assert.Equal(t, domain.NodeStatusOffline, atlas.Status)
}

func TestClusterNodeRegistry_GetNodesKeepsRegistrationOrder(t *testing.T) {
	r := newTestRegistry(t, newFakeProber())

	nodes := r.GetNodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, domain.NodeID("atlas"), nodes[0].ID)
	assert.Equal(t, domain.NodeID("boreas"), nodes[1].ID)
	assert.Equal(t, domain.NodeID("cronos"), nodes[2].ID)
}

func TestClusterNodeRegistry_GetNodesByCapability(t *testing.T) {
	r := newTestRegistry(t, newFakeProber())

	linux := r.GetNodesByCapability("docker")
	require.Len(t, linux, 2)

	windows := r.GetNodesByCapability("ai_generate")
	require.Len(t, windows, 1)
	assert.Equal(t, domain.NodeID("boreas"), windows[0].ID)

	assert.Empty(t, r.GetNodesByCapability("quantum"))
}

func TestClusterNodeRegistry_MarkOnline(t *testing.T) {
	r := newTestRegistry(t, newFakeProber())

	r.MarkOnline("boreas", 7*time.Millisecond)
	boreas, _ := r.GetNode("boreas")
	assert.Equal(t, domain.NodeStatusOnline, boreas.Status)
	assert.Equal(t, int64(7), boreas.LatencyMs)

	// Unknown IDs are ignored.
	r.MarkOnline("missing", time.Millisecond)
}

func TestClusterNodeRegistry_ClusterStatus(t *testing.T) {
	r := newTestRegistry(t, newFakeProber("10.0.0.10:22"))

	stats := r.ClusterStatus()
	assert.Equal(t, 3, stats["total"])
	assert.Equal(t, 1, stats[string(domain.NodeStatusOnline)])
	assert.Equal(t, 1, stats[string(domain.NodeStatusSleeping)])
	assert.Equal(t, 1, stats[string(domain.NodeStatusOffline)])
}
