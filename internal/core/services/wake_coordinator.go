package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

const (
	wakeWaitTimeout = 180 * time.Second
	wakePollEvery   = 5 * time.Second
)

var (
	// ErrWakeNotSupported means the node cannot be woken at all: no WoL
	// support or no hardware address configured. Retrying will not help.
	ErrWakeNotSupported = errors.New("node does not support wake-on-lan")
	ErrWakeMissingMAC   = errors.New("node has no hardware address configured")

	// ErrWakeTimeout means the wake signal went out but the node never
	// answered its reachability poll. The caller may retry.
	ErrWakeTimeout = errors.New("node did not come online before the wake deadline")
)

// WakeCoordinator turns a sleeping node online: it sends the wake signal,
// then polls the node's service port until it answers or the bounded wait
// elapses. The three failure modes stay distinguishable for callers —
// configuration, timeout, transport.
type WakeCoordinator struct {
	logger   *slog.Logger
	registry *ClusterNodeRegistry
	sender   ports.WakeSender
	prober   ports.Prober

	waitTimeout time.Duration
	pollEvery   time.Duration
}

func NewWakeCoordinator(logger *slog.Logger, registry *ClusterNodeRegistry, sender ports.WakeSender, prober ports.Prober) *WakeCoordinator {
	return &WakeCoordinator{
		logger:      logger,
		registry:    registry,
		sender:      sender,
		prober:      prober,
		waitTimeout: wakeWaitTimeout,
		pollEvery:   wakePollEvery,
	}
}

// WakeNode wakes the node and blocks until it is reachable or the wait
// deadline passes. Success marks the node online with its measured latency.
func (w *WakeCoordinator) WakeNode(ctx context.Context, id domain.NodeID) error {
	node, err := w.registry.GetNode(id)
	if err != nil {
		return err
	}
	if !node.SupportsWol {
		return fmt.Errorf("node %s: %w", id, ErrWakeNotSupported)
	}
	if node.Config.MacAddress == "" {
		return fmt.Errorf("node %s: %w", id, ErrWakeMissingMAC)
	}

	w.logger.Info("waking node", "node_id", id, "mac", node.Config.MacAddress, "relay", node.Config.WolRelay)
	if err := w.sender.Send(ctx, node.Config.MacAddress, node.Config.WolRelay); err != nil {
		return fmt.Errorf("send wake signal to %s: %w", id, err)
	}

	deadline := time.Now().Add(w.waitTimeout)
	for {
		latency, err := w.prober.Probe(ctx, node.Addr(), probeTimeout)
		if err == nil {
			w.registry.MarkOnline(id, latency)
			w.logger.Info("node is online", "node_id", id, "latency_ms", latency.Milliseconds())
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("node %s: %w", id, ErrWakeTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollEvery):
		}
	}
}
