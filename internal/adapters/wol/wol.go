package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/ports"
)

// Sender emits wake-on-LAN magic packets over UDP. With a relay configured
// the packet is addressed to the relay host, which re-broadcasts it on the
// target's segment; otherwise it goes to the local broadcast address.
type Sender struct {
	Broadcast string // defaults to 255.255.255.255
	Port      int    // defaults to 9
}

var _ ports.WakeSender = (*Sender)(nil)

func NewSender() *Sender {
	return &Sender{Broadcast: "255.255.255.255", Port: 9}
}

func (s *Sender) Send(ctx context.Context, mac string, relay string) error {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("parse mac %q: %w", mac, err)
	}
	if len(hw) != 6 {
		return fmt.Errorf("mac %q: expected 6 bytes, got %d", mac, len(hw))
	}

	// 6 bytes of 0xFF followed by the MAC repeated 16 times.
	packet := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}

	target := s.Broadcast
	if relay != "" {
		target = relay
	}
	addr := net.JoinHostPort(target, fmt.Sprintf("%d", s.Port))

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("send magic packet: %w", err)
	}
	return nil
}

// TCPProber answers reachability by completing a TCP handshake against the
// target and reporting how long it took.
type TCPProber struct{}

var _ ports.Prober = (*TCPProber)(nil)

func (TCPProber) Probe(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(start), nil
}
