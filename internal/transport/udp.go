// Package transport delivers telemetry datagrams to the VAS server. UDP
// is the only protocol the satellite network carries for this service.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
)

// UDP sends each payload as one datagram on a fresh socket, mirroring
// the store-and-forward nature of the link.
type UDP struct {
	Addr string

	// WriteTimeout bounds the socket write independently of the caller's
	// context.
	WriteTimeout time.Duration
}

// NewUDP builds a transport for the given "host:port" target.
func NewUDP(addr string) *UDP {
	return &UDP{Addr: addr, WriteTimeout: 10 * time.Second}
}

// Send delivers one payload. Dial failures are tagged as channel-open
// failures so the retry policy backs off differently from send failures.
func (u *UDP) Send(ctx context.Context, payload []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", u.Addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", orchestrator.ErrOpenChannel, u.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(u.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send %d bytes to %s: %w", len(payload), u.Addr, err)
	}
	return nil
}
