package ingress

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// unknownWarnInterval rate-limits warnings for packets from addresses no
// configured server owns.
const unknownWarnInterval = time.Minute

// maxDatagram covers the engine's log packet ceiling with headroom.
const maxDatagram = 4096

// Remote-logging packet prefixes. GoldSrc sends `....log `, newer Source
// builds send `....RL ` with the same connectionless header.
var (
	connectionless = []byte{0xff, 0xff, 0xff, 0xff}
	goldSrcPrefix  = []byte("log ")
	sourcePrefix   = []byte("RL ")
)

// UDPListener receives remote log packets and feeds them to the pipeline.
// Servers are identified by their source address; packets from unknown
// addresses are dropped.
type UDPListener struct {
	pipeline *Pipeline
	log      *slog.Logger

	mu       sync.Mutex
	byAddr   map[string]string
	lastWarn map[string]time.Time

	conn *net.UDPConn
}

// NewUDPListener returns a listener routing packets by source address.
// byAddr maps "host:port" to the server's external id.
func NewUDPListener(pipeline *Pipeline, byAddr map[string]string, log *slog.Logger) *UDPListener {
	if log == nil {
		log = slog.Default()
	}
	routes := make(map[string]string, len(byAddr))
	for addr, id := range byAddr {
		routes[addr] = id
	}
	return &UDPListener{
		pipeline: pipeline,
		log:      log.With("component", "udp-ingress"),
		byAddr:   routes,
		lastWarn: make(map[string]time.Time),
	}
}

// Listen binds the socket. Separate from Run so callers learn about bind
// failures synchronously.
func (l *UDPListener) Listen(bind string) error {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return fmt.Errorf("failed to resolve udp bind %q: %w", bind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind udp %q: %w", bind, err)
	}
	l.conn = conn
	l.log.Info("listening for server logs", "bind", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, nil before Listen.
func (l *UDPListener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run reads packets until ctx is canceled. Must be called after Listen.
func (l *UDPListener) Run(ctx context.Context) error {
	if l.conn == nil {
		return fmt.Errorf("udp listener not bound")
	}

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp read failed: %w", err)
		}
		l.handlePacket(ctx, remote.String(), buf[:n])
	}
}

// Close releases the socket.
func (l *UDPListener) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

func (l *UDPListener) handlePacket(ctx context.Context, remote string, pkt []byte) {
	serverID := l.resolveAddr(remote)
	if serverID == "" {
		l.warnUnknown(remote)
		return
	}

	line, ok := stripLogPrefix(pkt)
	if !ok {
		l.log.Debug("dropping malformed log packet", "server", serverID, "bytes", len(pkt))
		return
	}

	l.pipeline.Authenticate(ctx, serverID, remote)
	l.pipeline.ProcessLine(ctx, serverID, line)
}

// resolveAddr maps a packet source to a server id, falling back to a
// host-only match so servers behind port rewrites still route.
func (l *UDPListener) resolveAddr(remote string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byAddr[remote]; ok {
		return id
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return ""
	}
	for addr, id := range l.byAddr {
		if h, _, err := net.SplitHostPort(addr); err == nil && h == host {
			return id
		}
	}
	return ""
}

func (l *UDPListener) warnUnknown(remote string) {
	l.mu.Lock()
	last, seen := l.lastWarn[remote]
	now := time.Now()
	if seen && now.Sub(last) < unknownWarnInterval {
		l.mu.Unlock()
		return
	}
	l.lastWarn[remote] = now
	l.mu.Unlock()

	l.log.Warn("dropping log packet from unknown address", "source", remote)
}

// stripLogPrefix removes the connectionless header and the log marker.
// Bare `L ...` payloads (seen from some proxies) pass through unchanged.
func stripLogPrefix(pkt []byte) (string, bool) {
	p := pkt
	if bytes.HasPrefix(p, connectionless) {
		p = p[len(connectionless):]
		switch {
		case bytes.HasPrefix(p, goldSrcPrefix):
			p = p[len(goldSrcPrefix):]
		case bytes.HasPrefix(p, sourcePrefix):
			p = p[len(sourcePrefix):]
		default:
			return "", false
		}
	}
	return string(bytes.TrimRight(p, "\x00\r\n")), true
}
