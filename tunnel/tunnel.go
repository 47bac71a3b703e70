// Package tunnel runs the point-to-point Ethernet-over-UDP protocol engine:
// the HELLO state machine and the dispatch loop moving frames between the
// virtual interface and the UDP socket.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bridgefall/overlay/auth"
	"github.com/bridgefall/overlay/compress"
	"github.com/bridgefall/overlay/internal/ratelimiter"
	"github.com/bridgefall/overlay/internal/replay"
	"github.com/bridgefall/overlay/packet"
)

const (
	DefaultPeriod      = 10 * time.Second
	DefaultRetryPeriod = 2 * time.Second

	// ConnectTTL is the number of periods a connection survives without a
	// verified HELLO.
	ConnectTTL = 3

	statsEvery    = 6
	compressEvery = statsEvery

	logBurst = 10

	frameBufLen = 2048
)

const invalidConfigPrefix = "invalid config"

// Role selects server or client behaviour.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "Server"
	}
	return "Client"
}

// State is the connection state.
type State uint8

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Device is the virtual interface: one Ethernet frame per call.
type Device interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Notifier receives overlay parameters learned by a client.
type Notifier interface {
	NotifyOverlay(packet.Overlay) error
}

// Options configures a Tunnel.
type Options struct {
	Role Role
	Keys *auth.Keys
	// Overlay is authoritative on the server. On a client it is the last
	// known configuration and is replaced by what the server announces.
	Overlay packet.Overlay
	// Remote is the server address; required for clients.
	Remote     netip.AddrPort
	NoScramble bool
	// Debug enables periodic compression table dumps.
	Debug       bool
	Period      time.Duration
	RetryPeriod time.Duration
	// RateLimitPPS and RateLimitBurst bound datagrams per source address
	// that a server verifies while it has no bound peer.
	RateLimitPPS   int
	RateLimitBurst int
	Notifier       Notifier
	Logger         *slog.Logger
	// Diag receives compression table dumps; defaults to io.Discard.
	Diag io.Writer
	Now  func() time.Time
}

func normalizeOptions(o Options) (Options, error) {
	if o.Keys == nil {
		return Options{}, fmt.Errorf("%s: keys required", invalidConfigPrefix)
	}
	switch o.Role {
	case RoleServer:
		if err := o.Overlay.Validate(); err != nil {
			return Options{}, fmt.Errorf("%s: %w", invalidConfigPrefix, err)
		}
	case RoleClient:
		if !o.Remote.IsValid() {
			return Options{}, fmt.Errorf("%s: remote address required", invalidConfigPrefix)
		}
		o.Remote = netip.AddrPortFrom(o.Remote.Addr().Unmap(), o.Remote.Port())
	default:
		return Options{}, fmt.Errorf("%s: unknown role %d", invalidConfigPrefix, o.Role)
	}
	if o.Period <= 0 {
		o.Period = DefaultPeriod
	}
	if o.RetryPeriod <= 0 {
		o.RetryPeriod = DefaultRetryPeriod
	}
	if o.RetryPeriod > o.Period {
		o.RetryPeriod = o.Period
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Diag == nil {
		o.Diag = io.Discard
	}
	o.Logger = resolveLogger(o.Logger)
	return o, nil
}

// Tunnel is one endpoint. Session state is owned by Run; Snapshot and Stats
// may be called concurrently.
type Tunnel struct {
	opts   Options
	dev    Device
	conn   net.PacketConn
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	seq     uint16
	ttl     int
	remote  netip.AddrPort
	overlay packet.Overlay
	guard   replay.Guard
	tables  *compress.Set
	txDir   compress.Direction
	rxDir   compress.Direction

	limiter    *ratelimiter.Ratelimiter
	logLimiter *logLimiter
	statsCnt   int
	dumpCnt    int
	wake       bool

	stats *Stats
}

// New validates opts and returns a tunnel bound to dev and conn.
func New(opts Options, dev Device, conn net.PacketConn) (*Tunnel, error) {
	if dev == nil || conn == nil {
		return nil, errors.New("tunnel: device and connection required")
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}
	t := &Tunnel{
		opts:       opts,
		dev:        dev,
		conn:       conn,
		logger:     opts.Logger,
		overlay:    opts.Overlay,
		tables:     compress.NewSet(),
		logLimiter: newLogLimiter(opts.Period, logBurst),
		stats:      &Stats{},
	}
	if opts.Role == RoleServer {
		t.txDir, t.rxDir = compress.S2C, compress.C2S
		t.limiter = ratelimiter.New(opts.RateLimitPPS, opts.RateLimitBurst, opts.Now)
	} else {
		t.txDir, t.rxDir = compress.C2S, compress.S2C
		t.remote = opts.Remote
	}
	return t, nil
}

// Stats returns the live counters.
func (t *Tunnel) Stats() *Stats {
	return t.stats
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	Role      Role
	State     State
	Seq       uint16
	RemoteSeq uint16
	TTL       int
	Remote    netip.AddrPort
	Overlay   packet.Overlay
}

// Snapshot returns the current session state. Run holds the session lock
// while it writes to the device, the socket and the Notifier, so Snapshot
// waits for an in-flight write to finish. Use Stats for lock-free counters.
func (t *Tunnel) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Role:      t.opts.Role,
		State:     t.state,
		Seq:       t.seq,
		RemoteSeq: t.guard.Remote(),
		TTL:       t.ttl,
		Remote:    t.remote,
		Overlay:   t.overlay,
	}
}

type readEvent struct {
	buf  []byte
	off  int
	n    int
	from net.Addr
	err  error
}

// Run drives the tunnel until ctx is cancelled or a fatal error occurs. The
// caller closes the device and connection after Run returns to release the
// reader goroutines.
func (t *Tunnel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	devEvents := make(chan readEvent)
	devRelease := make(chan struct{})
	udpEvents := make(chan readEvent)
	udpRelease := make(chan struct{})
	go t.readDevice(ctx, devEvents, devRelease)
	go t.readSocket(ctx, udpEvents, udpRelease)

	timer := time.NewTimer(t.opts.Period)
	defer timer.Stop()
	if t.opts.Role == RoleClient {
		t.mu.Lock()
		t.sendHello()
		t.mu.Unlock()
		t.logger.Info("connecting", "server", t.remote.String())
		timer.Reset(t.opts.RetryPeriod)
	} else {
		t.logger.Info("waiting for client", "addr", t.conn.LocalAddr().String())
	}

	for {
		var fatal error
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			t.mu.Lock()
			t.tick()
			next := t.nextPeriod()
			t.mu.Unlock()
			timer.Reset(next)
			continue
		case ev := <-devEvents:
			if isClosed(ev.err) {
				return fmt.Errorf("device: %w", ev.err)
			}
			t.mu.Lock()
			if ev.err != nil {
				t.logRead("device", ev.err)
			} else {
				t.handleFrame(ev.buf, ev.n)
			}
			t.mu.Unlock()
			release(ctx, devRelease)
		case ev := <-udpEvents:
			if isClosed(ev.err) {
				return fmt.Errorf("socket: %w", ev.err)
			}
			t.mu.Lock()
			if ev.err != nil {
				t.logRead("socket", ev.err)
			} else {
				fatal = t.handleDatagram(ev.buf, ev.off, ev.n, ev.from)
			}
			t.mu.Unlock()
			release(ctx, udpRelease)
		}
		if fatal != nil {
			return fatal
		}
		t.mu.Lock()
		wake := t.wake
		t.wake = false
		t.mu.Unlock()
		if wake {
			timer.Reset(0)
		}
	}
}

func release(ctx context.Context, ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
	}
}

func (t *Tunnel) nextPeriod() time.Duration {
	if t.opts.Role == RoleClient && t.state == Disconnected {
		return t.opts.RetryPeriod
	}
	return t.opts.Period
}

// readDevice reads frames behind HeaderLen bytes of room so the datagram
// header can be written in front of a compressed frame.
func (t *Tunnel) readDevice(ctx context.Context, events chan<- readEvent, next <-chan struct{}) {
	buf := make([]byte, packet.HeaderLen+frameBufLen+packet.DigestLen)
	t.readLoop(ctx, events, next, func() readEvent {
		n, err := t.dev.Read(buf[packet.HeaderLen : packet.HeaderLen+frameBufLen])
		return readEvent{buf: buf, off: packet.HeaderLen, n: n, err: err}
	})
}

// readSocket reads datagrams behind compress.Headroom bytes of room so a
// compressed frame can be rebuilt in place.
func (t *Tunnel) readSocket(ctx context.Context, events chan<- readEvent, next <-chan struct{}) {
	buf := make([]byte, compress.Headroom+frameBufLen+packet.HeaderLen+packet.DigestLen)
	t.readLoop(ctx, events, next, func() readEvent {
		n, from, err := t.conn.ReadFrom(buf[compress.Headroom:])
		return readEvent{buf: buf, off: compress.Headroom, n: n, from: from, err: err}
	})
}

func (t *Tunnel) readLoop(ctx context.Context, events chan<- readEvent, next <-chan struct{}, read func() readEvent) {
	for {
		ev := read()
		if ev.err != nil && ctx.Err() != nil {
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if isClosed(ev.err) {
			return
		}
		select {
		case <-next:
		case <-ctx.Done():
			return
		}
	}
}

func isClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
