// Package supervisor applies overlay parameters learned by the tunnel on
// the privileged side: it writes the firejail network profile for the
// bridge, persists the state and updates the link MTU.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bridgefall/overlay/commons/metrics"
	"github.com/bridgefall/overlay/packet"
	cborprofile "github.com/bridgefall/overlay/profile/cbor"
)

const invalidConfigPrefix = "invalid config"

const stateSuffix = ".state"

// LinkConfigurer changes interface settings.
type LinkConfigurer interface {
	SetMTU(name string, mtu int) error
}

// Options configures a Supervisor.
type Options struct {
	Bridge string
	Tap    string
	// RunDir receives the firejail profile, named after the bridge.
	RunDir string
	// StateDir receives the CBOR state; empty disables persistence.
	StateDir string
	Links    LinkConfigurer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Supervisor handles configuration messages.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	overlay packet.Overlay

	Updates metrics.Counter
	Invalid metrics.Counter
}

// New validates opts.
func New(opts Options) (*Supervisor, error) {
	if opts.Bridge == "" {
		return nil, fmt.Errorf("%s: bridge required", invalidConfigPrefix)
	}
	if opts.RunDir == "" {
		return nil, fmt.Errorf("%s: run dir required", invalidConfigPrefix)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{opts: opts, logger: logger}, nil
}

// Overlay returns the last applied overlay.
func (s *Supervisor) Overlay() packet.Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

// ProfilePath is the firejail profile location for the bridge.
func (s *Supervisor) ProfilePath() string {
	return filepath.Join(s.opts.RunDir, s.opts.Bridge)
}

// StatePath is the CBOR state location, or "" when persistence is off.
func (s *Supervisor) StatePath() string {
	if s.opts.StateDir == "" {
		return ""
	}
	return filepath.Join(s.opts.StateDir, s.opts.Bridge+stateSuffix)
}

// Apply writes the profile and state for o and updates the MTU.
func (s *Supervisor) Apply(o packet.Overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.ProfilePath()
	if err := writeFileAtomic(path, func(w io.Writer) error {
		return WriteProfile(w, s.opts.Bridge, o)
	}); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	s.logger.Info("profile updated", "path", path)

	if statePath := s.StatePath(); statePath != "" {
		data, err := cborprofile.EncodeState(cborprofile.State{
			Bridge:  s.opts.Bridge,
			Overlay: o,
			Updated: s.opts.Now(),
		})
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		if err := writeFileAtomic(statePath, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}); err != nil {
			return fmt.Errorf("write state: %w", err)
		}
	}

	if s.opts.Links != nil {
		for _, name := range []string{s.opts.Bridge, s.opts.Tap} {
			if name == "" {
				continue
			}
			if err := s.opts.Links.SetMTU(name, int(o.MTU)); err != nil {
				return fmt.Errorf("set mtu on %s: %w", name, err)
			}
		}
	}
	s.overlay = o
	s.Updates.Inc()
	return nil
}

// Serve reads configuration messages from conn until ctx is cancelled or
// conn fails. Malformed messages are logged and skipped; a failure to apply
// a valid one is returned.
func (s *Supervisor) Serve(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		o, err := DecodeMessage(buf[:n])
		if err != nil {
			s.Invalid.Inc()
			s.logger.Warn("ignoring supervisor message", "len", n, "err", err)
			continue
		}
		if err := s.Apply(o); err != nil {
			return err
		}
	}
}

// LoadState reads the persisted state for the bridge.
func (s *Supervisor) LoadState() (cborprofile.State, error) {
	path := s.StatePath()
	if path == "" {
		return cborprofile.State{}, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cborprofile.State{}, err
	}
	return cborprofile.DecodeState(data)
}

// WriteProfile renders the firejail network profile for a sandbox joining
// bridge.
func WriteProfile(w io.Writer, bridge string, o packet.Overlay) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "net %s\n", bridge)
	fmt.Fprintf(bw, "ignore net\n")
	fmt.Fprintf(bw, "netmask %s\n", o.NetMask)
	fmt.Fprintf(bw, "defaultgw %s\n", o.DefaultGW)
	fmt.Fprintf(bw, "mtu %d\n", o.MTU)
	fmt.Fprintf(bw, "dns %s\n", o.DNS1)
	fmt.Fprintf(bw, "dns %s\n", o.DNS2)
	fmt.Fprintf(bw, "dns %s\n", o.DNS3)
	for _, cmd := range []string{"iprange", "netmask", "defaultgw", "mtu", "dns"} {
		fmt.Fprintf(bw, "ignore %s\n", cmd)
	}
	return bw.Flush()
}

func writeFileAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
