//go:build unix

package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bridgefall/overlay/packet"
)

// DefaultWriteTimeout bounds a notify when the supervisor stops reading.
const DefaultWriteTimeout = 2 * time.Second

// Channel is a connected datagram socket pair between the tunnel and the
// privileged side.
type Channel struct {
	Tunnel     *net.UnixConn
	Supervisor *net.UnixConn
	// WriteTimeout bounds NotifyOverlay; zero uses DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// NewChannel creates the socket pair.
func NewChannel() (*Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	tun, err := fileConn(fds[0], "tunnel")
	if err != nil {
		unix.Close(fds[1])
		return nil, err
	}
	sup, err := fileConn(fds[1], "supervisor")
	if err != nil {
		tun.Close()
		return nil, err
	}
	return &Channel{Tunnel: tun, Supervisor: sup}, nil
}

func fileConn(fd int, name string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("%s socket: %w", name, err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%s socket: unexpected type %T", name, c)
	}
	return uc, nil
}

// NotifyOverlay sends o to the supervisor side. It fails once the
// supervisor end is closed or stops draining messages.
func (c *Channel) NotifyOverlay(o packet.Overlay) error {
	timeout := c.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if err := c.Tunnel.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := c.Tunnel.Write(EncodeMessage(o)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Serve runs s on the supervisor end. When s fails the supervisor end is
// closed, so the next NotifyOverlay returns an error instead of queueing
// an overlay nobody will apply.
func (c *Channel) Serve(ctx context.Context, s *Supervisor) error {
	err := s.Serve(ctx, c.Supervisor)
	if err != nil {
		c.Supervisor.Close()
	}
	return err
}

func (c *Channel) Close() error {
	err1 := c.Tunnel.Close()
	err2 := c.Supervisor.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
