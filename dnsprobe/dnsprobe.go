// Package dnsprobe ranks candidate DNS resolvers by response time so a
// server can hand its fastest three to the client.
package dnsprobe

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/bridgefall/overlay/commons/config"
)

const (
	// MaxServers bounds the candidate list.
	MaxServers = 16

	DefaultPort    = 53
	DefaultName    = "debian.org."
	DefaultTimeout = time.Second

	maxPacketSize = 1232
)

// Fallback fills slots no responding candidate could take.
var Fallback = [3]config.IPv4{0x01010101, 0x09090909, 0x08080808}

var ErrTooManyServers = fmt.Errorf("dnsprobe: more than %d servers", MaxServers)

// Result is the outcome of probing one resolver.
type Result struct {
	Server config.IPv4
	RTT    time.Duration
	Err    error
}

// Prober sends a single A query to each candidate.
type Prober struct {
	Port    int
	Name    string
	Timeout time.Duration
	Logger  *slog.Logger
	// Dial defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (p *Prober) port() int {
	if p.Port <= 0 {
		return DefaultPort
	}
	return p.Port
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p *Prober) dial(ctx context.Context, addr string) (net.Conn, error) {
	if p.Dial != nil {
		return p.Dial(ctx, "udp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "udp", addr)
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Probe measures one query round trip to server.
func (p *Prober) Probe(ctx context.Context, server config.IPv4) (time.Duration, error) {
	name := p.Name
	if name == "" {
		name = DefaultName
	}
	q, err := newQuestion(name)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	addr := net.JoinHostPort(server.String(), strconv.Itoa(p.port()))
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	id := uint16(rand.Uint32())
	req, err := appendQuery(id, q, make([]byte, 0, 512))
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("write query: %w", err)
	}
	buf := make([]byte, maxPacketSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("read response: %w", err)
		}
		if matchResponse(id, buf[:n]) {
			return time.Since(start), nil
		}
	}
}

// Rank probes servers concurrently and returns the responders ordered by
// round-trip time, followed by the failures in input order.
func (p *Prober) Rank(ctx context.Context, servers []config.IPv4) ([]Result, error) {
	if len(servers) > MaxServers {
		return nil, ErrTooManyServers
	}
	results := make([]Result, len(servers))
	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rtt, err := p.Probe(ctx, server)
			results[i] = Result{Server: server, RTT: rtt, Err: err}
		}()
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		return a.Err == nil && a.RTT < b.RTT
	})
	log := p.logger()
	for _, r := range results {
		if r.Err != nil {
			log.Warn("dns server not responding", "server", r.Server.String(), "err", r.Err)
			continue
		}
		log.Info("dns server response time", "server", r.Server.String(), "rtt_ms", r.RTT.Milliseconds())
	}
	return results, nil
}

// Select returns the three fastest responders, filling empty slots from
// Fallback position by position.
func Select(results []Result) [3]config.IPv4 {
	out := Fallback
	i := 0
	for _, r := range results {
		if i == len(out) {
			break
		}
		if r.Err != nil {
			continue
		}
		out[i] = r.Server
		i++
	}
	return out
}

// Choose ranks servers and selects the tunnel DNS set. With no candidates
// it returns Fallback without probing.
func (p *Prober) Choose(ctx context.Context, servers []config.IPv4) ([3]config.IPv4, error) {
	if len(servers) == 0 {
		return Fallback, nil
	}
	results, err := p.Rank(ctx, servers)
	if err != nil {
		return Fallback, err
	}
	return Select(results), nil
}

func newQuestion(domain string) (dnsmessage.Question, error) {
	name, err := dnsmessage.NewName(domain)
	if err != nil {
		return dnsmessage.Question{}, fmt.Errorf("cannot parse domain name: %w", err)
	}
	return dnsmessage.Question{Name: name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}, nil
}

func appendQuery(id uint16, q dnsmessage.Question, buf []byte) ([]byte, error) {
	b := dnsmessage.NewBuilder(buf, dnsmessage.Header{ID: id, RecursionDesired: true})
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(q); err != nil {
		return nil, err
	}
	return b.Finish()
}

func matchResponse(id uint16, msg []byte) bool {
	var parser dnsmessage.Parser
	hdr, err := parser.Start(msg)
	if err != nil {
		return false
	}
	return hdr.Response && hdr.ID == id
}

// ParseServers parses dotted-quad resolver addresses.
func ParseServers(list []string) ([]config.IPv4, error) {
	out := make([]config.IPv4, 0, len(list))
	for _, s := range list {
		ip, err := config.ParseIPv4(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ip)
	}
	if len(out) > MaxServers {
		return nil, ErrTooManyServers
	}
	return out, nil
}
