package dnsprobe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/bridgefall/overlay/commons/config"
)

// fakeResolver answers every query after delay; a negative delay never
// answers.
func fakeResolver(t *testing.T, delay time.Duration) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if delay < 0 {
				continue
			}
			var msg dnsmessage.Message
			if err := msg.Unpack(buf[:n]); err != nil {
				continue
			}
			msg.Header.Response = true
			out, err := msg.Pack()
			if err != nil {
				continue
			}
			time.Sleep(delay)
			pc.WriteTo(out, from)
		}
	}()
	return pc.LocalAddr().String()
}

func TestRankAndSelect(t *testing.T) {
	fast, slow, dead := config.IPv4(0x0a000001), config.IPv4(0x0a000002), config.IPv4(0x0a000003)
	routes := map[string]string{
		fast.String(): fakeResolver(t, 0),
		slow.String(): fakeResolver(t, 80*time.Millisecond),
		dead.String(): fakeResolver(t, -1),
	}
	p := &Prober{
		Timeout: 400 * time.Millisecond,
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, routes[host])
		},
	}

	results, err := p.Rank(context.Background(), []config.IPv4{dead, slow, fast})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, fast, results[0].Server)
	require.NoError(t, results[0].Err)
	require.Equal(t, slow, results[1].Server)
	require.NoError(t, results[1].Err)
	require.Equal(t, dead, results[2].Server)
	require.Error(t, results[2].Err)

	require.Equal(t, [3]config.IPv4{fast, slow, Fallback[2]}, Select(results))
}

func TestChooseWithoutCandidates(t *testing.T) {
	var p Prober
	got, err := p.Choose(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, Fallback, got)
	require.Equal(t, "1.1.1.1", got[0].String())
	require.Equal(t, "9.9.9.9", got[1].String())
	require.Equal(t, "8.8.8.8", got[2].String())
}

func TestSelectKeepsOnlyThree(t *testing.T) {
	results := []Result{
		{Server: 1, RTT: time.Millisecond},
		{Server: 2, RTT: 2 * time.Millisecond},
		{Server: 3, RTT: 3 * time.Millisecond},
		{Server: 4, RTT: 4 * time.Millisecond},
	}
	require.Equal(t, [3]config.IPv4{1, 2, 3}, Select(results))
}

func TestParseServers(t *testing.T) {
	got, err := ParseServers([]string{"1.1.1.1", "9.9.9.9"})
	require.NoError(t, err)
	require.Equal(t, []config.IPv4{0x01010101, 0x09090909}, got)

	_, err = ParseServers([]string{"::1"})
	require.Error(t, err)

	many := make([]string, MaxServers+1)
	for i := range many {
		many[i] = "10.0.0.1"
	}
	_, err = ParseServers(many)
	require.ErrorIs(t, err, ErrTooManyServers)
}

func TestMatchResponse(t *testing.T) {
	q, err := newQuestion("example.com.")
	require.NoError(t, err)
	req, err := appendQuery(42, q, nil)
	require.NoError(t, err)
	require.False(t, matchResponse(42, req))

	req[2] |= 0x80
	require.True(t, matchResponse(42, req))
	require.False(t, matchResponse(43, req))
	require.False(t, matchResponse(42, req[:5]))
}
