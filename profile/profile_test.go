package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bridgefall/overlay/commons/config"
	"github.com/bridgefall/overlay/packet"
)

func decode(t *testing.T, raw string) Profile {
	t.Helper()
	var p Profile
	if err := config.DecodeJSON([]byte(raw), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p
}

func TestResolveServerDefaults(t *testing.T) {
	p := decode(t, `{"mode": "server", "secret_file": "/etc/firetunnel/secret"}`)
	cfg, err := p.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.Server || cfg.Port != DefaultPort {
		t.Fatalf("unexpected mode/port: %+v", cfg)
	}
	if cfg.Bridge != "fts" || cfg.Tap != "fts-tap" {
		t.Fatalf("unexpected devices %q %q", cfg.Bridge, cfg.Tap)
	}
	if cfg.Overlay != packet.DefaultOverlay() {
		t.Fatalf("overlay = %s", cfg.Overlay)
	}
	if cfg.KeepAlive != DefaultKeepAlive || cfg.Retry != DefaultRetry {
		t.Fatalf("unexpected periods %s %s", cfg.KeepAlive, cfg.Retry)
	}
	if cfg.NoScramble {
		t.Fatalf("scrambling should default on")
	}
	if cfg.FirejailDir != DefaultRunDir || cfg.StateDir != DefaultStateDir {
		t.Fatalf("unexpected dirs %q %q", cfg.FirejailDir, cfg.StateDir)
	}
}

func TestResolveClient(t *testing.T) {
	p := decode(t, `{
  "mode": "client",
  "server_addr": "tunnel.example.net",
  "port": 2000,
  "secret_file": "secret",
  "scramble": false,
  "debug": true,
  "keepalive": "5s",
  "retry": "1s"
}`)
	cfg, err := p.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Server {
		t.Fatalf("expected client")
	}
	if cfg.ServerAddr != "tunnel.example.net:2000" {
		t.Fatalf("server addr = %q", cfg.ServerAddr)
	}
	if !cfg.NoScramble || !cfg.Debug || cfg.LogLevel != "debug" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.KeepAlive != 5*time.Second || cfg.Retry != time.Second {
		t.Fatalf("unexpected periods %s %s", cfg.KeepAlive, cfg.Retry)
	}
	if cfg.Bridge != "ftc" {
		t.Fatalf("bridge = %q", cfg.Bridge)
	}
}

func TestResolveClientPortFromServerAddr(t *testing.T) {
	client, err := decode(t, `{"mode": "client", "secret_file": "s", "server_addr": "203.0.113.5:2000"}`).Resolve()
	if err != nil {
		t.Fatalf("resolve client: %v", err)
	}
	server, err := decode(t, `{"mode": "server", "secret_file": "s", "port": 2000}`).Resolve()
	if err != nil {
		t.Fatalf("resolve server: %v", err)
	}
	if client.ServerAddr != "203.0.113.5:2000" {
		t.Fatalf("server addr = %q", client.ServerAddr)
	}
	if client.Port != server.Port {
		t.Fatalf("client key port %d, server key port %d", client.Port, server.Port)
	}

	same, err := decode(t, `{"mode": "client", "secret_file": "s", "server_addr": "203.0.113.5:2000", "port": 2000}`).Resolve()
	if err != nil {
		t.Fatalf("resolve matching ports: %v", err)
	}
	if same.Port != 2000 {
		t.Fatalf("port = %d", same.Port)
	}
}

func TestResolveOverlay(t *testing.T) {
	p := decode(t, `{
  "mode": "server",
  "secret_file": "secret",
  "overlay": {
    "netaddr": "10.20.0.0",
    "netmask": "255.255.0.0",
    "defaultgw": "10.20.0.1",
    "mtu": 1400,
    "dns": ["9.9.9.9", "1.0.0.1"]
  }
}`)
	cfg, err := p.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Overlay.String() == "" || cfg.Overlay.MTU != 1400 || cfg.Overlay.PrefixLen() != 16 {
		t.Fatalf("overlay = %s", cfg.Overlay)
	}
	if len(cfg.DNSCandidates) != 2 || cfg.DNSCandidates[0].String() != "9.9.9.9" {
		t.Fatalf("dns candidates = %v", cfg.DNSCandidates)
	}
}

func TestResolveErrors(t *testing.T) {
	cases := map[string]string{
		"mode":       `{"secret_file": "s"}`,
		"server":     `{"mode": "client", "secret_file": "s"}`,
		"secret":     `{"mode": "server"}`,
		"port":       `{"mode": "server", "secret_file": "s", "port": 70000}`,
		"gateway":    `{"mode": "server", "secret_file": "s", "overlay": {"defaultgw": "192.168.1.1"}}`,
		"mtu":        `{"mode": "server", "secret_file": "s", "overlay": {"mtu": 9000}}`,
		"retry":      `{"mode": "server", "secret_file": "s", "keepalive": "1s", "retry": "5s"}`,
		"negativemt": `{"mode": "server", "secret_file": "s", "overlay": {"mtu": -1}}`,
		"portclash":  `{"mode": "client", "secret_file": "s", "server_addr": "203.0.113.5:2000", "port": 3000}`,
		"addrport":   `{"mode": "client", "secret_file": "s", "server_addr": "203.0.113.5:http"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, raw).Resolve()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.HasPrefix(err.Error(), invalidConfigPrefix) {
				t.Fatalf("error %q missing prefix", err)
			}
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, []byte(`{"mode": "server", "secrte_file": "s"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestServerAddr(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"192.0.2.1", "192.0.2.1:1119"},
		{"192.0.2.1:4000", "192.0.2.1:4000"},
		{"[2001:db8::1]:4000", "[2001:db8::1]:4000"},
		{"example.net", "example.net:1119"},
	}
	for _, tc := range cases {
		got, err := ServerAddr(tc.in, DefaultPort)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.in, got, tc.want)
		}
	}
}
