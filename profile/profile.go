package profile

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bridgefall/overlay/commons/config"
	"github.com/bridgefall/overlay/packet"
)

const invalidConfigPrefix = "invalid config"

const (
	ModeServer = "server"
	ModeClient = "client"

	DefaultPort      = 1119
	DefaultRunDir    = "/run/firetunnel"
	DefaultStateDir  = "/var/lib/firetunnel"
	DefaultKeepAlive = 10 * time.Second
	DefaultRetry     = 2 * time.Second

	defaultServerBridge = "fts"
	defaultClientBridge = "ftc"
)

// Profile is the JSON configuration for one tunnel endpoint.
type Profile struct {
	Mode           string          `json:"mode"`
	ServerAddr     string          `json:"server_addr"`
	Port           int             `json:"port"`
	SecretFile     string          `json:"secret_file"`
	Bridge         string          `json:"bridge"`
	Tap            string          `json:"tap"`
	Overlay        OverlayConfig   `json:"overlay"`
	Scramble       *bool           `json:"scramble"`
	Debug          bool            `json:"debug"`
	LogLevel       string          `json:"log_level"`
	KeepAlive      config.Duration `json:"keepalive"`
	Retry          config.Duration `json:"retry"`
	RateLimitPPS   int             `json:"rate_limit_pps"`
	RateLimitBurst int             `json:"rate_limit_burst"`
	StateDir       string          `json:"state_dir"`
	FirejailDir    string          `json:"firejail_dir"`
}

// OverlayConfig describes the network handed to clients. Zero fields take
// the defaults.
type OverlayConfig struct {
	NetAddr   config.IPv4   `json:"netaddr"`
	NetMask   config.IPv4   `json:"netmask"`
	DefaultGW config.IPv4   `json:"defaultgw"`
	MTU       int           `json:"mtu"`
	DNS       []config.IPv4 `json:"dns"`
}

// Config is the validated runtime form of a Profile.
type Config struct {
	Server         bool
	ServerAddr     string
	Port           uint16
	SecretFile     string
	Bridge         string
	Tap            string
	Overlay        packet.Overlay
	DNSCandidates  []config.IPv4
	NoScramble     bool
	Debug          bool
	LogLevel       string
	KeepAlive      time.Duration
	Retry          time.Duration
	RateLimitPPS   int
	RateLimitBurst int
	StateDir       string
	FirejailDir    string
}

// Load reads a JSON profile from path.
func Load(path string) (Profile, error) {
	var p Profile
	if err := config.LoadJSONFile(path, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Resolve applies defaults and validates the profile.
func (p Profile) Resolve() (Config, error) {
	cfg := Config{
		SecretFile:     p.SecretFile,
		Bridge:         p.Bridge,
		Tap:            p.Tap,
		NoScramble:     p.Scramble != nil && !*p.Scramble,
		Debug:          p.Debug,
		LogLevel:       p.LogLevel,
		KeepAlive:      p.KeepAlive.Or(DefaultKeepAlive),
		Retry:          p.Retry.Or(DefaultRetry),
		RateLimitPPS:   p.RateLimitPPS,
		RateLimitBurst: p.RateLimitBurst,
		StateDir:       p.StateDir,
		FirejailDir:    p.FirejailDir,
	}
	if cfg.LogLevel == "" && p.Debug {
		cfg.LogLevel = "debug"
	}
	switch p.Mode {
	case ModeServer:
		cfg.Server = true
	case ModeClient:
	default:
		return Config{}, fmt.Errorf("%s: mode must be %q or %q", invalidConfigPrefix, ModeServer, ModeClient)
	}

	port := p.Port
	if !cfg.Server {
		addrPort, err := serverAddrPort(p.ServerAddr)
		if err != nil {
			return Config{}, err
		}
		// The key dictionary is derived from the port, so both ends must
		// agree on a single value.
		if addrPort != 0 {
			if port != 0 && port != addrPort {
				return Config{}, fmt.Errorf("%s: server_addr port %d differs from port %d", invalidConfigPrefix, addrPort, port)
			}
			port = addrPort
		}
	}
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return Config{}, fmt.Errorf("%s: port %d out of range", invalidConfigPrefix, p.Port)
	}
	cfg.Port = uint16(port)

	if !cfg.Server {
		addr, err := ServerAddr(p.ServerAddr, cfg.Port)
		if err != nil {
			return Config{}, err
		}
		cfg.ServerAddr = addr
	}
	if cfg.SecretFile == "" {
		return Config{}, fmt.Errorf("%s: secret_file required", invalidConfigPrefix)
	}
	if cfg.Bridge == "" {
		cfg.Bridge = defaultClientBridge
		if cfg.Server {
			cfg.Bridge = defaultServerBridge
		}
	}
	if cfg.Tap == "" {
		cfg.Tap = cfg.Bridge + "-tap"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.FirejailDir == "" {
		cfg.FirejailDir = DefaultRunDir
	}
	if cfg.Retry > cfg.KeepAlive {
		return Config{}, fmt.Errorf("%s: retry %s longer than keepalive %s", invalidConfigPrefix, cfg.Retry, cfg.KeepAlive)
	}

	o, err := p.Overlay.Resolve()
	if err != nil {
		return Config{}, err
	}
	cfg.Overlay = o
	cfg.DNSCandidates = append([]config.IPv4(nil), p.Overlay.DNS...)
	return cfg, nil
}

// Resolve fills unset overlay fields with the defaults and validates the
// result. DNS servers are left for the prober.
func (c OverlayConfig) Resolve() (packet.Overlay, error) {
	o := packet.DefaultOverlay()
	if c.NetAddr != 0 {
		o.NetAddr = c.NetAddr
	}
	if c.NetMask != 0 {
		o.NetMask = c.NetMask
	}
	if c.DefaultGW != 0 {
		o.DefaultGW = c.DefaultGW
	}
	if c.MTU != 0 {
		if c.MTU < 0 {
			return packet.Overlay{}, fmt.Errorf("%s: mtu %d out of range", invalidConfigPrefix, c.MTU)
		}
		o.MTU = uint32(c.MTU)
	}
	if err := o.Validate(); err != nil {
		return packet.Overlay{}, fmt.Errorf("%s: %w", invalidConfigPrefix, err)
	}
	return o, nil
}

// ServerAddr normalises host or host:port, appending the default port.
func ServerAddr(addr string, port uint16) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("%s: server_addr required in client mode", invalidConfigPrefix)
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	return net.JoinHostPort(addr, strconv.Itoa(int(port))), nil
}

// serverAddrPort returns the port carried by addr, or 0 when addr is a bare
// host.
func serverAddrPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%s: server_addr port %q invalid", invalidConfigPrefix, portStr)
	}
	return port, nil
}
