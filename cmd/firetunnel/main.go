//go:build unix

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bridgefall/overlay/auth"
	"github.com/bridgefall/overlay/commons/config"
	"github.com/bridgefall/overlay/commons/logger"
	"github.com/bridgefall/overlay/device"
	"github.com/bridgefall/overlay/dnsprobe"
	"github.com/bridgefall/overlay/profile"
	"github.com/bridgefall/overlay/supervisor"
	"github.com/bridgefall/overlay/tunnel"
)

// ipList collects repeated -dns flags.
type ipList []string

func (l *ipList) String() string { return strings.Join(*l, ",") }

func (l *ipList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to JSON profile file")
	server := flag.Bool("server", false, "run as server")
	connect := flag.String("connect", "", "run as client connected to host[:port]")
	port := flag.Int("port", profile.DefaultPort, "tunnel UDP port")
	secretFile := flag.String("secret", "/etc/firetunnel/secret", "shared secret file")
	bridge := flag.String("bridge", "", "bridge device name")
	tap := flag.String("tap", "", "tap device name")
	netAddr := flag.String("netaddr", "", "overlay network address (server)")
	netMask := flag.String("netmask", "", "overlay netmask (server)")
	defaultGW := flag.String("defaultgw", "", "overlay default gateway (server)")
	mtu := flag.Int("mtu", 0, "overlay MTU (server)")
	var dns ipList
	flag.Var(&dns, "dns", "candidate DNS server, repeatable up to 16 (server)")
	noScramble := flag.Bool("noscrambling", false, "disable packet scrambling")
	debug := flag.Bool("debug", false, "print debug messages and compression tables")
	logLevel := flag.String("log-level", "", "log level (info|debug)")
	keepAlive := flag.Duration("keepalive", profile.DefaultKeepAlive, "keepalive period")
	retry := flag.Duration("retry", profile.DefaultRetry, "HELLO retry period while disconnected")
	stateDir := flag.String("state-dir", profile.DefaultStateDir, "persisted state directory")
	runDir := flag.String("run-dir", profile.DefaultRunDir, "firejail profile directory")
	flag.Parse()

	var p profile.Profile
	if *configPath != "" {
		loaded, err := profile.Load(*configPath)
		if err != nil {
			log.Fatalf("config error: %v", err)
		}
		p = loaded
	} else {
		p.SecretFile = *secretFile
	}

	parseIP := func(name, v string) config.IPv4 {
		ip, err := config.ParseIPv4(v)
		if err != nil {
			log.Fatalf("config error: -%s: %v", name, err)
		}
		return ip
	}
	overrides := map[string]func(){
		"server": func() {
			if *server {
				p.Mode = profile.ModeServer
			}
		},
		"connect":   func() { p.Mode = profile.ModeClient; p.ServerAddr = *connect },
		"port":      func() { p.Port = *port },
		"secret":    func() { p.SecretFile = *secretFile },
		"bridge":    func() { p.Bridge = *bridge },
		"tap":       func() { p.Tap = *tap },
		"netaddr":   func() { p.Overlay.NetAddr = parseIP("netaddr", *netAddr) },
		"netmask":   func() { p.Overlay.NetMask = parseIP("netmask", *netMask) },
		"defaultgw": func() { p.Overlay.DefaultGW = parseIP("defaultgw", *defaultGW) },
		"mtu":       func() { p.Overlay.MTU = *mtu },
		"dns": func() {
			servers, err := dnsprobe.ParseServers(dns)
			if err != nil {
				log.Fatalf("config error: -dns: %v", err)
			}
			p.Overlay.DNS = servers
		},
		"noscrambling": func() { on := !*noScramble; p.Scramble = &on },
		"debug":        func() { p.Debug = *debug },
		"log-level":    func() { p.LogLevel = *logLevel },
		"keepalive":    func() { p.KeepAlive = config.Duration{Duration: *keepAlive} },
		"retry":        func() { p.Retry = config.Duration{Duration: *retry} },
		"state-dir":    func() { p.StateDir = *stateDir },
		"run-dir":      func() { p.FirejailDir = *runDir },
	}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})
	if *server && *connect != "" {
		log.Fatalf("config error: -server and -connect are mutually exclusive")
	}

	cfg, err := p.Resolve()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Setup(cfg.LogLevel)

	if os.Geteuid() != 0 {
		log.Fatalf("firetunnel needs root privileges")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Printf("tunnel stopped: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg profile.Config) error {
	secret, err := auth.LoadSecret(cfg.SecretFile)
	if err != nil {
		return err
	}
	keys, err := auth.DeriveKeys(secret, cfg.Port)
	if err != nil {
		return err
	}
	slog.Info("keys derived", "fingerprint", keys.Fingerprint(), "port", cfg.Port)

	overlay := cfg.Overlay
	if cfg.Server {
		prober := &dnsprobe.Prober{Logger: slog.Default()}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		chosen, err := prober.Choose(probeCtx, cfg.DNSCandidates)
		cancel()
		if err != nil {
			slog.Warn("dns probe failed, using fallback servers", "err", err)
		}
		overlay.SetDNS(chosen[:])
	}

	sup, err := supervisor.New(supervisor.Options{
		Bridge:   cfg.Bridge,
		Tap:      cfg.Tap,
		RunDir:   cfg.FirejailDir,
		StateDir: cfg.StateDir,
		Links:    device.Links{},
	})
	if err != nil {
		return err
	}
	if !cfg.Server {
		if st, err := sup.LoadState(); err == nil && st.Overlay.Validate() == nil {
			slog.Info("using last known overlay", "overlay", st.Overlay.String(), "updated", st.Updated)
			overlay = st.Overlay
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("ignoring saved state", "path", sup.StatePath(), "err", err)
		}
	}

	devCfg := device.Config{Bridge: cfg.Bridge, Tap: cfg.Tap, MTU: int(overlay.MTU)}
	if cfg.Server {
		devCfg.Gateway = netip.PrefixFrom(overlay.DefaultGW.Addr(), overlay.PrefixLen())
	}
	dev, err := device.Open(devCfg)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()
	slog.Info("device ready", "tap", dev.Name(), "bridge", dev.Bridge())

	if cfg.Server {
		if err := sup.Apply(overlay); err != nil {
			return err
		}
	}

	ch, err := supervisor.NewChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	opts := tunnel.Options{
		Keys:           keys,
		Overlay:        overlay,
		NoScramble:     cfg.NoScramble,
		Debug:          cfg.Debug,
		Period:         cfg.KeepAlive,
		RetryPeriod:    cfg.Retry,
		RateLimitPPS:   cfg.RateLimitPPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Notifier:       ch,
		Logger:         slog.Default(),
		Diag:           os.Stderr,
	}
	listen := fmt.Sprintf(":%d", cfg.Port)
	if cfg.Server {
		opts.Role = tunnel.RoleServer
	} else {
		opts.Role = tunnel.RoleClient
		raddr, err := net.ResolveUDPAddr("udp4", cfg.ServerAddr)
		if err != nil {
			return fmt.Errorf("resolve server: %w", err)
		}
		opts.Remote = raddr.AddrPort()
		listen = ":0"
	}
	conn, err := net.ListenPacket("udp4", listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	t, err := tunnel.New(opts, dev, conn)
	if err != nil {
		return err
	}
	slog.Info("tunnel started", "role", opts.Role.String(), "local", conn.LocalAddr().String(), "scramble", !cfg.NoScramble)

	err = runGroup(ctx,
		func(ctx context.Context) error { return ch.Serve(ctx, sup) },
		t.Run,
	)
	slog.Info(t.Stats().Summary(opts.Role))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runGroup runs the supervisor and the tunnel until ctx is done or either
// fails. The first failure cancels the other and is returned.
func runGroup(ctx context.Context, serve, run func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := serve(gctx); err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}
		return nil
	})
	g.Go(func() error { return run(gctx) })
	return g.Wait()
}
