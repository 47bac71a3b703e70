package tunnel

import (
	"context"
	"log/slog"
	"net/netip"
)

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func (t *Tunnel) drop(reason DropReason, src netip.AddrPort) {
	if c := t.stats.RxDrop(reason); c != nil {
		c.Inc()
	}
	switch reason {
	case DropAddr, DropDigest:
		t.logWarn(string(reason), "tunnel drop", "reason", string(reason), "addr", src.String())
	default:
		t.logDebug(string(reason), "tunnel drop", "reason", string(reason), "addr", src.String())
	}
}

func (t *Tunnel) dropFrame(reason DropReason) {
	if c := t.stats.EthDrop(reason); c != nil {
		c.Inc()
	}
	if t.logger.Enabled(context.Background(), slog.LevelDebug) {
		t.logger.Debug("device drop", "reason", string(reason))
	}
}

func (t *Tunnel) logWarn(key, msg string, args ...any) {
	if !t.logLimiter.Allow(key, t.opts.Now()) {
		return
	}
	t.logger.Warn(msg, args...)
}

func (t *Tunnel) logDebug(key, msg string, args ...any) {
	if !t.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if !t.logLimiter.Allow("debug_"+key, t.opts.Now()) {
		return
	}
	t.logger.Debug(msg, args...)
}

func (t *Tunnel) logRead(source string, err error) {
	t.logWarn("read_"+source, "read failed", "source", source, "err", err)
}
