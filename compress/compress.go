// Package compress implements stateful header compression for tunnelled
// Ethernet frames. Each endpoint learns header templates per traffic
// direction in 256-slot tables keyed by a one-byte hash; a compressed frame
// carries the slot id and only the header fields that vary per packet.
package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/bridgefall/overlay/commons/metrics"
)

// Direction selects the server-to-client or client-to-server table.
type Direction uint8

const (
	S2C Direction = iota
	C2S
)

func (d Direction) String() string {
	if d == S2C {
		return "s2c"
	}
	return "c2s"
}

// TableSize is the number of slots per direction.
const TableSize = 256

// Headroom is the space a receive buffer must keep in front of a compressed
// frame so the full header can be rebuilt in place.
const Headroom = 64

var (
	ErrInactiveSlot = errors.New("compress: slot not active")
	ErrShortFrame   = errors.New("compress: frame too short")
	ErrHeadroom     = errors.New("compress: insufficient headroom")
)

// Variant is one header compression scheme.
type Variant interface {
	Name() string
	// Eligible reports whether the variant can compress frame and rebuild
	// it byte for byte.
	Eligible(frame []byte) bool
	// AppendTemplate appends the frame's template bytes to dst.
	AppendTemplate(dst, frame []byte) []byte
	// Removed is the number of bytes compression strips from the front.
	Removed() int
	// Compress moves the variable fields into place so that
	// frame[Removed():] is the wire form.
	Compress(frame []byte)
	// Decompress writes the full header into hdr, which spans the first
	// Removed()+kept bytes of the rebuilt frame. kept holds the variable
	// fields copied off the wire and total is the rebuilt frame length.
	Decompress(hdr, kept, tmpl []byte, total int)
	// Kept is the number of header bytes left on the wire.
	Kept() int
	// Describe summarises a template for diagnostics.
	Describe(tmpl []byte) string
}

// Slot is one compression table entry.
type Slot struct {
	Active   bool
	Count    int
	Template []byte
}

// Table is one direction's slots.
type Table [TableSize]Slot

// Engine holds both direction tables for a variant.
type Engine struct {
	variant Variant
	tables  [2]Table
	scratch []byte

	Collisions metrics.Counter
	Compressed metrics.Counter
}

// NewEngine returns an engine with empty tables.
func NewEngine(v Variant) *Engine {
	return &Engine{variant: v, scratch: make([]byte, 0, 64)}
}

// Variant returns the scheme the engine runs.
func (e *Engine) Variant() Variant {
	return e.variant
}

// Reset deactivates every slot in both directions.
func (e *Engine) Reset() {
	e.tables = [2]Table{}
}

// Slot returns a copy of the entry at sid.
func (e *Engine) Slot(dir Direction, sid uint8) Slot {
	return e.tables[dir][sid]
}

// Hash folds a template into a slot id.
func Hash(tmpl []byte) uint8 {
	var h uint8
	for _, b := range tmpl {
		h ^= b
	}
	return h
}

// compressible implements the resynchronisation duty cycle. The first three
// repeats go out with full headers, then one in every 8, one in every 20
// past 20 repeats, and one in every 50 once the flow is past 50.
func compressible(cnt int) bool {
	switch {
	case cnt > 50:
		return cnt%50 != 0
	case cnt > 20:
		return cnt%20 != 0
	case cnt > 3:
		return cnt%8 != 0
	}
	return false
}

// Classify records frame in the dir table and reports whether it may be sent
// compressed, along with its slot id.
func (e *Engine) Classify(frame []byte, dir Direction) (bool, uint8) {
	e.scratch = e.variant.AppendTemplate(e.scratch[:0], frame)
	sid := Hash(e.scratch)
	slot := &e.tables[dir][sid]
	switch {
	case !slot.Active:
		slot.Active = true
		slot.Count = 1
		slot.Template = append(slot.Template[:0], e.scratch...)
		return false, sid
	case string(slot.Template) != string(e.scratch):
		e.Collisions.Inc()
		slot.Count = 1
		slot.Template = append(slot.Template[:0], e.scratch...)
		return false, sid
	}
	slot.Count++
	return compressible(slot.Count), sid
}

// Compress rewrites frame in place and returns the number of leading bytes
// to skip; frame[n:] is the wire form.
func (e *Engine) Compress(frame []byte) int {
	e.variant.Compress(frame)
	e.Compressed.Inc()
	return e.variant.Removed()
}

// Decompress rebuilds the frame held in buf[off:] using slot sid of the dir
// table. The header is written into the headroom in front of off; the
// returned offset is where the full frame now starts.
func (e *Engine) Decompress(buf []byte, off int, sid uint8, dir Direction) (int, error) {
	slot := &e.tables[dir][sid]
	if !slot.Active {
		return 0, ErrInactiveSlot
	}
	removed, keptLen := e.variant.Removed(), e.variant.Kept()
	if len(buf)-off < keptLen {
		return 0, ErrShortFrame
	}
	if off < removed {
		return 0, ErrHeadroom
	}
	var kept [16]byte
	copy(kept[:keptLen], buf[off:off+keptLen])
	start := off - removed
	total := len(buf) - start
	e.variant.Decompress(buf[start:start+removed+keptLen], kept[:keptLen], slot.Template, total)
	return start, nil
}

// Dump writes the active slots of the dir table.
func (e *Engine) Dump(w io.Writer, dir Direction) {
	fmt.Fprintf(w, "Compression %s table (%s):\n", e.variant.Name(), dir)
	for i := range e.tables[dir] {
		slot := &e.tables[dir][i]
		if !slot.Active {
			continue
		}
		fmt.Fprintf(w, "   %d:%d\t%s\n", i, slot.Count, e.variant.Describe(slot.Template))
	}
}
