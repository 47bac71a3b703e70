package packet

import (
	"errors"
	"testing"
)

func TestHeaderLayout(t *testing.T) {
	h := Header{Opcode: OpDataCompressedL3, Reserved: ReservedDNS, SID: 0xab, Seq: 0x1234, Timestamp: 0x5b000001}
	b := make([]byte, HeaderLen)
	h.Put(b)
	want := []byte{0x31, 0xab, 0x12, 0x34, 0x5b, 0x00, 0x00, 0x01}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, b[i], want[i])
		}
	}
	got, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, h)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	if _, err := ParseHeader(make([]byte, HeaderLen-1)); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected short header, got %v", err)
	}
	b := make([]byte, HeaderLen)
	b[0] = 5 << 4
	if _, err := ParseHeader(b); !errors.Is(err, ErrBadOpcode) {
		t.Fatalf("expected bad opcode, got %v", err)
	}
}

func TestOpcodeIsData(t *testing.T) {
	for op := OpHello; op < opMax; op++ {
		want := op == OpData || op == OpDataCompressedL2 || op == OpDataCompressedL3
		if op.IsData() != want {
			t.Fatalf("%s IsData = %v", op, op.IsData())
		}
	}
}
