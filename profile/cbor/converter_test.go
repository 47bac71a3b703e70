package cborprofile

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bridgefall/overlay/commons/config"
	"github.com/bridgefall/overlay/packet"
)

func sampleState() State {
	o := packet.DefaultOverlay()
	o.SetDNS([]config.IPv4{0x01010101, 0x09090909, 0x08080808})
	return State{
		Bridge:  "ftc",
		Overlay: o,
		Updated: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStateRoundTrip(t *testing.T) {
	in := sampleState()
	data, err := EncodeState(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Bridge != in.Bridge || out.Overlay != in.Overlay || !out.Updated.Equal(in.Updated) {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestJSONCBORJSONRoundTrip(t *testing.T) {
	input := []byte(`{
  "bridge": "fts",
  "updated": "2024-03-01T12:00:00Z",
  "overlay": {
    "netaddr": "10.10.20.0",
    "netmask": "255.255.255.0",
    "defaultgw": "10.10.20.1",
    "mtu": 1434,
    "dns": ["1.1.1.1", "9.9.9.9"]
  }
}`)
	data, err := EncodeJSONState(input)
	if err != nil {
		t.Fatalf("encode json to cbor: %v", err)
	}
	outJSON, err := DecodeCBORToJSON(data)
	if err != nil {
		t.Fatalf("decode cbor to json: %v", err)
	}
	var a, b map[string]any
	if err := json.Unmarshal(input, &a); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if err := json.Unmarshal(outJSON, &b); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("json mismatch:\n%s\n%s", ja, jb)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	a, err := EncodeState(sampleState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := EncodeState(sampleState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("encoding not deterministic")
	}
}

func TestVersionHandling(t *testing.T) {
	payload := map[uint64]any{
		keyVersion: uint64(Version + 1),
		keyBridge:  "fts",
	}
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		t.Fatalf("enc mode: %v", err)
	}
	data, err := mode.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeState(data); err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected version error, got %v", err)
	}
	if _, err := EncodeState(State{}); err == nil {
		t.Fatalf("expected bridge error")
	}
}

func TestDecodeRejectsBadOverlay(t *testing.T) {
	payload := map[uint64]any{
		keyVersion: uint64(Version),
		keyBridge:  "fts",
		keyOverlay: map[uint64]any{keyMTU: "big"},
	}
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		t.Fatalf("enc mode: %v", err)
	}
	data, err := mode.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeState(data); err == nil {
		t.Fatalf("expected overlay error")
	}
}
