package cborprofile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bridgefall/overlay/commons/config"
	"github.com/bridgefall/overlay/packet"
	"github.com/bridgefall/overlay/profile"
)

const (
	Version = 1
)

const (
	keyVersion uint64 = 0
	keyBridge  uint64 = 1
	keyUpdated uint64 = 2
	keyOverlay uint64 = 3
)

const (
	keyNetAddr   uint64 = 1
	keyNetMask   uint64 = 2
	keyDefaultGW uint64 = 3
	keyMTU       uint64 = 4
	keyDNS       uint64 = 5
)

// State is the overlay a supervisor last applied to a bridge.
type State struct {
	Bridge  string
	Overlay packet.Overlay
	Updated time.Time
}

// EncodeState converts a state record into deterministic CBOR bytes.
func EncodeState(s State) ([]byte, error) {
	if s.Bridge == "" {
		return nil, fmt.Errorf("bridge required")
	}
	payload := map[uint64]any{
		keyVersion: uint64(Version),
		keyBridge:  s.Bridge,
		keyOverlay: encodeOverlay(s.Overlay),
	}
	if !s.Updated.IsZero() {
		payload[keyUpdated] = uint64(s.Updated.Unix())
	}
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(payload)
}

// DecodeState parses CBOR bytes into a state record.
func DecodeState(data []byte) (State, error) {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return State{}, err
	}
	var raw map[uint64]any
	if err := mode.Unmarshal(data, &raw); err != nil {
		return State{}, err
	}
	version, ok := raw[keyVersion]
	if !ok {
		return State{}, fmt.Errorf("cbor state missing version")
	}
	versionInt, err := asUint(version)
	if err != nil {
		return State{}, fmt.Errorf("cbor state version invalid: %w", err)
	}
	if versionInt != Version {
		return State{}, fmt.Errorf("unsupported cbor state version %d", versionInt)
	}

	var out State
	if v, ok := raw[keyBridge]; ok {
		out.Bridge, err = asString(v)
		if err != nil {
			return State{}, fmt.Errorf("bridge: %w", err)
		}
	}
	if v, ok := raw[keyUpdated]; ok {
		sec, err := asUint(v)
		if err != nil {
			return State{}, fmt.Errorf("updated: %w", err)
		}
		out.Updated = time.Unix(int64(sec), 0).UTC()
	}
	if v, ok := raw[keyOverlay]; ok {
		o, err := decodeOverlay(v)
		if err != nil {
			return State{}, fmt.Errorf("overlay: %w", err)
		}
		out.Overlay = o
	}
	return out, nil
}

// EncodeJSONState converts a JSON state document into CBOR bytes.
func EncodeJSONState(jsonData []byte) ([]byte, error) {
	var in jsonState
	if err := config.DecodeJSON(jsonData, &in); err != nil {
		return nil, err
	}
	s := State{Bridge: in.Bridge}
	if in.Updated != "" {
		ts, err := time.Parse(time.RFC3339, in.Updated)
		if err != nil {
			return nil, fmt.Errorf("updated: %w", err)
		}
		s.Updated = ts
	}
	o := packet.Overlay{
		NetAddr:   in.Overlay.NetAddr,
		NetMask:   in.Overlay.NetMask,
		DefaultGW: in.Overlay.DefaultGW,
		MTU:       uint32(in.Overlay.MTU),
	}
	o.SetDNS(in.Overlay.DNS)
	s.Overlay = o
	return EncodeState(s)
}

// DecodeCBORToJSON converts CBOR bytes into a JSON state document.
func DecodeCBORToJSON(data []byte) ([]byte, error) {
	s, err := DecodeState(data)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(stateToJSON(s), "", "  ")
}

type jsonState struct {
	Bridge  string                `json:"bridge"`
	Updated string                `json:"updated,omitempty"`
	Overlay profile.OverlayConfig `json:"overlay"`
}

func stateToJSON(s State) jsonState {
	out := jsonState{
		Bridge: s.Bridge,
		Overlay: profile.OverlayConfig{
			NetAddr:   s.Overlay.NetAddr,
			NetMask:   s.Overlay.NetMask,
			DefaultGW: s.Overlay.DefaultGW,
			MTU:       int(s.Overlay.MTU),
			DNS:       s.Overlay.DNS(),
		},
	}
	if !s.Updated.IsZero() {
		out.Updated = s.Updated.UTC().Format(time.RFC3339)
	}
	return out
}

func encodeOverlay(o packet.Overlay) map[uint64]any {
	out := map[uint64]any{
		keyNetAddr:   uint64(o.NetAddr),
		keyNetMask:   uint64(o.NetMask),
		keyDefaultGW: uint64(o.DefaultGW),
		keyMTU:       uint64(o.MTU),
	}
	if dns := o.DNS(); len(dns) > 0 {
		list := make([]uint64, len(dns))
		for i, ip := range dns {
			list[i] = uint64(ip)
		}
		out[keyDNS] = list
	}
	return out
}

func decodeOverlay(value any) (packet.Overlay, error) {
	raw, err := asMapUint(value)
	if err != nil {
		return packet.Overlay{}, fmt.Errorf("expected map: %w", err)
	}
	var out packet.Overlay
	fields := []struct {
		key uint64
		dst *config.IPv4
	}{
		{keyNetAddr, &out.NetAddr},
		{keyNetMask, &out.NetMask},
		{keyDefaultGW, &out.DefaultGW},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		val, err := asUint32(v)
		if err != nil {
			return packet.Overlay{}, err
		}
		*f.dst = config.IPv4(val)
	}
	if v, ok := raw[keyMTU]; ok {
		out.MTU, err = asUint32(v)
		if err != nil {
			return packet.Overlay{}, err
		}
	}
	if v, ok := raw[keyDNS]; ok {
		list, ok := v.([]any)
		if !ok {
			return packet.Overlay{}, fmt.Errorf("dns: expected array got %T", v)
		}
		if len(list) > 3 {
			return packet.Overlay{}, fmt.Errorf("dns: %d entries", len(list))
		}
		servers := make([]config.IPv4, 0, len(list))
		for _, item := range list {
			val, err := asUint32(item)
			if err != nil {
				return packet.Overlay{}, fmt.Errorf("dns: %w", err)
			}
			servers = append(servers, config.IPv4(val))
		}
		out.SetDNS(servers)
	}
	return out, nil
}

func asUint(value any) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value")
		}
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value")
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", value)
	}
}

func asUint32(value any) (uint32, error) {
	v, err := asUint(value)
	if err != nil {
		return 0, err
	}
	if v > 0xffffffff {
		return 0, fmt.Errorf("overflow")
	}
	return uint32(v), nil
}

func asString(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("expected string got %T", value)
	}
	return str, nil
}

func asMapUint(value any) (map[uint64]any, error) {
	switch m := value.(type) {
	case map[uint64]any:
		return m, nil
	case map[any]any:
		out := make(map[uint64]any, len(m))
		for key, val := range m {
			k, err := asUint(key)
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", value)
	}
}
