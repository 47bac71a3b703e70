package supervisor

import (
	"bytes"
	"errors"

	"github.com/bridgefall/overlay/packet"
)

const msgPrefix = "config "

// MessageLen is the size of a configuration message.
const MessageLen = len(msgPrefix) + packet.OverlayLen

var ErrBadMessage = errors.New("supervisor: malformed message")

// EncodeMessage builds the configuration message for o.
func EncodeMessage(o packet.Overlay) []byte {
	msg := make([]byte, MessageLen)
	copy(msg, msgPrefix)
	o.Put(msg[len(msgPrefix):])
	return msg
}

// DecodeMessage parses a configuration message. Trailing bytes are ignored.
func DecodeMessage(msg []byte) (packet.Overlay, error) {
	if len(msg) < MessageLen || !bytes.HasPrefix(msg, []byte(msgPrefix)) {
		return packet.Overlay{}, ErrBadMessage
	}
	var o packet.Overlay
	if err := o.UnmarshalBinary(msg[len(msgPrefix):MessageLen]); err != nil {
		return packet.Overlay{}, err
	}
	return o, nil
}
