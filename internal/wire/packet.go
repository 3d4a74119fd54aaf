package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"ilprelay/internal/event"
)

// Wire layout: 1 byte version, 1 byte message type, big-endian uint16 payload
// length, then exactly payloadLength bytes of JSON.
const (
	Version    = 1
	HeaderSize = 4
	MaxPayload = 1<<16 - 1
)

type MessageType byte

const (
	TypeEvent  MessageType = 0x01
	TypeReq    MessageType = 0x02
	TypeClose  MessageType = 0x03
	TypeNotice MessageType = 0x04
	TypeEOSE   MessageType = 0x05
	TypeOK     MessageType = 0x06
	TypeAuth   MessageType = 0x07
)

func (t MessageType) Valid() bool {
	return t >= TypeEvent && t <= TypeAuth
}

func (t MessageType) String() string {
	switch t {
	case TypeEvent:
		return "EVENT"
	case TypeReq:
		return "REQ"
	case TypeClose:
		return "CLOSE"
	case TypeNotice:
		return "NOTICE"
	case TypeEOSE:
		return "EOSE"
	case TypeOK:
		return "OK"
	case TypeAuth:
		return "AUTH"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

var ErrMalformedPacket = errors.New("malformed packet")

type Payment struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
	Purpose  string `json:"purpose,omitempty"`
}

type Metadata struct {
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	TTL       int    `json:"ttl,omitempty"`
	HopCount  int    `json:"hopCount,omitempty"`
}

type Payload struct {
	Payment        Payment        `json:"payment"`
	Event          *event.Event   `json:"event,omitempty"`
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	Filters        []event.Filter `json:"filters,omitempty"`
	Message        string         `json:"message,omitempty"`
	Metadata       Metadata       `json:"metadata"`
}

type Packet struct {
	Version byte
	Type    MessageType
	Payload Payload
}

// Detect reports whether buf looks like one of our wrapped packets. All four
// header checks must pass; a failed check means "not ours", never an error.
func Detect(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	if buf[0] != Version {
		return false
	}
	if !MessageType(buf[1]).Valid() {
		return false
	}
	declared := int(binary.BigEndian.Uint16(buf[2:4]))
	return HeaderSize+declared == len(buf)
}

// Parse re-validates the header and decodes the JSON payload. The declared
// length must account for the whole buffer before any JSON is touched.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(buf), HeaderSize)
	}
	if buf[0] != Version {
		return nil, fmt.Errorf("%w: version %d", ErrMalformedPacket, buf[0])
	}
	t := MessageType(buf[1])
	if !t.Valid() {
		return nil, fmt.Errorf("%w: message type 0x%02x", ErrMalformedPacket, buf[1])
	}
	declared := int(binary.BigEndian.Uint16(buf[2:4]))
	if HeaderSize+declared != len(buf) {
		return nil, fmt.Errorf("%w: declared payload %d, actual %d", ErrMalformedPacket, declared, len(buf)-HeaderSize)
	}
	p := &Packet{Version: buf[0], Type: t}
	if err := json.Unmarshal(buf[HeaderSize:], &p.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload json: %v", ErrMalformedPacket, err)
	}
	return p, nil
}

// Serialize renders a packet back to wire bytes.
func Serialize(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("missing packet")
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("invalid message type 0x%02x", byte(p.Type))
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	out := make([]byte, HeaderSize+len(payload))
	out[0] = Version
	out[1] = byte(p.Type)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}
