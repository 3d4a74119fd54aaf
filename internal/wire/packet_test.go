package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"ilprelay/internal/event"
)

func buildRaw(version, msgType byte, declared int, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	buf[0] = version
	buf[1] = msgType
	binary.BigEndian.PutUint16(buf[2:4], uint16(declared))
	copy(buf[4:], payload)
	return buf
}

func TestDetectRequiresAllHeaderChecks(t *testing.T) {
	payload := []byte("{ }  ")
	good := buildRaw(1, 0x01, len(payload), payload)
	if !Detect(good) {
		t.Fatalf("expected detect true for valid packet")
	}
	cases := map[string][]byte{
		"short":        {0x01, 0x01, 0x00},
		"bad version":  buildRaw(2, 0x01, len(payload), payload),
		"type zero":    buildRaw(1, 0x00, len(payload), payload),
		"type high":    buildRaw(1, 0x08, len(payload), payload),
		"len mismatch": buildRaw(1, 0x01, len(payload)+1, payload),
	}
	for name, buf := range cases {
		if Detect(buf) {
			t.Fatalf("expected detect false for %s", name)
		}
	}
}

func TestParseValidEventPacket(t *testing.T) {
	payload := []byte("{ }  ")
	buf := buildRaw(1, 0x01, 5, payload)
	if !Detect(buf) {
		t.Fatalf("expected detect true")
	}
	p, err := Parse(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if p.Type != TypeEvent || p.Type.String() != "EVENT" {
		t.Fatalf("expected EVENT type, got %s", p.Type)
	}
	if HeaderSize+5 != len(buf) {
		t.Fatalf("header invariant broken")
	}
}

func TestParseTruncatedPayload(t *testing.T) {
	// Declares 5 payload bytes but carries only 2.
	buf := []byte{0x01, 0x01, 0x00, 0x05, 0xff, 0xff}
	if _, err := Parse(buf); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	payload := []byte("{nope")
	buf := buildRaw(1, 0x02, len(payload), payload)
	if !Detect(buf) {
		t.Fatalf("detect should not inspect the payload body")
	}
	if _, err := Parse(buf); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	pkt := &Packet{
		Version: Version,
		Type:    TypeEvent,
		Payload: Payload{
			Payment: Payment{Amount: 10, Currency: "XRP", Purpose: "event_propagation"},
			Event: &event.Event{
				ID:        "00a1",
				PubKey:    "alice",
				CreatedAt: 1700000000,
				Kind:      1,
				Tags:      [][]string{{"e", "abc"}},
				Content:   "hello",
			},
			Metadata: Metadata{Timestamp: 1700000000, Sender: "g.alice", TTL: 5, HopCount: 1},
		},
	}
	buf, err := Serialize(pkt)
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	if !Detect(buf) {
		t.Fatalf("serialized packet not detected")
	}
	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Payload.Event == nil || got.Payload.Event.Content != "hello" {
		t.Fatalf("event payload lost in round trip")
	}
	if got.Payload.Metadata.TTL != 5 || got.Payload.Metadata.Sender != "g.alice" {
		t.Fatalf("metadata lost in round trip")
	}
}

func TestSerializeResponseShapes(t *testing.T) {
	cases := []struct {
		resp *Response
		want string
	}{
		{OKResponse("e1", true, "stored"), `["OK","e1",true,"stored"]`},
		{EOSEResponse("sub1"), `["EOSE","sub1"]`},
		{NoticeResponse("slow down"), `["NOTICE","slow down"]`},
	}
	for _, tc := range cases {
		got, err := SerializeResponse(tc.resp)
		if err != nil {
			t.Fatalf("serialize response failed: %v", err)
		}
		if string(got) != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
	if _, err := SerializeResponse(&Response{Kind: ResponseKind(42)}); err == nil {
		t.Fatalf("expected error for unknown response kind")
	}
}

func TestBuildFulfillmentGeneratesPreimage(t *testing.T) {
	f, err := BuildFulfillment(EOSEResponse("sub1"), [32]byte{}, nil)
	if err != nil {
		t.Fatalf("build fulfillment failed: %v", err)
	}
	if sha256.Sum256(f.Preimage[:]) != f.Condition {
		t.Fatalf("derived condition does not match preimage")
	}
	if len(f.Data) == 0 {
		t.Fatalf("missing serialized response")
	}
}

func TestBuildFulfillmentChecksCondition(t *testing.T) {
	preimage := bytes.Repeat([]byte{0x7f}, PreimageSize)
	condition := sha256.Sum256(preimage)
	f, err := BuildFulfillment(OKResponse("e1", true, ""), condition, preimage)
	if err != nil {
		t.Fatalf("build fulfillment failed: %v", err)
	}
	if f.Condition != condition {
		t.Fatalf("condition not carried through")
	}
	var wrong [32]byte
	if _, err := BuildFulfillment(OKResponse("e1", true, ""), wrong, preimage); !errors.Is(err, ErrConditionMismatch) {
		t.Fatalf("expected ErrConditionMismatch, got %v", err)
	}
}

func TestBuildRejectionCodes(t *testing.T) {
	r := BuildRejection(errors.New("boom"), CodeInvalidPacket)
	if r.Code != CodeInvalidPacket {
		t.Fatalf("expected F01, got %s", r.Code)
	}
	if string(r.Data) != `["NOTICE","boom"]` {
		t.Fatalf("unexpected rejection payload: %s", r.Data)
	}
	r = BuildRejection(errors.New("boom"), RejectionCode("X99"))
	if r.Code != CodeApplicationError {
		t.Fatalf("unknown code should collapse to F99, got %s", r.Code)
	}
}
