package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a signed, content-addressed social event. Once signed it is
// immutable; identity is ID.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Verifier checks the signature over an event id. Implemented outside the
// core (secp256k1/Schnorr lives elsewhere).
type Verifier interface {
	Verify(ev *Event) error
}

// ComputeID returns the lowercase hex sha256 of the canonical serialization
// [0, pubkey, created_at, kind, tags, content].
func ComputeID(ev *Event) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("missing event")
	}
	tags := ev.Tags
	if tags == nil {
		tags = [][]string{}
	}
	canonical := []any{0, ev.PubKey, ev.CreatedAt, ev.Kind, tags, ev.Content}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (ev *Event) Validate() error {
	if ev == nil {
		return fmt.Errorf("missing event")
	}
	if !isHex(ev.ID, 64) {
		return fmt.Errorf("bad event id")
	}
	if !isHex(ev.PubKey, 64) {
		return fmt.Errorf("bad event pubkey")
	}
	if ev.Kind < 0 {
		return fmt.Errorf("negative kind")
	}
	if ev.Sig != "" && !isHex(ev.Sig, 128) {
		return fmt.Errorf("bad event sig")
	}
	id, err := ComputeID(ev)
	if err != nil {
		return err
	}
	if id != strings.ToLower(ev.ID) {
		return fmt.Errorf("event id mismatch")
	}
	return nil
}

// TagValues returns the values of all tags whose first element equals name.
func (ev *Event) TagValues(name string) []string {
	if ev == nil {
		return nil
	}
	var out []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
