package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
)

// Bridge between relay responses and ILP's hashlock settlement: a fulfillment
// releases the payment by presenting a preimage whose sha256 equals the
// packet's condition; a rejection carries one of four fixed codes.

const PreimageSize = 32

var ErrConditionMismatch = errors.New("preimage does not hash to condition")

type RejectionCode string

const (
	CodeTemporaryFailure        RejectionCode = "T00"
	CodeInvalidPacket           RejectionCode = "F01"
	CodeInsufficientDestination RejectionCode = "F04"
	CodeApplicationError        RejectionCode = "F99"
)

func (c RejectionCode) Valid() bool {
	switch c {
	case CodeTemporaryFailure, CodeInvalidPacket, CodeInsufficientDestination, CodeApplicationError:
		return true
	}
	return false
}

type Fulfillment struct {
	Preimage  [PreimageSize]byte
	Condition [32]byte
	Data      []byte
}

type Rejection struct {
	Code    RejectionCode
	Message string
	Data    []byte
}

// BuildFulfillment packages a serialized response with a 32-byte preimage.
// When preimage is supplied its hash must equal condition; when absent a
// random preimage is generated and the derived condition returned with it.
func BuildFulfillment(r *Response, condition [32]byte, preimage []byte) (*Fulfillment, error) {
	data, err := SerializeResponse(r)
	if err != nil {
		return nil, err
	}
	f := &Fulfillment{Data: data}
	if preimage != nil {
		if len(preimage) != PreimageSize {
			return nil, fmt.Errorf("preimage must be %d bytes, got %d", PreimageSize, len(preimage))
		}
		copy(f.Preimage[:], preimage)
		if sha256.Sum256(preimage) != condition {
			return nil, ErrConditionMismatch
		}
		f.Condition = condition
		return f, nil
	}
	if _, err := rand.Read(f.Preimage[:]); err != nil {
		return nil, err
	}
	f.Condition = sha256.Sum256(f.Preimage[:])
	return f, nil
}

// BuildRejection maps an internal error to a fixed code and wraps the message
// as a NOTICE payload. Unknown codes collapse to application-error.
func BuildRejection(err error, code RejectionCode) *Rejection {
	if !code.Valid() {
		code = CodeApplicationError
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	data, jsonErr := SerializeResponse(NoticeResponse(msg))
	if jsonErr != nil {
		data, _ = json.Marshal([]any{"NOTICE", ""})
	}
	return &Rejection{Code: code, Message: msg, Data: data}
}
