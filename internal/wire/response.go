package wire

import (
	"encoding/json"
	"fmt"

	"ilprelay/internal/event"
)

type ResponseKind int

const (
	ResponseOK ResponseKind = iota + 1
	ResponseEOSE
	ResponseEvent
	ResponseNotice
)

// Response is the relay's answer to an inbound packet, rendered on the wire
// as a positional JSON array.
type Response struct {
	Kind           ResponseKind
	EventID        string
	Accepted       bool
	Message        string
	SubscriptionID string
	Event          *event.Event
}

func OKResponse(eventID string, accepted bool, message string) *Response {
	return &Response{Kind: ResponseOK, EventID: eventID, Accepted: accepted, Message: message}
}

func EOSEResponse(subID string) *Response {
	return &Response{Kind: ResponseEOSE, SubscriptionID: subID}
}

func EventResponse(subID string, ev *event.Event) *Response {
	return &Response{Kind: ResponseEvent, SubscriptionID: subID, Event: ev}
}

func NoticeResponse(message string) *Response {
	return &Response{Kind: ResponseNotice, Message: message}
}

// SerializeResponse renders the fixed wire arrays:
// ["OK", eventId, accepted, message], ["EOSE", subId],
// ["EVENT", subId, event], ["NOTICE", message].
// An unknown kind is a bug in the caller, not a runtime condition.
func SerializeResponse(r *Response) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("missing response")
	}
	switch r.Kind {
	case ResponseOK:
		return json.Marshal([]any{"OK", r.EventID, r.Accepted, r.Message})
	case ResponseEOSE:
		return json.Marshal([]any{"EOSE", r.SubscriptionID})
	case ResponseEvent:
		return json.Marshal([]any{"EVENT", r.SubscriptionID, r.Event})
	case ResponseNotice:
		return json.Marshal([]any{"NOTICE", r.Message})
	default:
		return nil, fmt.Errorf("unhandled response kind %d (programming error)", r.Kind)
	}
}
