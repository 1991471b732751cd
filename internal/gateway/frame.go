// Package gateway broadcasts scheduler transitions to WebSocket clients.
//
// Every connected client receives one event frame per transition. The
// codec is negotiated per connection via the ?codec= query parameter;
// msgpack keys mirror the JSON keys, so both codecs carry the same
// frame shape.
package gateway

import (
	"time"

	"github.com/OCR4all/ocr4all-app-msa/internal/job"
)

// FrameType names the frame category on the wire.
type FrameType string

const (
	FrameHello FrameType = "hello"
	FrameEvent FrameType = "event"
	FramePing  FrameType = "ping"
	FramePong  FrameType = "pong"
)

// Frame is the gateway wire envelope. Keys are kebab-case, matching the
// REST payloads.
type Frame struct {
	Type FrameType `json:"type" msgpack:"type"`

	// Hello fields.
	Codec   string `json:"codec,omitempty" msgpack:"codec,omitempty"`
	Session string `json:"session,omitempty" msgpack:"session,omitempty"`

	// Event fields.
	JobID   int64  `json:"job-id,omitempty" msgpack:"job-id,omitempty"`
	State   string `json:"state,omitempty" msgpack:"state,omitempty"`
	Key     string `json:"key,omitempty" msgpack:"key,omitempty"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`

	Time time.Time `json:"time" msgpack:"time"`
}

func helloFrame(codec, session string) Frame {
	return Frame{
		Type:    FrameHello,
		Codec:   codec,
		Session: session,
		Time:    time.Now().UTC(),
	}
}

func pongFrame() Frame {
	return Frame{Type: FramePong, Time: time.Now().UTC()}
}

func eventFrame(n job.Notification) Frame {
	return Frame{
		Type:    FrameEvent,
		JobID:   n.JobID,
		State:   n.State.String(),
		Key:     n.Key,
		Message: n.Message,
		Time:    n.Time,
	}
}
