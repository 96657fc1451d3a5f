package telephony

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event is the type of a media-stream envelope.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventMark      Event = "mark"
	EventStop      Event = "stop"
)

// ErrUnknownEvent is returned by [Parse] for envelopes with an unsupported
// event name.
var ErrUnknownEvent = errors.New("telephony: unknown event")

// Message is one JSON envelope on the media-stream socket. Exactly one of
// the payload fields is set, matching Event.
type Message struct {
	Event          Event  `json:"event"`
	SequenceNumber Number `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	Version        string `json:"version,omitempty"`
	Start          *Start `json:"start,omitempty"`
	Media          *Media `json:"media,omitempty"`
	Mark           *Mark  `json:"mark,omitempty"`
	Stop           *Stop  `json:"stop,omitempty"`
}

// Start announces a new stream.
type Start struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// Custom parameters understood in [Start.CustomParameters].
const (
	ParamVoicePreset = "voicePreset"
	ParamCallID      = "callId"
)

// CallID returns the identifier the stream is bridged under: the callId
// custom parameter when present, the call SID otherwise.
func (s *Start) CallID() string {
	if id := s.CustomParameters[ParamCallID]; id != "" {
		return id
	}
	return s.CallSid
}

// Preset returns the requested voice preset, or "" for the default.
func (s *Start) Preset() string {
	return s.CustomParameters[ParamVoicePreset]
}

// MediaFormat describes the audio of a stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// EncodingMulaw is the only media encoding accepted on the socket.
const EncodingMulaw = "audio/x-mulaw"

// Media carries one base64 μ-law chunk.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     Number `json:"chunk,omitempty"`
	Timestamp Number `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Audio decodes the payload.
func (m *Media) Audio() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: media payload: %w", err)
	}
	return b, nil
}

// Mark names a point in the outbound audio. The peer echoes it back once
// playback reaches it.
type Mark struct {
	Name string `json:"name"`
}

// Stop ends a stream.
type Stop struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// Number is an integer that peers send either as a JSON number or as a
// decimal string.
type Number int64

// UnmarshalJSON accepts 42 and "42".
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("telephony: invalid number %q", b)
	}
	*n = Number(v)
	return nil
}

// MarshalJSON writes the decimal string form.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(n), 10))), nil
}

// Parse decodes and checks one inbound envelope.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("telephony: decode envelope: %w", err)
	}
	switch m.Event {
	case EventConnected:
	case EventStart:
		if m.Start == nil {
			return Message{}, errors.New("telephony: start envelope without start payload")
		}
		if m.StreamSid == "" {
			m.StreamSid = m.Start.StreamSid
		}
	case EventMedia:
		if m.Media == nil {
			return Message{}, errors.New("telephony: media envelope without media payload")
		}
	case EventMark:
		if m.Mark == nil {
			return Message{}, errors.New("telephony: mark envelope without mark payload")
		}
	case EventStop:
		if m.Stop == nil {
			m.Stop = &Stop{}
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownEvent, m.Event)
	}
	return m, nil
}

// NewMediaMessage builds an outbound media envelope.
func NewMediaMessage(streamSid string, mulaw []byte) Message {
	return Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &Media{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
}

// NewMarkMessage builds an outbound mark envelope.
func NewMarkMessage(streamSid, name string) Message {
	return Message{Event: EventMark, StreamSid: streamSid, Mark: &Mark{Name: name}}
}
