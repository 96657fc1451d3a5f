package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_Start(t *testing.T) {
	t.Parallel()
	raw := `{
		"event": "start",
		"sequenceNumber": "1",
		"start": {
			"accountSid": "AC123",
			"streamSid": "MZ18ad3ab5a668481ce02b83e7395059f0",
			"callSid": "CA123",
			"tracks": ["inbound"],
			"customParameters": {"voicePreset": "robot"},
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
		},
		"streamSid": "MZ18ad3ab5a668481ce02b83e7395059f0"
	}`
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Event != EventStart || msg.SequenceNumber != 1 {
		t.Errorf("event=%q seq=%d", msg.Event, msg.SequenceNumber)
	}
	if got := msg.Start.CallID(); got != "CA123" {
		t.Errorf("CallID = %q, want CA123", got)
	}
	if got := msg.Start.Preset(); got != "robot" {
		t.Errorf("Preset = %q, want robot", got)
	}
	if f := msg.Start.MediaFormat; f.Encoding != EncodingMulaw || f.SampleRate != 8000 || f.Channels != 1 {
		t.Errorf("media format = %+v", f)
	}
}

func TestStart_CallIDOverride(t *testing.T) {
	t.Parallel()
	s := &Start{CallSid: "CA123", CustomParameters: map[string]string{ParamCallID: "support-42"}}
	if got := s.CallID(); got != "support-42" {
		t.Errorf("CallID = %q, want the callId parameter", got)
	}
}

func TestParse_MediaNumbers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
	}{
		{"string fields", `{"event":"media","media":{"track":"inbound","chunk":"2","timestamp":"5","payload":"AAEC"}}`},
		{"numeric fields", `{"event":"media","media":{"track":"inbound","chunk":2,"timestamp":5,"payload":"AAEC"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if msg.Media.Chunk != 2 || msg.Media.Timestamp != 5 {
				t.Errorf("chunk=%d timestamp=%d, want 2 and 5", msg.Media.Chunk, msg.Media.Timestamp)
			}
			data, err := msg.Media.Audio()
			if err != nil {
				t.Fatalf("Audio: %v", err)
			}
			if !bytes.Equal(data, []byte{0, 1, 2}) {
				t.Errorf("Audio = %v, want [0 1 2]", data)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "unknown event", raw: `{"event":"dtmf"}`, wantErr: ErrUnknownEvent},
		{name: "start without payload", raw: `{"event":"start"}`},
		{name: "media without payload", raw: `{"event":"media"}`},
		{name: "mark without payload", raw: `{"event":"mark"}`},
		{name: "bad number", raw: `{"event":"media","media":{"timestamp":"soon","payload":""}}`},
		{name: "not json", raw: `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMedia_BadPayload(t *testing.T) {
	t.Parallel()
	m := &Media{Payload: "not base64!"}
	if _, err := m.Audio(); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestOutboundEnvelopes(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(NewMediaMessage("MZ1", []byte{0xFF, 0x7E}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"event":"media","streamSid":"MZ1","media":{"payload":"/34="}}`
	if string(b) != want {
		t.Errorf("media envelope = %s, want %s", b, want)
	}

	b, err = json.Marshal(NewMarkMessage("MZ1", "7"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want = `{"event":"mark","streamSid":"MZ1","mark":{"name":"7"}}`
	if string(b) != want {
		t.Errorf("mark envelope = %s, want %s", b, want)
	}
}
