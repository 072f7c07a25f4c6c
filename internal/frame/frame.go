// Package frame decodes and encodes the carrier's WebSocket JSON protocol.
// Two wire shapes are supported, auto-detected from the fields present on
// the "start" event: Twilio-style (streamSid, with start.callSid) and
// Telnyx-style (stream_id, with start.call_control_id). Once a call's provider is
// detected, every subsequent frame on that connection is decoded/encoded
// against that provider's field names.
package frame

import (
	"encoding/json"
	"fmt"
)

// Provider identifies which carrier wire shape a connection uses.
type Provider string

const (
	ProviderTwilio Provider = "twilio"
	ProviderTelnyx Provider = "telnyx"
)

// EventType is the normalized inbound event, independent of carrier.
type EventType string

const (
	EventStart   EventType = "start"
	EventMedia   EventType = "media"
	EventStop    EventType = "stop"
	EventMark    EventType = "mark"
	EventDTMF    EventType = "dtmf"
	EventUnknown EventType = "unknown"
)

// InboundFrame is a carrier frame normalized across providers.
type InboundFrame struct {
	Event       EventType
	StreamID    string
	CallID      string
	PayloadB64  string // base64-encoded mu-law@8kHz for EventMedia
	Digit       string // for EventDTMF
	CustomField map[string]any
}

// twilioEnvelope and telnyxEnvelope mirror the minimal fields needed to
// detect provider and route to the right decode path; grounded in the
// start/media/stop event shapes Exotel/Twilio-style carriers send (see
// mansuri-sabit-zoro's ExotelEvent/StartEvent/MediaEvent/StopEvent).
type twilioEnvelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     struct {
		CallSid          string         `json:"callSid"`
		CustomParameters map[string]any `json:"customParameters"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark"`
	Dtmf struct {
		Digit string `json:"digit"`
	} `json:"dtmf"`
}

type telnyxEnvelope struct {
	Event    string `json:"event"`
	StreamID string `json:"stream_id"`
	Start    struct {
		CallControlID string         `json:"call_control_id"`
		CustomParams  map[string]any `json:"custom_parameters"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark"`
	DTMF struct {
		Digit string `json:"digit"`
	} `json:"dtmf"`
}

// Detect inspects a raw "start" frame and reports which carrier sent it.
// Twilio and Twilio-compatible carriers key the stream on "streamSid";
// Telnyx keys it on "stream_id". Presence of either field, independent of
// its value, is sufficient to route every subsequent frame on this
// connection.
func Detect(raw []byte) (Provider, error) {
	var probe struct {
		StreamSid *string `json:"streamSid"`
		StreamID  *string `json:"stream_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("frame: detect provider: %w", err)
	}
	switch {
	case probe.StreamSid != nil:
		return ProviderTwilio, nil
	case probe.StreamID != nil:
		return ProviderTelnyx, nil
	default:
		return "", fmt.Errorf("frame: could not detect carrier provider from start frame")
	}
}

// Decode parses a raw inbound frame for the given provider into its
// normalized form.
func Decode(provider Provider, raw []byte) (InboundFrame, error) {
	switch provider {
	case ProviderTwilio:
		return decodeTwilio(raw)
	case ProviderTelnyx:
		return decodeTelnyx(raw)
	default:
		return InboundFrame{}, fmt.Errorf("frame: unknown provider %q", provider)
	}
}

func decodeTwilio(raw []byte) (InboundFrame, error) {
	var env twilioEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundFrame{}, fmt.Errorf("frame: decode twilio frame: %w", err)
	}
	f := InboundFrame{
		Event:    normalizeEvent(env.Event),
		StreamID: env.StreamSid,
	}
	switch f.Event {
	case EventStart:
		f.CallID = env.Start.CallSid
		f.CustomField = env.Start.CustomParameters
	case EventMedia:
		f.PayloadB64 = env.Media.Payload
	case EventDTMF:
		f.Digit = env.Dtmf.Digit
	}
	return f, nil
}

func decodeTelnyx(raw []byte) (InboundFrame, error) {
	var env telnyxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundFrame{}, fmt.Errorf("frame: decode telnyx frame: %w", err)
	}
	f := InboundFrame{
		Event:    normalizeEvent(env.Event),
		StreamID: env.StreamID,
	}
	switch f.Event {
	case EventStart:
		f.CallID = env.Start.CallControlID
		f.CustomField = env.Start.CustomParams
	case EventMedia:
		f.PayloadB64 = env.Media.Payload
	case EventDTMF:
		f.Digit = env.DTMF.Digit
	}
	return f, nil
}

func normalizeEvent(raw string) EventType {
	switch raw {
	case "start":
		return EventStart
	case "media":
		return EventMedia
	case "stop":
		return EventStop
	case "mark":
		return EventMark
	case "dtmf":
		return EventDTMF
	default:
		return EventUnknown
	}
}

// EncodeMedia builds the outbound "media" frame that carries one packet of
// base64-encoded mu-law@8kHz audio back to the carrier.
func EncodeMedia(provider Provider, streamID string, payloadB64 string) ([]byte, error) {
	switch provider {
	case ProviderTwilio:
		return json.Marshal(map[string]any{
			"event":     "media",
			"streamSid": streamID,
			"media":     map[string]string{"payload": payloadB64},
		})
	case ProviderTelnyx:
		return json.Marshal(map[string]any{
			"event":     "media",
			"stream_id": streamID,
			"media":     map[string]string{"payload": payloadB64},
		})
	default:
		return nil, fmt.Errorf("frame: unknown provider %q", provider)
	}
}

// EncodeClear builds the outbound "clear" frame that tells the carrier to
// discard any buffered outbound audio immediately — sent on barge-in so
// audio already queued on the carrier side doesn't keep playing after the
// playback-token gate has invalidated it locally.
func EncodeClear(provider Provider, streamID string) ([]byte, error) {
	switch provider {
	case ProviderTwilio:
		return json.Marshal(map[string]any{
			"event":     "clear",
			"streamSid": streamID,
		})
	case ProviderTelnyx:
		return json.Marshal(map[string]any{
			"event":     "clear",
			"stream_id": streamID,
		})
	default:
		return nil, fmt.Errorf("frame: unknown provider %q", provider)
	}
}

// EncodeMark builds the outbound "mark" frame, letting the relay ask the
// carrier to notify it (by echoing the mark back) once buffered audio
// through this point has actually been played.
func EncodeMark(provider Provider, streamID, name string) ([]byte, error) {
	switch provider {
	case ProviderTwilio:
		return json.Marshal(map[string]any{
			"event":     "mark",
			"streamSid": streamID,
			"mark":      map[string]string{"name": name},
		})
	case ProviderTelnyx:
		return json.Marshal(map[string]any{
			"event":     "mark",
			"stream_id": streamID,
			"mark":      map[string]string{"name": name},
		})
	default:
		return nil, fmt.Errorf("frame: unknown provider %q", provider)
	}
}
