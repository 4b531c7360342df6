package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed inbound message. It is non-fatal: the
// caller logs it and discards the message, losing exactly one event.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: malformed message: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Encode serialises a Command for the socket. AudioData is returned verbatim
// with binary=true; every other variant is returned as a JSON envelope with
// binary=false. Commands with a zero Timestamp are stamped with the current
// epoch-millisecond time before marshalling.
func Encode(cmd Command) (payload []byte, binary bool, err error) {
	switch c := cmd.(type) {
	case AudioData:
		return c.PCM, true, nil

	case SessionStart:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			SessionStart
		}{TypeSessionStart, c})

	case SessionEnd:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			SessionEnd
		}{TypeSessionEnd, c})

	case ImageFrame:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			ImageFrame
		}{TypeImageFrame, c})

	case Interrupt:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			Interrupt
		}{TypeInterrupt, c})

	case SpeechFinished:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			SpeechFinished
		}{TypeSpeechFinished, c})

	case Heartbeat:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			Heartbeat
		}{TypeHeartbeat, c})

	case Pong:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			Pong
		}{TypePong, c})

	case LanguageChange:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			LanguageChange
		}{TypeLanguageChange, c})

	case VoiceChange:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			VoiceChange
		}{TypeVoiceChange, c})

	case PersonalityChange:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			PersonalityChange
		}{TypePersonalityChange, c})

	case TTSProviderChange:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			TTSProviderChange
		}{TypeTTSProviderChange, c})

	case TTSSpeedChange:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			TTSSpeedChange
		}{TypeTTSSpeedChange, c})

	case RobotStatus:
		if c.Timestamp == 0 {
			c.Timestamp = nowMillis()
		}
		payload, err = json.Marshal(struct {
			Type string `json:"type"`
			RobotStatus
		}{TypeRobotStatus, c})

	default:
		return nil, false, fmt.Errorf("protocol: unsupported command type %T", cmd)
	}

	if err != nil {
		return nil, false, fmt.Errorf("protocol: marshal: %w", err)
	}
	return payload, false, nil
}

// audioResponse is the JSON envelope for synthesized audio chunks.
type audioResponse struct {
	Sequence   int    `json:"sequence"`
	Data       string `json:"data"` // base64 PCM16
	Final      bool   `json:"final"`
	SampleRate int    `json:"sample_rate"`
}

// Decode deserialises an inbound socket message. Binary frames carry raw
// PCM16 with no envelope and decode to an AudioChunk at the default playback
// rate. Text frames are JSON envelopes dispatched on their "type" field: an
// unrecognised type yields Unknown (never an error), malformed JSON or an
// undecodable payload yields a *DecodeError.
func Decode(data []byte, binary bool) (Event, error) {
	if binary {
		return AudioChunk{PCM: data, SampleRate: 24000}, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Cause: err}
	}

	decode := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return &DecodeError{Cause: err}
		}
		return nil
	}

	switch head.Type {
	case TypeSessionAck:
		var ev SessionAck
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeStateChange:
		var ev StateChange
		if err := decode(&ev); err != nil {
			return nil, err
		}
		if !ev.State.IsValid() {
			return nil, &DecodeError{Cause: fmt.Errorf("unknown session state %q", ev.State)}
		}
		return ev, nil

	case TypeTranscriptPartial:
		var ev TranscriptPartial
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeTranscriptFinal:
		var ev TranscriptFinal
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeLLMToken:
		var ev LLMToken
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeLLMComplete:
		var ev LLMComplete
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeAudioResponse:
		var wire audioResponse
		if err := decode(&wire); err != nil {
			return nil, err
		}
		pcm, err := base64.StdEncoding.DecodeString(wire.Data)
		if err != nil {
			return nil, &DecodeError{Cause: fmt.Errorf("audio_response data: %w", err)}
		}
		rate := wire.SampleRate
		if rate == 0 {
			rate = 24000
		}
		return AudioChunk{
			Sequence:   wire.Sequence,
			PCM:        pcm,
			SampleRate: rate,
			Final:      wire.Final,
		}, nil

	case TypePlaybackStop:
		var ev PlaybackStop
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeError:
		var ev ServerError
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeHeartbeatAck:
		var ev HeartbeatAck
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypePing:
		var ev Ping
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypePong:
		var ev PongEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeRobotCommand:
		var ev RobotCommand
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeRequestImage:
		var ev RequestImage
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeCampusTour:
		var ev CampusTour
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeFeeStructure:
		var ev FeeStructure
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeShowPlacements:
		var ev ShowPlacements
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{RawType: head.Type, Raw: raw}, nil
	}
}

// DecodeCommand parses a client→server message from the server's point of
// view. It exists for mock servers and round-trip tests: binary frames
// decode to AudioData, text frames to their Command variant.
func DecodeCommand(data []byte, binary bool) (Command, error) {
	if binary {
		return AudioData{PCM: data}, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Cause: err}
	}

	decode := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return &DecodeError{Cause: err}
		}
		return nil
	}

	switch head.Type {
	case TypeSessionStart:
		var c SessionStart
		return c, decode(&c)
	case TypeSessionEnd:
		var c SessionEnd
		return c, decode(&c)
	case TypeImageFrame:
		var c ImageFrame
		return c, decode(&c)
	case TypeInterrupt:
		var c Interrupt
		return c, decode(&c)
	case TypeSpeechFinished:
		var c SpeechFinished
		return c, decode(&c)
	case TypeHeartbeat:
		var c Heartbeat
		return c, decode(&c)
	case TypePong:
		var c Pong
		return c, decode(&c)
	case TypeLanguageChange:
		var c LanguageChange
		return c, decode(&c)
	case TypeVoiceChange:
		var c VoiceChange
		return c, decode(&c)
	case TypePersonalityChange:
		var c PersonalityChange
		return c, decode(&c)
	case TypeTTSProviderChange:
		var c TTSProviderChange
		return c, decode(&c)
	case TypeTTSSpeedChange:
		var c TTSSpeedChange
		return c, decode(&c)
	case TypeRobotStatus:
		var c RobotStatus
		return c, decode(&c)
	default:
		return nil, &DecodeError{Cause: fmt.Errorf("unknown command type %q", head.Type)}
	}
}
