// Package protocol defines the Zeni wire protocol: the message schema shared
// by client and server, and the codec that maps between Go values and
// WebSocket frames.
//
// Two framings exist on the socket. Control messages are UTF-8 JSON objects
// with a "type" string discriminator. Outbound microphone audio is sent as
// raw binary frames with no envelope at all — the entire binary payload is
// PCM16 audio. Binary framing is a deliberate trade of protocol generality
// for the ~33% size reduction over JSON+base64 on the highest-frequency
// message in the system.
package protocol

import "time"

// Message type discriminators as they appear on the wire.
const (
	TypeSessionStart      = "session_start"
	TypeSessionEnd        = "session_end"
	TypeSessionAck        = "session_ack"
	TypeLanguageChange    = "language_change"
	TypeVoiceChange       = "voice_change"
	TypeTTSProviderChange = "tts_provider_change"
	TypeTTSSpeedChange    = "tts_speed_change"
	TypePersonalityChange = "personality_change"

	TypePing = "ping"
	TypePong = "pong"

	TypeAudioFrame     = "audio_frame"
	TypeAudioResponse  = "audio_response"
	TypeSpeechFinished = "speech_finished"

	TypeImageFrame   = "image_frame"
	TypeRequestImage = "request_image"

	TypeTranscriptPartial = "transcript_partial"
	TypeTranscriptFinal   = "transcript_final"

	TypeLLMToken    = "llm_token"
	TypeLLMComplete = "llm_complete"

	TypeInterrupt    = "interrupt"
	TypePlaybackStop = "playback_stop"

	TypeCampusTour     = "campus_tour"
	TypeFeeStructure   = "fee_structure"
	TypeShowPlacements = "show_placements"

	TypeRobotCommand = "robot_command"
	TypeRobotStatus  = "robot_status"

	TypeError        = "error"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
	TypeStateChange  = "state_change"
)

// SessionState is the server-reported conversational phase.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateListening    SessionState = "listening"
	StateTranscribing SessionState = "transcribing"
	StateGenerating   SessionState = "generating"
	StateSpeaking     SessionState = "speaking"
	StateInterrupted  SessionState = "interrupted"
	StateError        SessionState = "error"
	StateClosed       SessionState = "closed"
)

// IsValid reports whether s is a recognised session state.
func (s SessionState) IsValid() bool {
	switch s {
	case StateIdle, StateListening, StateTranscribing, StateGenerating,
		StateSpeaking, StateInterrupted, StateError, StateClosed:
		return true
	}
	return false
}

// Language selects the recognition/synthesis language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
	LanguageAuto    Language = "auto"
)

// IsValid reports whether l is a recognised language.
func (l Language) IsValid() bool {
	return l == LanguageEnglish || l == LanguageHindi || l == LanguageAuto
}

// Personality selects the assistant's conversational mode.
type Personality string

const (
	PersonalityAssistant Personality = "assistant"
	PersonalityHuman     Personality = "human"
	PersonalityGeneral   Personality = "general"
)

// IsValid reports whether p is a recognised personality mode.
func (p Personality) IsValid() bool {
	switch p {
	case PersonalityAssistant, PersonalityHuman, PersonalityGeneral:
		return true
	}
	return false
}

// SessionConfig is the negotiated per-session configuration carried inside
// the session_start message.
type SessionConfig struct {
	SampleRate         int         `json:"sample_rate" yaml:"sample_rate"`
	LanguagePreference Language    `json:"language_preference" yaml:"language_preference"`
	VoicePreference    string      `json:"voice_preference" yaml:"voice_preference"`
	TTSProvider        string      `json:"tts_provider" yaml:"tts_provider"`
	SpeakingRate       float64     `json:"speaking_rate" yaml:"speaking_rate"`
	PushToTalk         bool        `json:"push_to_talk" yaml:"push_to_talk"`
	Personality        Personality `json:"personality" yaml:"personality"`
}

// DefaultSessionConfig returns the configuration the original client ships
// with: 16 kHz capture, automatic language detection, the "Kore" voice on
// Google TTS at normal rate.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SampleRate:         16000,
		LanguagePreference: LanguageAuto,
		VoicePreference:    "Kore",
		TTSProvider:        "google",
		SpeakingRate:       1.0,
		PushToTalk:         false,
		Personality:        PersonalityAssistant,
	}
}

// nowMillis returns the current time as epoch milliseconds, the timestamp
// representation used on the wire.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ── Outbound commands (client → server) ───────────────────────────────────────

// Command is the tagged union of everything the client can send. Each
// variant marshals to a JSON envelope except AudioData, which the codec
// emits as a raw binary frame.
type Command interface {
	// messageType returns the wire discriminator, or "" for binary audio.
	messageType() string
}

// SessionStart opens a logical session on a freshly connected socket.
type SessionStart struct {
	SessionID string        `json:"session_id"`
	Config    SessionConfig `json:"config"`
	Timestamp int64         `json:"timestamp"`
}

func (SessionStart) messageType() string { return TypeSessionStart }

// SessionEnd closes the logical session before a clean disconnect.
type SessionEnd struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

func (SessionEnd) messageType() string { return TypeSessionEnd }

// AudioData is one microphone frame. It is the only command with binary
// framing: the codec returns its PCM bytes verbatim, no envelope.
type AudioData struct {
	PCM []byte
}

func (AudioData) messageType() string { return "" }

// ImageFrame carries one base64-encoded camera frame for visual context.
type ImageFrame struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func (ImageFrame) messageType() string { return TypeImageFrame }

// Interrupt tells the server to abandon the in-flight response (barge-in).
type Interrupt struct {
	Timestamp int64 `json:"timestamp"`
}

func (Interrupt) messageType() string { return TypeInterrupt }

// SpeechFinished is the authoritative end-of-utterance signal (push-to-talk
// release).
type SpeechFinished struct {
	Timestamp int64 `json:"timestamp"`
}

func (SpeechFinished) messageType() string { return TypeSpeechFinished }

// Heartbeat is the application-level keepalive that stops intermediary
// proxies from idling out the socket.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

func (Heartbeat) messageType() string { return TypeHeartbeat }

// Pong answers a server-initiated ping.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

func (Pong) messageType() string { return TypePong }

// LanguageChange switches the session language mid-conversation.
type LanguageChange struct {
	Language  Language `json:"language"`
	Timestamp int64    `json:"timestamp"`
}

func (LanguageChange) messageType() string { return TypeLanguageChange }

// VoiceChange switches the synthesis voice.
type VoiceChange struct {
	Voice     string `json:"voice"`
	Timestamp int64  `json:"timestamp"`
}

func (VoiceChange) messageType() string { return TypeVoiceChange }

// PersonalityChange switches the assistant personality mode.
type PersonalityChange struct {
	Personality Personality `json:"personality"`
	Timestamp   int64       `json:"timestamp"`
}

func (PersonalityChange) messageType() string { return TypePersonalityChange }

// TTSProviderChange switches the synthesis backend.
type TTSProviderChange struct {
	Provider  string `json:"provider"`
	Timestamp int64  `json:"timestamp"`
}

func (TTSProviderChange) messageType() string { return TypeTTSProviderChange }

// TTSSpeedChange adjusts the synthesis speaking rate.
type TTSSpeedChange struct {
	Speed     float64 `json:"speed"`
	Timestamp int64   `json:"timestamp"`
}

func (TTSSpeedChange) messageType() string { return TypeTTSSpeedChange }

// RobotStatus reports whether the Bluetooth robot is currently connected, so
// the server knows whether robot_command events can be acted on.
type RobotStatus struct {
	Connected bool  `json:"connected"`
	Timestamp int64 `json:"timestamp"`
}

func (RobotStatus) messageType() string { return TypeRobotStatus }

// ── Inbound events (server → client) ──────────────────────────────────────────

// Kind groups inbound events into broadcast streams. Consumers subscribe to
// kinds independently so a slow transcript reader can never stall audio.
type Kind int

const (
	KindSession Kind = iota
	KindState
	KindTranscript
	KindLLM
	KindAudio
	KindPlayback
	KindError
	KindKeepalive
	KindRobot
	KindRichContent
	KindUnknown
)

// String returns the subscription-stream name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSession:
		return "session"
	case KindState:
		return "state"
	case KindTranscript:
		return "transcript"
	case KindLLM:
		return "llm"
	case KindAudio:
		return "audio"
	case KindPlayback:
		return "playback"
	case KindError:
		return "error"
	case KindKeepalive:
		return "keepalive"
	case KindRobot:
		return "robot"
	case KindRichContent:
		return "rich_content"
	default:
		return "unknown"
	}
}

// Event is the tagged union of everything the server can send.
type Event interface {
	// Kind selects the broadcast stream the event is published on.
	Kind() Kind
}

// SessionAck confirms a session_start.
type SessionAck struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (SessionAck) Kind() Kind { return KindSession }

// StateChange reports a server-side conversational phase transition.
type StateChange struct {
	State         SessionState `json:"state"`
	PreviousState SessionState `json:"previous_state,omitempty"`
	Timestamp     int64        `json:"timestamp"`
}

func (StateChange) Kind() Kind { return KindState }

// TranscriptPartial is an in-progress recognition hypothesis.
type TranscriptPartial struct {
	Text      string   `json:"text"`
	Language  Language `json:"language"`
	Timestamp int64    `json:"timestamp"`
}

func (TranscriptPartial) Kind() Kind { return KindTranscript }

// TranscriptFinal is the committed recognition result for one utterance.
type TranscriptFinal struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Language   Language `json:"language"`
	Timestamp  int64    `json:"timestamp"`
}

func (TranscriptFinal) Kind() Kind { return KindTranscript }

// LLMToken is one streamed generation token.
type LLMToken struct {
	Token    string `json:"token"`
	Sequence int    `json:"sequence"`
}

func (LLMToken) Kind() Kind { return KindLLM }

// LLMComplete carries the full generated response text.
type LLMComplete struct {
	FullText  string `json:"full_text"`
	Timestamp int64  `json:"timestamp"`
}

func (LLMComplete) Kind() Kind { return KindLLM }

// AudioChunk is one span of synthesized speech. PCM holds decoded samples;
// Final marks the last chunk of the current utterance.
type AudioChunk struct {
	Sequence   int
	PCM        []byte
	SampleRate int
	Final      bool
}

func (AudioChunk) Kind() Kind { return KindAudio }

// PlaybackStop orders the client to silence the speaker immediately.
type PlaybackStop struct {
	Timestamp int64 `json:"timestamp"`
}

func (PlaybackStop) Kind() Kind { return KindPlayback }

// ServerError is a server-reported failure (rate limiting, engine errors).
// It does not by itself close the connection.
type ServerError struct {
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

func (ServerError) Kind() Kind { return KindError }

// HeartbeatAck acknowledges an application heartbeat.
type HeartbeatAck struct {
	Timestamp int64 `json:"timestamp"`
}

func (HeartbeatAck) Kind() Kind { return KindKeepalive }

// Ping is a server-initiated liveness probe. The client must answer with a
// Pong immediately, bypassing the ordinary write queue.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

func (Ping) Kind() Kind { return KindKeepalive }

// PongEvent is the server's answer to a client ping.
type PongEvent struct {
	Timestamp int64 `json:"timestamp"`
}

func (PongEvent) Kind() Kind { return KindKeepalive }

// RobotCommand is a movement instruction for the Bluetooth robot. The client
// core forwards it verbatim to the robot integration.
type RobotCommand struct {
	Action       string `json:"action"`
	DurationMs   int    `json:"duration_ms"`
	SpeedPercent int    `json:"speed_percent"`
	Timestamp    int64  `json:"timestamp"`
}

func (RobotCommand) Kind() Kind { return KindRobot }

// RequestImage asks the client to capture and upload a camera frame.
type RequestImage struct {
	Timestamp int64 `json:"timestamp"`
}

func (RequestImage) Kind() Kind { return KindRichContent }

// CampusTour triggers the 360° tour view. Forwarded verbatim.
type CampusTour struct {
	TourID      string `json:"tour_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
}

func (CampusTour) Kind() Kind { return KindRichContent }

// FeeStructure triggers the fee-details view. Forwarded verbatim.
type FeeStructure struct {
	ProgramID   string `json:"program_id"`
	ProgramName string `json:"program_name"`
	URL         string `json:"url"`
	Timestamp   int64  `json:"timestamp"`
}

func (FeeStructure) Kind() Kind { return KindRichContent }

// ShowPlacements triggers the placement gallery. Forwarded verbatim.
type ShowPlacements struct {
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"`
}

func (ShowPlacements) Kind() Kind { return KindRichContent }

// Unknown wraps a JSON message whose type the client does not recognise.
// Unknown types never terminate the connection.
type Unknown struct {
	RawType string
	Raw     []byte
}

func (Unknown) Kind() Kind { return KindUnknown }
