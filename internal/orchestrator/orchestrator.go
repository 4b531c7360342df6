// Package orchestrator coordinates the microphone, the speaker, and the
// protocol client into one conversational session.
//
// It owns the barge-in policy: when the user starts talking while the
// assistant is still thinking or speaking, the server is interrupted and the
// speaker silenced strictly before the microphone opens, so the assistant
// never hears its own voice. It also pumps inbound events to their local
// effects — synthesized audio into the playback sink, playback_stop into an
// immediate flush, robot and rich-content events out to their handlers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shankarsingh077/Zeni/internal/observe"
	"github.com/shankarsingh077/Zeni/pkg/audio"
	"github.com/shankarsingh077/Zeni/pkg/audio/playback"
	"github.com/shankarsingh077/Zeni/pkg/client"
	"github.com/shankarsingh077/Zeni/pkg/protocol"
	"github.com/shankarsingh077/Zeni/pkg/vad"
)

// Conn is the slice of the protocol client the orchestrator needs.
type Conn interface {
	Send(cmd protocol.Command) error
	SendAudio(pcm []byte) (uint64, error)
	SessionState() protocol.SessionState
	Subscribe(kind protocol.Kind, buf int) (<-chan protocol.Event, func())
	SetLanguage(lang protocol.Language) error
	SetVoice(voice string) error
	SetPersonality(p protocol.Personality) error
	SetTTSProvider(provider string) error
	SetTTSSpeed(speed float64) error
}

var _ Conn = (*client.Client)(nil)

// Sink is the slice of the playback sink the orchestrator needs.
type Sink interface {
	Enqueue(pcm []byte, sampleRate int) error
	Stop()
	Emitting() bool
}

var _ Sink = (*playback.Sink)(nil)

// Mic is the slice of the capture source the orchestrator needs.
type Mic interface {
	Start(ctx context.Context) error
	Stop() error
	Frames() <-chan audio.Frame
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithActivityFunc registers a callback for advisory voice-activity
// transitions (speech start/end, discarded noise) detected on the outbound
// microphone stream. Activity never gates transmission.
func WithActivityFunc(fn func(vad.Event)) Option {
	return func(o *Orchestrator) { o.onActivity = fn }
}

// WithRobotCommandFunc registers the handler movement instructions are
// relayed to, verbatim.
func WithRobotCommandFunc(fn func(protocol.RobotCommand)) Option {
	return func(o *Orchestrator) { o.onRobot = fn }
}

// WithRichContentFunc registers the handler campus_tour, fee_structure and
// show_placements events are forwarded to, verbatim.
func WithRichContentFunc(fn func(protocol.Event)) Option {
	return func(o *Orchestrator) { o.onRich = fn }
}

// WithImageProvider registers the camera. When the server requests a frame,
// the provider is called for a base64-encoded image to upload.
func WithImageProvider(fn func(ctx context.Context) (string, error)) Option {
	return func(o *Orchestrator) { o.imageProvider = fn }
}

// WithVADConfig overrides the advisory voice-activity detector tuning.
func WithVADConfig(cfg vad.Config) Option {
	return func(o *Orchestrator) { o.detector = vad.New(cfg) }
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator ties one microphone, one speaker and one protocol client into
// a session. Create with New, then run the pumps with Run.
type Orchestrator struct {
	conn     Conn
	mic      Mic
	sink     Sink
	detector *vad.Detector
	metrics  *observe.Metrics

	onActivity    func(vad.Event)
	onRobot       func(protocol.RobotCommand)
	onRich        func(protocol.Event)
	imageProvider func(ctx context.Context) (string, error)

	mu        sync.Mutex
	capturing bool

	// speechEnd holds the time EndUtterance fired, consumed by the first
	// synthesized chunk to measure response latency.
	speechEnd atomic.Int64

	// responseDone latches when a final audio chunk closes the assistant's
	// reply. Chunks arriving after it are stragglers from an interrupted or
	// finished response and are dropped until the next utterance opens a new
	// one.
	responseDone atomic.Bool
}

// New creates an Orchestrator. Run must be called to start event delivery.
func New(conn Conn, mic Mic, sink Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conn:     conn,
		mic:      mic,
		sink:     sink,
		detector: vad.New(vad.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run pumps events until ctx is cancelled or the client shuts down (its
// event streams close). It always returns nil after a clean drain.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.pumpSynthesizedAudio(ctx) })
	g.Go(func() error { return o.pumpPlaybackControl(ctx) })
	g.Go(func() error { return o.pumpRobotCommands(ctx) })
	g.Go(func() error { return o.pumpRichContent(ctx) })
	g.Go(func() error { return o.pumpMicrophone(ctx) })
	return g.Wait()
}

// ── Utterance lifecycle ───────────────────────────────────────────────────────

// BeginUtterance opens the microphone for a user turn. If the assistant is
// mid-response — transcribing, generating, speaking, or with audio still
// sounding from the speaker — it first interrupts the server and silences
// playback, in that order, before any capture starts. No-op while already
// capturing.
func (o *Orchestrator) BeginUtterance(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.capturing {
		return nil
	}

	if o.shouldBargeIn() {
		// Interrupt reaches the server before the speaker is flushed, and
		// both happen before the mic opens.
		if err := o.conn.Send(protocol.Interrupt{}); err != nil {
			slog.Warn("barge-in interrupt not delivered", "error", err)
		}
		o.sink.Stop()
		if o.metrics != nil {
			o.metrics.Interrupts.Add(context.Background(), 1)
		}
		slog.Info("barge-in", "session_state", o.conn.SessionState())
	}

	if err := o.mic.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: open microphone: %w", err)
	}
	o.capturing = true
	o.responseDone.Store(false)
	return nil
}

// shouldBargeIn reports whether starting to capture now would talk over the
// assistant. Caller holds o.mu.
func (o *Orchestrator) shouldBargeIn() bool {
	switch o.conn.SessionState() {
	case protocol.StateTranscribing, protocol.StateGenerating, protocol.StateSpeaking:
		return true
	}
	return o.sink.Emitting()
}

// EndUtterance closes the microphone and tells the server the utterance is
// complete. speech_finished is sent exactly once per utterance; calling
// EndUtterance without a matching BeginUtterance is a no-op.
func (o *Orchestrator) EndUtterance() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.capturing {
		return nil
	}
	o.capturing = false

	if err := o.mic.Stop(); err != nil {
		slog.Warn("microphone stop failed", "error", err)
	}
	o.detector.Reset()
	o.speechEnd.Store(time.Now().UnixNano())

	if err := o.conn.Send(protocol.SpeechFinished{}); err != nil {
		return fmt.Errorf("orchestrator: speech_finished: %w", err)
	}
	return nil
}

// Capturing reports whether a user utterance is in progress.
func (o *Orchestrator) Capturing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.capturing
}

// ── External control surface ──────────────────────────────────────────────────

// SetLanguage switches the session language.
func (o *Orchestrator) SetLanguage(lang protocol.Language) error {
	if !lang.IsValid() {
		return fmt.Errorf("orchestrator: invalid language %q", lang)
	}
	return o.conn.SetLanguage(lang)
}

// SetVoice switches the synthesis voice.
func (o *Orchestrator) SetVoice(voice string) error {
	return o.conn.SetVoice(voice)
}

// SetPersonality switches the assistant personality.
func (o *Orchestrator) SetPersonality(p protocol.Personality) error {
	if !p.IsValid() {
		return fmt.Errorf("orchestrator: invalid personality %q", p)
	}
	return o.conn.SetPersonality(p)
}

// SetTTSProvider switches the synthesis backend.
func (o *Orchestrator) SetTTSProvider(provider string) error {
	return o.conn.SetTTSProvider(provider)
}

// SetTTSSpeed adjusts the speaking rate.
func (o *Orchestrator) SetTTSSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("orchestrator: invalid speaking rate %v", speed)
	}
	return o.conn.SetTTSSpeed(speed)
}

// SetRobotConnected relays robot connectivity so the server knows whether
// robot_command events can be acted on.
func (o *Orchestrator) SetRobotConnected(connected bool) error {
	return o.conn.Send(protocol.RobotStatus{Connected: connected})
}

// ── Event pumps ───────────────────────────────────────────────────────────────

// pumpMicrophone forwards captured frames to the wire and feeds the advisory
// activity detector. Frames that cannot be sent are dropped.
func (o *Orchestrator) pumpMicrophone(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-o.mic.Frames():
			if !ok {
				return nil
			}
			if _, err := o.conn.SendAudio(frame.Data); err != nil {
				slog.Debug("microphone frame dropped", "seq", frame.Sequence, "error", err)
			}
			o.observeActivity(frame)
		}
	}
}

// observeActivity runs the detector on one frame and surfaces transitions.
func (o *Orchestrator) observeActivity(frame audio.Frame) {
	if o.onActivity == nil {
		return
	}
	dur := audio.FrameDuration
	if frame.SampleRate > 0 {
		samples := len(frame.Data) / 2
		dur = time.Duration(samples) * time.Second / time.Duration(frame.SampleRate)
	}
	ev := o.detector.ProcessFrame(frame.Data, dur)
	switch ev.Type {
	case vad.SpeechStart, vad.SpeechEnd, vad.NoiseDiscarded:
		o.onActivity(ev)
	}
}

// pumpSynthesizedAudio feeds inbound audio chunks into the playback sink. A
// chunk marked final ends the response; anything arriving after it is
// dropped until a new utterance begins.
func (o *Orchestrator) pumpSynthesizedAudio(ctx context.Context) error {
	events, cancel := o.conn.Subscribe(protocol.KindAudio, 0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			chunk, ok := ev.(protocol.AudioChunk)
			if !ok {
				continue
			}
			if o.responseDone.Load() {
				slog.Debug("dropping audio chunk after final", "seq", chunk.Sequence)
				continue
			}
			if end := o.speechEnd.Swap(0); end != 0 && o.metrics != nil {
				latency := time.Since(time.Unix(0, end)).Seconds()
				o.metrics.FirstAudioLatency.Record(context.Background(), latency)
			}
			if err := o.sink.Enqueue(chunk.PCM, chunk.SampleRate); err != nil {
				slog.Warn("playback enqueue failed", "seq", chunk.Sequence, "error", err)
			}
			if chunk.Final {
				o.responseDone.Store(true)
			}
		}
	}
}

// pumpPlaybackControl applies server-ordered playback stops.
func (o *Orchestrator) pumpPlaybackControl(ctx context.Context) error {
	events, cancel := o.conn.Subscribe(protocol.KindPlayback, 0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, ok := ev.(protocol.PlaybackStop); ok {
				o.sink.Stop()
			}
		}
	}
}

// pumpRobotCommands relays movement instructions to the robot handler.
func (o *Orchestrator) pumpRobotCommands(ctx context.Context) error {
	events, cancel := o.conn.Subscribe(protocol.KindRobot, 0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			cmd, ok := ev.(protocol.RobotCommand)
			if !ok || o.onRobot == nil {
				continue
			}
			o.onRobot(cmd)
		}
	}
}

// pumpRichContent answers image requests and forwards display events.
func (o *Orchestrator) pumpRichContent(ctx context.Context) error {
	events, cancel := o.conn.Subscribe(protocol.KindRichContent, 0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, ok := ev.(protocol.RequestImage); ok {
				o.uploadImage(ctx)
				continue
			}
			if o.onRich != nil {
				o.onRich(ev)
			}
		}
	}
}

// uploadImage fetches a camera frame from the provider and sends it.
func (o *Orchestrator) uploadImage(ctx context.Context) {
	if o.imageProvider == nil {
		slog.Debug("image requested but no camera provider configured")
		return
	}
	data, err := o.imageProvider(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("camera frame unavailable", "error", err)
		}
		return
	}
	if err := o.conn.Send(protocol.ImageFrame{Data: data}); err != nil {
		slog.Warn("image upload not delivered", "error", err)
	}
}
